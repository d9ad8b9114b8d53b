package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/queue"
)

// Queue is a reliable list queue: producers LPUSH, consumers move the tail
// into a per-instance processing list and remove it there on Ack.
type Queue struct {
	client     *redis.Client
	name       string
	processing string
}

func New(addr, password string, db int, name, instanceID string) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Ping Redis to check the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cannot connect to Redis at %s: %w", addr, err)
	}

	return NewWithClient(rdb, name, instanceID), nil
}

func NewWithClient(client *redis.Client, name, instanceID string) *Queue {
	return &Queue{
		client:     client,
		name:       name,
		processing: processingKey(name, instanceID),
	}
}

func (q *Queue) Push(ctx context.Context, task model.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.TaskID, err)
	}
	return q.client.LPush(ctx, q.name, payload).Err()
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrEmpty
		}
		return nil, err
	}

	d := &queue.Delivery{Raw: raw}
	if err := json.Unmarshal([]byte(raw), &d.Task); err != nil {
		// Undecodable payloads would be recovered forever.
		_ = q.Ack(ctx, d)
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return d, nil
}

func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	return q.client.LRem(ctx, q.processing, 1, d.Raw).Err()
}

func (q *Queue) Recover(ctx context.Context) (int, error) {
	var n int
	for {
		err := q.client.LMove(ctx, q.processing, q.name, "LEFT", "RIGHT").Err()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return n, nil
			}
			return n, err
		}
		n++
	}
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// helper to standardize keys
func processingKey(name, instanceID string) string {
	return fmt.Sprintf("%s:processing:%s", name, instanceID)
}
