package queue

import (
	"context"
	"errors"
	"time"

	"github.com/webitel/cdr-exporter/internal/domain/model"
)

// ErrEmpty is returned by Pop when no task arrived within the timeout.
var ErrEmpty = errors.New("queue empty (timeout)")

// Delivery is a popped task. It stays reserved for the popping instance until
// it is acknowledged.
type Delivery struct {
	Task model.Task
	// Raw is the payload as stored, used to acknowledge the exact entry.
	Raw string
}

// Queue delivers every task at least once. Tasks reserved by an instance that
// died before acknowledging them are handed out again after Recover.
type Queue interface {
	Push(ctx context.Context, task model.Task) error
	Pop(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Recover requeues the tasks this instance reserved but never acknowledged.
	Recover(ctx context.Context) (int, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}
