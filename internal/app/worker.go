package app

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/queue"
)

const (
	defaultWorkers = 4
	popTimeout     = 5 * time.Second
	maxAttempts    = 8
)

type exportRunner interface {
	Execute(ctx context.Context, exportID int64) error
}

type callbackSender interface {
	Notify(ctx context.Context, task model.Task) error
}

// WorkerPool drains the task queue with a fixed number of workers.
type WorkerPool struct {
	queue      queue.Queue
	exports    exportRunner
	callbacks  callbackSender
	workers    int
	popTimeout time.Duration
	backoff    backoff.Backoff
	retry      backoff.Backoff
	log        *slog.Logger
}

// NewWorkerPool limits the number of workers to twice the CPU count.
func NewWorkerPool(q queue.Queue, exports exportRunner, callbacks callbackSender, workers int, log *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if maxWorkers := runtime.NumCPU() * 2; workers > maxWorkers {
		workers = maxWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &WorkerPool{
		queue:      q,
		exports:    exports,
		callbacks:  callbacks,
		workers:    workers,
		popTimeout: popTimeout,
		backoff:    backoff.Backoff{Min: 200 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true},
		retry:      backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true},
		log:        log,
	}
}

func (p *WorkerPool) Workers() int { return p.workers }

// Run requeues tasks left over by a previous run of this instance and then
// processes tasks until ctx is done.
func (p *WorkerPool) Run(ctx context.Context) error {
	if n, err := p.queue.Recover(ctx); err != nil {
		p.log.WarnContext(ctx, "cdr_exporter.worker.recover_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		p.log.InfoContext(ctx, "cdr_exporter.worker.tasks_recovered", slog.Int("count", n))
	}

	p.log.InfoContext(ctx, "cdr_exporter.worker.starting", slog.Int("count", p.workers))
	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i <= p.workers; i++ {
		workerID := i
		g.Go(func() error {
			p.loop(ctx, workerID)
			return nil
		})
	}
	err := g.Wait()
	p.log.InfoContext(ctx, "cdr_exporter.worker.stopped")
	return err
}

func (p *WorkerPool) loop(ctx context.Context, workerID int) {
	b := p.backoff
	for ctx.Err() == nil {
		d, err := p.queue.Pop(ctx, p.popTimeout)
		switch {
		case err == nil:
			b.Reset()
		case errors.Is(err, queue.ErrEmpty):
			continue
		case ctx.Err() != nil:
			return
		default:
			wait := b.Duration()
			p.log.ErrorContext(ctx, "cdr_exporter.worker.pop_failed",
				slog.Int("worker_id", workerID), slog.String("error", err.Error()), slog.Duration("retry_in", wait))
			sleep(ctx, wait)
			continue
		}
		p.handle(ctx, workerID, d)
	}
}

func (p *WorkerPool) handle(ctx context.Context, workerID int, d *queue.Delivery) {
	task := d.Task
	log := p.log.With(
		slog.Int("worker_id", workerID),
		slog.String("task_id", task.TaskID),
		slog.String("type", string(task.Type)),
		slog.Int64("export_id", task.ExportID),
	)

	var err error
	switch task.Type {
	case model.TaskTypeExport:
		err = p.exports.Execute(ctx, task.ExportID)
	case model.TaskTypeCallback:
		err = p.callbacks.Notify(ctx, task)
	default:
		log.WarnContext(ctx, "cdr_exporter.worker.unknown_task_type")
	}

	// Interrupted tasks stay reserved and are requeued by the next Recover.
	if ctx.Err() != nil {
		log.InfoContext(ctx, "cdr_exporter.worker.task_interrupted")
		return
	}
	if errors.IsRetryable(err) && task.Attempt+1 < maxAttempts {
		p.retryLater(ctx, log, d, err)
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "cdr_exporter.worker.task_failed", slog.String("error", errors.Details(err)))
	}
	p.ack(ctx, log, d)
}

// retryLater pushes the task back with its attempt counter increased and
// acks the original delivery. If the push fails the delivery stays reserved
// for the next Recover.
func (p *WorkerPool) retryLater(ctx context.Context, log *slog.Logger, d *queue.Delivery, cause error) {
	task := d.Task
	wait := p.retry.ForAttempt(float64(task.Attempt))
	log.WarnContext(ctx, "cdr_exporter.worker.task_retry",
		slog.Int("attempt", task.Attempt+1),
		slog.Duration("retry_in", wait),
		slog.String("error", errors.Details(cause)))

	sleep(ctx, wait)
	if ctx.Err() != nil {
		return
	}
	task.Attempt++
	if err := p.queue.Push(ctx, task); err != nil {
		log.ErrorContext(ctx, "cdr_exporter.worker.requeue_failed", slog.String("error", err.Error()))
		return
	}
	p.ack(ctx, log, d)
}

func (p *WorkerPool) ack(ctx context.Context, log *slog.Logger, d *queue.Delivery) {
	if err := p.queue.Ack(ctx, d); err != nil {
		log.ErrorContext(ctx, "cdr_exporter.worker.ack_failed", slog.String("error", err.Error()))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
