package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/webitel/cdr-exporter/internal/errors"
)

const sweepTimeout = 10 * time.Minute

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Retention periodically deletes finished exports older than maxAge.
type Retention struct {
	cron   *cron.Cron
	svc    expiredDeleter
	maxAge time.Duration
	log    *slog.Logger
	now    func() time.Time
}

func NewRetention(svc expiredDeleter, maxAge time.Duration, schedule string, log *slog.Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, errors.New("retention period must be positive", errors.WithID("app.retention.max_age"))
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Retention{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		svc:    svc,
		maxAge: maxAge,
		log:    log,
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		_, _ = r.Sweep(ctx)
	}); err != nil {
		return nil, errors.New("invalid retention schedule", errors.WithCause(err), errors.WithID("app.retention.schedule"))
	}
	return r, nil
}

// Sweep deletes the exports created before now minus maxAge.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	before := r.now().Add(-r.maxAge)
	n, err := r.svc.DeleteExpired(ctx, before)
	if err != nil {
		r.log.ErrorContext(ctx, "cdr_exporter.retention.sweep_failed",
			slog.Int("deleted", n), slog.String("error", errors.Details(err)))
		return n, err
	}
	if n > 0 {
		r.log.InfoContext(ctx, "cdr_exporter.retention.swept", slog.Int("deleted", n), slog.Time("before", before))
	}
	return n, nil
}

func (r *Retention) Start() { r.cron.Start() }

// Stop waits for a running sweep to finish or ctx to end.
func (r *Retention) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
