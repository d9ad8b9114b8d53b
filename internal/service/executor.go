package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"github.com/webitel/cdr-exporter/internal/artifact"
	"github.com/webitel/cdr-exporter/internal/domain/filter"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/query"
	"github.com/webitel/cdr-exporter/internal/queue"
	"github.com/webitel/cdr-exporter/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const finishTimeout = 30 * time.Second

// Executor runs one export: a single COPY of the matching rows into the
// artifact, then the terminal status transition and the optional callback.
type Executor struct {
	exports       store.ExportStore
	cdrs          store.CdrStore
	artifacts     *artifact.Store
	queue         queue.Queue
	log           *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
	retry         backoff.Backoff
	finishTimeout time.Duration
}

func NewExecutor(exports store.ExportStore, cdrs store.CdrStore, a *artifact.Store, q queue.Queue, log *slog.Logger) (*Executor, error) {
	if exports == nil || cdrs == nil || a == nil || q == nil {
		return nil, errors.Internal("dependency is nil in Executor")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		exports:       exports,
		cdrs:          cdrs,
		artifacts:     a,
		queue:         q,
		log:           log,
		tracer:        otel.Tracer("github.com/webitel/cdr-exporter/internal/service"),
		now:           time.Now,
		retry:         backoff.Backoff{Min: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true},
		finishTimeout: finishTimeout,
	}, nil
}

// Execute returns an error only when the export could not be attempted or
// its outcome could not be recorded: it is unknown, the store is unreachable,
// or ctx ended mid run. Transient failures are retryable (errors.IsRetryable)
// and leave the export Pending. A failed run is recorded as Failed and
// reported through the callback instead.
func (e *Executor) Execute(ctx context.Context, exportID int64) error {
	ctx, span := e.tracer.Start(ctx, "cdr_exporter.export.execute",
		trace.WithAttributes(attribute.Int64("export.id", exportID)))
	defer span.End()

	export, err := e.exports.Get(ctx, exportID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.IsNotFound(err) || ctx.Err() != nil {
			return err
		}
		return errors.Unavailable("could not load export", errors.WithCause(err), errors.WithID("executor.export.get"))
	}
	if export.Status != model.ExportStatusPending {
		e.log.DebugContext(ctx, "cdr_exporter.executor.already_finished",
			slog.Int64("export_id", exportID), slog.String("status", string(export.Status)))
		return nil
	}

	start := e.now()
	rows, err := e.run(ctx, export)
	if err != nil && ctx.Err() != nil {
		// Shutdown. The export stays Pending and the task is delivered again.
		span.SetStatus(codes.Error, "interrupted")
		return ctx.Err()
	}

	status := model.ExportStatusCompleted
	var rowsCount *int64
	if err != nil {
		status = model.ExportStatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.ErrorContext(ctx, "cdr_exporter.executor.export_failed",
			slog.Int64("export_id", exportID), slog.String("error", errors.Details(err)))
	} else {
		rowsCount = &rows
		span.SetAttributes(attribute.Int64("export.rows", rows))
		e.log.InfoContext(ctx, "cdr_exporter.executor.export_completed",
			slog.Int64("export_id", exportID),
			slog.Int64("rows", rows),
			slog.Duration("took", e.now().Sub(start)))
	}

	return e.finish(ctx, export, status, rowsCount)
}

func (e *Executor) run(ctx context.Context, export *model.Export) (int64, error) {
	spec, err := filter.ParseSerialized(export.Filters)
	if err != nil {
		return 0, &errors.ExecutionError{ExportID: export.ID, Stage: "filters", Cause: err}
	}
	q, err := query.Build(spec, export.Fields, export.Kind)
	if err != nil {
		return 0, &errors.ExecutionError{ExportID: export.ID, Stage: "query", Cause: err}
	}

	w, err := e.artifacts.Create(export.ID)
	if err != nil {
		return 0, &errors.ExecutionError{ExportID: export.ID, Stage: "artifact", Cause: err}
	}
	rows, err := e.cdrs.CopyTo(ctx, w, q)
	if err != nil {
		_ = w.Abort()
		return 0, &errors.ExecutionError{ExportID: export.ID, Stage: "copy", Cause: err}
	}
	if err := w.Commit(); err != nil {
		return 0, &errors.ExecutionError{ExportID: export.ID, Stage: "artifact", Cause: err}
	}
	return rows, nil
}

func (e *Executor) finish(ctx context.Context, export *model.Export, status model.ExportStatus, rows *int64) error {
	// The result is already on disk; record it even if ctx ends now.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.finishTimeout)
	defer cancel()

	in := &model.FinishExport{
		ID:          export.ID,
		Status:      status,
		RowsCount:   rows,
		CompletedAt: e.now().UTC(),
	}
	err := e.retryWrite(ctx, export.ID, "finish", func(ctx context.Context) error {
		return e.exports.Finish(ctx, in)
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return e.finishRejected(ctx, export.ID)
		}
		return errors.Unavailable("could not record export status", errors.WithCause(err), errors.WithID("executor.finish"))
	}

	if export.CallbackURL == nil {
		return nil
	}
	task := model.NewCallbackTask(export.ID, *export.CallbackURL, status)
	err = e.retryWrite(ctx, export.ID, "callback", func(ctx context.Context) error {
		return e.queue.Push(ctx, task)
	})
	if err != nil {
		// The status is final, so a redelivery would not enqueue it again.
		return errors.Internal("could not enqueue callback", errors.WithCause(err), errors.WithID("executor.callback.enqueue"))
	}
	return nil
}

// retryWrite calls fn until it succeeds, reports not found, or ctx ends.
func (e *Executor) retryWrite(ctx context.Context, exportID int64, op string, fn func(context.Context) error) error {
	b := e.retry
	for {
		err := fn(ctx)
		if err == nil || errors.IsNotFound(err) {
			return err
		}
		wait := b.Duration()
		e.log.WarnContext(ctx, "cdr_exporter.executor.write_retry",
			slog.Int64("export_id", exportID),
			slog.String("op", op),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

// finishRejected handles a Finish that matched no Pending row. A deleted
// export leaves no artifact behind; a concurrent delivery that finished first
// keeps its own.
func (e *Executor) finishRejected(ctx context.Context, exportID int64) error {
	current, err := e.exports.Get(ctx, exportID)
	switch {
	case err == nil:
		e.log.WarnContext(ctx, "cdr_exporter.executor.finished_concurrently",
			slog.Int64("export_id", exportID), slog.String("status", string(current.Status)))
		return nil
	case errors.IsNotFound(err):
		e.log.InfoContext(ctx, "cdr_exporter.executor.export_deleted_during_run", slog.Int64("export_id", exportID))
		return e.artifacts.Remove(exportID)
	default:
		return err
	}
}
