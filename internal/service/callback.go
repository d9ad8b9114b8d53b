package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

type callbackPayload struct {
	ExportID int64              `json:"export_id"`
	Status   model.ExportStatus `json:"status"`
}

// Notifier makes exactly one delivery attempt per callback task.
type Notifier struct {
	client  *http.Client
	method  string
	limiter *rate.Limiter
	log     *slog.Logger
	tracer  trace.Tracer
}

// NewNotifier builds a notifier. The client must carry a finite timeout; a
// nil limiter disables rate limiting.
func NewNotifier(client *http.Client, method string, limiter *rate.Limiter, log *slog.Logger) (*Notifier, error) {
	if client == nil || client.Timeout <= 0 {
		return nil, errors.Internal("callback client must have a finite timeout")
	}
	if method == "" {
		method = http.MethodPost
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		client:  client,
		method:  method,
		limiter: limiter,
		log:     log,
		tracer:  otel.Tracer("github.com/webitel/cdr-exporter/internal/service"),
	}, nil
}

func (n *Notifier) Notify(ctx context.Context, task model.Task) error {
	ctx, span := n.tracer.Start(ctx, "cdr_exporter.callback.notify",
		trace.WithAttributes(
			attribute.Int64("export.id", task.ExportID),
			attribute.String("export.status", string(task.Status)),
		))
	defer span.End()

	err := n.deliver(ctx, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	n.log.InfoContext(ctx, "cdr_exporter.callback.delivered",
		slog.Int64("export_id", task.ExportID), slog.String("status", string(task.Status)))
	return nil
}

func (n *Notifier) deliver(ctx context.Context, task model.Task) error {
	fail := func(code int, cause error) error {
		return &errors.NotificationError{URL: task.CallbackURL, ExportID: task.ExportID, StatusCode: code, Cause: cause}
	}

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fail(0, err)
		}
	}

	body, err := json.Marshal(callbackPayload{ExportID: task.ExportID, Status: task.Status})
	if err != nil {
		return fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, n.method, task.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, nil)
	}
	return nil
}
