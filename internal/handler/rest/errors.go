package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/webitel/cdr-exporter/internal/errors"
	outerror "github.com/webitel/webitel-go-kit/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
)

// writeError logs err and renders it as an ApplicationError. Only validation
// and not found errors expose their message; everything else is a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)

	var (
		httpCode int
		id       string
		detail   string
	)
	switch errors.Code(err) {
	case codes.InvalidArgument:
		httpCode = http.StatusUnprocessableEntity
		id = "api.process.bad_args"
		detail = err.Error()
	case codes.NotFound:
		httpCode = http.StatusNotFound
		id = "api.process.not_found"
		detail = err.Error()
	default:
		httpCode = http.StatusInternalServerError
		id = "api.process.internal"
		detail = "internal server error"
	}

	if httpCode == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "cdr_exporter.rest.request_failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("error", errors.Details(err)))
	} else {
		slog.WarnContext(ctx, "cdr_exporter.rest.request_rejected",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("error", errors.Details(err)))
	}

	appErr := &outerror.ApplicationError{
		Id:            id,
		DetailedError: detail,
		StatusCode:    httpCode,
		Status:        http.StatusText(httpCode),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	_ = json.NewEncoder(w).Encode(appErr)
}
