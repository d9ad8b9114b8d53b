package logging

import (
	"context"
	"log/slog"
	"os"

	slogutil "github.com/webitel/webitel-go-kit/infra/otel/log/bridge/slog"
	otelsdk "github.com/webitel/webitel-go-kit/infra/otel/sdk"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Setup configures the OpenTelemetry providers and routes slog.Default()
// through the otelslog bridge. The level comes from OTEL_LOG_LEVEL.
func Setup(ctx context.Context, service *resource.Resource) (func(context.Context) error, error) {
	var verbose slog.LevelVar
	verbose.Set(slog.LevelInfo)
	if input := os.Getenv("OTEL_LOG_LEVEL"); input != "" {
		_ = verbose.UnmarshalText([]byte(input))
	}

	shutdown, err := otelsdk.Configure(
		ctx,
		otelsdk.WithResource(service),
		otelsdk.WithLogBridge(func() {
			slog.SetDefault(slog.New(
				slogutil.WithLevel(&verbose, otelslog.NewHandler("cdr_exporter")),
			))
		}),
	)
	if err != nil {
		slog.ErrorContext(ctx, "cdr_exporter.otel.setup_failed", slog.String("error", err.Error()))
		return nil, err
	}

	slog.DebugContext(ctx, "cdr_exporter.otel.setup_complete", slog.String("level", verbose.Level().String()))
	return shutdown, nil
}
