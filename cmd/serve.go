package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	conf "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/app"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	logging "github.com/webitel/cdr-exporter/internal/otel"

	// ------------ logging ------------ //
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	// -------------------- plugin(s) -------------------- //
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/log/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/log/stdout"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/metric/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/metric/stdout"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/trace/otlp"
	_ "github.com/webitel/webitel-go-kit/infra/otel/sdk/trace/stdout"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the export workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cmd)
		},
	}
}

func serve(ctx context.Context, cmd *cobra.Command) error {
	config, err := conf.LoadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	// slog + OTEL logging
	service := resource.NewSchemaless(
		semconv.ServiceName(model.AppServiceName),
		semconv.ServiceVersion(model.CurrentVersion),
		semconv.ServiceInstanceID(config.Consul.Id),
		semconv.ServiceNamespace(model.NamespaceName),
	)
	shutdown, err := logging.Setup(ctx, service)
	if err != nil {
		return err
	}

	application, err := app.New(config, shutdown)
	if err != nil {
		slog.Error("cdr_exporter.main.application_initialization_error", slog.String("error", err.Error()))
		_ = shutdown(context.Background())
		return err
	}

	slog.Debug("cdr_exporter.main.configuration_loaded",
		slog.String("consul", config.Consul.Address),
		slog.String("http_address", config.HTTP.Addr),
		slog.String("consul_id", config.Consul.Id),
		slog.String("export_dir", config.Export.Dir),
	)

	stop := initSignals(application)
	defer stop()

	slog.Info("cdr_exporter.main.starting_application")
	if err := application.Start(ctx); err != nil {
		slog.Error("cdr_exporter.main.application_start_error", slog.String("error", err.Error()))
		_ = application.Stop()
		return err
	}
	slog.Info("cdr_exporter.main.application_stopped")
	return nil
}

func initSignals(application *app.App) func() {
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		s, ok := <-sigch
		if !ok {
			return
		}
		slog.Info("cdr_exporter.main.received_stop_signal", slog.String("signal", s.String()))
		_ = application.Stop()
	}()
	return func() {
		signal.Stop(sigch)
		close(sigch)
	}
}
