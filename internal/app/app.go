package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	cfg "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/artifact"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/handler/rest"
	redisqueue "github.com/webitel/cdr-exporter/internal/queue/redis"
	"github.com/webitel/cdr-exporter/internal/server"
	"github.com/webitel/cdr-exporter/internal/service"
	"github.com/webitel/cdr-exporter/internal/store"
	"github.com/webitel/cdr-exporter/internal/store/postgres"
)

const shutdownGrace = 30 * time.Second

type App struct {
	Config    *cfg.AppConfig
	log       *slog.Logger
	exitCh    chan error
	shutdown  func(ctx context.Context) error
	Store     store.Store
	Queue     *redisqueue.Queue
	Artifacts *artifact.Store
	Exports   *service.ExportServiceImpl
	executor  *service.Executor
	notifier  *service.Notifier
	workers   *WorkerPool
	retention *Retention
	server    *server.Server

	cancel   context.CancelFunc
	done     sync.WaitGroup
	stopOnce sync.Once
}

// New creates a fully initialized App. The database is opened here since
// every service depends on it.
func New(config *cfg.AppConfig, shutdown func(ctx context.Context) error) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	app := &App{
		Config:   config,
		log:      slog.Default(),
		shutdown: shutdown,
		exitCh:   make(chan error, 1),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initQueue(); err != nil {
		return nil, err
	}
	if err := app.initArtifacts(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		return nil, err
	}
	if err := app.initServer(); err != nil {
		return nil, err
	}
	return app, nil
}

// --------- Private init methods ---------

func (app *App) initStore() error {
	if app.Config.Database == nil {
		return errors.New("database config is nil")
	}
	s := postgres.New(app.Config.Database)
	if err := s.Open(); err != nil {
		return errors.New("failed to open store", errors.WithCause(err))
	}
	app.Store = s
	return nil
}

func (app *App) initQueue() error {
	r := app.Config.Redis
	q, err := redisqueue.New(r.Addr, r.Password, r.DB, r.Queue, app.Config.Consul.Id)
	if err != nil {
		return errors.New("unable to initialize Redis queue", errors.WithCause(err))
	}
	app.Queue = q
	return nil
}

func (app *App) initArtifacts() error {
	a, err := artifact.NewStore(afero.NewOsFs(), app.Config.Export.Dir)
	if err != nil {
		return errors.New("unable to initialize export directory", errors.WithCause(err))
	}
	app.Artifacts = a
	return nil
}

func (app *App) initServices() error {
	var err error
	app.Exports, err = service.NewExportService(app.Store.Export(), app.Queue, app.Artifacts, app.log)
	if err != nil {
		return err
	}
	app.executor, err = service.NewExecutor(app.Store.Export(), app.Store.Cdr(), app.Artifacts, app.Queue, app.log)
	if err != nil {
		return err
	}
	app.notifier, err = service.NewNotifier(callbackClient(app.Config.Callback), app.Config.Callback.Method, callbackLimiter(app.Config.Callback), app.log)
	if err != nil {
		return err
	}
	app.workers = NewWorkerPool(app.Queue, app.executor, app.notifier, app.Config.Export.Workers, app.log)

	if app.Config.Export.Retention > 0 {
		app.retention, err = NewRetention(app.Exports, app.Config.Export.Retention, app.Config.Export.RetentionSchedule, app.log)
		if err != nil {
			return err
		}
	}
	return nil
}

func (app *App) initServer() error {
	h, err := rest.NewExportHandler(app.Exports, app.Artifacts, app.Config.Export.DownloadPrefix)
	if err != nil {
		return err
	}
	srv, err := server.BuildServer(app.Config.HTTP, app.Config.Consul, model.CurrentVersion, app.exitCh, h)
	if err != nil {
		return errors.New("failed to build server", errors.WithCause(err))
	}
	app.server = srv
	return nil
}

func callbackClient(c *cfg.CallbackConfig) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = c.Timeout
	client.Transport = otelhttp.NewTransport(client.Transport)
	return client
}

func callbackLimiter(c *cfg.CallbackConfig) *rate.Limiter {
	if c.RateLimit <= 0 {
		return nil
	}
	burst := c.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RateLimit), burst)
}

// Start runs the HTTP server, the workers and the retention sweeper. It
// returns when the server fails or Stop is called.
func (app *App) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)

	go app.server.Start()
	app.log.InfoContext(ctx, "cdr_exporter.main.http_listening", slog.String("addr", app.server.Addr()))

	app.done.Add(1)
	go func() {
		defer app.done.Done()
		_ = app.workers.Run(ctx)
	}()

	if app.retention != nil {
		app.retention.Start()
	}

	return <-app.exitCh
}

// Stop gracefully shuts down all services
func (app *App) Stop() error {
	var err error
	app.stopOnce.Do(func() { err = app.stop() })
	return err
}

func (app *App) stop() error {
	slog.Info("cdr_exporter.main.stop_starting")

	if app.server != nil {
		app.server.Stop()
		slog.Info("cdr_exporter.main.server_stopped")
	}

	if app.retention != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		app.retention.Stop(ctx)
		cancel()
	}

	if app.cancel != nil {
		app.cancel()
	}
	app.done.Wait()
	slog.Info("cdr_exporter.main.workers_stopped")

	if app.Queue != nil {
		if err := app.Queue.Close(); err != nil {
			slog.Error("cdr_exporter.main.queue_close_failed", slog.String("error", err.Error()))
		}
	}
	if app.Store != nil {
		_ = app.Store.Close()
	}

	if app.shutdown != nil {
		if err := app.shutdown(context.Background()); err != nil {
			slog.Error("cdr_exporter.main.shutdown_hook_failed", slog.String("error", err.Error()))
		}
	}

	slog.Info("cdr_exporter.main.stop_complete")
	select {
	case app.exitCh <- nil:
	default:
	}
	return nil
}
