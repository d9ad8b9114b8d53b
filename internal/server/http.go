package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	conf "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/registry"
	"github.com/webitel/cdr-exporter/registry/consul"
)

const shutdownTimeout = 15 * time.Second

// RouteRegistrar mounts its endpoints on the API router.
type RouteRegistrar interface {
	Routes(r chi.Router)
}

type Server struct {
	Server   *http.Server
	Router   chi.Router
	listener net.Listener
	exitChan chan error
	registry registry.ServiceRegistrator
}

// BuildServer constructs the HTTP server with its middleware chain and the
// consul registration of the public address.
func BuildServer(httpConfig *conf.HTTPConfig, consulConfig *conf.ConsulConfig, version string, exitChan chan error, routes ...RouteRegistrar) (*Server, error) {
	r := NewRouter(httpConfig.CORSOrigins, routes...)

	listener, err := net.Listen("tcp", httpConfig.Addr)
	if err != nil {
		return nil, errors.Internal(
			err.Error(),
			errors.WithID("server.build.listen.error"),
		)
	}

	reg, err := consul.NewConsulRegistry(consulConfig, version)
	if err != nil {
		_ = listener.Close()
		return nil, errors.Internal(
			err.Error(),
			errors.WithID("server.build.consul_registry.error"),
		)
	}

	return &Server{
		Server: &http.Server{
			Handler:           otelhttp.NewHandler(r, "cdr_exporter.http"),
			ReadHeaderTimeout: 10 * time.Second,
		},
		Router:   r,
		listener: listener,
		exitChan: exitChan,
		registry: reg,
	}, nil
}

// NewRouter builds the chi router serving /healthz and every registrar.
func NewRouter(corsOrigins []string, routes ...RouteRegistrar) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	for _, rr := range routes {
		rr.Routes(r)
	}
	return r
}

func (s *Server) Addr() string { return s.listener.Addr().String() }

// Start registers the service and serves until Stop.
func (s *Server) Start() {
	if err := s.registry.Register(); err != nil {
		s.exitChan <- err
		return
	}
	if err := s.Server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.exitChan <- errors.Internal(
			err.Error(),
			errors.WithID("server.start.serve.error"),
		)
	}
}

// Stop deregisters the service and drains in-flight requests.
func (s *Server) Stop() {
	if err := s.registry.Deregister(); err != nil {
		slog.Error("cdr_exporter.server.deregister_failed", slog.String("error", err.Error()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Server.Shutdown(ctx); err != nil {
		_ = s.Server.Close()
	}
}
