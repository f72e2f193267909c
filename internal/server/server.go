// Package server implements gcpal serve: a read-only JSON browse API over
// storage, bigquery and pubsub, plus health, version and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	errwrap "github.com/3leaps/gcpal/internal/errors"
	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/internal/server/handlers"
	"github.com/3leaps/gcpal/internal/server/middleware"
	"github.com/3leaps/gcpal/pkg/gcp"
)

// Server is the gcpal HTTP server.
type Server struct {
	host string
	port int

	router   chi.Router
	browser  *handlers.Browser
	limiter  *rate.Limiter
	gatherer prometheus.Gatherer
	cors     []string
	profiler bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithServiceOptions passes gcp options to every browse request.
func WithServiceOptions(opts ...gcp.Option) Option {
	return func(s *Server) { s.browser = handlers.NewBrowser(opts...) }
}

// WithBrowser replaces the browse handlers.
func WithBrowser(b *handlers.Browser) Option {
	return func(s *Server) { s.browser = b }
}

// WithRateLimit limits the browse API to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithCORS allows cross-origin reads from origins.
func WithCORS(origins []string) Option {
	return func(s *Server) { s.cors = origins }
}

// WithProfiler mounts the pprof handlers under /debug.
func WithProfiler(enabled bool) Option {
	return func(s *Server) { s.profiler = enabled }
}

// WithTimeouts sets the HTTP server timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New creates a server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.browser == nil {
		s.browser = handlers.NewBrowser()
	}
	if s.gatherer == nil {
		if observability.PrometheusExporter != nil {
			s.gatherer = observability.PrometheusExporter
		} else {
			s.gatherer = prometheus.DefaultGatherer
		}
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.AccessLog)
	r.Use(middleware.CORS(s.cors))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errwrap.WriteHTTPError(w, r, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errwrap.WriteHTTPError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed on "+r.URL.Path, nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/healthz", handlers.LivenessHandler)
	r.Get("/readyz", handlers.ReadinessHandler)
	r.Get("/version", handlers.VersionHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.profiler {
		r.Mount("/debug", chimw.Profiler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.limiter))
		for _, svc := range s.browser.Services() {
			r.Get("/"+svc+"/ls", s.browser.LsHandler(svc))
		}
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	observability.CLILogger.Info("Server listening", zap.String("addr", s.Addr()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", s.Addr(), err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
