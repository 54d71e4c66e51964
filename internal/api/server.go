package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fraudwatch/internal/metrics"
)

// Options configures the HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	Version      string
	// RefreshRate caps POST /refresh in requests per second; zero disables it.
	RefreshRate  float64
	RefreshBurst int
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	opts    Options
	logger  zerolog.Logger
}

// NewServer wires routes and middleware.
func NewServer(opts Options, svc Analytics, m *metrics.Metrics, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()
	handler := NewHandler(svc, opts.MaxBodyBytes, opts.Version, logger)
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RecoverMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(MetricsMiddleware(m))

	router.Get("/healthz", handler.Health)
	if m != nil {
		router.Method(http.MethodGet, "/metrics", m.Handler())
	}

	router.Route("/api/v1/fraud-analytics", func(r chi.Router) {
		r.Get("/", handler.GetAnalytics)
		r.With(RateLimitMiddleware(refreshLimiter(opts))).Post("/refresh", handler.Refresh)
		r.Post("/analyze", handler.Analyze)
	})

	return &Server{
		router:  router,
		handler: handler,
		opts:    opts,
		logger:  logger,
	}
}

func refreshLimiter(opts Options) *rate.Limiter {
	if opts.RefreshRate <= 0 {
		return nil
	}
	burst := opts.RefreshBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.RefreshRate), burst)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().Str("addr", s.opts.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
