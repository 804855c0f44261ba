package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"jobs-engine/internal/config"
	"jobs-engine/internal/domain/ports/usecase"
)

// Limiter is a per-key request budget (see redis.RateLimiter).
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	dispatcher usecase.JobDispatcher
	canceller  usecase.JobCanceller
	inspector  usecase.JobInspector

	auth         *AuthManager // optional
	limiter      Limiter      // optional
	triggerLimit int
	health       map[string]HealthCheck

	validate *validator.Validate
	cfg      config.HTTPConfig
	server   *http.Server
	log      *zerolog.Logger
}

type Option func(*Server)

func WithLimiter(l Limiter, perMinute int) Option {
	return func(s *Server) { s.limiter, s.triggerLimit = l, perMinute }
}

func WithHealthCheck(name string, hc HealthCheck) Option {
	return func(s *Server) { s.health[name] = hc }
}

func NewServer(
	cfg config.HTTPConfig,
	dispatcher usecase.JobDispatcher,
	canceller usecase.JobCanceller,
	inspector usecase.JobInspector,
	logger *zerolog.Logger,
	opts ...Option,
) *Server {
	l := logger.With().Str("component", "http").Logger()
	s := &Server{
		dispatcher: dispatcher,
		canceller:  canceller,
		inspector:  inspector,
		health:     make(map[string]HealthCheck),
		validate:   validator.New(),
		cfg:        cfg,
		log:        &l,
	}
	if cfg.JWTSecret != "" {
		s.auth = NewAuthManager(cfg.JWTSecret)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, RequestLog(s.log), middleware.Recoverer, middleware.StripSlashes)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/job-types", s.handleListJobTypes)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)

		r.Group(func(r chi.Router) {
			r.Use(Identity(s.auth))
			r.Post("/jobs", s.handleStartJob)
			r.Post("/jobs/{id}/stop", s.handleStopJob)
		})
	})
	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
