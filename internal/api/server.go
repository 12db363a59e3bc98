// Package api exposes the enforcement operations over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/rs/zerolog"
)

// DefaultPINMaxAge is how long a PIN verification unlocks sensitive settings
const DefaultPINMaxAge = 5 * time.Minute

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	PINMaxAge      time.Duration
}

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	svc      *usage.Service
	reporter *report.Reporter
	tokens   *Tokens
	health   Pinger
	clock    window.Clock
	validate *validator.Validate
	router   *chi.Mux
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, svc *usage.Service, reporter *report.Reporter, tokens *Tokens, health Pinger, clock window.Clock, logger zerolog.Logger) *Server {
	if cfg.PINMaxAge == 0 {
		cfg.PINMaxAge = DefaultPINMaxAge
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if clock == nil {
		clock = window.RealClock{}
	}

	s := &Server{
		config:   cfg,
		svc:      svc,
		reporter: reporter,
		tokens:   tokens,
		health:   health,
		clock:    clock,
		validate: newValidator(),
		router:   chi.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware)
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(corsOptions(s.config.AllowedOrigins)))
	}

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.tokens, s.logger))

		r.Route("/profiles/{profileID}", func(r chi.Router) {
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Get("/balance", s.handleBalance)
			r.Get("/eligibility", s.handleEligibility)
			r.Post("/grants", s.handleCreateGrant)
			r.Get("/grants", s.handleListGrants)
			r.Get("/config", s.handleGetConfig)
			r.Patch("/config", s.handleUpdateConfig)
			r.Get("/history", s.handleHistory)
		})

		r.Post("/sessions/{sessionID}/end", s.handleEndSession)
		r.Get("/reports/weekly", s.handleWeeklyReport)
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "storage": "unreachable"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
