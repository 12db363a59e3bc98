package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Heartbeat metrics
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_heartbeats_total",
			Help: "Total heartbeats processed by enforcement status",
		},
		[]string{"status"},
	)

	HeartbeatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screentime_heartbeat_duration_seconds",
			Help:    "Heartbeat processing duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status"},
	)

	HeartbeatsFailClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_heartbeats_fail_closed_total",
			Help: "Heartbeats answered with a fail-closed blocked verdict",
		},
	)

	// Usage metrics
	ViewingSecondsCounted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_viewing_seconds_total",
			Help: "Viewing seconds added to balances",
		},
		[]string{"kind"},
	)

	EnforcementTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_enforcement_transitions_total",
			Help: "Enforcement status changes caused by heartbeats",
		},
		[]string{"from", "to"},
	)

	// Session metrics
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_sessions_started_total",
			Help: "Total playback sessions started",
		},
	)

	SessionsSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_sessions_superseded_total",
			Help: "Sessions closed because a new one started on the same profile",
		},
	)

	// Grant metrics
	GrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_grants_total",
			Help: "Total guardian grants applied",
		},
		[]string{"type", "remote"},
	)

	// Config cache metrics
	ConfigCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_config_cache_hits_total",
			Help: "Profile config cache hits",
		},
	)

	ConfigCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentime_config_cache_misses_total",
			Help: "Profile config cache misses",
		},
	)

	// Retention metrics
	RetentionDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_retention_deleted_total",
			Help: "Records removed by the retention purger",
		},
		[]string{"kind"},
	)

	// Notification metrics
	NotifyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_notify_errors_total",
			Help: "Events that could not be published",
		},
		[]string{"event"},
	)

	// API metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentime_http_requests_total",
			Help: "Total API requests by route and status code",
		},
		[]string{"route", "method", "code"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		HeartbeatsTotal,
		HeartbeatDuration,
		HeartbeatsFailClosed,
		ViewingSecondsCounted,
		EnforcementTransitions,
		SessionsStarted,
		SessionsSuperseded,
		GrantsTotal,
		ConfigCacheHits,
		ConfigCacheMisses,
		RetentionDeleted,
		NotifyErrors,
		RequestsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
