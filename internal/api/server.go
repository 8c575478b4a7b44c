package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gelfstream/gelfd/internal/broadcast"
	"github.com/gelfstream/gelfd/internal/health"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/internal/store"
)

// Config holds server configuration
type Config struct {
	Address       string
	MetricsPath   string
	Store         *store.Store
	Hub           *broadcast.Hub
	HealthChecker *health.Checker
	// Registry enables the metrics endpoint when set
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// Server exposes the query surface: stored records, stats, health probes,
// the live SSE stream and the embedded viewer
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	errCh      chan error
	logger     *logging.Logger
}

// New creates a new server
func New(cfg Config) *Server {
	logger := cfg.Logger.WithComponent("api")

	h := &handlers{
		store:  cfg.Store,
		hub:    cfg.Hub,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /logs", h.handleLogs)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /stream", h.handleStream)
	mux.HandleFunc("GET /health", cfg.HealthChecker.HTTPHandler())
	mux.HandleFunc("GET /health/live", cfg.HealthChecker.LivenessHandler())
	mux.HandleFunc("GET /health/ready", cfg.HealthChecker.ReadinessHandler())

	if cfg.Registry != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle("GET "+metricsPath, promhttp.HandlerFor(
			cfg.Registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}

	handler := corsMiddleware(requestLogger(logger, mux))

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Address,
			Handler: handler,
			// No WriteTimeout: the stream endpoint holds its response
			// open for the life of the client
			ReadTimeout:       5 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind HTTP listener: %w", err)
	}
	s.listener = ln
	s.errCh = make(chan error, 1)

	go func() {
		s.logger.Info().
			Str("address", ln.Addr().String()).
			Msg("HTTP server started")

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-s.errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Err reports a serve failure after a successful Start. Graceful shutdown
// never produces an error here.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts down the server. Stream handlers end when the hub
// they subscribe to closes, so close the hub before stopping the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}
	return nil
}
