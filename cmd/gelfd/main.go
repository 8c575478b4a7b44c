package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gelfstream/gelfd/internal/api"
	"github.com/gelfstream/gelfd/internal/broadcast"
	"github.com/gelfstream/gelfd/internal/config"
	"github.com/gelfstream/gelfd/internal/health"
	"github.com/gelfstream/gelfd/internal/ingest"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/internal/metrics"
	"github.com/gelfstream/gelfd/internal/relay"
	"github.com/gelfstream/gelfd/internal/shutdown"
	"github.com/gelfstream/gelfd/internal/store"
	"github.com/gelfstream/gelfd/internal/tracing"
)

var (
	configFile      = flag.String("config", "", "Path to configuration file")
	shutdownTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for graceful shutdown")
	showVersion     = flag.Bool("version", false, "Print version and exit")

	version = "0.1.0"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("gelfd", version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration; without -config everything runs on defaults
	var cfg *config.Config
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Info().
		Str("version", version).
		Str("udp_address", cfg.Server.UDPAddress).
		Str("http_address", cfg.Server.HTTPAddress).
		Int("max_messages", cfg.Storage.MaxMessages).
		Msg("Starting gelfd")

	manager := shutdown.New(shutdown.Config{
		Timeout: *shutdownTimeout,
		Logger:  logger,
	})

	// Functions registered with the manager run newest-first on shutdown,
	// so the observability layers registered here go down last.
	provider, err := newTracingProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	manager.RegisterFunc("tracing", provider.Shutdown)

	collector := metrics.NewCollector()
	collector.Start()
	manager.RegisterFunc("metrics", func(ctx context.Context) error {
		collector.Stop()
		return nil
	})

	// Hub and store form the core: every accepted message is appended to
	// the store, which publishes it to the hub after releasing its lock.
	hub := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer, collector)
	st := store.New(cfg.Storage.MaxMessages, hub, collector)

	pipeline := ingest.New(ingest.Config{
		Address:        cfg.Server.UDPAddress,
		ReadBufferSize: cfg.Ingest.ReadBufferSize,
		RateLimit:      cfg.Ingest.RateLimit,
		RateBurst:      cfg.Ingest.RateBurst,
	}, st, collector, logger, provider.Tracer())

	if err := pipeline.Listen(); err != nil {
		return fmt.Errorf("failed to bind UDP listener: %w", err)
	}

	if cfg.Relay != nil && cfg.Relay.Enabled {
		rl, err := relay.FromConfig(context.Background(), cfg.Relay, hub, collector, logger, provider.Tracer())
		if err != nil {
			return fmt.Errorf("failed to assemble relay: %w", err)
		}
		if err := rl.Start(); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
		manager.RegisterFunc("relay", rl.Stop)
	}

	// UDP receiver runs as a supervised worker; serveDone closes when it
	// exits for any reason
	serveDone := make(chan struct{})
	var serveErr error
	go func() {
		defer close(serveDone)
		serveErr = pipeline.Serve(context.Background())
	}()

	checker := health.NewChecker(5*time.Second, collector)
	registerHealthChecks(checker, pipeline, st, hub, serveDone)

	server := api.New(api.Config{
		Address:       cfg.Server.HTTPAddress,
		MetricsPath:   metricsPath(cfg),
		Store:         st,
		Hub:           hub,
		HealthChecker: checker,
		Registry:      metricsRegistry(cfg, collector),
		Logger:        logger,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Teardown runs in reverse: close the socket, drain the receiver,
	// close the hub so stream handlers and the relay see end-of-stream,
	// then stop the HTTP server and the relay behind it.
	manager.RegisterFunc("http_server", server.Stop)
	manager.RegisterFunc("broadcast_hub", func(ctx context.Context) error {
		hub.Close()
		return nil
	})
	manager.RegisterFunc("udp_receiver", func(ctx context.Context) error {
		select {
		case <-serveDone:
			return serveErr
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	manager.RegisterFunc("udp_listener", func(ctx context.Context) error {
		return pipeline.Close()
	})

	if *configFile != "" {
		startConfigWatcher(*configFile, cfg, st, logger, manager)
	}

	// A worker that dies on its own takes the whole process down cleanly.
	// The first failure wins; teardown completes before the error is read.
	var fatalMu sync.Mutex
	var fatalErr error
	reportFatal := func(worker string, err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		logger.Error().Err(err).Str("worker", worker).Msg("Worker exited unexpectedly")
		manager.Shutdown()
	}

	go func() {
		<-serveDone
		if serveErr != nil {
			reportFatal("udp_receiver", serveErr)
		}
	}()

	go func() {
		select {
		case err := <-server.Err():
			reportFatal("http_server", err)
		case <-manager.ShutdownChannel():
		}
	}()

	logger.Info().Msg("gelfd is ready")
	manager.WaitForSignal()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatalErr
}

// newTracingProvider builds the tracer provider, no-op unless enabled.
func newTracingProvider(cfg *config.Config) (*tracing.Provider, error) {
	tracingCfg := tracing.Config{}
	if cfg.Tracing != nil {
		tracingCfg = tracing.Config{
			Enabled:      cfg.Tracing.Enabled,
			Endpoint:     cfg.Tracing.Endpoint,
			SampleRate:   cfg.Tracing.SampleRate,
			EnableStdout: cfg.Tracing.EnableStdout,
		}
	}
	return tracing.NewProvider(context.Background(), tracingCfg)
}

// metricsPath returns the exposition path, or empty when metrics are off.
func metricsPath(cfg *config.Config) string {
	if cfg.Metrics != nil && !cfg.Metrics.Enabled {
		return ""
	}
	if cfg.Metrics != nil && cfg.Metrics.Path != "" {
		return cfg.Metrics.Path
	}
	return config.DefaultMetricsPath
}

func metricsRegistry(cfg *config.Config, collector *metrics.Collector) *prometheus.Registry {
	if cfg.Metrics != nil && !cfg.Metrics.Enabled {
		return nil
	}
	return collector.Registry()
}

// registerHealthChecks wires the probes exposed under /health.
func registerHealthChecks(checker *health.Checker, pipeline *ingest.Pipeline, st *store.Store, hub *broadcast.Hub, serveDone <-chan struct{}) {
	checker.Register("udp_receiver", health.CheckFunc(func() (bool, string) {
		select {
		case <-serveDone:
			return false, "receiver stopped"
		default:
		}
		if addr := pipeline.Addr(); addr != nil {
			return true, "listening on " + addr.String()
		}
		return false, "socket not bound"
	}))

	checker.Register("store", health.CheckWithMetadata(func() (health.Status, string, map[string]interface{}) {
		stats := st.Stats()
		message := fmt.Sprintf("%d of %d messages retained", stats.TotalMessages, stats.MaxCapacity)
		return health.StatusHealthy, message, map[string]interface{}{
			"total_messages":        stats.TotalMessages,
			"max_capacity":          stats.MaxCapacity,
			"capacity_used_percent": stats.CapacityUsedPercent,
		}
	}))

	checker.Register("broadcast", health.CheckWithMetadata(func() (health.Status, string, map[string]interface{}) {
		stats := hub.Stats()
		return health.StatusHealthy, fmt.Sprintf("%d subscribers", stats.Subscribers), map[string]interface{}{
			"subscribers": stats.Subscribers,
			"published":   stats.Published,
			"dropped":     stats.Dropped,
		}
	}))
}

// startConfigWatcher applies the settings that can change without a
// restart: retention capacity and log level. Address changes need a
// restart and are only reported.
func startConfigWatcher(path string, cfg *config.Config, st *store.Store, logger *logging.Logger, manager *shutdown.Manager) {
	current := cfg

	watcher, err := config.NewWatcher(path, logger, func(next *config.Config) {
		if next.Storage.MaxMessages != st.Capacity() {
			old := st.Capacity()
			st.SetCapacity(next.Storage.MaxMessages)
			logger.Info().
				Int("old", old).
				Int("new", next.Storage.MaxMessages).
				Msg("Retention capacity updated")
		}

		if next.Logging.Level != current.Logging.Level {
			if err := logging.SetLevel(next.Logging.Level); err == nil {
				logger.Info().Str("level", next.Logging.Level).Msg("Log level updated")
			}
		}

		if next.Server != current.Server {
			logger.Warn().Msg("Listen address changes take effect after a restart")
		}

		current = next
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Configuration watching disabled")
		return
	}
	if err := watcher.Start(); err != nil {
		logger.Warn().Err(err).Msg("Configuration watching disabled")
		return
	}

	logger.Info().Str("path", path).Msg("Watching configuration for changes")
	manager.RegisterFunc("config_watcher", func(ctx context.Context) error {
		watcher.Stop()
		return nil
	})
}
