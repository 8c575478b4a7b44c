package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gelfstream/gelfd/internal/logging"
)

// Manager handles graceful shutdown of the application. Registered
// functions run sequentially in reverse registration order, so components
// registered during startup are torn down like a stack of defers: the
// intake socket closes before the stores and hubs behind it.
type Manager struct {
	logger        *logging.Logger
	timeout       time.Duration
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	shutdownCh    chan struct{}
	shutdownOnce  sync.Once
	gracefulDone  chan struct{}
}

type namedFunc struct {
	name string
	fn   ShutdownFunc
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Manager{
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		shutdownCh:   make(chan struct{}),
		gracefulDone: make(chan struct{}),
	}
}

// RegisterFunc registers a shutdown function to be called during shutdown
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("component", name).Msg("Registered shutdown function")
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// WaitForSignal blocks until a shutdown signal is received
func (m *Manager) WaitForSignal(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received")
		m.Shutdown()
	case <-m.shutdownCh:
		// Already shutting down
		<-m.gracefulDone
	}
}

// Shutdown initiates graceful shutdown
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.performShutdown()
	})
}

// performShutdown executes registered shutdown functions newest-first
func (m *Manager) performShutdown() {
	m.mu.Lock()
	funcs := make([]namedFunc, len(m.shutdownFuncs))
	copy(funcs, m.shutdownFuncs)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("functions", len(funcs)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errorCount int
	for i := len(funcs) - 1; i >= 0; i-- {
		nf := funcs[i]

		if ctx.Err() != nil {
			m.logger.Warn().
				Int("skipped", i+1).
				Dur("timeout", m.timeout).
				Msg("Graceful shutdown timed out, skipping remaining functions")
			break
		}

		m.logger.Debug().Str("component", nf.name).Msg("Stopping component")

		if err := nf.fn(ctx); err != nil {
			errorCount++
			m.logger.Error().
				Err(err).
				Str("component", nf.name).
				Msg("Shutdown function failed")
		} else {
			m.logger.Debug().Str("component", nf.name).Msg("Component stopped")
		}
	}

	if errorCount > 0 {
		m.logger.Warn().
			Int("errors", errorCount).
			Msg("Graceful shutdown completed with errors")
	} else {
		m.logger.Info().Msg("Graceful shutdown completed successfully")
	}

	close(m.gracefulDone)
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.gracefulDone
}

// ShutdownChannel returns a channel that is closed when shutdown is initiated
func (m *Manager) ShutdownChannel() <-chan struct{} {
	return m.shutdownCh
}

// Component represents a component that can be gracefully shut down
type Component interface {
	Stop(context.Context) error
	Name() string
}

// RegisterComponent registers a component for graceful shutdown
func (m *Manager) RegisterComponent(component Component) {
	m.RegisterFunc(component.Name(), component.Stop)
}

// HandlePanic recovers from panics and initiates shutdown
func (m *Manager) HandlePanic() {
	if r := recover(); r != nil {
		m.logger.Error().
			Interface("panic", r).
			Msg("Panic recovered, initiating shutdown")
		m.Shutdown()
		// Re-panic to maintain normal panic behavior
		panic(r)
	}
}

// WaitWithTimeout waits for shutdown to complete with a timeout
func (m *Manager) WaitWithTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not complete within %v", timeout)
	}
}
