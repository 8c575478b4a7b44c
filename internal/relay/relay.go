// Package relay forwards collected messages to downstream systems. It
// consumes its own hub subscription, so slow or unreachable destinations
// never slow the ingestion path; they only cost the relay dropped batches.
package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gelfstream/gelfd/internal/broadcast"
	"github.com/gelfstream/gelfd/internal/config"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/internal/metrics"
	"github.com/gelfstream/gelfd/internal/tracing"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

const (
	// DefaultBatchSize is the flush threshold used when none is configured.
	DefaultBatchSize = 100

	// DefaultBatchTimeout caps how long a partial batch may wait.
	DefaultBatchTimeout = time.Second

	// finalFlushTimeout bounds the last flush during shutdown.
	finalFlushTimeout = 5 * time.Second
)

// Sink delivers batches to one downstream system.
type Sink interface {
	// Send delivers the batch. A nil return means every envelope was
	// accepted downstream.
	Send(ctx context.Context, batch []gelf.Envelope) error

	// Close releases the sink's resources.
	Close() error

	// Name identifies the sink in logs, metrics, and spans.
	Name() string
}

// Config controls batching and retry behavior shared by all sinks.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
	Retry        RetryConfig
}

// Stats is a point-in-time snapshot of relay activity.
type Stats struct {
	Relayed uint64
	Failed  uint64
	Lagged  uint64
}

// Relay drains a hub subscription into batches and pushes each batch to
// every registered sink. Sinks fail independently: a batch dropped by one
// sink is still delivered to the others.
type Relay struct {
	config  Config
	hub     *broadcast.Hub
	sinks   []Sink
	metrics *metrics.Collector
	logger  *logging.Logger
	tracer  trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup

	relayed uint64
	failed  uint64
	lagged  uint64
}

// New creates a relay without sinks. Register sinks with AddSink before
// calling Start.
func New(cfg Config, hub *broadcast.Hub, collector *metrics.Collector, logger *logging.Logger, tracer trace.Tracer) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if tracer == nil {
		tracer = otel.Tracer("gelfd")
	}

	return &Relay{
		config:  cfg,
		hub:     hub,
		sinks:   make([]Sink, 0, 3),
		metrics: collector,
		logger:  logger,
		tracer:  tracer,
	}
}

// FromConfig assembles a relay with one sink per configured destination.
func FromConfig(ctx context.Context, cfg *config.RelayConfig, hub *broadcast.Hub, collector *metrics.Collector, logger *logging.Logger, tracer trace.Tracer) (*Relay, error) {
	relayCfg := Config{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Retry:        DefaultRetryConfig(),
	}
	if cfg.Retry != nil {
		relayCfg.Retry = RetryConfig{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
			Jitter:         cfg.Retry.Jitter,
		}
	}

	r := New(relayCfg, hub, collector, logger, tracer)

	if cfg.Kafka != nil {
		sink, err := NewKafkaSink(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		r.AddSink(sink)
	}
	if cfg.Elasticsearch != nil {
		sink, err := NewElasticsearchSink(cfg.Elasticsearch, logger)
		if err != nil {
			return nil, err
		}
		r.AddSink(sink)
	}
	if cfg.S3 != nil {
		sink, err := NewS3Sink(ctx, cfg.S3, logger)
		if err != nil {
			return nil, err
		}
		r.AddSink(sink)
	}

	if len(r.sinks) == 0 {
		return nil, errors.New("relay: no sinks configured")
	}
	return r, nil
}

// AddSink registers a sink. Not safe to call after Start.
func (r *Relay) AddSink(sink Sink) {
	r.sinks = append(r.sinks, sink)
}

// SinkNames lists the registered sinks.
func (r *Relay) SinkNames() []string {
	names := make([]string, 0, len(r.sinks))
	for _, sink := range r.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// Start subscribes to the hub and begins draining in the background.
func (r *Relay) Start() error {
	if len(r.sinks) == 0 {
		return errors.New("relay: no sinks registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	sub := r.hub.Subscribe()
	r.wg.Add(1)
	go r.run(ctx, sub)

	r.logger.Info().
		Strs("sinks", r.SinkNames()).
		Int("batch_size", r.config.BatchSize).
		Dur("batch_timeout", r.config.BatchTimeout).
		Msg("Relay started")

	return nil
}

// run accumulates envelopes and flushes when the batch fills or ages out.
func (r *Relay) run(ctx context.Context, sub *broadcast.Subscription) {
	defer r.wg.Done()
	defer sub.Close()

	batch := make([]gelf.Envelope, 0, r.config.BatchSize)

	for {
		recvCtx, cancel := context.WithTimeout(ctx, r.config.BatchTimeout)
		env, err := sub.Recv(recvCtx)
		cancel()

		var lag *broadcast.LagError
		switch {
		case err == nil:
			batch = append(batch, env)
			if len(batch) >= r.config.BatchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}

		case errors.As(err, &lag):
			atomic.AddUint64(&r.lagged, lag.Missed)
			r.logger.Warn().
				Uint64("missed", lag.Missed).
				Msg("Relay fell behind the hub, messages skipped")

		case errors.Is(err, broadcast.ErrClosed), ctx.Err() != nil:
			r.finalFlush(batch)
			return

		default:
			// Batch aged out with no new envelope
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// finalFlush pushes whatever is pending with its own deadline, since the
// run context is already cancelled during shutdown.
func (r *Relay) finalFlush(batch []gelf.Envelope) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	r.flush(ctx, batch)
}

// flush pushes the batch to every sink, retrying each independently. A sink
// that exhausts its retries drops the batch for itself only.
func (r *Relay) flush(ctx context.Context, batch []gelf.Envelope) {
	for _, sink := range r.sinks {
		name := sink.Name()

		sendCtx, span := tracing.TraceRelay(ctx, r.tracer, name, len(batch))
		start := time.Now()
		err := Retry(sendCtx, r.config.Retry, func(ctx context.Context) error {
			return sink.Send(ctx, batch)
		})
		r.metrics.RelayDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		r.metrics.RelayBatchSize.WithLabelValues(name).Observe(float64(len(batch)))

		if err != nil {
			tracing.RecordError(sendCtx, err)
			span.End()
			atomic.AddUint64(&r.failed, uint64(len(batch)))
			r.metrics.RelayFailed.WithLabelValues(name).Add(float64(len(batch)))
			r.logger.Error().
				Err(err).
				Str("sink", name).
				Int("batch_size", len(batch)).
				Msg("Relay batch dropped after retries")
			continue
		}
		span.End()

		atomic.AddUint64(&r.relayed, uint64(len(batch)))
		r.metrics.RelaySent.WithLabelValues(name).Add(float64(len(batch)))
	}
}

// Stop ends draining, flushes the pending batch, and closes every sink.
func (r *Relay) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			r.logger.Error().Err(err).Str("sink", sink.Name()).Msg("Failed to close sink")
		}
	}

	r.logger.Info().Msg("Relay stopped")
	return waitErr
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Relayed: atomic.LoadUint64(&r.relayed),
		Failed:  atomic.LoadUint64(&r.failed),
		Lagged:  atomic.LoadUint64(&r.lagged),
	}
}
