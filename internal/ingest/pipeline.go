package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/gelfstream/gelfd/internal/compress"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/internal/metrics"
	"github.com/gelfstream/gelfd/internal/store"
	"github.com/gelfstream/gelfd/internal/tracing"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

// maxTrackedSenders caps the per-sender limiter map so a spoofed-source
// flood cannot grow it without bound
const maxTrackedSenders = 10000

// Config holds configuration for the datagram pipeline
type Config struct {
	// Address to bind to (e.g., "0.0.0.0:12201")
	Address string
	// ReadBufferSize is the receive buffer in bytes; longer datagrams are truncated
	ReadBufferSize int
	// Rate limiting per sender (datagrams per second), 0 disables
	RateLimit int
	RateBurst int
}

// Stats is a point-in-time snapshot of pipeline counters
type Stats struct {
	Received           uint64
	Stored             uint64
	DecompressFailures uint64
	ParseFailures      uint64
	RateLimited        uint64
}

// Pipeline receives GELF datagrams over UDP and drives each one through
// decompression, parsing and storage. A datagram that fails any stage is
// dropped and counted; the pipeline itself keeps running.
type Pipeline struct {
	config   Config
	store    *store.Store
	sniffer  *compress.Sniffer
	metrics  *metrics.Collector
	logger   *logging.Logger
	tracer   trace.Tracer
	conn     net.PacketConn
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	received           uint64
	stored             uint64
	decompressFailures uint64
	parseFailures      uint64
	rateLimited        uint64
}

// New creates a new pipeline writing into st
func New(cfg Config, st *store.Store, collector *metrics.Collector, logger *logging.Logger, tracer trace.Tracer) *Pipeline {
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 8192
	}
	if tracer == nil {
		tracer = otel.Tracer("gelfd")
	}

	return &Pipeline{
		config:   cfg,
		store:    st,
		sniffer:  compress.NewSniffer(),
		metrics:  collector,
		logger:   logger.WithComponent("ingest"),
		tracer:   tracer,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Listen binds the UDP socket
func (p *Pipeline) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", p.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to start UDP listener: %w", err)
	}

	p.conn = conn
	p.logger.Info().Str("address", conn.LocalAddr().String()).Msg("UDP listener started")

	return nil
}

// Addr returns the bound address, or nil before Listen
func (p *Pipeline) Addr() net.Addr {
	if p.conn == nil {
		return nil
	}
	return p.conn.LocalAddr()
}

// Close closes the UDP socket, unblocking Serve
func (p *Pipeline) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Serve reads datagrams until the socket is closed or ctx is cancelled.
// Transient read errors are logged and skipped; only a closed socket or
// cancellation ends the loop, and both return nil.
func (p *Pipeline) Serve(ctx context.Context) error {
	if p.conn == nil {
		return fmt.Errorf("pipeline is not listening")
	}

	buf := make([]byte, p.config.ReadBufferSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				p.logger.Error().Err(err).Msg("Error reading from UDP")
				p.metrics.ReceiverErrors.Inc()
				continue
			}
		}

		sender := addr.String()

		// Apply rate limiting
		if limiter := p.getRateLimiter(sender); limiter != nil && !limiter.Allow() {
			atomic.AddUint64(&p.rateLimited, 1)
			p.metrics.RateLimited.Inc()
			p.logger.Debug().Str("sender", sender).Msg("Rate limit exceeded")
			continue
		}

		p.processDatagram(ctx, buf[:n], sender)
	}
}

// processDatagram runs one payload through decompress, parse and store.
// The data slice is only read during the call; callers may reuse it.
func (p *Pipeline) processDatagram(ctx context.Context, data []byte, sender string) {
	atomic.AddUint64(&p.received, 1)
	p.metrics.ReceiverBytes.Add(float64(len(data)))

	ctx, span := tracing.TraceDatagram(ctx, p.tracer, sender, len(data))
	defer span.End()

	payload, codec, err := p.sniffer.Decompress(data)
	p.metrics.ReceiverDatagrams.WithLabelValues(codec).Inc()
	span.SetAttributes(attribute.String("compression.codec", codec))

	if err != nil {
		atomic.AddUint64(&p.decompressFailures, 1)
		p.metrics.DecompressFailures.WithLabelValues(codec).Inc()
		tracing.RecordError(ctx, err)
		p.logger.Debug().Err(err).Str("sender", sender).Str("codec", codec).Msg("Dropping datagram that failed to inflate")
		return
	}

	start := time.Now()
	text := gelf.Normalize(payload)
	msg, err := gelf.Parse(text)
	p.metrics.ParseDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		atomic.AddUint64(&p.parseFailures, 1)
		p.metrics.ParserFailed.Inc()
		tracing.RecordError(ctx, err)
		p.logger.Debug().Err(err).Str("sender", sender).Msg("Dropping datagram that failed to parse")
		return
	}

	p.metrics.ParserProcessed.Inc()
	atomic.AddUint64(&p.stored, 1)
	p.store.Add(*msg, text)
}

// getRateLimiter gets or creates a rate limiter for a sender
func (p *Pipeline) getRateLimiter(sender string) *rate.Limiter {
	if p.config.RateLimit <= 0 {
		return nil
	}

	p.mu.RLock()
	limiter, exists := p.limiters[sender]
	p.mu.RUnlock()

	if !exists {
		burst := p.config.RateBurst
		if burst <= 0 {
			burst = p.config.RateLimit * 2
		}
		limiter = rate.NewLimiter(rate.Limit(p.config.RateLimit), burst)

		p.mu.Lock()
		if len(p.limiters) >= maxTrackedSenders {
			p.limiters = make(map[string]*rate.Limiter)
		}
		p.limiters[sender] = limiter
		p.mu.Unlock()
	}

	return limiter
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:           atomic.LoadUint64(&p.received),
		Stored:             atomic.LoadUint64(&p.stored),
		DecompressFailures: atomic.LoadUint64(&p.decompressFailures),
		ParseFailures:      atomic.LoadUint64(&p.parseFailures),
		RateLimited:        atomic.LoadUint64(&p.rateLimited),
	}
}
