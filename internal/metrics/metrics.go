package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "gelfd"

// Collector provides a central place for all application metrics
type Collector struct {
	// Receiver metrics
	ReceiverDatagrams  *prometheus.CounterVec
	ReceiverBytes      prometheus.Counter
	ReceiverErrors     prometheus.Counter
	DecompressFailures *prometheus.CounterVec
	RateLimited        prometheus.Counter

	// Parser metrics
	ParserProcessed prometheus.Counter
	ParserFailed    prometheus.Counter
	ParseDuration   prometheus.Histogram

	// Store metrics
	StoreAppends   prometheus.Counter
	StoreEvictions prometheus.Counter
	StoreSize      prometheus.Gauge
	StoreCapacity  prometheus.Gauge

	// Broadcast metrics
	BroadcastPublished   prometheus.Counter
	BroadcastDelivered   prometheus.Counter
	BroadcastDropped     prometheus.Counter
	BroadcastSubscribers prometheus.Gauge

	// Relay metrics
	RelaySent      *prometheus.CounterVec
	RelayFailed    *prometheus.CounterVec
	RelayDuration  *prometheus.HistogramVec
	RelayBatchSize *prometheus.HistogramVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge
	SystemGCPauses   prometheus.Histogram

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.initReceiverMetrics()
	c.initParserMetrics()
	c.initStoreMetrics()
	c.initBroadcastMetrics()
	c.initRelayMetrics()
	c.initSystemMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initReceiverMetrics() {
	c.ReceiverDatagrams = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "datagrams_received_total",
			Help:      "Total number of datagrams received, by detected codec",
		},
		[]string{"codec"},
	)

	c.ReceiverBytes = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "bytes_received_total",
			Help:      "Total bytes received off the wire",
		},
	)

	c.ReceiverErrors = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "receive_errors_total",
			Help:      "Total number of transient receive errors",
		},
	)

	c.DecompressFailures = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "decompress_failures_total",
			Help:      "Total number of payloads dropped because decompression failed",
		},
		[]string{"codec"},
	)

	c.RateLimited = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "rate_limited_total",
			Help:      "Total number of datagrams dropped by per-sender rate limiting",
		},
	)
}

func (c *Collector) initParserMetrics() {
	c.ParserProcessed = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "messages_parsed_total",
			Help:      "Total number of payloads successfully parsed",
		},
	)

	c.ParserFailed = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "parse_failures_total",
			Help:      "Total number of payloads dropped because parsing failed",
		},
	)

	c.ParseDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "parse_duration_seconds",
			Help:      "Time taken to parse one payload",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
	)
}

func (c *Collector) initStoreMetrics() {
	c.StoreAppends = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "appends_total",
			Help:      "Total number of messages appended to the store",
		},
	)

	c.StoreEvictions = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "evictions_total",
			Help:      "Total number of messages evicted to hold the capacity bound",
		},
	)

	c.StoreSize = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "size",
			Help:      "Current number of retained messages",
		},
	)

	c.StoreCapacity = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "capacity",
			Help:      "Configured retention capacity",
		},
	)
}

func (c *Collector) initBroadcastMetrics() {
	c.BroadcastPublished = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "published_total",
			Help:      "Total number of envelopes published to the hub",
		},
	)

	c.BroadcastDelivered = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivered_total",
			Help:      "Total envelope deliveries across all subscribers",
		},
	)

	c.BroadcastDropped = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Total envelope drops caused by lagging subscribers",
		},
	)

	c.BroadcastSubscribers = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Current number of live subscriptions",
		},
	)
}

func (c *Collector) initRelayMetrics() {
	c.RelaySent = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_sent_total",
			Help:      "Total number of messages forwarded downstream, by sink",
		},
		[]string{"sink"},
	)

	c.RelayFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "send_failures_total",
			Help:      "Total number of messages that failed to forward, by sink",
		},
		[]string{"sink"},
	)

	c.RelayDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "send_duration_seconds",
			Help:      "Time taken to send one batch downstream",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"sink"},
	)

	c.RelayBatchSize = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "batch_size",
			Help:      "Number of messages in each batch sent downstream",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1 to 4096
		},
		[]string{"sink"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "gc_pause_seconds",
			Help:      "GC pause duration",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~300ms
		},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// Start begins collecting system metrics periodically
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return
	}
	c.stopCh = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stop:
				return
			}
		}
	}(c.stopCh)
}

// Stop stops the periodic system metrics collection
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.stopCh = nil
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	// Record the most recent GC pause
	if m.NumGC > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
