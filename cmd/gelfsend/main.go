package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/gelfstream/gelfd/internal/compress"
	"github.com/gelfstream/gelfd/internal/logging"
)

var (
	targetAddr     = flag.String("addr", "127.0.0.1:12201", "Collector UDP address")
	targetRate     = flag.Int("rate", 1000, "Target datagrams per second")
	duration       = flag.Int("duration", 10, "Test duration in seconds")
	workers        = flag.Int("workers", 4, "Number of sender goroutines")
	compression    = flag.String("compress", "none", "Payload compression (none, gzip, zlib)")
	sourceHost     = flag.String("host", "gelfsend", "Host field stamped on every record")
	reportInterval = flag.Int("interval", 5, "Report interval in seconds")
)

// Stats tracks sender statistics
type Stats struct {
	datagramsSent uint64
	bytesSent     uint64
	buildErrors   uint64
	sendErrors    uint64
	startTime     time.Time
}

func (s *Stats) Report() {
	elapsed := time.Since(s.startTime).Seconds()
	sent := atomic.LoadUint64(&s.datagramsSent)
	bytes := atomic.LoadUint64(&s.bytesSent)
	buildErrors := atomic.LoadUint64(&s.buildErrors)
	sendErrors := atomic.LoadUint64(&s.sendErrors)

	fmt.Printf("\n=== Sender Statistics ===\n")
	fmt.Printf("Duration: %.2f seconds\n", elapsed)
	fmt.Printf("Datagrams Sent: %d (%.0f/sec)\n", sent, float64(sent)/elapsed)
	fmt.Printf("Bytes Sent: %d (%.0f/sec)\n", bytes, float64(bytes)/elapsed)
	fmt.Printf("Build Errors: %d\n", buildErrors)
	fmt.Printf("Send Errors: %d\n", sendErrors)
	fmt.Printf("=========================\n\n")
}

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  "info",
		Format: "console",
	})

	fmt.Printf("Starting GELF sender...\n")
	fmt.Printf("Target: %s\n", *targetAddr)
	fmt.Printf("Rate: %d datagrams/sec\n", *targetRate)
	fmt.Printf("Duration: %d seconds\n", *duration)
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("Compression: %s\n\n", *compression)

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var codec compress.Codec
	if *compression != "" && *compression != compress.CodecNone {
		codec = compress.NewSniffer().Lookup(*compression)
		if codec == nil {
			return fmt.Errorf("unsupported compression: %s", *compression)
		}
	}

	// One limiter shared by all workers keeps the aggregate rate on target
	burst := *targetRate / 10
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(*targetRate), burst)

	// Initialize stats
	stats := &Stats{
		startTime: time.Now(),
	}

	// Start periodic reporting
	go func() {
		ticker := time.NewTicker(time.Duration(*reportInterval) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.Report()
			}
		}
	}()

	// Start workers, each with its own socket
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		conn, err := net.Dial("udp", *targetAddr)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to dial %s: %w", *targetAddr, err)
		}
		defer conn.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(ctx, conn, codec, limiter, stats)
		}()
	}

	// Wait for duration or signal
	select {
	case <-time.After(time.Duration(*duration) * time.Second):
		logger.Info().Msg("Send duration reached")
	case <-sigCh:
		logger.Info().Msg("Received shutdown signal")
	}

	// Stop workers
	cancel()
	wg.Wait()

	// Final report
	stats.Report()

	return nil
}

func runWorker(ctx context.Context, conn net.Conn, codec compress.Codec, limiter *rate.Limiter, stats *Stats) {
	recordTemplates := []string{
		`{"version":"1.1","host":%q,"short_message":"User login successful","timestamp":%.3f,"level":6,"_user_id":%d,"_ip":"10.0.0.%d"}`,
		`{"version":"1.1","host":%q,"short_message":"High memory usage detected","timestamp":%.3f,"level":4,"_memory_mb":%d,"_threshold_mb":8192}`,
		`{"version":"1.1","host":%q,"short_message":"Database query timeout","timestamp":%.3f,"level":3,"_query":"SELECT * FROM users","_duration_ms":%d}`,
		`{"version":"1.1","host":%q,"short_message":"API request processed","timestamp":%.3f,"level":6,"_endpoint":"/api/users","_status":%d,"_duration_ms":%d}`,
		`{"version":"1.1","host":%q,"short_message":"Cache hit","timestamp":%.3f,"level":7,"_key":"user:%d","_ttl_seconds":%d}`,
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		// Generate record
		shape := rand.Intn(len(recordTemplates))
		template := recordTemplates[shape]
		now := float64(time.Now().UnixNano()) / 1e9
		var record string

		switch shape {
		case 0:
			record = fmt.Sprintf(template, *sourceHost, now, rand.Intn(10000), rand.Intn(255))
		case 1:
			record = fmt.Sprintf(template, *sourceHost, now, rand.Intn(16384))
		case 2:
			record = fmt.Sprintf(template, *sourceHost, now, rand.Intn(5000))
		case 3:
			record = fmt.Sprintf(template, *sourceHost, now, 200+rand.Intn(300), rand.Intn(1000))
		case 4:
			record = fmt.Sprintf(template, *sourceHost, now, rand.Intn(10000), rand.Intn(3600))
		}

		payload := []byte(record)
		if codec != nil {
			compressed, err := codec.Compress(payload)
			if err != nil {
				atomic.AddUint64(&stats.buildErrors, 1)
				continue
			}
			payload = compressed
		}

		n, err := conn.Write(payload)
		if err != nil {
			atomic.AddUint64(&stats.sendErrors, 1)
			continue
		}

		atomic.AddUint64(&stats.datagramsSent, 1)
		atomic.AddUint64(&stats.bytesSent, uint64(n))
	}
}
