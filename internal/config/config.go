package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Storage   StorageConfig   `yaml:"storage"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   *MetricsConfig  `yaml:"metrics,omitempty"`
	Tracing   *TracingConfig  `yaml:"tracing,omitempty"`
	Relay     *RelayConfig    `yaml:"relay,omitempty"`
}

// ServerConfig defines the listen addresses
type ServerConfig struct {
	UDPAddress  string `yaml:"udp_address"`
	HTTPAddress string `yaml:"http_address"`
}

// IngestConfig defines datagram intake configuration
type IngestConfig struct {
	ReadBufferSize int `yaml:"read_buffer_size"`
	// RateLimit caps datagrams per second per sender, 0 disables limiting
	RateLimit int `yaml:"rate_limit,omitempty"`
	RateBurst int `yaml:"rate_burst,omitempty"`
}

// StorageConfig defines the in-memory record store configuration
type StorageConfig struct {
	MaxMessages int `yaml:"max_messages"`
}

// BroadcastConfig defines live fan-out configuration
type BroadcastConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty"`
	EnableStdout bool    `yaml:"enable_stdout,omitempty"`
}

// RelayConfig holds downstream forwarding configuration
type RelayConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batch_size,omitempty"`
	BatchTimeout time.Duration `yaml:"batch_timeout,omitempty"`

	Retry *RetryConfig `yaml:"retry,omitempty"`

	// Kafka sink configuration
	Kafka *KafkaSinkConfig `yaml:"kafka,omitempty"`

	// Elasticsearch sink configuration
	Elasticsearch *ElasticsearchSinkConfig `yaml:"elasticsearch,omitempty"`

	// S3 sink configuration
	S3 *S3SinkConfig `yaml:"s3,omitempty"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         bool          `yaml:"jitter,omitempty"`
}

// KafkaSinkConfig holds Kafka-specific configuration
type KafkaSinkConfig struct {
	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	RequiredAcks     int16    `yaml:"required_acks,omitempty"`
	CompressionCodec string   `yaml:"compression_codec,omitempty"`
	MaxMessageBytes  int      `yaml:"max_message_bytes,omitempty"`
	EnableTLS        bool     `yaml:"enable_tls,omitempty"`
}

// ElasticsearchSinkConfig holds Elasticsearch-specific configuration
type ElasticsearchSinkConfig struct {
	Addresses     []string `yaml:"addresses"`
	Index         string   `yaml:"index"`
	IndexRotation string   `yaml:"index_rotation,omitempty"` // daily, hourly, none
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	CloudID       string   `yaml:"cloud_id,omitempty"`
	APIKey        string   `yaml:"api_key,omitempty"`
}

// S3SinkConfig holds S3-specific configuration
type S3SinkConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix,omitempty"`
	Compression  string `yaml:"compression,omitempty"` // none, gzip, zlib
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// Default values
const (
	DefaultUDPAddress       = "0.0.0.0:12201"
	DefaultHTTPAddress      = "0.0.0.0:8080"
	DefaultReadBufferSize   = 8192
	DefaultMaxMessages      = 10000
	DefaultSubscriberBuffer = 100
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsPath      = "/metrics"
	DefaultRelayBatchSize   = 100
	DefaultRelayBatchWait   = time.Second
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Server.UDPAddress == "" {
		c.Server.UDPAddress = DefaultUDPAddress
	}
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = DefaultHTTPAddress
	}
	if c.Ingest.ReadBufferSize == 0 {
		c.Ingest.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Storage.MaxMessages == 0 {
		c.Storage.MaxMessages = DefaultMaxMessages
	}
	if c.Broadcast.SubscriberBuffer == 0 {
		c.Broadcast.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Relay != nil {
		if c.Relay.BatchSize == 0 {
			c.Relay.BatchSize = DefaultRelayBatchSize
		}
		if c.Relay.BatchTimeout == 0 {
			c.Relay.BatchTimeout = DefaultRelayBatchWait
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.UDPAddress == "" {
		return fmt.Errorf("server udp_address must not be empty")
	}
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server http_address must not be empty")
	}

	if c.Ingest.ReadBufferSize < 1 {
		return fmt.Errorf("ingest read_buffer_size must be at least 1, got %d", c.Ingest.ReadBufferSize)
	}
	if c.Ingest.RateLimit < 0 {
		return fmt.Errorf("ingest rate_limit must not be negative, got %d", c.Ingest.RateLimit)
	}

	if c.Storage.MaxMessages < 1 {
		return fmt.Errorf("storage max_messages must be at least 1, got %d", c.Storage.MaxMessages)
	}

	if c.Broadcast.SubscriberBuffer < 1 {
		return fmt.Errorf("broadcast subscriber_buffer must be at least 1, got %d", c.Broadcast.SubscriberBuffer)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Relay != nil && c.Relay.Enabled {
		if err := c.Relay.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (r *RelayConfig) validate() error {
	if r.Kafka == nil && r.Elasticsearch == nil && r.S3 == nil {
		return fmt.Errorf("relay enabled but no sinks configured")
	}
	if k := r.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("kafka sink has no brokers configured")
		}
		if k.Topic == "" {
			return fmt.Errorf("kafka sink has no topic configured")
		}
	}
	if es := r.Elasticsearch; es != nil {
		if len(es.Addresses) == 0 && es.CloudID == "" {
			return fmt.Errorf("elasticsearch sink has no addresses configured")
		}
		if es.Index == "" {
			return fmt.Errorf("elasticsearch sink has no index configured")
		}
	}
	if s3 := r.S3; s3 != nil {
		if s3.Bucket == "" {
			return fmt.Errorf("s3 sink has no bucket configured")
		}
		if s3.Region == "" && s3.Endpoint == "" {
			return fmt.Errorf("s3 sink has no region configured")
		}
	}
	return nil
}

// LoadOrDefault loads configuration from file or returns a default configuration
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			UDPAddress:  DefaultUDPAddress,
			HTTPAddress: DefaultHTTPAddress,
		},
		Ingest: IngestConfig{
			ReadBufferSize: DefaultReadBufferSize,
		},
		Storage: StorageConfig{
			MaxMessages: DefaultMaxMessages,
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: DefaultSubscriberBuffer,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
	return cfg
}
