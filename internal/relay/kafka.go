package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/gelfstream/gelfd/internal/config"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

// KafkaSink publishes envelope batches to a Kafka topic.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
	logger   *logging.Logger
}

// NewKafkaSink connects a synchronous producer to the configured brokers.
func NewKafkaSink(cfg *config.KafkaSinkConfig, logger *logging.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = "gelfd"
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	switch cfg.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	if cfg.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	if cfg.EnableTLS {
		saramaConfig.Net.TLS.Enable = true
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: creating producer: %w", err)
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka sink connected")

	return &KafkaSink{
		topic:    cfg.Topic,
		producer: producer,
		logger:   logger,
	}, nil
}

// Send publishes the whole batch in one producer call.
func (k *KafkaSink) Send(ctx context.Context, batch []gelf.Envelope) error {
	messages, err := buildProducerMessages(k.topic, batch)
	if err != nil {
		return err
	}
	if err := k.producer.SendMessages(messages); err != nil {
		return fmt.Errorf("kafka sink: %w", err)
	}
	return nil
}

// buildProducerMessages serializes each envelope to its flattened JSON form.
// The source host keys each message so one host's records stay in order on
// one partition.
func buildProducerMessages(topic string, batch []gelf.Envelope) ([]*sarama.ProducerMessage, error) {
	messages := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, env := range batch {
		value, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: marshaling envelope: %w", err)
		}

		msg := &sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.ByteEncoder(value),
		}
		if env.Message.Host != nil && *env.Message.Host != "" {
			msg.Key = sarama.StringEncoder(*env.Message.Host)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Close shuts the producer down.
func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

// Name identifies the sink.
func (k *KafkaSink) Name() string { return "kafka" }
