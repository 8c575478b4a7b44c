package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gelfstream/gelfd/internal/compress"
	"github.com/gelfstream/gelfd/internal/config"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

// S3Sink writes each batch as one newline-delimited JSON object, keyed by
// reception date so objects list naturally by day.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
	codec  compress.Codec
	logger *logging.Logger
}

// NewS3Sink loads the default AWS credential chain and targets the
// configured bucket. An endpoint override supports S3-compatible stores.
func NewS3Sink(ctx context.Context, cfg *config.S3SinkConfig, logger *logging.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: no bucket configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3 sink: loading AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	var codec compress.Codec
	if cfg.Compression != "" && cfg.Compression != compress.CodecNone {
		codec = compress.NewSniffer().Lookup(cfg.Compression)
		if codec == nil {
			return nil, fmt.Errorf("s3 sink: unknown compression %q", cfg.Compression)
		}
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("prefix", prefix).
		Msg("S3 sink ready")

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		prefix: prefix,
		codec:  codec,
		logger: logger,
	}, nil
}

// Send uploads the batch as a single object.
func (s *S3Sink) Send(ctx context.Context, batch []gelf.Envelope) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := encodeBatch(batch, s.codec)
	if err != nil {
		return err
	}

	key := s.objectKey(batch[0].ReceivedAt)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	}
	if s.codec != nil {
		input.ContentEncoding = aws.String(s.codec.Name())
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 sink: uploading %s: %w", key, err)
	}
	return nil
}

// encodeBatch serializes the batch as newline-delimited JSON, compressed
// when a codec is set.
func encodeBatch(batch []gelf.Envelope, codec compress.Codec) ([]byte, error) {
	var buf bytes.Buffer
	for _, env := range batch {
		line, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("s3 sink: marshaling envelope: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if codec == nil {
		return buf.Bytes(), nil
	}
	compressed, err := codec.Compress(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("s3 sink: compressing batch: %w", err)
	}
	return compressed, nil
}

// objectKey partitions by the first envelope's reception date and keeps
// keys unique with an upload-time nanosecond suffix.
func (s *S3Sink) objectKey(receivedAt float64) string {
	day := time.Unix(int64(receivedAt), 0).UTC().Format("2006/01/02")
	key := fmt.Sprintf("%s%s/%d.ndjson", s.prefix, day, time.Now().UnixNano())

	if s.codec != nil {
		if s.codec.Name() == "gzip" {
			key += ".gz"
		} else {
			key += "." + s.codec.Name()
		}
	}
	return key
}

// Close is a no-op; uploads hold no state between calls.
func (s *S3Sink) Close() error { return nil }

// Name identifies the sink.
func (s *S3Sink) Name() string { return "s3" }
