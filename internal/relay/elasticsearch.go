package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/gelfstream/gelfd/internal/config"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

// ElasticsearchSink bulk-indexes envelope batches.
type ElasticsearchSink struct {
	client   *elasticsearch.Client
	index    string
	rotation string
	logger   *logging.Logger
}

// NewElasticsearchSink builds a client for the configured cluster and
// verifies it is reachable.
func NewElasticsearchSink(cfg *config.ElasticsearchSinkConfig, logger *logging.Logger) (*ElasticsearchSink, error) {
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return nil, fmt.Errorf("elasticsearch sink: no addresses or cloud ID configured")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch sink: no index configured")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch sink: creating client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch sink: connecting: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch sink: cluster returned %s", res.Status())
	}

	logger.Info().
		Str("index", cfg.Index).
		Str("rotation", cfg.IndexRotation).
		Msg("Elasticsearch sink connected")

	return &ElasticsearchSink{
		client:   client,
		index:    cfg.Index,
		rotation: cfg.IndexRotation,
		logger:   logger,
	}, nil
}

// Send indexes the batch with one bulk request.
func (e *ElasticsearchSink) Send(ctx context.Context, batch []gelf.Envelope) error {
	body, err := buildBulkBody(e.index, e.rotation, batch)
	if err != nil {
		return err
	}

	res, err := e.client.Bulk(bytes.NewReader(body), e.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch sink: bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch sink: bulk request returned %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("elasticsearch sink: parsing bulk response: %w", err)
	}
	if bulkResp.Errors {
		return fmt.Errorf("elasticsearch sink: bulk request rejected some documents")
	}
	return nil
}

// buildBulkBody produces the action and document line pairs for one bulk
// call. Each document lands in the index named by its reception time.
func buildBulkBody(index, rotation string, batch []gelf.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	for _, env := range batch {
		meta, err := json.Marshal(map[string]map[string]string{
			"index": {"_index": indexFor(index, rotation, env.ReceivedAt)},
		})
		if err != nil {
			return nil, fmt.Errorf("elasticsearch sink: marshaling action: %w", err)
		}

		doc, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch sink: marshaling envelope: %w", err)
		}

		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// indexFor appends a reception-time suffix per the rotation policy. An
// unknown or empty policy leaves the index name alone.
func indexFor(index, rotation string, receivedAt float64) string {
	ts := time.Unix(int64(receivedAt), 0).UTC()

	switch rotation {
	case "daily":
		return fmt.Sprintf("%s-%s", index, ts.Format("2006.01.02"))
	case "weekly":
		year, week := ts.ISOWeek()
		return fmt.Sprintf("%s-%d.%02d", index, year, week)
	case "monthly":
		return fmt.Sprintf("%s-%s", index, ts.Format("2006.01"))
	default:
		return index
	}
}

// Close is a no-op; the client holds no long-lived connections beyond its
// HTTP transport.
func (e *ElasticsearchSink) Close() error { return nil }

// Name identifies the sink.
func (e *ElasticsearchSink) Name() string { return "elasticsearch" }
