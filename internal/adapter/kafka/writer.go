package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-exposure/internal/config"
	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

const sinkName = "kafka"

// messageWriter is the subset of *kafkago.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes exposure records to a Kafka topic, one message per place.
// It implements pipeline.Sink.
type Writer struct {
	writer    messageWriter
	batchSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, batchSize: cfg.BatchSize, metrics: metrics, logger: logger}
}

func (w *Writer) Name() string { return sinkName }

// Publish serializes every record of the table and writes them in chunks of
// BATCH_SIZE. Records are keyed by place ID so a place always lands on the
// same partition.
func (w *Writer) Publish(ctx context.Context, table domain.RiskTable) error {
	if len(table.Records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(table.Records))
	for i := range table.Records {
		msg, err := serializeToMessage(table, table.Records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	size := max(w.batchSize, 1)
	for start := 0; start < len(msgs); start += size {
		chunk := msgs[start:min(start+size, len(msgs))]
		if err := w.writer.WriteMessages(ctx, chunk...); err != nil {
			return fmt.Errorf("write exposure records %d-%d: %w", start, start+len(chunk)-1, err)
		}
		w.metrics.RecordsPublished.WithLabelValues(sinkName).Add(float64(len(chunk)))
	}

	w.logger.Debug("exposure records published", "run_id", table.RunID, "records", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one ExposureRecord into a Kafka message tagged
// with its run.
func serializeToMessage(table domain.RiskTable, rec domain.ExposureRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize exposure record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.PlaceID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(table.RunID)},
			{Key: "model_version", Value: []byte(table.ModelVersion)},
			{Key: "scored_at", Value: []byte(table.ScoredAt.Format(time.RFC3339))},
		},
	}, nil
}
