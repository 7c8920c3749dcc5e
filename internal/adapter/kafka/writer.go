// Package kafka publishes scored risk rows to a Kafka topic for downstream
// consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/vitalenv/climate-risk-service/internal/config"
	"github.com/vitalenv/climate-risk-service/internal/domain"
)

// Writer produces scored rows to the configured topic. It implements
// pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the scored-row topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishScoredRows serializes and publishes one generation of scored rows in
// a single WriteMessages call. Every row of a generation shares a batch id.
func (w *Writer) PublishScoredRows(ctx context.Context, rows []domain.RiskRow) error {
	if len(rows) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	scoredAt := domain.Now().Format(time.RFC3339)

	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := serializeToMessage(rows[i], batchID, scoredAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a RiskRow into a Kafka message keyed by member
// id, so one member's history lands on one partition.
func serializeToMessage(row domain.RiskRow, batchID, scoredAt string) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize risk row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(row.MemberID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "batch_id", Value: []byte(batchID)},
			{Key: "scored_at", Value: []byte(scoredAt)},
		},
	}, nil
}
