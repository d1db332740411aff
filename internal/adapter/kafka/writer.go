// Package kafka publishes sync logs to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
)

// Publisher produces one message per sync log.
// It implements pipeline.SyncLogPublisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the sync topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish writes log keyed by its run id.
func (p *Publisher) Publish(ctx context.Context, log domain.SyncLog) error {
	msg, err := serializeToMessage(log)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish sync log %s: %w", log.RunID, err)
	}
	p.logger.Debug("sync log published", "run_id", log.RunID, "kind", log.Kind)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a SyncLog into a Kafka message.
func serializeToMessage(log domain.SyncLog) (kafkago.Message, error) {
	data, err := json.Marshal(log)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize sync log: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(log.RunID.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "sync_kind", Value: []byte(log.Kind)},
			{Key: "sync_status", Value: []byte(log.Status)},
			{Key: "synced_at", Value: []byte(log.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
