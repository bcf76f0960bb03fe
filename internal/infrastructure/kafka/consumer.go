package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/trendydresses/payment-recon/internal/models"
)

// Ingestor is the slice of the ingest service the consumer needs; callbacks
// relayed through the broker follow the same idempotent path as direct
// webhooks.
type Ingestor interface {
	IngestCallback(ctx context.Context, envelope models.STKCallbackEnvelope) (*models.Transaction, error)
}

type Consumer struct {
	reader   *kafka.Reader
	ingestor Ingestor
}

func NewConsumer(brokers []string, topic, groupID string, ingestor Ingestor) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		ingestor: ingestor,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		var envelope models.STKCallbackEnvelope
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			slog.Error("failed to unmarshal callback envelope", "error", err)
			continue
		}

		// Ingestion swallows malformed payloads; only infrastructure errors
		// surface here, and the message is not retried beyond logging.
		if _, err := c.ingestor.IngestCallback(ctx, envelope); err != nil {
			slog.Error("failed to ingest relayed callback", "checkout_request_id", envelope.Body.STKCallback.CheckoutRequestID, "error", err)
			continue
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
