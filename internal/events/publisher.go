// Package events publishes payment lifecycle changes to Kafka so
// downstream consumers (ledgers, notifications) see every transition
// without polling the gateway.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yourorg/payment-gateway/internal/model"
)

// PaymentEvent is the wire shape of one lifecycle transition. Key'd by
// payment ID so a partition preserves per-payment ordering.
type PaymentEvent struct {
	PaymentID string              `json:"paymentId"`
	Provider  model.Provider      `json:"provider"`
	Status    model.PaymentStatus `json:"status"`
	Amount    int64               `json:"amount"`
	Currency  string              `json:"currency"`
	Source    string              `json:"source"`
	Timestamp time.Time           `json:"timestamp"`
}

type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           100 * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// NewPublisher wraps a Kafka writer. A nil writer yields a no-op
// publisher, used when no broker is configured.
func NewPublisher(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{writer: writer, logger: logger}
}

// Publish emits one lifecycle event. Publish failures are logged and
// swallowed: event delivery never fails a payment operation.
func (p *Publisher) Publish(ctx context.Context, ev PaymentEvent) {
	if p == nil || p.writer == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()

	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error encoding payment event", "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.PaymentID),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "Error publishing payment event", "error", err, "paymentId", ev.PaymentID)
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
