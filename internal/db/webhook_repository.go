package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/yourorg/payment-gateway/internal/model"
)

type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

// Append records a verified webhook event. Redelivered events (same
// provider and vendor event id) are dropped silently; vendors retry
// deliveries and the audit log keeps one row per event.
func (r *WebhookRepository) Append(ctx context.Context, ev *model.WebhookEvent) error {
	ev.ID = uuid.New()
	ev.ReceivedAt = time.Now().UTC()

	query := `INSERT INTO webhook_events (id, provider, event_id, event_type, payload, signature, received_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (provider, event_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		ev.ID, ev.Provider, ev.EventID, ev.EventType, ev.Payload, ev.Signature, ev.ReceivedAt)
	if err != nil {
		return errors.Wrap(err, "inserting webhook event")
	}
	return nil
}
