package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/yourorg/payment-gateway/internal/model"
)

const paymentColumns = `id, provider, provider_payment_id, status, amount, currency, description, metadata, created_at, updated_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Provider, p.ProviderPaymentID, p.Status, p.Amount,
		p.Currency, p.Description, p.Metadata, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "inserting payment")
	}
	return nil
}

// GetByID returns the payment, or nil when no row matches.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetByProviderPaymentID resolves a vendor-side payment reference to the
// local payment, or nil when the reference is unknown.
func (r *PaymentRepository) GetByProviderPaymentID(ctx context.Context, provider model.Provider, providerPaymentID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE provider = $1 AND provider_payment_id = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, provider, providerPaymentID))
}

func (r *PaymentRepository) Update(ctx context.Context, p *model.Payment) error {
	p.UpdatedAt = time.Now().UTC()
	query := `UPDATE payments
	          SET provider_payment_id = $2, status = $3, metadata = $4, updated_at = $5
	          WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, p.ID, p.ProviderPaymentID, p.Status, p.Metadata, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "updating payment")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("payment %s not found", p.ID)
	}
	return nil
}

func (r *PaymentRepository) scanOne(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.Provider, &p.ProviderPaymentID, &p.Status, &p.Amount,
		&p.Currency, &p.Description, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning payment")
	}
	return &p, nil
}
