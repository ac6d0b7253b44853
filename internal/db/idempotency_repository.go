package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/yourorg/payment-gateway/internal/idempotency"
)

// IdempotencyRepository implements idempotency.Store on PostgreSQL. The
// atomic claim rides on the primary-key conflict of the insert; the
// conditional relock is a guarded UPDATE, so both are single statements
// and need no explicit transaction.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	query := `SELECT key, endpoint, method, request_hash, locked_at, response_code, response_body, created_at, expires_at
	          FROM idempotency_records WHERE key = $1 AND expires_at > now()`
	var rec idempotency.Record
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.Endpoint, &rec.Method, &rec.RequestHash,
		&rec.LockedAt, &rec.ResponseCode, &rec.ResponseBody,
		&rec.CreatedAt, &rec.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "selecting idempotency record")
	}
	return &rec, nil
}

// InsertLocked claims the key. A conflicting row past its expiry is
// reclaimed in the same statement, so a reused key whose record the
// sweep has not yet removed behaves like a fresh one.
func (r *IdempotencyRepository) InsertLocked(ctx context.Context, rec *idempotency.Record) error {
	query := `INSERT INTO idempotency_records
	              (key, endpoint, method, request_hash, locked_at, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (key) DO UPDATE
	              SET endpoint = EXCLUDED.endpoint, method = EXCLUDED.method,
	                  request_hash = EXCLUDED.request_hash, locked_at = EXCLUDED.locked_at,
	                  response_code = NULL, response_body = NULL,
	                  created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	              WHERE idempotency_records.expires_at <= now()`
	tag, err := r.pool.Exec(ctx, query,
		rec.Key, rec.Endpoint, rec.Method, rec.RequestHash,
		rec.LockedAt, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "inserting idempotency record")
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrKeyExists
	}
	return nil
}

func (r *IdempotencyRepository) Relock(ctx context.Context, key string, lockedAt, staleBefore time.Time) (bool, error) {
	query := `UPDATE idempotency_records SET locked_at = $2
	          WHERE key = $1 AND response_code IS NULL AND locked_at <= $3`
	tag, err := r.pool.Exec(ctx, query, key, lockedAt, staleBefore)
	if err != nil {
		return false, errors.Wrap(err, "relocking idempotency record")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IdempotencyRepository) SaveResponse(ctx context.Context, key string, code int, body []byte) error {
	query := `UPDATE idempotency_records SET response_code = $2, response_body = $3
	          WHERE key = $1`
	tag, err := r.pool.Exec(ctx, query, key, code, body)
	if err != nil {
		return errors.Wrap(err, "saving idempotency response")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("idempotency record %q not found", key)
	}
	return nil
}

// DeleteExpired removes records past their retention window. Run
// periodically; replay and conflict detection only consult live records.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= now()`)
	if err != nil {
		return 0, errors.Wrap(err, "deleting expired idempotency records")
	}
	return tag.RowsAffected(), nil
}
