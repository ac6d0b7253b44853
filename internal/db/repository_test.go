package db_test

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/yourorg/payment-gateway/internal/db"
	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/model"
)

type RepositoryTestSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool

	payments *db.PaymentRepository
	records  *db.IdempotencyRepository
	webhooks *db.WebhookRepository
}

func (s *RepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC
	s.ctx = context.Background()

	pgContainer, err := postgres.Run(s.ctx, "postgres:16-alpine",
		postgres.WithDatabase("payments_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)))
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	if err != nil {
		log.Fatal(err)
	}

	if err := db.RunMigrations(connStr); err != nil {
		log.Fatal(err)
	}

	pool, err := db.NewPool(s.ctx, connStr)
	if err != nil {
		log.Fatal(err)
	}
	s.pool = pool

	s.payments = db.NewPaymentRepository(pool)
	s.records = db.NewIdempotencyRepository(pool)
	s.webhooks = db.NewWebhookRepository(pool)
}

func (s *RepositoryTestSuite) TearDownSuite() {
	s.pool.Close()
	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *RepositoryTestSuite) SetupTest() {
	for _, table := range []string{"payments", "idempotency_records", "webhook_events"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s: %s", table, err)
		}
	}
}

func (s *RepositoryTestSuite) TestPaymentCreateAndGet() {
	t := s.T()

	created := &model.Payment{
		Provider: model.ProviderStripe,
		Status:   model.StatusPending,
		Amount:   5000,
		Currency: "USD",
		Metadata: map[string]string{"order": "42"},
	}
	assert.NoError(t, s.payments.Create(s.ctx, created))
	assert.NotEqual(t, uuid.Nil, created.ID)

	got, err := s.payments.GetByID(s.ctx, created.ID)
	assert.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "42", got.Metadata["order"])
}

func (s *RepositoryTestSuite) TestPaymentGetByIDMissing() {
	t := s.T()

	got, err := s.payments.GetByID(s.ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func (s *RepositoryTestSuite) TestPaymentUpdateAndLookupByProviderID() {
	t := s.T()

	created := &model.Payment{
		Provider: model.ProviderRazorpay,
		Status:   model.StatusPending,
		Amount:   1200,
		Currency: "INR",
	}
	assert.NoError(t, s.payments.Create(s.ctx, created))

	created.ProviderPaymentID = "order_abc"
	created.Status = model.StatusSucceeded
	assert.NoError(t, s.payments.Update(s.ctx, created))

	got, err := s.payments.GetByProviderPaymentID(s.ctx, model.ProviderRazorpay, "order_abc")
	assert.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, model.StatusSucceeded, got.Status)
}

func (s *RepositoryTestSuite) TestIdempotencyInsertLockedConflicts() {
	t := s.T()

	now := time.Now().UTC()
	rec := &idempotency.Record{
		Key:         "key-1",
		Endpoint:    "/payments",
		Method:      "POST",
		RequestHash: "abc",
		LockedAt:    &now,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	assert.NoError(t, s.records.InsertLocked(s.ctx, rec))

	err := s.records.InsertLocked(s.ctx, rec)
	assert.ErrorIs(t, err, idempotency.ErrKeyExists)
}

func (s *RepositoryTestSuite) TestIdempotencySaveAndReplay() {
	t := s.T()

	now := time.Now().UTC()
	rec := &idempotency.Record{
		Key:         "key-2",
		Endpoint:    "/payments",
		Method:      "POST",
		RequestHash: "abc",
		LockedAt:    &now,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	assert.NoError(t, s.records.InsertLocked(s.ctx, rec))
	assert.NoError(t, s.records.SaveResponse(s.ctx, "key-2", 201, []byte(`{"id":"p1"}`)))

	got, err := s.records.Get(s.ctx, "key-2")
	assert.NoError(t, err)
	assert.NotNil(t, got.ResponseCode)
	assert.Equal(t, 201, *got.ResponseCode)
	assert.Equal(t, `{"id":"p1"}`, string(got.ResponseBody))
}

func (s *RepositoryTestSuite) TestIdempotencyRelockOnlyWhenStale() {
	t := s.T()

	lockedAt := time.Now().UTC().Add(-time.Minute)
	rec := &idempotency.Record{
		Key:         "key-3",
		Endpoint:    "/payments",
		Method:      "POST",
		RequestHash: "abc",
		LockedAt:    &lockedAt,
		CreatedAt:   lockedAt,
		ExpiresAt:   lockedAt.Add(time.Hour),
	}
	assert.NoError(t, s.records.InsertLocked(s.ctx, rec))

	// The lock is a minute old; a 30s staleness horizon allows relocking.
	won, err := s.records.Relock(s.ctx, "key-3", time.Now().UTC(), time.Now().UTC().Add(-30*time.Second))
	assert.NoError(t, err)
	assert.True(t, won)

	// The fresh lock no longer satisfies the staleness condition.
	won, err = s.records.Relock(s.ctx, "key-3", time.Now().UTC(), time.Now().UTC().Add(-30*time.Second))
	assert.NoError(t, err)
	assert.False(t, won)
}

func (s *RepositoryTestSuite) TestIdempotencyExpiredRecordInvisible() {
	t := s.T()

	now := time.Now().UTC()
	lockedAt := now.Add(-2 * time.Hour)
	rec := &idempotency.Record{
		Key:         "key-4",
		Endpoint:    "/payments",
		Method:      "POST",
		RequestHash: "abc",
		LockedAt:    &lockedAt,
		CreatedAt:   lockedAt,
		ExpiresAt:   now.Add(-time.Hour),
	}
	assert.NoError(t, s.records.InsertLocked(s.ctx, rec))

	got, err := s.records.Get(s.ctx, "key-4")
	assert.NoError(t, err)
	assert.Nil(t, got)

	deleted, err := s.records.DeleteExpired(s.ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func (s *RepositoryTestSuite) TestIdempotencyExpiredKeyIsReclaimed() {
	t := s.T()

	now := time.Now().UTC()
	staleLock := now.Add(-2 * time.Hour)
	old := &idempotency.Record{
		Key:         "key-5",
		Endpoint:    "/payments",
		Method:      "POST",
		RequestHash: "abc",
		LockedAt:    &staleLock,
		CreatedAt:   staleLock,
		ExpiresAt:   now.Add(-time.Hour),
	}
	assert.NoError(t, s.records.InsertLocked(s.ctx, old))
	assert.NoError(t, s.records.SaveResponse(s.ctx, "key-5", 201, []byte(`{"id":"old"}`)))

	// A key reused past its retention window claims fresh before the
	// sweep runs, rather than colliding with the dead row.
	fresh := &idempotency.Record{
		Key:         "key-5",
		Endpoint:    "/payments",
		Method:      "POST",
		RequestHash: "def",
		LockedAt:    &now,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	assert.NoError(t, s.records.InsertLocked(s.ctx, fresh))

	got, err := s.records.Get(s.ctx, "key-5")
	assert.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, "def", got.RequestHash)
	assert.Nil(t, got.ResponseCode, "the reclaim clears the stale cached response")

	// The live row is a duplicate again.
	err = s.records.InsertLocked(s.ctx, fresh)
	assert.ErrorIs(t, err, idempotency.ErrKeyExists)
}

func (s *RepositoryTestSuite) TestWebhookAppendDeduplicates() {
	t := s.T()

	ev := &model.WebhookEvent{
		Provider:  model.ProviderPaypal,
		EventID:   "WH-1",
		EventType: "PAYMENT.CAPTURE.COMPLETED",
		Payload:   []byte(`{"id":"WH-1"}`),
	}
	assert.NoError(t, s.webhooks.Append(s.ctx, ev))

	redelivered := &model.WebhookEvent{
		Provider:  model.ProviderPaypal,
		EventID:   "WH-1",
		EventType: "PAYMENT.CAPTURE.COMPLETED",
		Payload:   []byte(`{"id":"WH-1"}`),
	}
	assert.NoError(t, s.webhooks.Append(s.ctx, redelivered))

	var count int
	err := s.pool.QueryRow(s.ctx, "SELECT count(*) FROM webhook_events").Scan(&count)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepositoryTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed repository tests in short mode")
	}
	suite.Run(t, new(RepositoryTestSuite))
}
