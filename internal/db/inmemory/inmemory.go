// Package inmemory provides map-backed implementations of the gateway's
// store interfaces. They honor the same atomicity contracts as the
// PostgreSQL repositories (unique-key claim, conditional relock) under a
// mutex, which makes them suitable for exercising the idempotency
// engine's concurrency properties in unit tests.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/model"
)

// IdempotencyStore is an in-memory idempotency.Store.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
}

// NewIdempotencyStore creates an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]*idempotency.Record)}
}

func (s *IdempotencyStore) Get(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || !rec.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (s *IdempotencyStore) InsertLocked(_ context.Context, rec *idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.records[rec.Key]; exists && existing.ExpiresAt.After(time.Now()) {
		return idempotency.ErrKeyExists
	}
	s.records[rec.Key] = cloneRecord(rec)
	return nil
}

func (s *IdempotencyStore) Relock(_ context.Context, key string, lockedAt, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.ResponseCode != nil {
		return false, nil
	}
	if rec.LockedAt != nil && rec.LockedAt.After(staleBefore) {
		return false, nil
	}
	t := lockedAt
	rec.LockedAt = &t
	return true, nil
}

func (s *IdempotencyStore) SaveResponse(_ context.Context, key string, code int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	c := code
	rec.ResponseCode = &c
	rec.ResponseBody = append([]byte(nil), body...)
	return nil
}

func cloneRecord(rec *idempotency.Record) *idempotency.Record {
	out := *rec
	if rec.LockedAt != nil {
		t := *rec.LockedAt
		out.LockedAt = &t
	}
	if rec.ResponseCode != nil {
		c := *rec.ResponseCode
		out.ResponseCode = &c
	}
	out.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &out
}

// PaymentStore is an in-memory payment repository.
type PaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*model.Payment
}

// NewPaymentStore creates an empty store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[uuid.UUID]*model.Payment)}
}

func (s *PaymentStore) Create(_ context.Context, p *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payments[p.ID] = clonePayment(p)
	return nil
}

func (s *PaymentStore) GetByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return clonePayment(p), nil
}

func (s *PaymentStore) GetByProviderPaymentID(_ context.Context, provider model.Provider, providerPaymentID string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID {
			return clonePayment(p), nil
		}
	}
	return nil, nil
}

func (s *PaymentStore) Update(_ context.Context, p *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.payments[p.ID]
	if !ok {
		return nil
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.payments[p.ID] = clonePayment(p)
	return nil
}

func clonePayment(p *model.Payment) *model.Payment {
	out := *p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// WebhookStore is an in-memory append-only webhook event log.
type WebhookStore struct {
	mu     sync.Mutex
	events []*model.WebhookEvent
}

// NewWebhookStore creates an empty log.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{}
}

func (s *WebhookStore) Append(_ context.Context, e *model.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	clone := *e
	clone.Payload = append([]byte(nil), e.Payload...)
	s.events = append(s.events, &clone)
	return nil
}

// Events returns a snapshot of the log, for test assertions.
func (s *WebhookStore) Events() []*model.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.WebhookEvent, len(s.events))
	copy(out, s.events)
	return out
}
