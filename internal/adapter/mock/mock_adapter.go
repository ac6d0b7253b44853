// Package mock provides a PaymentAdapter test double with injectable
// behavior and call counting, used by the service and handler tests to
// assert how many provider calls an operation triggered.
package mock

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/model"
)

// Adapter is a mock implementation of adapter.PaymentAdapter. Each
// operation calls its injected func when set, otherwise returns a default
// successful result. Call counts are safe for concurrent use.
type Adapter struct {
	Name model.Provider

	CreateFunc  func(ctx context.Context, p adapter.CreateParams) (adapter.Result, error)
	ConfirmFunc func(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error)
	RefundFunc  func(ctx context.Context, p adapter.RefundParams) (adapter.Result, error)
	WebhookFunc func(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error)

	mu       sync.Mutex
	creates  int
	confirms int
	refunds  int
	webhooks int
}

// New creates a mock adapter for the given provider.
func New(name model.Provider) *Adapter {
	return &Adapter{Name: name}
}

func (m *Adapter) Provider() model.Provider { return m.Name }

func (m *Adapter) CreatePayment(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
	m.count(&m.creates)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return adapter.Result{
		ProviderPaymentID: "mock_" + uuid.NewString(),
		Status:            model.StatusSucceeded,
		Raw:               []byte(`{"mock":true}`),
	}, nil
}

func (m *Adapter) ConfirmPayment(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error) {
	m.count(&m.confirms)
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, p)
	}
	return adapter.Result{
		ProviderPaymentID: p.ProviderPaymentID,
		Status:            model.StatusSucceeded,
		Raw:               []byte(`{"mock":true}`),
	}, nil
}

func (m *Adapter) RefundPayment(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
	m.count(&m.refunds)
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, p)
	}
	return adapter.Result{
		ProviderPaymentID: p.ProviderPaymentID,
		Status:            model.StatusRefunded,
		Raw:               []byte(`{"mock":true}`),
	}, nil
}

func (m *Adapter) VerifyAndParseWebhook(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
	m.count(&m.webhooks)
	if m.WebhookFunc != nil {
		return m.WebhookFunc(ctx, payload, headers)
	}
	return adapter.WebhookResult{
		EventID:  "evt_" + uuid.NewString(),
		Provider: m.Name,
		Type:     "mock.event",
		RawEvent: payload,
	}, nil
}

// CreateCalls returns how many times CreatePayment ran.
func (m *Adapter) CreateCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.creates }

// ConfirmCalls returns how many times ConfirmPayment ran.
func (m *Adapter) ConfirmCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.confirms }

// RefundCalls returns how many times RefundPayment ran.
func (m *Adapter) RefundCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.refunds }

// WebhookCalls returns how many times VerifyAndParseWebhook ran.
func (m *Adapter) WebhookCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.webhooks }

func (m *Adapter) count(c *int) {
	m.mu.Lock()
	*c++
	m.mu.Unlock()
}
