package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/adapter/mock"
	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/db/inmemory"
	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/model"
	"github.com/yourorg/payment-gateway/internal/policy"
	"github.com/yourorg/payment-gateway/internal/service"
)

type fixture struct {
	svc      *service.PaymentService
	payments *inmemory.PaymentStore
	webhooks *inmemory.WebhookStore
	stripe   *mock.Adapter
	razorpay *mock.Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	payments := inmemory.NewPaymentStore()
	webhooks := inmemory.NewWebhookStore()
	engine := idempotency.NewEngine(inmemory.NewIdempotencyStore(), 30*time.Second, 24*time.Hour, nil)

	stripe := mock.New(model.ProviderStripe)
	razorpay := mock.New(model.ProviderRazorpay)

	registry := adapter.NewRegistry()
	registry.Register(model.ProviderStripe, func() (adapter.PaymentAdapter, error) { return stripe, nil })
	registry.Register(model.ProviderRazorpay, func() (adapter.PaymentAdapter, error) { return razorpay, nil })

	guard, err := policy.NewGuard(policy.DefaultRules)
	require.NoError(t, err)

	svc := service.NewPaymentService(payments, webhooks, registry, engine, guard, nil, nil)
	return &fixture{svc: svc, payments: payments, webhooks: webhooks, stripe: stripe, razorpay: razorpay}
}

func decodeEnvelope(t *testing.T, body []byte) service.Envelope {
	t.Helper()
	var env service.Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t)
	f.stripe.CreateFunc = func(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
		assert.Equal(t, "key-1", p.IdempotencyToken)
		return adapter.Result{
			ProviderPaymentID: "pi_123",
			Status:            model.StatusSucceeded,
			Raw:               json.RawMessage(`{"id":"pi_123"}`),
		}, nil
	}

	body := []byte(`{"provider":"stripe","amount":5000,"currency":"USD","description":"order 42"}`)
	res, err := f.svc.CreatePayment(context.Background(), "key-1", body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.False(t, res.Cached)

	env := decodeEnvelope(t, res.Body)
	assert.Equal(t, "pi_123", env.Data.ProviderPaymentID)
	assert.Equal(t, model.StatusSucceeded, env.Data.Status)
	assert.JSONEq(t, `{"id":"pi_123"}`, string(env.ProviderResponse))

	stored, err := f.payments.GetByID(context.Background(), env.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), stored.Amount)
}

func TestCreatePaymentRetryReplaysWithoutSecondProviderCall(t *testing.T) {
	f := newFixture(t)
	f.stripe.CreateFunc = func(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
		return adapter.Result{ProviderPaymentID: "pi_123", Status: model.StatusSucceeded}, nil
	}

	body := []byte(`{"provider":"stripe","amount":5000,"currency":"USD"}`)
	first, err := f.svc.CreatePayment(context.Background(), "key-1", body)
	require.NoError(t, err)

	second, err := f.svc.CreatePayment(context.Background(), "key-1", body)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, f.stripe.CreateCalls())
}

func TestCreatePaymentConflictingRetry(t *testing.T) {
	f := newFixture(t)
	f.stripe.CreateFunc = func(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
		return adapter.Result{ProviderPaymentID: "pi_123", Status: model.StatusSucceeded}, nil
	}

	_, err := f.svc.CreatePayment(context.Background(), "key-1",
		[]byte(`{"provider":"stripe","amount":5000,"currency":"USD"}`))
	require.NoError(t, err)

	_, err = f.svc.CreatePayment(context.Background(), "key-1",
		[]byte(`{"provider":"stripe","amount":9000,"currency":"USD"}`))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIdempotencyKeyConflict))
	assert.Equal(t, 1, f.stripe.CreateCalls())
}

func TestCreatePaymentUnknownProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePayment(context.Background(), "key-1",
		[]byte(`{"provider":"square","amount":5000,"currency":"USD"}`))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidationFailed))
}

func TestCreatePaymentPolicyDeclined(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePayment(context.Background(), "key-1",
		[]byte(`{"provider":"stripe","amount":999999999,"currency":"USD"}`))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPaymentPolicyDeclined))
	assert.Equal(t, 0, f.stripe.CreateCalls())
}

func TestCreatePaymentProviderFailureNotCached(t *testing.T) {
	f := newFixture(t)
	providerErr := errors.New("gateway timeout")
	f.stripe.CreateFunc = func(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
		return adapter.Result{}, providerErr
	}

	body := []byte(`{"provider":"stripe","amount":5000,"currency":"USD"}`)
	_, err := f.svc.CreatePayment(context.Background(), "key-1", body)
	require.Error(t, err)
	assert.ErrorIs(t, err, providerErr)

	// The failure leaves the key locked; an immediate retry sees the
	// lock rather than a cached failure.
	_, err = f.svc.CreatePayment(context.Background(), "key-1", body)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIdempotencyKeyLocked))
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)

	payment := &model.Payment{
		Provider:          model.ProviderRazorpay,
		ProviderPaymentID: "order_1",
		Status:            model.StatusRequiresAction,
		Amount:            1200,
		Currency:          "INR",
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))

	f.razorpay.ConfirmFunc = func(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error) {
		assert.Equal(t, "order_1", p.ProviderPaymentID)
		assert.Equal(t, "1200", p.Metadata["capture_amount"])
		return adapter.Result{ProviderPaymentID: "order_1", Status: model.StatusSucceeded}, nil
	}

	res, err := f.svc.ConfirmPayment(context.Background(), "key-c", payment.ID, []byte(`{"amount":1200}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	stored, err := f.payments.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)
}

func TestConfirmPaymentNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ConfirmPayment(context.Background(), "key-c", uuid.New(), nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPaymentNotFound))
}

func TestRefundPaymentFull(t *testing.T) {
	f := newFixture(t)

	payment := &model.Payment{
		Provider:          model.ProviderStripe,
		ProviderPaymentID: "pi_123",
		Status:            model.StatusSucceeded,
		Amount:            5000,
		Currency:          "USD",
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))

	f.stripe.RefundFunc = func(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
		assert.Equal(t, "pi_123", p.ProviderPaymentID)
		assert.Zero(t, p.Amount)
		return adapter.Result{ProviderPaymentID: "re_1", Status: model.StatusRefunded}, nil
	}

	res, err := f.svc.RefundPayment(context.Background(), "key-r", payment.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	stored, err := f.payments.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, stored.Status)
}

func TestConfirmPaymentDeclaredProviderMismatch(t *testing.T) {
	f := newFixture(t)

	payment := &model.Payment{
		Provider:          model.ProviderRazorpay,
		ProviderPaymentID: "order_1",
		Status:            model.StatusRequiresAction,
		Amount:            1200,
		Currency:          "INR",
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))

	_, err := f.svc.ConfirmPayment(context.Background(), "key-c", payment.ID,
		[]byte(`{"provider":"stripe","amount":1200}`))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPaymentProviderMismatch))
	assert.Equal(t, 0, f.razorpay.ConfirmCalls())
	assert.Equal(t, 0, f.stripe.ConfirmCalls())

	// The mismatch never claims the key; a corrected retry runs fresh.
	f.razorpay.ConfirmFunc = func(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error) {
		return adapter.Result{ProviderPaymentID: "order_1", Status: model.StatusSucceeded}, nil
	}
	_, err = f.svc.ConfirmPayment(context.Background(), "key-c", payment.ID,
		[]byte(`{"provider":"razorpay","amount":1200}`))
	require.NoError(t, err)
	assert.Equal(t, 1, f.razorpay.ConfirmCalls())
}

func TestRefundPaymentDeclaredProviderMismatch(t *testing.T) {
	f := newFixture(t)

	payment := &model.Payment{
		Provider:          model.ProviderStripe,
		ProviderPaymentID: "pi_123",
		Status:            model.StatusSucceeded,
		Amount:            5000,
		Currency:          "USD",
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))

	_, err := f.svc.RefundPayment(context.Background(), "key-r", payment.ID,
		[]byte(`{"provider":"razorpay"}`))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPaymentProviderMismatch))
	assert.Equal(t, 0, f.stripe.RefundCalls())
	assert.Equal(t, 0, f.razorpay.RefundCalls())

	stored, err := f.payments.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)
}

func TestRefundPaymentMatchingDeclaredProvider(t *testing.T) {
	f := newFixture(t)

	payment := &model.Payment{
		Provider:          model.ProviderStripe,
		ProviderPaymentID: "pi_123",
		Status:            model.StatusSucceeded,
		Amount:            5000,
		Currency:          "USD",
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))

	f.stripe.RefundFunc = func(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
		return adapter.Result{ProviderPaymentID: "re_1", Status: model.StatusRefunded}, nil
	}

	_, err := f.svc.RefundPayment(context.Background(), "key-r", payment.ID,
		[]byte(`{"provider":"stripe"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, f.stripe.RefundCalls())
}

func TestRefundPaymentPendingLeavesStatus(t *testing.T) {
	f := newFixture(t)

	payment := &model.Payment{
		Provider:          model.ProviderStripe,
		ProviderPaymentID: "pi_123",
		Status:            model.StatusSucceeded,
		Amount:            5000,
		Currency:          "USD",
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))

	f.stripe.RefundFunc = func(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
		return adapter.Result{ProviderPaymentID: "re_1", Status: model.StatusPending}, nil
	}

	_, err := f.svc.RefundPayment(context.Background(), "key-r", payment.ID, nil)
	require.NoError(t, err)

	stored, err := f.payments.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)
}

func TestHandleWebhookAppliesUpdate(t *testing.T) {
	f := newFixture(t)

	payment := &model.Payment{
		Provider:          model.ProviderStripe,
		ProviderPaymentID: "pi_123",
		Status:            model.StatusPending,
		Amount:            5000,
		Currency:          "USD",
	}
	require.NoError(t, f.payments.Create(context.Background(), payment))

	f.stripe.WebhookFunc = func(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
		return adapter.WebhookResult{
			EventID:  "evt_1",
			Provider: model.ProviderStripe,
			Type:     "payment_intent.succeeded",
			Update: &model.PaymentUpdate{
				Provider:          model.ProviderStripe,
				ProviderPaymentID: "pi_123",
				Status:            model.StatusSucceeded,
			},
			RawEvent: payload,
		}, nil
	}

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t=1,v1=abc")
	ack, err := f.svc.HandleWebhook(context.Background(), "stripe", []byte(`{"id":"evt_1"}`), headers)
	require.NoError(t, err)

	assert.True(t, ack.Applied)
	assert.Equal(t, "evt_1", ack.EventID)

	stored, err := f.payments.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)

	events := f.webhooks.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "payment_intent.succeeded", events[0].EventType)
	assert.Equal(t, "t=1,v1=abc", events[0].Signature)
}

func TestHandleWebhookVerificationFailure(t *testing.T) {
	f := newFixture(t)

	f.stripe.WebhookFunc = func(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
		return adapter.WebhookResult{}, apperr.New(apperr.KindWebhookVerificationFailed, "signature mismatch")
	}

	_, err := f.svc.HandleWebhook(context.Background(), "stripe", []byte(`{}`), http.Header{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindWebhookVerificationFailed))
	assert.Empty(t, f.webhooks.Events(), "unverified deliveries are never recorded")
}

func TestHandleWebhookUnknownPaymentAcknowledged(t *testing.T) {
	f := newFixture(t)

	f.stripe.WebhookFunc = func(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
		return adapter.WebhookResult{
			EventID:  "evt_2",
			Provider: model.ProviderStripe,
			Type:     "payment_intent.succeeded",
			Update: &model.PaymentUpdate{
				Provider:          model.ProviderStripe,
				ProviderPaymentID: "pi_unknown",
				Status:            model.StatusSucceeded,
			},
		}, nil
	}

	ack, err := f.svc.HandleWebhook(context.Background(), "stripe", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, ack.Applied)
	assert.Len(t, f.webhooks.Events(), 1, "the event is still recorded for audit")
}

func TestHandleWebhookNoUpdateEvent(t *testing.T) {
	f := newFixture(t)

	f.stripe.WebhookFunc = func(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
		return adapter.WebhookResult{
			EventID:  "evt_3",
			Provider: model.ProviderStripe,
			Type:     "customer.created",
		}, nil
	}

	ack, err := f.svc.HandleWebhook(context.Background(), "stripe", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, ack.Applied)
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleWebhook(context.Background(), "square", []byte(`{}`), http.Header{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidationFailed))
}
