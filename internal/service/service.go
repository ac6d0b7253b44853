// Package service implements the payment lifecycle: create, confirm,
// refund, and webhook-driven status updates. Every mutating operation
// runs through the idempotency engine; the provider registry supplies
// the vendor adapter, and each transition is published downstream.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/events"
	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/model"
	"github.com/yourorg/payment-gateway/internal/monitor"
	"github.com/yourorg/payment-gateway/internal/policy"
)

// PaymentStore persists payments. GetByID and GetByProviderPaymentID
// return nil, nil when no payment matches.
type PaymentStore interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	GetByProviderPaymentID(ctx context.Context, provider model.Provider, providerPaymentID string) (*model.Payment, error)
	Update(ctx context.Context, p *model.Payment) error
}

// WebhookStore is the append-only audit log of verified webhook events.
type WebhookStore interface {
	Append(ctx context.Context, ev *model.WebhookEvent) error
}

// CreateRequest is the decoded body of a create call.
type CreateRequest struct {
	Provider    string            `json:"provider"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	CaptureMode string            `json:"captureMode"`
	Metadata    map[string]string `json:"metadata"`
}

// ConfirmRequest is the decoded body of a confirm (capture) call.
// Provider, when present, must match the stored payment's provider.
// Amount is the capture amount; zero means capture in full where the
// vendor allows it.
type ConfirmRequest struct {
	Provider string            `json:"provider"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// RefundRequest is the decoded body of a refund call. Provider, when
// present, must match the stored payment's provider. Amount zero means
// a full refund.
type RefundRequest struct {
	Provider string            `json:"provider"`
	Amount   int64             `json:"amount"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

// Envelope is the success body of every payment operation: the persisted
// payment plus the verbatim provider response.
type Envelope struct {
	Data             *model.Payment  `json:"data"`
	ProviderResponse json.RawMessage `json:"providerResponse,omitempty"`
}

// WebhookAck reports what a verified webhook delivery did.
type WebhookAck struct {
	EventID string `json:"eventId"`
	Type    string `json:"type"`
	Applied bool   `json:"applied"`
}

// PaymentService coordinates stores, adapters, policy, and the
// idempotency engine. Publisher may be nil-valued (no-op) when Kafka is
// not configured.
type PaymentService struct {
	payments PaymentStore
	webhooks WebhookStore
	registry *adapter.Registry
	engine   *idempotency.Engine
	guard    *policy.Guard
	events   *events.Publisher
	logger   *slog.Logger
}

func NewPaymentService(
	payments PaymentStore,
	webhooks WebhookStore,
	registry *adapter.Registry,
	engine *idempotency.Engine,
	guard *policy.Guard,
	publisher *events.Publisher,
	logger *slog.Logger,
) *PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		payments: payments,
		webhooks: webhooks,
		registry: registry,
		engine:   engine,
		guard:    guard,
		events:   publisher,
		logger:   logger,
	}
}

// CreatePayment creates a payment with the provider named in the request
// body. The whole operation, provider call included, runs under the
// idempotency key; a retried key replays the stored response.
func (s *PaymentService) CreatePayment(ctx context.Context, key string, rawBody []byte) (idempotency.Result, error) {
	tracer := otel.Tracer("service")
	ctx, span := tracer.Start(ctx, "PaymentService.CreatePayment")
	defer span.End()

	var req CreateRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		return idempotency.Result{}, apperr.Wrap(apperr.KindValidationFailed, "decoding create request", err)
	}
	provider, err := model.ParseProvider(req.Provider)
	if err != nil {
		return idempotency.Result{}, apperr.Wrap(apperr.KindValidationFailed, "invalid provider", err)
	}
	captureMode := model.CaptureAutomatic
	if req.CaptureMode != "" {
		captureMode = model.CaptureMode(req.CaptureMode)
	}
	params := adapter.CreateParams{
		Amount:           req.Amount,
		Currency:         req.Currency,
		Description:      req.Description,
		Metadata:         req.Metadata,
		CaptureMode:      captureMode,
		IdempotencyToken: key,
	}
	if err := adapter.ValidateCreateParams(params); err != nil {
		return idempotency.Result{}, err
	}
	if err := s.checkPolicy("create", provider, req.Amount, req.Currency); err != nil {
		return idempotency.Result{}, err
	}
	ad, err := s.registry.Get(provider)
	if err != nil {
		return idempotency.Result{}, err
	}

	return s.engine.Execute(ctx, key, "/payments", http.MethodPost, rawBody, func(ctx context.Context) (int, []byte, error) {
		start := time.Now()
		result, err := ad.CreatePayment(ctx, params)
		monitor.PaymentOperationDuration.WithLabelValues("create", string(provider)).Observe(time.Since(start).Seconds())
		if err != nil {
			monitor.PaymentOperationsTotal.WithLabelValues("create", string(provider), "error").Inc()
			return 0, nil, err
		}

		payment := &model.Payment{
			Provider:          provider,
			ProviderPaymentID: result.ProviderPaymentID,
			Status:            result.Status,
			Amount:            req.Amount,
			Currency:          req.Currency,
			Description:       req.Description,
			Metadata:          req.Metadata,
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return 0, nil, err
		}

		monitor.PaymentOperationsTotal.WithLabelValues("create", string(provider), string(payment.Status)).Inc()
		s.publish(ctx, payment, "create")

		body, err := json.Marshal(Envelope{Data: payment, ProviderResponse: result.Raw})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, body, nil
	})
}

// ConfirmPayment captures a previously authorized payment.
func (s *PaymentService) ConfirmPayment(ctx context.Context, key string, id uuid.UUID, rawBody []byte) (idempotency.Result, error) {
	tracer := otel.Tracer("service")
	ctx, span := tracer.Start(ctx, "PaymentService.ConfirmPayment")
	defer span.End()

	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return idempotency.Result{}, err
	}

	var req ConfirmRequest
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &req); err != nil {
			return idempotency.Result{}, apperr.Wrap(apperr.KindValidationFailed, "decoding confirm request", err)
		}
	}
	if err := checkDeclaredProvider(payment, req.Provider); err != nil {
		return idempotency.Result{}, err
	}
	ad, err := s.registry.Get(payment.Provider)
	if err != nil {
		return idempotency.Result{}, err
	}

	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Amount > 0 {
		metadata["capture_amount"] = fmt.Sprintf("%d", req.Amount)
	}
	params := adapter.ConfirmParams{
		ProviderPaymentID: payment.ProviderPaymentID,
		Metadata:          metadata,
		IdempotencyToken:  key,
	}

	endpoint := "/payments/" + id.String() + "/confirm"
	return s.engine.Execute(ctx, key, endpoint, http.MethodPost, rawBody, func(ctx context.Context) (int, []byte, error) {
		start := time.Now()
		result, err := ad.ConfirmPayment(ctx, params)
		monitor.PaymentOperationDuration.WithLabelValues("confirm", string(payment.Provider)).Observe(time.Since(start).Seconds())
		if err != nil {
			monitor.PaymentOperationsTotal.WithLabelValues("confirm", string(payment.Provider), "error").Inc()
			return 0, nil, err
		}

		payment.Status = result.Status
		if result.ProviderPaymentID != "" {
			payment.ProviderPaymentID = result.ProviderPaymentID
		}
		if err := s.payments.Update(ctx, payment); err != nil {
			return 0, nil, err
		}

		monitor.PaymentOperationsTotal.WithLabelValues("confirm", string(payment.Provider), string(payment.Status)).Inc()
		s.publish(ctx, payment, "confirm")

		body, err := json.Marshal(Envelope{Data: payment, ProviderResponse: result.Raw})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, body, nil
	})
}

// RefundPayment refunds a payment, in full when the request names no
// amount. The payment moves to REFUNDED only once the vendor reports the
// refund settled; a vendor-side pending refund leaves the status as is.
func (s *PaymentService) RefundPayment(ctx context.Context, key string, id uuid.UUID, rawBody []byte) (idempotency.Result, error) {
	tracer := otel.Tracer("service")
	ctx, span := tracer.Start(ctx, "PaymentService.RefundPayment")
	defer span.End()

	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return idempotency.Result{}, err
	}

	var req RefundRequest
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &req); err != nil {
			return idempotency.Result{}, apperr.Wrap(apperr.KindValidationFailed, "decoding refund request", err)
		}
	}
	if err := checkDeclaredProvider(payment, req.Provider); err != nil {
		return idempotency.Result{}, err
	}
	amount := req.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	if err := s.checkPolicy("refund", payment.Provider, amount, payment.Currency); err != nil {
		return idempotency.Result{}, err
	}
	ad, err := s.registry.Get(payment.Provider)
	if err != nil {
		return idempotency.Result{}, err
	}

	params := adapter.RefundParams{
		ProviderPaymentID: payment.ProviderPaymentID,
		Amount:            req.Amount,
		Metadata:          req.Metadata,
		Reason:            req.Reason,
		IdempotencyToken:  key,
	}

	endpoint := "/payments/" + id.String() + "/refund"
	return s.engine.Execute(ctx, key, endpoint, http.MethodPost, rawBody, func(ctx context.Context) (int, []byte, error) {
		start := time.Now()
		result, err := ad.RefundPayment(ctx, params)
		monitor.PaymentOperationDuration.WithLabelValues("refund", string(payment.Provider)).Observe(time.Since(start).Seconds())
		if err != nil {
			monitor.PaymentOperationsTotal.WithLabelValues("refund", string(payment.Provider), "error").Inc()
			return 0, nil, err
		}

		if result.Status == model.StatusRefunded {
			payment.Status = model.StatusRefunded
			if err := s.payments.Update(ctx, payment); err != nil {
				return 0, nil, err
			}
			s.publish(ctx, payment, "refund")
		}

		monitor.PaymentOperationsTotal.WithLabelValues("refund", string(payment.Provider), string(result.Status)).Inc()

		body, err := json.Marshal(Envelope{Data: payment, ProviderResponse: result.Raw})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, body, nil
	})
}

// GetPayment loads a payment or fails with a not-found error.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperr.New(apperr.KindPaymentNotFound, "payment "+id.String()+" not found")
	}
	return payment, nil
}

// HandleWebhook verifies a raw vendor delivery, records it, and applies
// its payment-state implication. Verification failures surface as errors;
// a verified event referencing an unknown payment is recorded and
// acknowledged without effect, since vendor retries cannot fix it.
func (s *PaymentService) HandleWebhook(ctx context.Context, providerRaw string, payload []byte, headers http.Header) (WebhookAck, error) {
	tracer := otel.Tracer("service")
	ctx, span := tracer.Start(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	provider, err := model.ParseProvider(providerRaw)
	if err != nil {
		return WebhookAck{}, apperr.Wrap(apperr.KindValidationFailed, "invalid provider", err)
	}
	ad, err := s.registry.Get(provider)
	if err != nil {
		return WebhookAck{}, err
	}

	wr, err := ad.VerifyAndParseWebhook(ctx, payload, headers)
	if err != nil {
		monitor.WebhookEventsTotal.WithLabelValues(string(provider), monitor.WebhookVerificationFailed).Inc()
		return WebhookAck{}, err
	}
	if wr.Provider != provider {
		return WebhookAck{}, apperr.New(apperr.KindPaymentProviderMismatch, "webhook event does not belong to provider "+string(provider))
	}

	ev := &model.WebhookEvent{
		Provider:  provider,
		EventID:   wr.EventID,
		EventType: wr.Type,
		Payload:   wr.RawEvent,
		Signature: signatureHeader(provider, headers),
	}
	if err := s.webhooks.Append(ctx, ev); err != nil {
		return WebhookAck{}, err
	}

	ack := WebhookAck{EventID: wr.EventID, Type: wr.Type}
	if wr.Update == nil {
		monitor.WebhookEventsTotal.WithLabelValues(string(provider), monitor.WebhookAccepted).Inc()
		return ack, nil
	}

	payment, err := s.payments.GetByProviderPaymentID(ctx, provider, wr.Update.ProviderPaymentID)
	if err != nil {
		return WebhookAck{}, err
	}
	if payment == nil {
		s.logger.WarnContext(ctx, "Webhook references unknown payment",
			"provider", provider, "providerPaymentId", wr.Update.ProviderPaymentID, "eventType", wr.Type)
		monitor.WebhookEventsTotal.WithLabelValues(string(provider), monitor.WebhookUnknownPayment).Inc()
		return ack, nil
	}

	payment.Status = wr.Update.Status
	for k, v := range wr.Update.Metadata {
		if payment.Metadata == nil {
			payment.Metadata = map[string]string{}
		}
		payment.Metadata[k] = v
	}
	if err := s.payments.Update(ctx, payment); err != nil {
		return WebhookAck{}, err
	}

	monitor.WebhookEventsTotal.WithLabelValues(string(provider), monitor.WebhookAccepted).Inc()
	s.publish(ctx, payment, "webhook")
	ack.Applied = true
	return ack, nil
}

// checkDeclaredProvider rejects confirm/refund bodies that name a
// provider other than the one the payment was created with. The check
// runs before the idempotency engine, so a mismatched request never
// claims the key or reaches the vendor.
func checkDeclaredProvider(payment *model.Payment, declared string) error {
	if declared == "" {
		return nil
	}
	provider, err := model.ParseProvider(declared)
	if err != nil {
		return apperr.Wrap(apperr.KindValidationFailed, "invalid provider", err)
	}
	if provider != payment.Provider {
		return apperr.New(apperr.KindPaymentProviderMismatch,
			"payment "+payment.ID.String()+" belongs to "+string(payment.Provider)+", not "+string(provider))
	}
	return nil
}

func (s *PaymentService) checkPolicy(operation string, provider model.Provider, amount int64, currency string) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.Check(policy.Input{
		Operation: operation,
		Provider:  string(provider),
		Amount:    amount,
		Currency:  currency,
	})
}

func (s *PaymentService) publish(ctx context.Context, p *model.Payment, source string) {
	s.events.Publish(ctx, events.PaymentEvent{
		PaymentID: p.ID.String(),
		Provider:  p.Provider,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Source:    source,
	})
}

func signatureHeader(p model.Provider, headers http.Header) string {
	switch p {
	case model.ProviderStripe:
		return headers.Get("Stripe-Signature")
	case model.ProviderRazorpay:
		return headers.Get("X-Razorpay-Signature")
	case model.ProviderPaypal:
		return headers.Get("Paypal-Transmission-Sig")
	}
	return ""
}
