// Package adapter defines the capability interface implemented by each
// payment provider adapter. Adapters handle the provider-specific API
// calls, forward idempotency tokens to the vendor's own deduplication
// mechanism, verify webhook signatures, and normalize vendor status
// vocabularies into the canonical PaymentStatus.
package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/model"
)

// CreateParams carries a normalized create-payment request.
// Amount is a positive integer in the smallest currency unit.
type CreateParams struct {
	Amount           int64
	Currency         string
	Description      string
	Metadata         map[string]string
	CaptureMode      model.CaptureMode
	IdempotencyToken string
}

// ConfirmParams carries a normalized confirm (capture) request. Vendors
// that require a capture amount read it from Metadata["capture_amount"].
type ConfirmParams struct {
	ProviderPaymentID string
	Metadata          map[string]string
	IdempotencyToken  string
}

// RefundParams carries a normalized refund request. Amount 0 means a full
// refund; Reason is mapped into the vendor's reason vocabulary on a
// best-effort basis and omitted when unmapped.
type RefundParams struct {
	ProviderPaymentID string
	Amount            int64
	Metadata          map[string]string
	Reason            string
	IdempotencyToken  string
}

// Result is the normalized outcome of a provider call. Raw preserves the
// vendor response verbatim for the API envelope and for audit.
type Result struct {
	ProviderPaymentID string              `json:"providerPaymentId"`
	Status            model.PaymentStatus `json:"status"`
	Raw               json.RawMessage     `json:"raw"`
}

// WebhookResult is a verified, normalized webhook event. Update is nil for
// event types with no payment-state implication.
type WebhookResult struct {
	EventID  string
	Provider model.Provider
	Type     string
	Update   *model.PaymentUpdate
	RawEvent json.RawMessage
}

// PaymentAdapter is implemented once per provider. Implementations must
// verify webhook signatures before trusting any payload field, and must
// map unknown vendor statuses to PENDING, never SUCCEEDED or FAILED.
type PaymentAdapter interface {
	Provider() model.Provider
	CreatePayment(ctx context.Context, p CreateParams) (Result, error)
	ConfirmPayment(ctx context.Context, p ConfirmParams) (Result, error)
	RefundPayment(ctx context.Context, p RefundParams) (Result, error)
	VerifyAndParseWebhook(ctx context.Context, payload []byte, headers http.Header) (WebhookResult, error)
}

// ValidateCreateParams enforces the shared create constraints before any
// vendor call: positive minor-unit amount, 3-10 character currency code.
func ValidateCreateParams(p CreateParams) error {
	if p.Amount <= 0 {
		return apperr.New(apperr.KindValidationFailed, "amount must be a positive integer in minor units").
			WithDetail("amount", "must be > 0")
	}
	if l := len(p.Currency); l < 3 || l > 10 {
		return apperr.New(apperr.KindValidationFailed, "currency must be a 3-10 character code").
			WithDetail("currency", p.Currency)
	}
	if p.CaptureMode != "" && p.CaptureMode != model.CaptureAutomatic && p.CaptureMode != model.CaptureManual {
		return apperr.New(apperr.KindValidationFailed, "captureMethod must be automatic or manual").
			WithDetail("captureMethod", string(p.CaptureMode))
	}
	return nil
}

// NotConfigured builds the typed error for a provider whose credentials
// are absent. Checked lazily on first use so a process missing one
// provider's credentials can still serve the others.
func NotConfigured(p model.Provider) error {
	return apperr.New(apperr.KindProviderNotConfigured,
		strings.ToLower(string(p))+" credentials are not configured")
}
