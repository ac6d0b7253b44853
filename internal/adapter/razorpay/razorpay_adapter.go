// Package razorpay implements the PaymentAdapter for the Razorpay-style
// provider: JSON API with basic auth, an explicit capture step that
// requires a capture amount, and webhooks signed with a plain
// HMAC-SHA256 hex digest over the raw body.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/config"
	"github.com/yourorg/payment-gateway/internal/model"
)

const (
	defaultAPIBaseURL = "https://api.razorpay.com/v1"

	signatureHeader   = "X-Razorpay-Signature"
	idempotencyHeader = "X-Razorpay-Idempotency-Key"
)

// Adapter talks to the Razorpay API. Stateless, safe for concurrent use.
type Adapter struct {
	httpClient    *http.Client
	apiBaseURL    string
	keyID         string
	keySecret     string
	webhookSecret string
}

// New creates a Razorpay adapter. Credentials are checked lazily on first
// call, not here.
func New(creds config.RazorpayCredentials, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		httpClient:    client,
		apiBaseURL:    defaultAPIBaseURL,
		keyID:         creds.KeyID,
		keySecret:     creds.KeySecret,
		webhookSecret: creds.WebhookSecret,
	}
}

func (a *Adapter) Provider() model.Provider { return model.ProviderRazorpay }

func (a *Adapter) configured() bool { return a.keyID != "" && a.keySecret != "" }

// mapStatus translates the vendor's payment vocabulary into the canonical
// status. Unknown raw values map to PENDING, never SUCCEEDED or FAILED.
func mapStatus(raw string) model.PaymentStatus {
	switch raw {
	case "created":
		return model.StatusPending
	case "authorized":
		return model.StatusRequiresAction
	case "captured":
		return model.StatusSucceeded
	case "refunded":
		return model.StatusRefunded
	case "failed":
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

func mapRefundStatus(raw string) model.PaymentStatus {
	switch raw {
	case "processed":
		return model.StatusRefunded
	case "failed":
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

func (a *Adapter) CreatePayment(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
	if !a.configured() {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderRazorpay)
	}
	if err := adapter.ValidateCreateParams(p); err != nil {
		return adapter.Result{}, err
	}

	body := map[string]any{
		"amount":   p.Amount,
		"currency": p.Currency,
	}
	// The receipt field is the vendor's own deduplication handle.
	if p.IdempotencyToken != "" {
		body["receipt"] = p.IdempotencyToken
	}
	notes := map[string]string{}
	for k, v := range p.Metadata {
		notes[k] = v
	}
	if p.Description != "" {
		notes["description"] = p.Description
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	if p.CaptureMode == model.CaptureAutomatic {
		body["payment_capture"] = 1
	}

	return a.post(ctx, "/orders", body, p.IdempotencyToken, mapStatus, "")
}

// ConfirmPayment captures an authorized payment. The vendor requires an
// explicit capture amount; its absence is a typed error, never a silent
// default.
func (a *Adapter) ConfirmPayment(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error) {
	if !a.configured() {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderRazorpay)
	}

	amount, ok := p.Metadata["capture_amount"]
	if !ok || amount == "" {
		return adapter.Result{}, apperr.New(apperr.KindCaptureAmountRequired,
			"razorpay: capture requires metadata capture_amount in minor units")
	}
	body := map[string]any{"amount": json.Number(amount)}
	if currency, ok := p.Metadata["capture_currency"]; ok && currency != "" {
		body["currency"] = currency
	}

	path := "/payments/" + url.PathEscape(p.ProviderPaymentID) + "/capture"
	return a.post(ctx, path, body, p.IdempotencyToken, mapStatus, p.ProviderPaymentID)
}

func (a *Adapter) RefundPayment(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
	if !a.configured() {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderRazorpay)
	}

	body := map[string]any{}
	if p.Amount > 0 {
		body["amount"] = p.Amount
	}
	notes := map[string]string{}
	for k, v := range p.Metadata {
		notes[k] = v
	}
	// The vendor has no closed reason vocabulary; the reason travels as a
	// note when present.
	if p.Reason != "" {
		notes["reason"] = p.Reason
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}

	path := "/payments/" + url.PathEscape(p.ProviderPaymentID) + "/refund"
	return a.post(ctx, path, body, p.IdempotencyToken, mapRefundStatus, p.ProviderPaymentID)
}

func (a *Adapter) post(
	ctx context.Context,
	path string,
	body map[string]any,
	idempotencyToken string,
	statusMapper func(string) model.PaymentStatus,
	fallbackPaymentID string,
) (adapter.Result, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return adapter.Result{}, apperr.Internal("razorpay: encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return adapter.Result{}, apperr.Internal("razorpay: building request", err)
	}
	req.SetBasicAuth(a.keyID, a.keySecret)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyToken != "" {
		req.Header.Set(idempotencyHeader, idempotencyToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapter.Result{}, apperr.Internal("razorpay: request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.Result{}, apperr.Internal("razorpay: reading response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.Result{}, apperr.Internal(
			fmt.Sprintf("razorpay: API returned HTTP %d", resp.StatusCode),
			fmt.Errorf("%s", raw))
	}

	var parsed struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		PaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return adapter.Result{}, apperr.Internal("razorpay: decoding response", err)
	}

	providerPaymentID := parsed.ID
	if parsed.PaymentID != "" {
		providerPaymentID = parsed.PaymentID
	} else if providerPaymentID == "" {
		providerPaymentID = fallbackPaymentID
	}

	return adapter.Result{
		ProviderPaymentID: providerPaymentID,
		Status:            statusMapper(parsed.Status),
		Raw:               raw,
	}, nil
}

// VerifyAndParseWebhook recomputes HMAC-SHA256 over the raw request bytes
// with the shared webhook secret and compares it against the
// header-supplied hex digest in constant time.
func (a *Adapter) VerifyAndParseWebhook(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
	if a.webhookSecret == "" {
		return adapter.WebhookResult{}, adapter.NotConfigured(model.ProviderRazorpay)
	}
	signature := headers.Get(signatureHeader)
	if signature == "" {
		return adapter.WebhookResult{}, apperr.New(apperr.KindWebhookSignatureMissing,
			"razorpay: missing "+signatureHeader+" header")
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return adapter.WebhookResult{}, apperr.New(apperr.KindWebhookVerificationFailed,
			"razorpay: signature mismatch")
	}

	var event struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string            `json:"id"`
					OrderID string            `json:"order_id"`
					Status  string            `json:"status"`
					Notes   map[string]string `json:"notes"`
				} `json:"entity"`
			} `json:"payment"`
			Refund struct {
				Entity struct {
					ID        string `json:"id"`
					PaymentID string `json:"payment_id"`
					Status    string `json:"status"`
				} `json:"entity"`
			} `json:"refund"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"razorpay: malformed event payload", err)
	}

	// The vendor does not carry a distinct event id; the payment id plus
	// event name is the stable identity.
	result := adapter.WebhookResult{
		EventID:  event.Payload.Payment.Entity.ID + ":" + event.Event,
		Provider: model.ProviderRazorpay,
		Type:     event.Event,
		RawEvent: payload,
	}

	switch event.Event {
	case "payment.authorized", "payment.captured", "payment.failed":
		// CreatePayment stores the order id, so status events correlate
		// by order_id. The payment entity id only applies when the order
		// reference is absent.
		correlationID := event.Payload.Payment.Entity.OrderID
		if correlationID == "" {
			correlationID = event.Payload.Payment.Entity.ID
		}
		result.Update = &model.PaymentUpdate{
			Provider:          model.ProviderRazorpay,
			ProviderPaymentID: correlationID,
			Status:            mapStatus(event.Payload.Payment.Entity.Status),
			Metadata:          event.Payload.Payment.Entity.Notes,
		}
	case "refund.processed":
		result.EventID = event.Payload.Refund.Entity.ID + ":" + event.Event
		result.Update = &model.PaymentUpdate{
			Provider:          model.ProviderRazorpay,
			ProviderPaymentID: event.Payload.Refund.Entity.PaymentID,
			Status:            model.StatusRefunded,
		}
	}
	return result, nil
}
