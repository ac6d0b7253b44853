// Package stripe implements the PaymentAdapter for the Stripe-style
// provider: payment intents over a form-encoded API, vendor-side request
// deduplication via the Idempotency-Key header, and webhooks signed with
// a timestamped HMAC-SHA256 scheme.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/config"
	"github.com/yourorg/payment-gateway/internal/model"
)

const (
	defaultAPIBaseURL = "https://api.stripe.com/v1"

	signatureHeader    = "Stripe-Signature"
	signatureTolerance = 5 * time.Minute
)

// Adapter talks to the Stripe API. It is stateless and safe for
// concurrent use.
type Adapter struct {
	httpClient    *http.Client
	apiBaseURL    string
	apiKey        string
	webhookSecret string
	now           func() time.Time
}

// New creates a Stripe adapter. A nil client gets a default with a 10s
// timeout. Missing credentials are not an error here; calls fail with
// ProviderNotConfigured on first use.
func New(creds config.StripeCredentials, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		httpClient:    client,
		apiBaseURL:    defaultAPIBaseURL,
		apiKey:        creds.APIKey,
		webhookSecret: creds.WebhookSecret,
		now:           time.Now,
	}
}

func (a *Adapter) Provider() model.Provider { return model.ProviderStripe }

// mapStatus translates the vendor's payment-intent vocabulary into the
// canonical status. Unknown raw values map to PENDING, never to
// SUCCEEDED or FAILED.
func mapStatus(raw string) model.PaymentStatus {
	switch raw {
	case "succeeded":
		return model.StatusSucceeded
	case "canceled":
		return model.StatusFailed
	case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return model.StatusRequiresAction
	case "processing":
		return model.StatusPending
	default:
		return model.StatusPending
	}
}

func mapRefundStatus(raw string) model.PaymentStatus {
	switch raw {
	case "succeeded":
		return model.StatusRefunded
	case "failed", "canceled":
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

// refundReasons is the vendor's closed refund-reason vocabulary. Unmapped
// reasons are omitted from the request, never rejected.
var refundReasons = map[string]string{
	"duplicate":             "duplicate",
	"fraudulent":            "fraudulent",
	"fraud":                 "fraudulent",
	"requested_by_customer": "requested_by_customer",
	"customer_request":      "requested_by_customer",
}

func (a *Adapter) CreatePayment(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
	if a.apiKey == "" {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderStripe)
	}
	if err := adapter.ValidateCreateParams(p); err != nil {
		return adapter.Result{}, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", strings.ToLower(p.Currency))
	form.Set("confirm", "true")
	if p.Description != "" {
		form.Set("description", p.Description)
	}
	if p.CaptureMode == model.CaptureManual {
		form.Set("capture_method", "manual")
	}
	if pm, ok := p.Metadata["payment_method"]; ok && pm != "" {
		form.Set("payment_method", pm)
	} else {
		form.Set("payment_method", "pm_card_visa")
	}
	for k, v := range p.Metadata {
		if k == "payment_method" {
			continue
		}
		form.Set("metadata["+k+"]", v)
	}

	return a.post(ctx, "/payment_intents", form, p.IdempotencyToken, mapStatus, "")
}

func (a *Adapter) ConfirmPayment(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error) {
	if a.apiKey == "" {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderStripe)
	}

	form := url.Values{}
	// The vendor defaults to capturing the full authorized amount when no
	// amount_to_capture is given.
	if v, ok := p.Metadata["capture_amount"]; ok && v != "" {
		form.Set("amount_to_capture", v)
	}

	path := "/payment_intents/" + url.PathEscape(p.ProviderPaymentID) + "/capture"
	return a.post(ctx, path, form, p.IdempotencyToken, mapStatus, "")
}

func (a *Adapter) RefundPayment(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
	if a.apiKey == "" {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderStripe)
	}

	form := url.Values{}
	form.Set("payment_intent", p.ProviderPaymentID)
	if p.Amount > 0 {
		form.Set("amount", strconv.FormatInt(p.Amount, 10))
	}
	if mapped, ok := refundReasons[p.Reason]; ok {
		form.Set("reason", mapped)
	}

	return a.post(ctx, "/refunds", form, p.IdempotencyToken, mapRefundStatus, p.ProviderPaymentID)
}

// post performs one vendor call. No retries: retry is a client
// responsibility mediated by the gateway's idempotency layer.
func (a *Adapter) post(
	ctx context.Context,
	path string,
	form url.Values,
	idempotencyToken string,
	statusMapper func(string) model.PaymentStatus,
	fallbackPaymentID string,
) (adapter.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return adapter.Result{}, apperr.Internal("stripe: building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyToken != "" {
		req.Header.Set("Idempotency-Key", idempotencyToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapter.Result{}, apperr.Internal("stripe: request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.Result{}, apperr.Internal("stripe: reading response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.Result{}, apperr.Internal(
			fmt.Sprintf("stripe: API returned HTTP %d", resp.StatusCode),
			fmt.Errorf("%s", truncate(body, 512)))
	}

	var parsed struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return adapter.Result{}, apperr.Internal("stripe: decoding response", err)
	}

	providerPaymentID := parsed.ID
	if parsed.PaymentIntent != "" {
		providerPaymentID = parsed.PaymentIntent
	} else if providerPaymentID == "" {
		providerPaymentID = fallbackPaymentID
	}

	return adapter.Result{
		ProviderPaymentID: providerPaymentID,
		Status:            statusMapper(parsed.Status),
		Raw:               body,
	}, nil
}

// VerifyAndParseWebhook checks the timestamped HMAC signature over the
// raw payload before trusting any field. Verification failures reject the
// whole event; there is no partial trust.
func (a *Adapter) VerifyAndParseWebhook(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
	if a.webhookSecret == "" {
		return adapter.WebhookResult{}, adapter.NotConfigured(model.ProviderStripe)
	}
	header := headers.Get(signatureHeader)
	if header == "" {
		return adapter.WebhookResult{}, apperr.New(apperr.KindWebhookSignatureMissing,
			"stripe: missing "+signatureHeader+" header")
	}

	if err := a.verifySignature(payload, header); err != nil {
		return adapter.WebhookResult{}, err
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string            `json:"id"`
				Object        string            `json:"object"`
				Status        string            `json:"status"`
				PaymentIntent string            `json:"payment_intent"`
				Metadata      map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"stripe: malformed event payload", err)
	}

	result := adapter.WebhookResult{
		EventID:  event.ID,
		Provider: model.ProviderStripe,
		Type:     event.Type,
		RawEvent: payload,
	}

	switch {
	case strings.HasPrefix(event.Type, "payment_intent."):
		result.Update = &model.PaymentUpdate{
			Provider:          model.ProviderStripe,
			ProviderPaymentID: event.Data.Object.ID,
			Status:            mapStatus(event.Data.Object.Status),
			Metadata:          event.Data.Object.Metadata,
		}
	case event.Type == "charge.refunded":
		id := event.Data.Object.PaymentIntent
		if id == "" {
			id = event.Data.Object.ID
		}
		result.Update = &model.PaymentUpdate{
			Provider:          model.ProviderStripe,
			ProviderPaymentID: id,
			Status:            model.StatusRefunded,
			Metadata:          event.Data.Object.Metadata,
		}
	}
	// Other event types (account-level and so on) carry no payment update.
	return result, nil
}

// verifySignature parses "t=<unix>,v1=<hex>[,v1=<hex>]" and recomputes
// HMAC-SHA256 over "<t>.<payload>". Comparison is constant time.
func (a *Adapter) verifySignature(payload []byte, header string) error {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return apperr.New(apperr.KindWebhookVerificationFailed, "stripe: malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperr.Wrap(apperr.KindWebhookVerificationFailed, "stripe: invalid signature timestamp", err)
	}
	if delta := a.now().Sub(time.Unix(ts, 0)); delta > signatureTolerance || delta < -signatureTolerance {
		return apperr.New(apperr.KindWebhookVerificationFailed, "stripe: signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return nil
		}
	}
	return apperr.New(apperr.KindWebhookVerificationFailed, "stripe: signature mismatch")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
