// Package paypal implements the PaymentAdapter for the PayPal-style
// provider: JSON orders API, vendor-side deduplication via the
// PayPal-Request-Id header, and webhook verification delegated to the
// vendor's own remote verification endpoint.
package paypal

import (
	"bytes"
	"context"
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
	requestIDHeader = "PayPal-Request-Id"

	verifyPath = "/v1/notifications/verify-webhook-signature"

	// The remote verifier's status field must read exactly this value to
	// be accepted; anything else fails closed.
	verificationSuccess = "SUCCESS"
)

// requiredWebhookHeaders are collected before any verification attempt;
// if any is absent the call fails with WebhookHeadersIncomplete.
var requiredWebhookHeaders = []string{
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Time",
	"Paypal-Cert-Url",
	"Paypal-Auth-Algo",
	"Paypal-Transmission-Sig",
}

// Adapter talks to the PayPal API. Stateless, safe for concurrent use.
type Adapter struct {
	httpClient *http.Client
	apiBaseURL string
	clientID   string
	secret     string
	webhookID  string
}

// New creates a PayPal adapter. Credentials are checked lazily on first
// call, not here.
func New(creds config.PaypalCredentials, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := creds.BaseURL
	if base == "" {
		base = "https://api-m.paypal.com"
	}
	return &Adapter{
		httpClient: client,
		apiBaseURL: base,
		clientID:   creds.ClientID,
		secret:     creds.Secret,
		webhookID:  creds.WebhookID,
	}
}

func (a *Adapter) Provider() model.Provider { return model.ProviderPaypal }

func (a *Adapter) configured() bool { return a.clientID != "" && a.secret != "" }

// mapStatus translates the vendor's order/capture vocabulary into the
// canonical status. Unknown raw values map to PENDING, never SUCCEEDED
// or FAILED.
func mapStatus(raw string) model.PaymentStatus {
	switch raw {
	case "CREATED", "SAVED", "PENDING":
		return model.StatusPending
	case "APPROVED", "PAYER_ACTION_REQUIRED":
		return model.StatusRequiresAction
	case "COMPLETED":
		return model.StatusSucceeded
	case "VOIDED", "DECLINED", "FAILED":
		return model.StatusFailed
	case "REFUNDED":
		return model.StatusRefunded
	default:
		return model.StatusPending
	}
}

// zeroDecimalCurrencies lists the currencies this vendor quotes in whole
// units; every other currency carries two decimal places.
var zeroDecimalCurrencies = map[string]bool{
	"HUF": true,
	"JPY": true,
	"TWD": true,
}

// formatAmount renders a minor-unit amount as the vendor's major-unit
// decimal string: 5000 minor units of USD is "50.00", of JPY "5000".
func formatAmount(amount int64, currency string) string {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return strconv.FormatInt(amount, 10)
	}
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

func mapRefundStatus(raw string) model.PaymentStatus {
	switch raw {
	case "COMPLETED":
		return model.StatusRefunded
	case "CANCELLED", "FAILED":
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

func (a *Adapter) CreatePayment(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
	if !a.configured() {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderPaypal)
	}
	if err := adapter.ValidateCreateParams(p); err != nil {
		return adapter.Result{}, err
	}

	intent := "CAPTURE"
	if p.CaptureMode == model.CaptureManual {
		intent = "AUTHORIZE"
	}
	unit := map[string]any{
		"amount": map[string]any{
			"currency_code": p.Currency,
			"value":         formatAmount(p.Amount, p.Currency),
		},
	}
	if p.Description != "" {
		unit["description"] = p.Description
	}
	if ref, ok := p.Metadata["reference"]; ok && ref != "" {
		unit["custom_id"] = ref
	}
	body := map[string]any{
		"intent":         intent,
		"purchase_units": []any{unit},
	}

	return a.post(ctx, "/v2/checkout/orders", body, p.IdempotencyToken, mapStatus, "")
}

func (a *Adapter) ConfirmPayment(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error) {
	if !a.configured() {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderPaypal)
	}

	path := "/v2/checkout/orders/" + url.PathEscape(p.ProviderPaymentID) + "/capture"
	return a.post(ctx, path, map[string]any{}, p.IdempotencyToken, mapStatus, p.ProviderPaymentID)
}

func (a *Adapter) RefundPayment(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
	if !a.configured() {
		return adapter.Result{}, adapter.NotConfigured(model.ProviderPaypal)
	}

	body := map[string]any{}
	if p.Amount > 0 {
		currency := p.Metadata["refund_currency"]
		if currency == "" {
			currency = p.Metadata["currency"]
		}
		amount := map[string]any{"value": formatAmount(p.Amount, currency)}
		if currency != "" {
			amount["currency_code"] = currency
		}
		body["amount"] = amount
	}
	// The vendor has no closed refund-reason vocabulary; the reason is
	// surfaced to the payer as a note when present.
	if p.Reason != "" {
		body["note_to_payer"] = p.Reason
	}

	path := "/v2/payments/captures/" + url.PathEscape(p.ProviderPaymentID) + "/refund"
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
		return adapter.Result{}, apperr.Internal("paypal: encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return adapter.Result{}, apperr.Internal("paypal: building request", err)
	}
	req.SetBasicAuth(a.clientID, a.secret)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyToken != "" {
		req.Header.Set(requestIDHeader, idempotencyToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapter.Result{}, apperr.Internal("paypal: request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.Result{}, apperr.Internal("paypal: reading response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.Result{}, apperr.Internal(
			fmt.Sprintf("paypal: API returned HTTP %d", resp.StatusCode),
			fmt.Errorf("%s", raw))
	}

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return adapter.Result{}, apperr.Internal("paypal: decoding response", err)
	}

	providerPaymentID := parsed.ID
	if providerPaymentID == "" {
		providerPaymentID = fallbackPaymentID
	}

	return adapter.Result{
		ProviderPaymentID: providerPaymentID,
		Status:            statusMapper(parsed.Status),
		Raw:               raw,
	}, nil
}

// VerifyAndParseWebhook collects the required transmission headers and
// delegates verification to the vendor's remote endpoint. Its status
// field must read exactly "SUCCESS"; anything else rejects the event.
func (a *Adapter) VerifyAndParseWebhook(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
	if !a.configured() || a.webhookID == "" {
		return adapter.WebhookResult{}, adapter.NotConfigured(model.ProviderPaypal)
	}

	collected := make(map[string]string, len(requiredWebhookHeaders))
	for _, name := range requiredWebhookHeaders {
		value := headers.Get(name)
		if value == "" {
			return adapter.WebhookResult{}, apperr.New(apperr.KindWebhookHeadersIncomplete,
				"paypal: missing required webhook header "+name)
		}
		collected[name] = value
	}

	verifyBody, err := json.Marshal(map[string]any{
		"transmission_id":   collected["Paypal-Transmission-Id"],
		"transmission_time": collected["Paypal-Transmission-Time"],
		"cert_url":          collected["Paypal-Cert-Url"],
		"auth_algo":         collected["Paypal-Auth-Algo"],
		"transmission_sig":  collected["Paypal-Transmission-Sig"],
		"webhook_id":        a.webhookID,
		"webhook_event":     json.RawMessage(payload),
	})
	if err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"paypal: building verification request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBaseURL+verifyPath, bytes.NewReader(verifyBody))
	if err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"paypal: building verification request", err)
	}
	req.SetBasicAuth(a.clientID, a.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"paypal: verification call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"paypal: reading verification response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.WebhookResult{}, apperr.New(apperr.KindWebhookVerificationFailed,
			fmt.Sprintf("paypal: verification endpoint returned HTTP %d", resp.StatusCode))
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(raw, &verification); err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"paypal: decoding verification response", err)
	}
	if verification.VerificationStatus != verificationSuccess {
		return adapter.WebhookResult{}, apperr.New(apperr.KindWebhookVerificationFailed,
			"paypal: verification status "+verification.VerificationStatus)
	}

	var event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			CustomID string `json:"custom_id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return adapter.WebhookResult{}, apperr.Wrap(apperr.KindWebhookVerificationFailed,
			"paypal: malformed event payload", err)
	}

	result := adapter.WebhookResult{
		EventID:  event.ID,
		Provider: model.ProviderPaypal,
		Type:     event.EventType,
		RawEvent: payload,
	}

	switch event.EventType {
	case "CHECKOUT.ORDER.APPROVED", "CHECKOUT.ORDER.COMPLETED":
		result.Update = &model.PaymentUpdate{
			Provider:          model.ProviderPaypal,
			ProviderPaymentID: event.Resource.ID,
			Status:            mapStatus(event.Resource.Status),
		}
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.PENDING":
		id := event.Resource.SupplementaryData.RelatedIDs.OrderID
		if id == "" {
			id = event.Resource.ID
		}
		status := mapStatus(event.Resource.Status)
		if event.EventType == "PAYMENT.CAPTURE.DENIED" {
			status = model.StatusFailed
		}
		result.Update = &model.PaymentUpdate{
			Provider:          model.ProviderPaypal,
			ProviderPaymentID: id,
			Status:            status,
		}
	case "PAYMENT.CAPTURE.REFUNDED":
		id := event.Resource.SupplementaryData.RelatedIDs.OrderID
		if id == "" {
			id = event.Resource.ID
		}
		result.Update = &model.PaymentUpdate{
			Provider:          model.ProviderPaypal,
			ProviderPaymentID: id,
			Status:            model.StatusRefunded,
		}
	}
	return result, nil
}
