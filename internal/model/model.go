// Package model holds the canonical payment domain types shared by the
// adapters, the lifecycle service, and the storage layer.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider identifies one of the supported payment processors.
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderPaypal   Provider = "paypal"
	ProviderRazorpay Provider = "razorpay"
)

// ParseProvider validates a raw provider string against the closed set.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(raw) {
	case ProviderStripe, ProviderPaypal, ProviderRazorpay:
		return Provider(raw), nil
	}
	return "", fmt.Errorf("unknown provider %q", raw)
}

// PaymentStatus is the canonical payment lifecycle state, independent of any
// vendor's status vocabulary.
type PaymentStatus string

const (
	StatusPending        PaymentStatus = "PENDING"
	StatusRequiresAction PaymentStatus = "REQUIRES_ACTION"
	StatusSucceeded      PaymentStatus = "SUCCEEDED"
	StatusFailed         PaymentStatus = "FAILED"
	StatusRefunded       PaymentStatus = "REFUNDED"
)

// CaptureMode controls whether funds are collected immediately or after an
// explicit confirm step.
type CaptureMode string

const (
	CaptureAutomatic CaptureMode = "automatic"
	CaptureManual    CaptureMode = "manual"
)

// Payment is the persisted payment entity. Amount is an integer in the
// smallest currency unit; the model itself does not validate status
// transitions, the lifecycle service gates them.
type Payment struct {
	ID                uuid.UUID         `json:"id"`
	Provider          Provider          `json:"provider"`
	ProviderPaymentID string            `json:"providerPaymentId"`
	Status            PaymentStatus     `json:"status"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Description       string            `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// PaymentUpdate is the payment-state implication carried by a verified
// webhook event. Nil when the event has no payment meaning.
type PaymentUpdate struct {
	Provider          Provider          `json:"provider"`
	ProviderPaymentID string            `json:"providerPaymentId"`
	Status            PaymentStatus     `json:"status"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// WebhookEvent is the append-only audit record of a received, verified
// webhook. It is never mutated after insertion.
type WebhookEvent struct {
	ID         uuid.UUID `json:"id"`
	Provider   Provider  `json:"provider"`
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	Payload    []byte    `json:"payload"`
	Signature  string    `json:"signature,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}
