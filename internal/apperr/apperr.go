// Package apperr defines the gateway's error taxonomy as a single tagged
// error type carrying a kind, an HTTP status hint, and optional details.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a gateway failure. Kinds are part of the HTTP contract:
// handlers surface them verbatim as the error code in the error envelope.
type Kind string

const (
	KindValidationFailed          Kind = "VALIDATION_FAILED"
	KindIdempotencyKeyRequired    Kind = "IDEMPOTENCY_KEY_REQUIRED"
	KindIdempotencyKeyConflict    Kind = "IDEMPOTENCY_KEY_CONFLICT"
	KindIdempotencyKeyLocked      Kind = "IDEMPOTENCY_KEY_LOCKED"
	KindPaymentNotFound           Kind = "PAYMENT_NOT_FOUND"
	KindPaymentProviderMismatch   Kind = "PAYMENT_PROVIDER_MISMATCH"
	KindPaymentPolicyDeclined     Kind = "PAYMENT_POLICY_DECLINED"
	KindProviderNotConfigured     Kind = "PROVIDER_NOT_CONFIGURED"
	KindProviderUnavailable       Kind = "PROVIDER_UNAVAILABLE"
	KindCaptureAmountRequired     Kind = "CAPTURE_AMOUNT_REQUIRED"
	KindWebhookVerificationFailed Kind = "WEBHOOK_VERIFICATION_FAILED"
	KindWebhookHeadersIncomplete  Kind = "WEBHOOK_HEADERS_INCOMPLETE"
	KindWebhookSignatureMissing   Kind = "WEBHOOK_SIGNATURE_MISSING"
	KindInternal                  Kind = "INTERNAL_ERROR"
)

// Error is the gateway's error value. Status is an HTTP status hint; the
// HTTP layer is free to use it directly.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair to the error's details, allocating
// the map on first use. Returns the same error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New builds an Error of the given kind with the kind's default HTTP status.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Message: message}
}

// Wrap classifies an underlying error. The cause is preserved for logging
// but never serialized to clients.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Message: message, cause: cause}
}

// Internal wraps an unclassified failure. Callers see a generic message;
// the cause stays attached for logs only.
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// FromError extracts the *Error from err's chain, or classifies err as
// internal when it carries no taxonomy kind.
func FromError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal("internal error", err)
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func statusFor(kind Kind) int {
	switch kind {
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindIdempotencyKeyRequired:
		return http.StatusBadRequest
	case KindIdempotencyKeyConflict:
		return http.StatusConflict
	case KindIdempotencyKeyLocked:
		return http.StatusTooEarly
	case KindPaymentNotFound:
		return http.StatusNotFound
	case KindPaymentProviderMismatch:
		return http.StatusConflict
	case KindPaymentPolicyDeclined:
		return http.StatusUnprocessableEntity
	case KindProviderNotConfigured:
		return http.StatusNotImplemented
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindCaptureAmountRequired:
		return http.StatusBadRequest
	case KindWebhookVerificationFailed:
		return http.StatusBadRequest
	case KindWebhookHeadersIncomplete:
		return http.StatusBadRequest
	case KindWebhookSignatureMissing:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
