package apperr

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHints(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindValidationFailed, http.StatusUnprocessableEntity},
		{KindIdempotencyKeyRequired, http.StatusBadRequest},
		{KindIdempotencyKeyConflict, http.StatusConflict},
		{KindIdempotencyKeyLocked, http.StatusTooEarly},
		{KindPaymentNotFound, http.StatusNotFound},
		{KindPaymentProviderMismatch, http.StatusConflict},
		{KindProviderNotConfigured, http.StatusNotImplemented},
		{KindProviderUnavailable, http.StatusServiceUnavailable},
		{KindWebhookVerificationFailed, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, New(tc.kind, "x").Status, string(tc.kind))
	}
}

func TestFromErrorPreservesKindThroughWrapping(t *testing.T) {
	base := New(KindPaymentNotFound, "no payment with id pay_1")
	wrapped := errors.Wrap(base, "refund flow")

	got := FromError(wrapped)
	assert.Equal(t, KindPaymentNotFound, got.Kind)
	assert.Equal(t, http.StatusNotFound, got.Status)
	assert.True(t, IsKind(wrapped, KindPaymentNotFound))
}

func TestFromErrorClassifiesUnknownAsInternal(t *testing.T) {
	got := FromError(errors.New("pq: connection refused"))
	require.NotNil(t, got)
	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	// The cause must stay reachable for logging.
	assert.Contains(t, got.Error(), "connection refused")
}

func TestWithDetail(t *testing.T) {
	err := New(KindValidationFailed, "bad request").
		WithDetail("amount", "must be a positive integer")
	assert.Equal(t, "must be a positive integer", err.Details["amount"])
}
