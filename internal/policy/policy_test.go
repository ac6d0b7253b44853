package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/policy"
)

func TestGuardDefaultRules(t *testing.T) {
	guard, err := policy.NewGuard(policy.DefaultRules)
	require.NoError(t, err)

	assert.NoError(t, guard.Check(policy.Input{Operation: "create", Provider: "stripe", Amount: 5000, Currency: "USD"}))

	err = guard.Check(policy.Input{Operation: "create", Provider: "stripe", Amount: 20000000, Currency: "USD"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPaymentPolicyDeclined))
	assert.Contains(t, err.Error(), "amount_ceiling")
}

func TestGuardCustomRule(t *testing.T) {
	guard, err := policy.NewGuard([]policy.Rule{
		{Name: "no_large_razorpay_refunds", Expression: "!(operation == 'refund' && provider == 'razorpay' && amount > 100000)"},
	})
	require.NoError(t, err)

	assert.NoError(t, guard.Check(policy.Input{Operation: "refund", Provider: "razorpay", Amount: 50000, Currency: "INR"}))
	assert.Error(t, guard.Check(policy.Input{Operation: "refund", Provider: "razorpay", Amount: 500000, Currency: "INR"}))
	assert.NoError(t, guard.Check(policy.Input{Operation: "refund", Provider: "stripe", Amount: 500000, Currency: "USD"}))
}

func TestGuardRejectsNonBooleanRule(t *testing.T) {
	guard, err := policy.NewGuard([]policy.Rule{{Name: "arith", Expression: "amount + 1"}})
	require.NoError(t, err)

	err = guard.Check(policy.Input{Operation: "create", Amount: 1})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPaymentPolicyDeclined))
}

func TestNewGuardCompileError(t *testing.T) {
	_, err := policy.NewGuard([]policy.Rule{{Name: "broken", Expression: "amount >"}})
	assert.Error(t, err)
}
