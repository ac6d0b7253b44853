// Package policy evaluates configurable business rules against payment
// operations before they reach a provider. Rules are boolean govaluate
// expressions over the operation's parameters; a rule that evaluates to
// false declines the operation.
package policy

import (
	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"

	"github.com/yourorg/payment-gateway/internal/apperr"
)

// Rule is one named guard expression. Expressions see the parameters
// "amount", "currency", "provider", and "operation" (create or refund).
type Rule struct {
	Name       string
	Expression string
}

// DefaultRules are the guards applied when no explicit rule set is
// configured. They bound single-operation amounts.
var DefaultRules = []Rule{
	{Name: "amount_positive", Expression: "amount > 0"},
	{Name: "amount_ceiling", Expression: "amount <= 10000000"},
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Guard holds the compiled rule set.
type Guard struct {
	rules []compiledRule
}

func NewGuard(rules []Rule) (*Guard, error) {
	g := &Guard{}
	for _, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling rule %q", r.Name)
		}
		g.rules = append(g.rules, compiledRule{name: r.Name, expr: expr})
	}
	return g, nil
}

// Input carries the operation parameters visible to rule expressions.
type Input struct {
	Operation string
	Provider  string
	Amount    int64
	Currency  string
}

// Check evaluates every rule against the input. The first rule that
// evaluates to false declines the operation; evaluation errors decline
// as well, naming the broken rule.
func (g *Guard) Check(in Input) error {
	params := map[string]interface{}{
		"operation": in.Operation,
		"provider":  in.Provider,
		"amount":    float64(in.Amount),
		"currency":  in.Currency,
	}
	for _, r := range g.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return apperr.Wrap(apperr.KindPaymentPolicyDeclined, "policy rule "+r.name+" failed to evaluate", err)
		}
		allowed, ok := result.(bool)
		if !ok {
			return apperr.New(apperr.KindPaymentPolicyDeclined, "policy rule "+r.name+" is not a boolean expression")
		}
		if !allowed {
			return apperr.New(apperr.KindPaymentPolicyDeclined, "declined by policy rule "+r.name)
		}
	}
	return nil
}
