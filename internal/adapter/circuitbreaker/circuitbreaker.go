// Package circuitbreaker shields the gateway from a degraded provider:
// after a run of consecutive provider failures, calls to that provider
// fail fast until a probe succeeds. Webhook verification is never
// breaker-gated, inbound deliveries carry their own proof.
package circuitbreaker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/model"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
	defaultProbeSuccesses   = 2
)

// Settings tunes one breaker. Zero values fall back to the defaults.
type Settings struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	ProbeSuccesses   int
}

// Breaker is the per-provider state machine. Closed passes calls
// through; Open fails fast until OpenTimeout elapses; HalfOpen lets
// probes through and closes after ProbeSuccesses consecutive successes.
type Breaker struct {
	mu sync.Mutex

	provider model.Provider
	settings Settings

	state     State
	failures  int
	successes int
	openUntil time.Time
	now       func() time.Time
}

func New(provider model.Provider, settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = defaultFailureThreshold
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaultOpenTimeout
	}
	if settings.ProbeSuccesses <= 0 {
		settings.ProbeSuccesses = defaultProbeSuccesses
	}
	return &Breaker{provider: provider, settings: settings, now: time.Now}
}

// allow reports whether a provider call may proceed, transitioning an
// expired Open state to HalfOpen.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().After(b.openUntil) {
			b.state = HalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return true
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.settings.ProbeSuccesses {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		// A failed probe re-opens immediately.
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openUntil = b.now().Add(b.settings.OpenTimeout)
	b.failures = 0
	b.successes = 0
}

// CurrentState is for monitoring and tests; it performs no transition.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) unavailable() error {
	return apperr.New(apperr.KindProviderUnavailable,
		"provider "+string(b.provider)+" is temporarily unavailable")
}

// guardedAdapter decorates a PaymentAdapter with breaker checks on the
// outbound operations.
type guardedAdapter struct {
	inner   adapter.PaymentAdapter
	breaker *Breaker
}

// Wrap returns the adapter guarded by a fresh breaker for its provider.
func Wrap(inner adapter.PaymentAdapter, settings Settings) adapter.PaymentAdapter {
	return &guardedAdapter{inner: inner, breaker: New(inner.Provider(), settings)}
}

func (g *guardedAdapter) Provider() model.Provider { return g.inner.Provider() }

func (g *guardedAdapter) CreatePayment(ctx context.Context, p adapter.CreateParams) (adapter.Result, error) {
	return g.call(func() (adapter.Result, error) { return g.inner.CreatePayment(ctx, p) })
}

func (g *guardedAdapter) ConfirmPayment(ctx context.Context, p adapter.ConfirmParams) (adapter.Result, error) {
	return g.call(func() (adapter.Result, error) { return g.inner.ConfirmPayment(ctx, p) })
}

func (g *guardedAdapter) RefundPayment(ctx context.Context, p adapter.RefundParams) (adapter.Result, error) {
	return g.call(func() (adapter.Result, error) { return g.inner.RefundPayment(ctx, p) })
}

func (g *guardedAdapter) VerifyAndParseWebhook(ctx context.Context, payload []byte, headers http.Header) (adapter.WebhookResult, error) {
	return g.inner.VerifyAndParseWebhook(ctx, payload, headers)
}

func (g *guardedAdapter) call(op func() (adapter.Result, error)) (adapter.Result, error) {
	if !g.breaker.allow() {
		return adapter.Result{}, g.breaker.unavailable()
	}
	result, err := op()
	if err != nil {
		// Client-side rejections say nothing about provider health.
		if !apperr.IsKind(err, apperr.KindValidationFailed) && !apperr.IsKind(err, apperr.KindCaptureAmountRequired) {
			g.breaker.recordFailure()
		}
		return adapter.Result{}, err
	}
	g.breaker.recordSuccess()
	return result, nil
}
