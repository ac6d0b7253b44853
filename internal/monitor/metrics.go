// Package monitor holds the gateway's observability surface: Prometheus
// metrics and JSON-schema contract validation for inbound request bodies.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_payment_operations_total",
			Help: "Payment operations by operation, provider, and outcome status.",
		},
		[]string{"operation", "provider", "status"},
	)

	PaymentOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_payment_operation_duration_seconds",
			Help:    "Wall time of payment operations, provider call included.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "provider"},
	)

	IdempotencyOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_idempotency_outcomes_total",
			Help: "Idempotency engine outcomes: executed, replayed, conflict, locked.",
		},
		[]string{"outcome"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhook_events_total",
			Help: "Received webhook deliveries by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
)

const (
	IdempotencyExecuted = "executed"
	IdempotencyReplayed = "replayed"
	IdempotencyConflict = "conflict"
	IdempotencyLocked   = "locked"

	WebhookAccepted           = "accepted"
	WebhookVerificationFailed = "verification_failed"
	WebhookUnknownPayment     = "unknown_payment"
)
