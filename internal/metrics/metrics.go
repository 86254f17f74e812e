// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts coupon state machine attempts by
	// transition (assign, lock, unlock, redeem, distribute) and
	// outcome (ok, conflict, forbidden, expired, exhausted,
	// contention, error).
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_transitions_total",
		Help: "Coupon state transitions attempted, by transition and outcome.",
	}, []string{"transition", "outcome"})

	// ExpiredLocksReverted counts LOCKED rows the sweeper physically
	// reverted to ASSIGNED.
	ExpiredLocksReverted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_expired_locks_reverted_total",
		Help: "Expired locks reverted to ASSIGNED by the background sweeper.",
	})
)

// Outcome labels for TransitionsTotal.
const (
	OutcomeOK         = "ok"
	OutcomeNotFound   = "not_found"
	OutcomeConflict   = "conflict"
	OutcomeForbidden  = "forbidden"
	OutcomeExpired    = "expired"
	OutcomeExhausted  = "exhausted"
	OutcomeContention = "contention"
	OutcomeError      = "error"
)

// Observe records one transition attempt.
func Observe(transition, outcome string) {
	TransitionsTotal.WithLabelValues(transition, outcome).Inc()
}
