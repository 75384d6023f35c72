// Package metrics holds the auth-specific Prometheus collectors. HTTP, pool
// and producer metrics live next to the code that records them in pkg/.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts login attempts by method and outcome.
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"method", "outcome"},
	)

	// RefreshRotations counts refresh token rotations by outcome.
	RefreshRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_rotations_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"outcome"},
	)

	// ACLDecisions counts permission decisions by check kind and deciding layer.
	ACLDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acl_decisions_total",
			Help: "Total number of ACL decisions",
		},
		[]string{"kind", "source", "allowed"},
	)
)

// Login outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeLocked     = "locked"
	OutcomeUnverified = "unverified"
)

// RecordLogin increments the login counter.
func RecordLogin(method, outcome string) {
	LoginAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordRefresh increments the rotation counter.
func RecordRefresh(ok bool) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	RefreshRotations.WithLabelValues(outcome).Inc()
}

// RecordDecision increments the ACL decision counter.
func RecordDecision(kind, source string, allowed bool) {
	ACLDecisions.WithLabelValues(kind, source, strconv.FormatBool(allowed)).Inc()
}
