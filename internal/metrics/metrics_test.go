package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordDecision(t *testing.T) {
	tests := []struct {
		kind, source string
		allowed      bool
		label        string
	}{
		{"action", "default", true, "true"},
		{"action", "unknown_action", false, "false"},
		{"page", "group_override", false, "false"},
		{"metric", "permission_set", true, "true"},
	}

	for _, tc := range tests {
		t.Run(tc.kind+"/"+tc.source, func(t *testing.T) {
			c := ACLDecisions.WithLabelValues(tc.kind, tc.source, tc.label)
			before := counterValue(t, c)
			RecordDecision(tc.kind, tc.source, tc.allowed)
			assert.InDelta(t, before+1, counterValue(t, c), 0.0001)
		})
	}
}

func TestRecordRefresh(t *testing.T) {
	for ok, outcome := range map[bool]string{true: OutcomeSuccess, false: OutcomeFailure} {
		c := RefreshRotations.WithLabelValues(outcome)
		before := counterValue(t, c)
		RecordRefresh(ok)
		assert.InDelta(t, before+1, counterValue(t, c), 0.0001, outcome)
	}
}

func TestRecordLogin(t *testing.T) {
	c := LoginAttempts.WithLabelValues("password", OutcomeLocked)
	before := counterValue(t, c)
	RecordLogin("password", OutcomeLocked)
	assert.InDelta(t, before+1, counterValue(t, c), 0.0001)
}
