package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"JobsTotal", JobsTotal},
		{"JobDuration", JobDuration},
		{"JobsInProgress", JobsInProgress},
		{"EngineCallsTotal", EngineCallsTotal},
		{"EngineCallDuration", EngineCallDuration},
		{"CleanupFailuresTotal", CleanupFailuresTotal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.metric)
		})
	}
}

func TestJobsTotalLabels(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues(OutcomeEngine))
	JobsTotal.WithLabelValues(OutcomeEngine).Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(JobsTotal.WithLabelValues(OutcomeEngine)))
}
