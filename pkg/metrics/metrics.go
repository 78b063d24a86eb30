package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_service_jobs_total",
			Help: "Total number of merge jobs by outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "merge_service_job_duration_seconds",
			Help:    "Merge job duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "merge_service_jobs_in_progress",
			Help: "Number of merge jobs currently running",
		},
	)
)

// Engine metrics
var (
	EngineCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merge_service_engine_calls_total",
			Help: "Total number of transcoding engine invocations",
		},
		[]string{"op", "status"},
	)

	EngineCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merge_service_engine_call_duration_seconds",
			Help:    "Transcoding engine invocation duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"op"},
	)
)

// Workspace metrics
var (
	CleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merge_service_cleanup_failures_total",
			Help: "Total number of workspace artifacts that could not be removed",
		},
	)
)

// Outcome labels for JobsTotal
const (
	OutcomeDone       = "done"
	OutcomeValidation = "validation"
	OutcomeEngine     = "engine"
	OutcomeResource   = "resource"
)

// Engine status labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
