package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric targets
const (
	targetVariables = "variables"
	targetFlows     = "flows"
)

var (
	reconciliationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envsync_reconciliation_runs_total",
			Help: "Total number of reconciliation runs",
		},
		[]string{"target", "status"}, // target: variables/flows, status: success/error
	)

	reconciliationOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envsync_reconciliation_outcomes_total",
			Help: "Total number of per-key reconciliation outcomes",
		},
		[]string{"target", "kind"}, // kind: created/updated/unchanged/definition_not_found/remote_error
	)

	reconciliationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "envsync_reconciliation_duration_seconds",
			Help: "Duration of reconciliation runs in seconds",
			Buckets: []float64{
				1,   // 1 second
				5,   // 5 seconds
				10,  // 10 seconds
				30,  // 30 seconds
				60,  // 1 minute
				120, // 2 minutes
				300, // 5 minutes
			},
		},
		[]string{"target"},
	)
)

// recordOutcome records one per-key outcome.
func recordOutcome(target string, kind Kind) {
	reconciliationOutcomesTotal.WithLabelValues(target, string(kind)).Inc()
}

// recordRun records a completed run with its duration.
func recordRun(target, status string, durationSeconds float64) {
	reconciliationRunsTotal.WithLabelValues(target, status).Inc()
	reconciliationDuration.WithLabelValues(target).Observe(durationSeconds)
}
