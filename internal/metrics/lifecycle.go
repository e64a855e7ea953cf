package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentflex",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Applied lifecycle operations by resulting status.",
		},
		[]string{"operation", "from", "to"},
	)

	analysisOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentflex",
			Subsystem: "lifecycle",
			Name:      "analysis_outcomes_total",
			Help:      "Settled analysis runs by outcome (completed, failed, timeout, stale).",
		},
		[]string{"outcome"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "talentflex",
			Subsystem: "lifecycle",
			Name:      "analysis_duration_seconds",
			Help:      "Time spent waiting on the analysis engine.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
)

// ObserveTransition counts one applied lifecycle operation.
func ObserveTransition(operation, from, to string) {
	transitionsTotal.WithLabelValues(operation, from, to).Inc()
}

// ObserveAnalysis records the outcome and engine latency of an analysis run.
func ObserveAnalysis(outcome string, elapsed time.Duration) {
	analysisOutcomes.WithLabelValues(outcome).Inc()
	analysisDuration.Observe(elapsed.Seconds())
}
