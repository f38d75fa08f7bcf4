package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration tracks stage execution time.
	// Labels: stage, outcome (completed, failed)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forge",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "outcome"},
	)

	// VerificationsTotal counts sandbox verification outcomes.
	// Labels: status (PASS, FAIL, ERROR)
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "pipeline",
			Name:      "verifications_total",
			Help:      "Total number of verification rounds by status",
		},
		[]string{"status"},
	)

	// RunsTotal counts finished runs.
	// Labels: outcome (hardened, passed, exhausted, failed, cancelled)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	// RunIterations records how many builds a run needed.
	RunIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "forge",
			Subsystem: "pipeline",
			Name:      "run_iterations",
			Help:      "Number of build iterations per run",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		},
	)

	// ActiveRuns is the number of runs in progress.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forge",
			Subsystem: "pipeline",
			Name:      "active_runs",
			Help:      "Number of pipeline runs currently executing",
		},
	)
)
