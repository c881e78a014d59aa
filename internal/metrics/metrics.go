// Package metrics exposes Prometheus instrumentation for pipeline, version
// and comparison activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhasesTotal counts completed pipeline phases by phase name and outcome.
	PhasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitemirror",
		Name:      "pipeline_phases_total",
		Help:      "Completed pipeline phases by phase and outcome.",
	}, []string{"phase", "outcome"})

	// PhaseDuration observes per-phase wall time.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitemirror",
		Name:      "pipeline_phase_duration_seconds",
		Help:      "Pipeline phase duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	// JobsActive tracks pipeline runs currently executing.
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sitemirror",
		Name:      "pipeline_jobs_active",
		Help:      "Pipeline runs currently executing.",
	})

	// VersionsCreated counts version-store snapshots by operation.
	VersionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitemirror",
		Name:      "versions_created_total",
		Help:      "Versions created, labeled by originating operation.",
	}, []string{"operation"})

	// ComparisonsTotal counts comparison runs by outcome.
	ComparisonsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitemirror",
		Name:      "comparisons_total",
		Help:      "Comparison runs by outcome.",
	}, []string{"outcome"})

	// ComparisonScore observes overall fidelity scores.
	ComparisonScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sitemirror",
		Name:      "comparison_score",
		Help:      "Overall fidelity score distribution.",
		Buckets:   []float64{50, 70, 80, 90, 95, 98, 99, 100},
	})
)
