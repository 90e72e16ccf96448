// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRuns counts finished pipeline runs by document type and outcome
	// (complete, no_new_items, cancelled, or an error code).
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_pipeline_runs_total",
		Help: "Total number of ingestion pipeline runs",
	}, []string{"type", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_stage_duration_seconds",
		Help:    "Duration of ingestion pipeline stages",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	ItemsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_items_saved_total",
		Help: "Total number of extracted items persisted",
	}, []string{"type"})

	KeypoolAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keypool_attempts_total",
		Help: "Provider calls attempted through the credential pool, by outcome",
	}, []string{"outcome"})
)

// ObserveStage records the time elapsed since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
