package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assetmarket",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Duration of one sweep run per job.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"job"})

	jobErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetmarket",
		Subsystem: "scheduler",
		Name:      "job_errors_total",
		Help:      "Total runs finishing with an error or panic, per job.",
	}, []string{"job"})

	jobSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetmarket",
		Subsystem: "scheduler",
		Name:      "job_ticks_skipped_total",
		Help:      "Total ticks skipped because the previous run was still going.",
	}, []string{"job"})

	jobRowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetmarket",
		Subsystem: "scheduler",
		Name:      "job_rows_processed_total",
		Help:      "Total rows successfully transitioned, per job.",
	}, []string{"job"})

	jobRowFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetmarket",
		Subsystem: "scheduler",
		Name:      "job_row_failures_total",
		Help:      "Total per-row failures recorded, per job.",
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(
		jobDuration,
		jobErrors,
		jobSkipped,
		jobRowsProcessed,
		jobRowFailures,
	)
}
