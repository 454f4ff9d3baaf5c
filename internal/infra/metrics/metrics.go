// internal/infra/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodwall_dispatch_outcomes_total",
			Help: "Dispatch outcomes by job and outcome (sent, skipped, failed).",
		},
		[]string{"job", "outcome"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bloodwall_mail_send_duration_seconds",
			Help:    "Duration of mail transport sends.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"job", "status"},
	)

	JobTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bloodwall_job_triggers_total",
			Help: "Job trigger runs by job, source (http, scheduler) and status (ok, rejected, error).",
		},
		[]string{"job", "source", "status"},
	)
)
