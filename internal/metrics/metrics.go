package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_task_runs_total",
			Help: "Total number of pipeline run tasks executed by task_id and status.",
		},
		[]string{"task_id", "status"},
	)

	TaskRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_task_run_duration_seconds",
			Help:    "Duration of pipeline run task executions in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"task_id", "status"},
	)

	JobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_jobs_active",
			Help: "Number of job queue entries currently being executed by node.",
		},
		[]string{"node_id"},
	)

	WorkerClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_worker_claims_total",
			Help: "Total number of job queue entries successfully claimed by worker node.",
		},
		[]string{"node_id"},
	)

	WorkerClaimContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_worker_claim_contention_total",
			Help: "Total number of worker claim contention events.",
		},
		[]string{"node_id"},
	)

	WorkerLeaseExpirationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_worker_lease_expirations_total",
			Help: "Total number of expired worker job leases reclaimed by node.",
		},
		[]string{"node_id"},
	)

	IngestRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_ingest_records_total",
			Help: "Total number of records copied into source tables by loader type.",
		},
		[]string{"loader_type", "status"},
	)

	NotifyEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_notify_events_total",
			Help: "Total number of pub/sub notifications delivered by channel.",
		},
		[]string{"channel"},
	)

	WorkerTasksAbandonedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_worker_tasks_abandoned_total",
			Help: "Total number of in-flight tasks swept to failed at worker startup due to an expired or missing lease.",
		},
		[]string{"task_id"},
	)
)

// Register registers all custom pipeline metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		TaskRunsTotal,
		TaskRunDurationSeconds,
		JobsActive,
		WorkerClaimsTotal,
		WorkerClaimContentionTotal,
		WorkerLeaseExpirationsTotal,
		IngestRecordsTotal,
		NotifyEventsTotal,
		WorkerTasksAbandonedTotal,
	)
}
