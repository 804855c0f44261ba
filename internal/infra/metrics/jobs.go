package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsDispatchedTotal, jobsRejectedTotal, jobsFinishedTotal,
		jobItemsTotal, jobDurationSeconds, jobsCancelledTotal,
		jobsOrphanedTotal, workerQueueRejectionsTotal, scheduledTriggersTotal,
	)
}

var (
	jobsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_dispatched_total",
			Help: "Job runs accepted by the dispatcher and handed to the backend.",
		},
		[]string{"job_type"},
	)

	jobsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_rejected_total",
			Help: "Start requests rejected before or during dispatch, by reason.",
		},
		[]string{"job_type", "reason"}, // unknown_type, already_running, dispatch_failed
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Job runs that reached a terminal status written by the runner.",
		},
		[]string{"job_type", "status"},
	)

	jobItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_items_total",
			Help: "Batch work items processed, by outcome.",
		},
		[]string{"job_type", "outcome"}, // succeeded, failed
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time of job bodies from start to terminal status.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"job_type", "status"},
	)

	jobsCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_cancelled_total",
			Help: "Job runs cancelled by an operator.",
		},
		[]string{"job_type"},
	)

	jobsOrphanedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_orphaned_total",
			Help: "Running records failed by the orphan sweeper.",
		},
		[]string{"job_type"},
	)

	workerQueueRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_queue_rejections_total",
			Help: "Tasks refused because the worker pool queue was full.",
		},
	)

	scheduledTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_triggers_total",
			Help: "Cron-triggered start attempts, by result.",
		},
		[]string{"job_type", "result"}, // dispatched, skipped, error
	)
)

func IncJobDispatched(jobType string) {
	jobsDispatchedTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncJobRejected(jobType, reason string) {
	jobsRejectedTotal.WithLabelValues(norm(jobType), norm(reason)).Inc()
}

func ObserveJobFinished(jobType, status string, elapsed time.Duration) {
	jobsFinishedTotal.WithLabelValues(norm(jobType), norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(jobType), norm(status)).Observe(elapsed.Seconds())
}

func AddJobItems(jobType string, succeeded, failed int) {
	if succeeded > 0 {
		jobItemsTotal.WithLabelValues(norm(jobType), "succeeded").Add(float64(succeeded))
	}
	if failed > 0 {
		jobItemsTotal.WithLabelValues(norm(jobType), "failed").Add(float64(failed))
	}
}

func IncJobCancelled(jobType string) {
	jobsCancelledTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncJobOrphaned(jobType string) {
	jobsOrphanedTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncWorkerQueueRejection() {
	workerQueueRejectionsTotal.Inc()
}

func IncScheduledTrigger(jobType, result string) {
	scheduledTriggersTotal.WithLabelValues(norm(jobType), norm(result)).Inc()
}
