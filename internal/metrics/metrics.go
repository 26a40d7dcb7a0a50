package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "dataexec"

	jobsTotal         = "jobs_total"
	jobsRejectedTotal = "jobs_rejected_total"
	jobsActive        = "jobs_active"
	jobDuration       = "job_duration_seconds"

	// Labels
	jobTypeLabel = "job_type"
	statusLabel  = "status"
	reasonLabel  = "reason"
)

// Rejection reasons
const (
	ReasonConcurrencyLimit = "concurrency_limit"
	ReasonAlreadyRunning   = "already_running"
	ReasonAlreadyExecuted  = "already_executed"
	ReasonValidation       = "validation"
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobsTotal,
		Help:      "number of finished job executions by type and terminal status",
	},
	[]string{jobTypeLabel, statusLabel},
)

var jobsRejectedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      jobsRejectedTotal,
		Help:      "number of execute calls refused before admission",
	},
	[]string{reasonLabel},
)

var jobsActiveMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      jobsActive,
		Help:      "number of jobs currently admitted",
	},
)

var jobDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      jobDuration,
		Help:      "wall-clock duration of job executions",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	},
	[]string{jobTypeLabel},
)

func ObserveJobFinished(jobType, status string, elapsed time.Duration) {
	jobsTotalMetric.With(prometheus.Labels{jobTypeLabel: jobType, statusLabel: status}).Inc()
	jobDurationMetric.With(prometheus.Labels{jobTypeLabel: jobType}).Observe(elapsed.Seconds())
}

func IncreaseJobsRejected(reason string) {
	jobsRejectedMetric.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

func UpdateActiveJobs(count int) {
	jobsActiveMetric.Set(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobsRejectedMetric)
	prometheus.MustRegister(jobsActiveMetric)
	prometheus.MustRegister(jobDurationMetric)
}
