package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsSubmittedTotal, queueDepth, batchDuration) }

var jobsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "submission_jobs_total",
		Help: "Total number of job submission attempts, labeled by outcome.",
	},
	[]string{"outcome"}, // 'submitted', 'retry', 'failed'
)

var queueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "submission_queue_depth",
		Help: "Current number of jobs waiting in the submission queue.",
	},
)

var batchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "submission_batch_duration_seconds",
		Help:    "Wall time to submit one full batch of jobs.",
		Buckets: prometheus.DefBuckets,
	},
)

func IncJobSubmission(outcome string) {
	jobsSubmittedTotal.WithLabelValues(norm(outcome)).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func ObserveBatchDuration(seconds float64) {
	batchDuration.Observe(seconds)
}
