package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pollAttemptsTotal, pollWorkersActive, jobTerminalTotal) }

var pollAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "polling_attempts_total",
		Help: "Total number of status-check polls, labeled by result.",
	},
	[]string{"result"}, // 'pending', 'complete', 'failed', 'transient_error'
)

var pollWorkersActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "polling_workers_active",
		Help: "Current number of active polling workers.",
	},
)

var jobTerminalTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobs_terminal_total",
		Help: "Total number of jobs that reached a terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

func IncPollAttempt(result string) {
	pollAttemptsTotal.WithLabelValues(norm(result)).Inc()
}

func SetPollWorkersActive(n int) {
	pollWorkersActive.Set(float64(n))
}

func IncJobTerminal(status string) {
	jobTerminalTotal.WithLabelValues(norm(status)).Inc()
}
