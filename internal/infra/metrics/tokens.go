package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(tokenDispensedTotal, tokenCooldownTotal, tokenErrorsTotal) }

var tokenDispensedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_dispensed_total",
		Help: "Total number of token dispenses, labeled by mode.",
	},
	[]string{"mode"}, // 'batch', 'rotation'
)

var tokenCooldownTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_cooldown_entered_total",
		Help: "Total number of times a token entered cooldown after crossing the error threshold.",
	},
	[]string{"token_id"},
)

var tokenErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_errors_total",
		Help: "Total number of errors recorded against a token.",
	},
	[]string{"token_id"},
)

func IncTokenDispensed(mode string) {
	tokenDispensedTotal.WithLabelValues(norm(mode)).Inc()
}

func IncTokenCooldown(tokenID string) {
	tokenCooldownTotal.WithLabelValues(tokenID).Inc()
}

func IncTokenError(tokenID string) {
	tokenErrorsTotal.WithLabelValues(tokenID).Inc()
}
