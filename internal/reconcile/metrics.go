package reconcile

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal      *prometheus.CounterVec
	secretsTotal   *prometheus.CounterVec
	settleTimeouts prometheus.Counter

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the reconcile Prometheus metrics. Safe to call more
// than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvsync_reconcile_runs_total",
				Help: "Total number of reconcile runs",
			},
			[]string{"status"},
		)

		secretsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvsync_reconcile_secrets_total",
				Help: "Per-secret reconcile outcomes",
			},
			[]string{"outcome"},
		)

		settleTimeouts = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "kvsync_settle_timeouts_total",
				Help: "Number of settling waits that hit their timeout",
			},
		)

		metricsRegistered = true
	})
}

func recordRun(status string) {
	if metricsRegistered {
		runsTotal.WithLabelValues(status).Inc()
	}
}

func recordOutcome(outcome string, n int) {
	if metricsRegistered && n > 0 {
		secretsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func recordSettleTimeout() {
	if metricsRegistered {
		settleTimeouts.Inc()
	}
}
