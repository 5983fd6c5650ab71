// Package metrics exposes Prometheus collectors for the gateway core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	intentsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "intents",
			Name:      "completed_total",
			Help:      "Payment intents settled as completed.",
		},
	)

	intentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "intents",
			Name:      "failed_total",
			Help:      "Payment intents settled as failed (on-chain revert).",
		},
	)

	intentsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "intents",
			Name:      "expired_total",
			Help:      "Payment intents expired past their deadline.",
		},
	)

	intentsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "intents",
			Name:      "purged_total",
			Help:      "Terminal payment intents deleted by retention purge.",
		},
	)

	reconcileSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "reconciler",
			Name:      "sweeps_total",
			Help:      "Reconciliation sweeps executed.",
		},
	)

	reconcileCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "reconciler",
			Name:      "candidates_per_sweep",
			Help:      "Open intents examined per reconciliation sweep.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "reconciler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of reconciliation sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
	)

	chainRPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "chain",
			Name:      "rpc_errors_total",
			Help:      "Chain RPC failures by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		intentsCompleted,
		intentsFailed,
		intentsExpired,
		intentsPurged,
		reconcileSweeps,
		reconcileCandidates,
		reconcileDuration,
		chainRPCErrors,
	)
}

// IntentCompleted records a completed settlement.
func IntentCompleted() { intentsCompleted.Inc() }

// IntentFailed records a terminal on-chain failure.
func IntentFailed() { intentsFailed.Inc() }

// IntentsExpired records intents moved to expired by the sweeper.
func IntentsExpired(n int64) { intentsExpired.Add(float64(n)) }

// IntentsPurged records intents deleted by the retention purge.
func IntentsPurged(n int64) { intentsPurged.Add(float64(n)) }

// ReconcileSweep records one finished sweep.
func ReconcileSweep(d time.Duration, candidates int) {
	reconcileSweeps.Inc()
	reconcileDuration.Observe(d.Seconds())
	reconcileCandidates.Observe(float64(candidates))
}

// ChainRPCError records a chain RPC failure.
func ChainRPCError(kind string) { chainRPCErrors.WithLabelValues(kind).Inc() }

// Handler serves the metrics endpoint for this registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
