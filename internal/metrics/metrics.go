// Package metrics exposes Prometheus collectors for the coordination server.
// Instruments live on a private registry served by Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intercoord"

var (
	registry = prometheus.NewRegistry()

	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and result code.",
	}, []string{"tool", "code"})

	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool invocation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	ledgerOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_operations_total",
		Help:      "Claim and lock attempts by outcome.",
	}, []string{"operation", "outcome"})

	reviewTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "review_transitions_total",
		Help:      "Review status changes by resulting status.",
	}, []string{"status"})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications by type and delivery outcome.",
	}, []string{"type", "outcome"})

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Open websocket event subscriptions.",
	})

	sweepActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_actions_total",
		Help:      "Reminders sent, reviews escalated and locks purged by sweeps.",
	}, []string{"action"})

	storeRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_busy_retries_total",
		Help:      "Store calls retried because SQLite reported the database busy.",
	})

	breakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_breaker_state",
		Help:      "Store circuit breaker: 0 closed, 1 open, 2 half open.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		toolCalls, toolDuration, ledgerOps, reviewTransitions, notifications, wsConnections, sweepActions,
		storeRetries, breakerState,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry is exposed for tests and for callers adding their own collectors.
func Registry() *prometheus.Registry {
	return registry
}

// RecordToolCall records one tool invocation and its latency.
func RecordToolCall(tool, code string, d time.Duration) {
	toolCalls.WithLabelValues(tool, code).Inc()
	toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordLedgerOp records a claim or lock attempt; outcome is "ok" or an
// error code such as "conflict".
func RecordLedgerOp(op, outcome string) {
	ledgerOps.WithLabelValues(op, outcome).Inc()
}

func RecordReviewTransition(status string) {
	reviewTransitions.WithLabelValues(status).Inc()
}

// RecordNotification records a notification; outcome is "stored" or "failed".
func RecordNotification(typ, outcome string) {
	notifications.WithLabelValues(typ, outcome).Inc()
}

func AddWSConnection() {
	wsConnections.Inc()
}

func RemoveWSConnection() {
	wsConnections.Dec()
}

// RecordSweep adds the counts of one sweep pass.
func RecordSweep(reminders, escalated, purged int) {
	sweepActions.WithLabelValues("reminder").Add(float64(reminders))
	sweepActions.WithLabelValues("escalation").Add(float64(escalated))
	sweepActions.WithLabelValues("lock_purge").Add(float64(purged))
}

func RecordStoreRetry() {
	storeRetries.Inc()
}

// SetBreakerState publishes the store circuit breaker state.
func SetBreakerState(state int) {
	breakerState.Set(float64(state))
}
