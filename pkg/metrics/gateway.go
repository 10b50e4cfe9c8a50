package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records payment gateway call latency and results.
type GatewayMetrics struct {
	latency     *prometheus.HistogramVec
	calls       *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewGatewayMetrics registers gateway metrics on reg. A nil registerer yields no-op metrics.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vendorhub_gateway_call_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"gateway", "operation"})
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vendorhub_gateway_calls_total",
		Help: "Payment gateway calls by result (ok, error, timeout, invalid_signature).",
	}, []string{"gateway", "operation", "result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vendorhub_payment_transitions_total",
		Help: "Payment attempt transitions applied by reconciliation.",
	}, []string{"gateway", "outcome"})
	reg.MustRegister(latency, calls, transitions)
	return &GatewayMetrics{latency: latency, calls: calls, transitions: transitions}
}

// ObserveCall records one adapter call.
func (g *GatewayMetrics) ObserveCall(gateway, operation, result string, took time.Duration) {
	if g == nil || g.latency == nil {
		return
	}
	g.latency.WithLabelValues(normalizeLabel(gateway), normalizeLabel(operation)).Observe(took.Seconds())
	g.calls.WithLabelValues(normalizeLabel(gateway), normalizeLabel(operation), normalizeLabel(result)).Inc()
}

// IncTransition counts an applied payment outcome.
func (g *GatewayMetrics) IncTransition(gateway, outcome string) {
	if g == nil || g.transitions == nil {
		return
	}
	g.transitions.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Inc()
}
