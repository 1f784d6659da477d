// Package metrics holds the Prometheus collectors of the MCP client and the
// agent loop. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mcpchat"

// Request outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport_error"
	OutcomeClosed    = "closed"
)

type Metrics struct {
	requests   *prometheus.CounterVec
	dropped    prometheus.Counter
	malformed  prometheus.Counter
	toolCalls  *prometheus.CounterVec
	iterations prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "MCP requests by method and outcome.",
		}, []string{"method", "outcome"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_responses_total",
			Help:      "Responses with no pending request (late, duplicate or unknown id).",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sse_malformed_events_total",
			Help:      "SSE data lines that could not be parsed and were skipped.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls issued by the agent loop by outcome.",
		}, []string{"outcome"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Model calls per processed query.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 50},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.dropped, m.malformed, m.toolCalls, m.iterations)
	}
	return m
}

func (m *Metrics) Request(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) ToolCall(outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Iterations(n int) {
	if m == nil {
		return
	}
	m.iterations.Observe(float64(n))
}

// Counters for tests and diagnostics.

func (m *Metrics) RequestCounter(method, outcome string) prometheus.Counter {
	return m.requests.WithLabelValues(method, outcome)
}

func (m *Metrics) DroppedCounter() prometheus.Counter { return m.dropped }

func (m *Metrics) MalformedCounter() prometheus.Counter { return m.malformed }

func (m *Metrics) ToolCallCounter(outcome string) prometheus.Counter {
	return m.toolCalls.WithLabelValues(outcome)
}
