package agent

import (
	"log/slog"

	"github.com/m4xw311/mcpchat/compact"
	"github.com/m4xw311/mcpchat/metrics"
)

const (
	DefaultMaxTokens     = 1000
	DefaultMaxIterations = 20
)

type Option func(*Agent)

func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithMaxTokens bounds each model reply.
func WithMaxTokens(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithMaxIterations bounds the number of model calls per query.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithCompactor replaces the default compactor, which summarizes every
// finished query with the agent's model.
func WithCompactor(c *compact.Compactor) Option {
	return func(a *Agent) { a.compactor = c }
}

// WithParallelTools runs up to n tool calls of one turn concurrently.
// Results are still returned to the model in request order.
func WithParallelTools(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.parallel = n
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(a *Agent) {
		if lg != nil {
			a.logger = lg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

func WithMode(m Mode) Option {
	return func(a *Agent) { a.mode = m }
}

func WithSystemPrompt(s string) Option {
	return func(a *Agent) { a.system = s }
}
