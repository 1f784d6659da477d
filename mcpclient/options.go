package mcpclient

import (
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/m4xw311/mcpchat/metrics"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/transport"
)

type Option func(*options)

type options struct {
	sender          Sender
	transportOpts   []transport.Option
	timeout         time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics
	filter          tools.Filter
	clientInfo      mcplib.Implementation
	protocolVersion string
	reportAnomalies bool
}

// WithTransport replaces the default HTTP transport.
func WithTransport(s Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithTransportOptions configures the default HTTP transport. It has no
// effect together with WithTransport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transportOpts = append(o.transportOpts, opts...) }
}

// WithTimeout sets how long a request waits for its response.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.logger = lg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithToolFilter hides server tools by name pattern.
func WithToolFilter(f tools.Filter) Option {
	return func(o *options) { o.filter = f }
}

func WithClientInfo(name, version string) Option {
	return func(o *options) { o.clientInfo = mcplib.Implementation{Name: name, Version: version} }
}

func WithProtocolVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.protocolVersion = v
		}
	}
}

// WithReportAnomalies logs responses without a pending request and malformed
// stream events at warn level instead of debug. They are counted either way.
func WithReportAnomalies(v bool) Option {
	return func(o *options) { o.reportAnomalies = v }
}
