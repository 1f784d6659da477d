// Package correlator matches asynchronous JSON-RPC responses to the requests
// that caused them.
//
// Every registered request settles exactly once: by a matching response, by
// an explicit rejection, by its timeout, or by RejectAll. Each of these paths
// removes the entry from the pending map under the lock before delivering, so
// whichever happens first wins and the others find nothing to do.
package correlator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/metrics"
	"github.com/m4xw311/mcpchat/protocol"
)

// DefaultTimeout is the per-request deadline when none is configured.
const DefaultTimeout = 30 * time.Second

// Result is the settled outcome of a request: exactly one of Value or Err.
type Result struct {
	Value json.RawMessage
	Err   error
}

type entry struct {
	id       int64
	method   string
	deadline time.Time
	timer    *time.Timer
	ch       chan Result
}

// Correlator owns the pending map.
type Correlator struct {
	mu      sync.Mutex
	pending map[int64]*entry
	closed  bool

	timeout       time.Duration
	reportDropped bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Correlator)

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(c *Correlator) {
		if lg != nil {
			c.logger = lg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// WithReportDropped logs responses without a pending entry as warnings
// instead of debug messages.
func WithReportDropped(v bool) Option {
	return func(c *Correlator) { c.reportDropped = v }
}

func New(opts ...Option) *Correlator {
	c := &Correlator{
		pending: make(map[int64]*entry),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the default per-request timeout.
func (c *Correlator) Timeout() time.Duration { return c.timeout }

// Register registers a request with the default timeout.
func (c *Correlator) Register(id int64, method string) (*Pending, error) {
	return c.RegisterTimeout(id, method, c.timeout)
}

// RegisterTimeout stores a pending entry for id and starts its timer.
func (c *Correlator) RegisterTimeout(id int64, method string, timeout time.Duration) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.ErrClientClosed
	}
	if _, exists := c.pending[id]; exists {
		return nil, errors.New("request id %d is already pending", id)
	}
	e := &entry{
		id:       id,
		method:   method,
		deadline: time.Now().Add(timeout),
		ch:       make(chan Result, 1),
	}
	e.timer = time.AfterFunc(timeout, func() {
		c.settle(id, Result{Err: &errors.TimeoutError{ID: id, Method: method, After: timeout}})
	})
	c.pending[id] = e
	return &Pending{id: id, method: method, deadline: e.deadline, ch: e.ch, c: c}, nil
}

// Resolve delivers a response to its pending request. Responses with no
// pending entry are dropped and false is returned; late and duplicate
// deliveries are expected, so this is not an error.
func (c *Correlator) Resolve(msg *protocol.Message) bool {
	id, ok := msg.IDValue()
	if !ok {
		c.logger.Debug("ignoring message without id", "method", msg.Method)
		return false
	}
	var res Result
	if msg.Error != nil {
		res.Err = msg.Error.Err()
	} else {
		res.Value = msg.Result
	}
	if !c.settle(id, res) {
		c.metrics.Dropped()
		if c.reportDropped {
			c.logger.Warn("dropping response without pending request", "id", id)
		} else {
			c.logger.Debug("dropping response without pending request", "id", id)
		}
		return false
	}
	return true
}

// Reject settles id with err. It returns false if id was not pending.
func (c *Correlator) Reject(id int64, err error) bool {
	return c.settle(id, Result{Err: err})
}

// RejectAll rejects every pending request with err, empties the map and
// refuses further registrations. It returns the number of rejected requests.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	entries := c.pending
	c.pending = make(map[int64]*entry)
	c.closed = true
	c.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		c.deliver(e, Result{Err: err})
	}
	if len(entries) > 0 {
		c.logger.Debug("rejected pending requests", "count", len(entries), "reason", err)
	}
	return len(entries)
}

// Len returns the number of pending requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) settle(id int64, res Result) bool {
	c.mu.Lock()
	e, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	c.deliver(e, res)
	return true
}

func (c *Correlator) deliver(e *entry, res Result) {
	c.metrics.Request(e.method, outcome(res.Err))
	e.ch <- res
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	var te *errors.TimeoutError
	var tre *errors.TransportError
	switch {
	case errors.As(err, &te):
		return metrics.OutcomeTimeout
	case errors.As(err, &tre):
		return metrics.OutcomeTransport
	case errors.Is(err, errors.ErrClientClosed):
		return metrics.OutcomeClosed
	default:
		return metrics.OutcomeError
	}
}

// Pending is the caller's handle on a registered request.
type Pending struct {
	id       int64
	method   string
	deadline time.Time
	ch       chan Result
	c        *Correlator
}

func (p *Pending) ID() int64 { return p.id }

func (p *Pending) Deadline() time.Time { return p.deadline }

// Wait blocks until the request settles. If ctx ends first the request is
// rejected with the context error, unless another outcome won the race.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-p.ch:
		return res.Value, res.Err
	case <-ctx.Done():
		p.c.Reject(p.id, ctx.Err())
		res := <-p.ch
		return res.Value, res.Err
	}
}
