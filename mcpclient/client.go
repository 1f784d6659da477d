// Package mcpclient implements the session with a remote MCP tool server:
// the initialize handshake, tool discovery, and tool invocation over the
// HTTP transport, with responses matched to requests by id.
package mcpclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/m4xw311/mcpchat/correlator"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/metrics"
	"github.com/m4xw311/mcpchat/protocol"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/transport"
)

// maxToolPages bounds tools/list pagination against servers that keep
// returning a cursor.
const maxToolPages = 100

// Sender delivers one protocol message to the server.
type Sender interface {
	Send(ctx context.Context, msg *protocol.Message) (*transport.RawResponse, error)
}

// State is the lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is a single session with one MCP server. It is not meant to be
// shared between concurrent conversations; use one Client per session.
type Client struct {
	serverURL       string
	sender          Sender
	corr            *correlator.Correlator
	logger          *slog.Logger
	metrics         *metrics.Metrics
	filter          tools.Filter
	clientInfo      mcplib.Implementation
	protocolVersion string
	reportAnomalies bool

	nextID atomic.Int64

	mu           sync.Mutex
	state        State
	catalog      *tools.Catalog
	serverInfo   mcplib.Implementation
	instructions string

	// lifetime bounds in-flight POSTs and event streams, which may outlive
	// the request that started them.
	lifetime context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates a disconnected client for the server at serverURL.
func New(serverURL string, opts ...Option) *Client {
	o := options{
		timeout:         correlator.DefaultTimeout,
		logger:          slog.Default(),
		clientInfo:      mcplib.Implementation{Name: "mcpchat", Version: "0.1.0"},
		protocolVersion: mcplib.LATEST_PROTOCOL_VERSION,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With("session", uuid.NewString()[:8], "server", serverURL)
	sender := o.sender
	if sender == nil {
		topts := append([]transport.Option{transport.WithLogger(logger)}, o.transportOpts...)
		sender = transport.New(serverURL, topts...)
	}

	c := &Client{
		serverURL: serverURL,
		sender:    sender,
		corr: correlator.New(
			correlator.WithTimeout(o.timeout),
			correlator.WithLogger(logger),
			correlator.WithMetrics(o.metrics),
			correlator.WithReportDropped(o.reportAnomalies),
		),
		logger:          logger,
		metrics:         o.metrics,
		filter:          o.filter,
		clientInfo:      o.clientInfo,
		protocolVersion: o.protocolVersion,
		reportAnomalies: o.reportAnomalies,
		state:           StateDisconnected,
	}
	c.lifetime, c.cancel = context.WithCancel(context.Background())
	return c
}

// ServerURL returns the base URL of the server.
func (c *Client) ServerURL() string { return c.serverURL }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the name and version the server reported during the
// handshake, and its instructions if any.
func (c *Client) ServerInfo() (mcplib.Implementation, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo, c.instructions
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int { return c.corr.Len() }

// Connect performs the initialize handshake and fetches the tool list. On
// failure the client stays disconnected and Connect may be called again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateInitializing, StateClosed:
		st := c.state
		c.mu.Unlock()
		return &errors.NotReadyError{Op: "connect", State: st.String()}
	}
	c.state = StateInitializing
	c.mu.Unlock()

	c.logger.Info("connecting to MCP server")
	catalog, err := c.handshake(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && c.state != StateInitializing {
		// Cleanup ran while the handshake was in flight
		err = errors.ErrClientClosed
	}
	if err != nil {
		if c.state == StateInitializing {
			c.state = StateDisconnected
		}
		return &errors.ConnectionError{Server: c.serverURL, Err: err}
	}
	c.catalog = catalog
	c.state = StateReady
	c.logger.Info("connected to MCP server", "tools", catalog.Len(), "server_name", c.serverInfo.Name)
	return nil
}

type initializeParams struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    clientCapabilities    `json:"capabilities"`
	ClientInfo      mcplib.Implementation `json:"clientInfo"`
}

type clientCapabilities struct {
	Tools struct{} `json:"tools"`
}

func (c *Client) handshake(ctx context.Context) (*tools.Catalog, error) {
	raw, err := c.request(ctx, protocol.MethodInitialize, initializeParams{
		ProtocolVersion: c.protocolVersion,
		ClientInfo:      c.clientInfo,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "initialize failed")
	}
	var res mcplib.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrapf(err, "invalid initialize result")
	}
	c.mu.Lock()
	c.serverInfo = res.ServerInfo
	c.instructions = res.Instructions
	c.mu.Unlock()
	if res.ProtocolVersion != "" && res.ProtocolVersion != c.protocolVersion {
		c.logger.Debug("server negotiated a different protocol version", "requested", c.protocolVersion, "got", res.ProtocolVersion)
	}

	if err := c.notify(ctx, protocol.MethodInitialized); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	ds, err := c.listTools(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "tool discovery failed")
	}
	return tools.NewCatalog(ds), nil
}

type listToolsResult struct {
	Tools      []tools.Descriptor `json:"tools"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

func (c *Client) listTools(ctx context.Context) ([]tools.Descriptor, error) {
	var all []tools.Descriptor
	params := map[string]any{}
	for page := 0; page < maxToolPages; page++ {
		raw, err := c.request(ctx, protocol.MethodToolsList, params)
		if err != nil {
			return nil, err
		}
		var res listToolsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, errors.Wrapf(err, "invalid tools/list result")
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		params = map[string]any{"cursor": res.NextCursor}
	}
	kept := c.filter.Apply(all)
	if hidden := len(all) - len(kept); hidden > 0 {
		c.logger.Debug("tools hidden by filter", "count", hidden)
	}
	return kept, nil
}

// Tools returns the descriptors cached at connect time. The list does not
// change for the lifetime of the session unless RefreshTools is called.
func (c *Client) Tools() []tools.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.All()
}

// RefreshTools fetches the tool list again and replaces the cache.
func (c *Client) RefreshTools(ctx context.Context) ([]tools.Descriptor, error) {
	if st := c.State(); st != StateReady {
		return nil, &errors.NotReadyError{Op: protocol.MethodToolsList, State: st.String()}
	}
	ds, err := c.listTools(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.catalog = tools.NewCatalog(ds)
	out := c.catalog.All()
	c.mu.Unlock()
	return out, nil
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResult struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"isError"`
}

// CallTool invokes a tool and returns the unwrapped content of its result.
// When the content is a sequence, its first element is returned. A result
// flagged isError fails with a ToolExecutionError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if st := c.State(); st != StateReady {
		return nil, &errors.NotReadyError{Op: protocol.MethodToolsCall, State: st.String()}
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.request(ctx, protocol.MethodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	return unwrapContent(name, raw)
}

func unwrapContent(name string, raw json.RawMessage) (json.RawMessage, error) {
	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return raw, nil
	}
	content := res.Content
	var items []json.RawMessage
	if err := json.Unmarshal(content, &items); err == nil {
		content = nil
		if len(items) > 0 {
			content = items[0]
		}
	}
	if res.IsError {
		msg := "tool reported an error"
		if len(content) > 0 {
			msg = tools.ResultText(content)
		}
		return nil, &errors.ToolExecutionError{Tool: name, Message: msg}
	}
	if len(content) == 0 {
		return raw, nil
	}
	return content, nil
}

// Cleanup closes the session. Every pending request is rejected with
// ErrClientClosed, the tool cache is dropped and open streams are closed.
func (c *Client) Cleanup() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.catalog = nil
	c.mu.Unlock()

	n := c.corr.RejectAll(errors.ErrClientClosed)
	c.cancel()
	c.inflight.Wait()
	c.logger.Info("session closed", "rejected", n)
	return nil
}

// request sends a request and waits for its response. The response may
// arrive in the POST reply itself or on an event stream opened by it.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	pending, err := c.corr.Register(id, method)
	if err != nil {
		return nil, err
	}

	// The POST follows the caller's ctx, but an event stream it opens lives
	// until [DONE], EOF or Cleanup, so it is bound to the client lifetime.
	reqCtx, cancel := context.WithCancel(c.lifetime)
	detach := context.AfterFunc(ctx, cancel)
	started := c.goTracked(func() {
		resp, err := c.sender.Send(reqCtx, msg)
		detach()
		if err != nil {
			cancel()
			c.corr.Reject(id, err)
			return
		}
		c.handleReply(reqCtx, cancel, id, resp)
	})
	if !started {
		detach()
		cancel()
		c.corr.Reject(id, errors.ErrClientClosed)
	}

	start := time.Now()
	value, err := pending.Wait(ctx)
	c.logger.Debug("request settled", "method", method, "id", id, "elapsed", time.Since(start), "error", err)
	return value, err
}

func (c *Client) notify(ctx context.Context, method string) error {
	msg, err := protocol.NewNotification(method, nil)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithCancel(c.lifetime)
	detach := context.AfterFunc(ctx, cancel)
	resp, err := c.sender.Send(reqCtx, msg)
	detach()
	if err != nil {
		cancel()
		return err
	}
	if resp.IsStream() {
		if !c.goTracked(func() { c.handleReply(reqCtx, cancel, 0, resp) }) {
			cancel()
			resp.Stream.Close()
		}
		return nil
	}
	c.handleReply(reqCtx, cancel, 0, resp)
	return nil
}

// handleReply routes a POST reply to the correlator. Event streams are
// decoded until they end or ctx is cancelled. id is the request the POST
// carried, or 0 for a notification; if the reply leaves it unanswered it is
// rejected rather than left to time out.
func (c *Client) handleReply(ctx context.Context, cancel context.CancelFunc, id int64, resp *transport.RawResponse) {
	defer cancel()
	if !resp.IsStream() {
		if resp.Message != nil {
			c.deliver(id, resp.Message)
		}
		c.rejectUnanswered(id, "reply carried no response")
		return
	}
	n, err := transport.DecodeStream(ctx, resp.Stream, func(m *protocol.Message) {
		c.deliver(id, m)
	}, transport.DecodeOptions{OnMalformed: c.onMalformed})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("event stream ended with error", "error", err, "delivered", n)
		c.rejectUnanswered(id, "event stream failed: "+err.Error())
		return
	}
	c.logger.Debug("event stream closed", "delivered", n)
	if ctx.Err() == nil {
		c.rejectUnanswered(id, "event stream ended without a response")
	}
}

// deliver passes m to the correlator. An error without an id (parse and
// invalid-request errors) answers the request the POST carried.
func (c *Client) deliver(id int64, m *protocol.Message) {
	if m.ID == nil && m.Error != nil && m.Method == "" && id != 0 {
		c.corr.Reject(id, m.Error.Err())
		return
	}
	c.corr.Resolve(m)
}

func (c *Client) rejectUnanswered(id int64, reason string) {
	if id == 0 {
		return
	}
	if c.corr.Reject(id, &errors.TransportError{URL: c.serverURL, Err: errors.New("%s", reason)}) {
		c.logger.Debug("request left unanswered by its reply", "id", id, "reason", reason)
	}
}

// goTracked runs fn on a goroutine that Cleanup waits for. It returns false
// once the client is closed.
func (c *Client) goTracked(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		fn()
	}()
	return true
}

func (c *Client) onMalformed(payload string, err error) {
	c.metrics.Malformed()
	if c.reportAnomalies {
		c.logger.Warn("skipping malformed event", "data", payload, "error", err)
	} else {
		c.logger.Debug("skipping malformed event", "data", payload, "error", err)
	}
}
