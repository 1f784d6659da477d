// Package transport sends protocol messages to an MCP server over HTTP and
// decodes Server-Sent-Events replies.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/protocol"
)

// MessagePath is appended to the server base URL.
const MessagePath = "/message"

const (
	contentTypeJSON   = "application/json"
	contentTypeStream = "text/event-stream"

	maxErrorBody = 512
)

// RawResponse is the reply to a single POST. Exactly one of Message or
// Stream is set, or neither when the server only acknowledged the message.
type RawResponse struct {
	StatusCode int
	Message    *protocol.Message
	// Stream is the live event-stream body. The receiver must close it.
	Stream io.ReadCloser
}

// IsStream reports whether the server answered with an event stream.
func (r *RawResponse) IsStream() bool { return r.Stream != nil }

// HTTP posts messages to <baseURL>/message.
type HTTP struct {
	endpoint string
	client   *http.Client
	headers  http.Header
	logger   *slog.Logger
}

type Option func(*options)

type options struct {
	client  *http.Client
	retries int
	headers http.Header
	logger  *slog.Logger
}

// WithHTTPClient replaces the retrying client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithRetries sets how many times a failed POST is retried. tools/call is
// not idempotent, so the default is zero.
func WithRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithHeader adds a header to every request, e.g. credentials to pass
// through to the server.
func WithHeader(key, value string) Option {
	return func(o *options) { o.headers.Add(key, value) }
}

func WithLogger(lg *slog.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.logger = lg
		}
	}
}

// New creates an HTTP transport for the server at baseURL.
func New(baseURL string, opts ...Option) *HTTP {
	o := options{
		headers: make(http.Header),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = o.retries
		rc.Logger = o.logger
		// keep the final response so the status code reaches the caller
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		client = rc.StandardClient()
	}
	return &HTTP{
		endpoint: strings.TrimSuffix(baseURL, "/") + MessagePath,
		client:   client,
		headers:  o.headers,
		logger:   o.logger,
	}
}

// Endpoint returns the URL messages are posted to.
func (t *HTTP) Endpoint() string { return t.endpoint }

// Send posts msg and returns the parsed JSON reply or the live event stream,
// depending on the declared content type of the response.
func (t *HTTP) Send(ctx context.Context, msg *protocol.Message) (*RawResponse, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s request", msg.Method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &errors.TransportError{URL: t.endpoint, Err: err}
	}
	for k, vv := range t.headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeStream)

	t.logger.Debug("sending message", "method", msg.Method, "id", msg.ID, "url", t.endpoint)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &errors.TransportError{URL: t.endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &errors.TransportError{
			URL:        t.endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return &RawResponse{StatusCode: resp.StatusCode, Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.TransportError{URL: t.endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// acknowledged notification, typically 202 Accepted
		return &RawResponse{StatusCode: resp.StatusCode}, nil
	}
	reply, err := protocol.Decode(data)
	if err != nil {
		return nil, &errors.TransportError{
			URL:        t.endpoint,
			StatusCode: resp.StatusCode,
			Err:        errors.Wrapf(err, "invalid JSON response"),
		}
	}
	return &RawResponse{StatusCode: resp.StatusCode, Message: reply}, nil
}

func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == contentTypeStream
}
