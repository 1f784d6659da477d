package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/mcpchat/devserver"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/metrics"
	"github.com/m4xw311/mcpchat/protocol"
	"github.com/m4xw311/mcpchat/tools"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func startDevServer(t *testing.T, mode devserver.Mode) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(devserver.New(devserver.WithMode(mode), devserver.WithRoot(t.TempDir()), devserver.WithLogger(discard)))
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c := New(url, append([]Option{WithLogger(discard)}, opts...)...)
	require.NoError(t, c.Connect(context.Background()))
	// registered after srv.Close so it runs first
	t.Cleanup(func() { c.Cleanup() })
	return c
}

func toolNames(ds []tools.Descriptor) []string {
	var names []string
	for _, d := range ds {
		names = append(names, d.Name)
	}
	return names
}

func TestConnect(t *testing.T) {
	for _, mode := range []devserver.Mode{devserver.ModeJSON, devserver.ModeSSE} {
		t.Run(string(mode), func(t *testing.T) {
			srv := startDevServer(t, mode)
			c := connect(t, srv.URL)

			assert.Equal(t, StateReady, c.State())
			assert.ElementsMatch(t, []string{"echo", "list", "read_file", "sleep", "fail"}, toolNames(c.Tools()))
			info, instructions := c.ServerInfo()
			assert.Equal(t, "mcpchat-devserver", info.Name)
			assert.NotEmpty(t, instructions)

			// connecting again is a no-op
			require.NoError(t, c.Connect(context.Background()))
			assert.Equal(t, 0, c.Pending())
		})
	}
}

func TestConnect_toolFilter(t *testing.T) {
	srv := startDevServer(t, devserver.ModeJSON)
	c := connect(t, srv.URL, WithToolFilter(tools.Filter{Deny: []string{"fail", "sleep", "read_*"}}))
	assert.ElementsMatch(t, []string{"echo", "list"}, toolNames(c.Tools()))
}

func TestConnect_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(discard))
	err := c.Connect(context.Background())
	var ce *errors.ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, srv.URL, ce.Server)
	var te *errors.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.Tools())
}

func TestConnect_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, WithLogger(discard))
	err := c.Connect(context.Background())
	var ce *errors.ConnectionError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestCallTool(t *testing.T) {
	for _, mode := range []devserver.Mode{devserver.ModeJSON, devserver.ModeSSE} {
		t.Run(string(mode), func(t *testing.T) {
			c := connect(t, startDevServer(t, mode).URL)

			got, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hello"})
			require.NoError(t, err)
			assert.JSONEq(t, `{"type":"text","text":"hello"}`, string(got))
			assert.Equal(t, "hello", tools.ResultText(got))
		})
	}
}

func TestCallTool_isError(t *testing.T) {
	c := connect(t, startDevServer(t, devserver.ModeJSON).URL)

	_, err := c.CallTool(context.Background(), "fail", nil)
	var te *errors.ToolExecutionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "fail", te.Tool)
	assert.Equal(t, "this tool always fails", te.Message)
}

func TestCallTool_unknownTool(t *testing.T) {
	c := connect(t, startDevServer(t, devserver.ModeJSON).URL)

	_, err := c.CallTool(context.Background(), "missing", nil)
	var pe *errors.ProtocolError
	assert.True(t, errors.As(err, &pe))
}

func TestCallTool_notReady(t *testing.T) {
	c := New("http://127.0.0.1:1", WithLogger(discard))
	_, err := c.CallTool(context.Background(), "echo", nil)
	var nr *errors.NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, "disconnected", nr.State)

	require.NoError(t, c.Cleanup())
	_, err = c.CallTool(context.Background(), "echo", nil)
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, "closed", nr.State)
}

func TestCallTool_outOfOrder(t *testing.T) {
	c := connect(t, startDevServer(t, devserver.ModeSSE).URL)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		order []string
	)
	for _, call := range []struct {
		name string
		ms   int
	}{{"slow", 300}, {"fast", 10}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CallTool(context.Background(), "sleep", map[string]any{"ms": call.ms})
			assert.NoError(t, err)
			mu.Lock()
			order = append(order, call.name)
			mu.Unlock()
		}()
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestCallTool_timeoutIsolated(t *testing.T) {
	c := connect(t, startDevServer(t, devserver.ModeJSON).URL, WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := c.CallTool(context.Background(), "sleep", map[string]any{"ms": 1000})
	var te *errors.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, protocol.MethodToolsCall, te.Method)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	got, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "still here"})
	require.NoError(t, err)
	assert.Equal(t, "still here", tools.ResultText(got))
	assert.Equal(t, StateReady, c.State())
}

func TestCallTool_contextCancelled(t *testing.T) {
	c := connect(t, startDevServer(t, devserver.ModeJSON).URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CallTool(ctx, "sleep", map[string]any{"ms": 1000})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Pending())
}

func TestCleanup_rejectsPending(t *testing.T) {
	c := connect(t, startDevServer(t, devserver.ModeSSE).URL)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "sleep", map[string]any{"ms": 5000})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Cleanup())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not rejected")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, c.Tools())
	assert.NoError(t, c.Cleanup(), "cleanup is idempotent")
}

// fakeServer answers requests with handle and writes replies as an event
// stream, prefixed by extra raw lines.
func fakeServer(t *testing.T, extra func(id int64) string, handle func(msg *protocol.Message) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		msg, err := protocol.Decode(body)
		require.NoError(t, err)
		id, ok := msg.IDValue()
		if !ok {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		reply, err := protocol.NewResponse(id, handle(msg))
		require.NoError(t, err)
		data, _ := json.Marshal(reply)

		w.Header().Set("Content-Type", "text/event-stream")
		if extra != nil {
			io.WriteString(w, extra(id))
		}
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func initResult() any {
	return map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "fake", "version": "1"},
	}
}

func TestConnect_paginatesTools(t *testing.T) {
	var cursors []string
	srv := fakeServer(t, nil, func(msg *protocol.Message) any {
		switch msg.Method {
		case protocol.MethodInitialize:
			return initResult()
		case protocol.MethodToolsList:
			var params struct {
				Cursor string `json:"cursor"`
			}
			require.NoError(t, json.Unmarshal(msg.Params, &params))
			cursors = append(cursors, params.Cursor)
			if params.Cursor == "" {
				return map[string]any{"tools": []any{map[string]any{"name": "a"}}, "nextCursor": "page2"}
			}
			return map[string]any{"tools": []any{map[string]any{"name": "b"}}}
		}
		return map[string]any{}
	})

	c := connect(t, srv.URL)
	assert.Equal(t, []string{"", "page2"}, cursors)
	assert.Equal(t, []string{"a", "b"}, toolNames(c.Tools()))
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(c.Tools()[0].Schema()))
}

func TestStream_droppedAndMalformed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv := fakeServer(t, func(id int64) string {
		return "data: {not json\n\n" +
			`data: {"jsonrpc":"2.0","id":999,"result":{}}` + "\n\n" +
			"event: message\n\n"
	}, func(msg *protocol.Message) any {
		switch msg.Method {
		case protocol.MethodInitialize:
			return initResult()
		case protocol.MethodToolsList:
			return map[string]any{"tools": []any{}}
		}
		return map[string]any{"content": []any{map[string]any{"type": "text", "text": "ok"}}}
	})

	c := connect(t, srv.URL, WithMetrics(m), WithReportAnomalies(true))
	got, err := c.CallTool(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", tools.ResultText(got))

	// initialize, tools/list and tools/call each saw one of each
	assert.Equal(t, float64(3), testutil.ToFloat64(m.MalformedCounter()))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DroppedCounter()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestUnwrapContent(t *testing.T) {
	got, err := unwrapContent("x", json.RawMessage(`{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","text":"a"}`, string(got))

	got, err = unwrapContent("x", json.RawMessage(`{"content":"plain"}`))
	require.NoError(t, err)
	assert.Equal(t, `"plain"`, string(got))

	got, err = unwrapContent("x", json.RawMessage(`{"other":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"other":1}`, string(got))

	_, err = unwrapContent("x", json.RawMessage(`{"isError":true}`))
	var toolErr *errors.ToolExecutionError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "x", toolErr.Tool)
	assert.NotEmpty(t, toolErr.Message)

	_, err = unwrapContent("x", json.RawMessage(`{"isError":true,"content":[]}`))
	require.ErrorAs(t, err, &toolErr)
}

// rawServer answers every request with body, sent with contentType.
func rawServer(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnect_errorReplyWithoutID(t *testing.T) {
	for name, srv := range map[string]*httptest.Server{
		"json": rawServer(t, "application/json",
			`{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"invalid request"}}`),
		"sse": rawServer(t, "text/event-stream",
			`data: {"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"invalid request"}}`+"\n\n"),
	} {
		t.Run(name, func(t *testing.T) {
			c := New(srv.URL, WithLogger(discard), WithTimeout(5*time.Second))
			t.Cleanup(func() { c.Cleanup() })

			start := time.Now()
			err := c.Connect(context.Background())
			require.Error(t, err)
			assert.Less(t, time.Since(start), 2*time.Second)

			var conn *errors.ConnectionError
			assert.ErrorAs(t, err, &conn)
			var perr *errors.ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, -32600, perr.Code)
		})
	}
}

func TestConnect_streamEndsWithoutResponse(t *testing.T) {
	srv := rawServer(t, "text/event-stream", "data: [DONE]\n\n")
	c := New(srv.URL, WithLogger(discard), WithTimeout(5*time.Second))
	t.Cleanup(func() { c.Cleanup() })

	start := time.Now()
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var terr *errors.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Error(), "without a response")
	var to *errors.TimeoutError
	assert.False(t, errors.As(err, &to))
}
