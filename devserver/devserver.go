// Package devserver is a small MCP tool server speaking the POST /message
// transport, for local development and tests. Replies are sent either as a
// JSON body or as an event stream terminated by [DONE].
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"

	"github.com/m4xw311/mcpchat/transport"
)

const (
	serverName    = "mcpchat-devserver"
	serverVersion = "0.1.0"
)

// Mode selects how replies are framed.
type Mode string

const (
	ModeJSON Mode = "json"
	ModeSSE  Mode = "sse"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeJSON:
		return ModeJSON, nil
	case ModeSSE:
		return ModeSSE, nil
	}
	return "", fmt.Errorf("unknown reply mode '%s' (expected json or sse)", s)
}

type Server struct {
	mcp    *mcpsrv.MCPServer
	mode   Mode
	root   string
	hidden []string
	logger *slog.Logger
}

type Option func(*Server)

func WithMode(m Mode) Option {
	return func(s *Server) { s.mode = m }
}

// WithRoot sets the directory served by the list tool.
func WithRoot(dir string) Option {
	return func(s *Server) { s.root = dir }
}

func WithLogger(lg *slog.Logger) Option {
	return func(s *Server) {
		if lg != nil {
			s.logger = lg
		}
	}
}

// New creates a server with the built-in tools registered.
func New(opts ...Option) *Server {
	s := &Server{mode: ModeJSON, root: ".", logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = mcpsrv.NewMCPServer(serverName, serverVersion,
		mcpsrv.WithToolCapabilities(false),
		mcpsrv.WithInstructions("Development server with echo, list, read_file, sleep and fail tools."),
	)
	for _, t := range s.tools() {
		s.mcp.AddTool(t.Tool, t.Handler)
	}
	return s
}

// AddTool registers an additional tool.
func (s *Server) AddTool(tool mcpsrv.ServerTool) {
	s.mcp.AddTool(tool.Tool, tool.Handler)
}

// ServeHTTP handles POST /message.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != transport.MessagePath {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	reply := s.mcp.HandleMessage(r.Context(), json.RawMessage(body))
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode reply", "error", err)
		http.Error(w, "failed to encode reply", http.StatusInternalServerError)
		return
	}

	switch s.mode {
	case ModeSSE:
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, ": %s\n\n", serverName)
		fmt.Fprintf(w, "data: %s\n\n", data)
		fmt.Fprintf(w, "data: %s\n\n", transport.DoneSentinel)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}

	s.logger.InfoContext(ctx, "dev server listening", "addr", addr, "mode", s.mode)
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("dev server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "dev server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) tools() []mcpsrv.ServerTool {
	return []mcpsrv.ServerTool{
		{
			Tool: mcplib.NewTool("echo",
				mcplib.WithDescription("Returns the given text unchanged."),
				mcplib.WithString("text", mcplib.Description("Text to echo back."), mcplib.Required()),
			),
			Handler: s.handleEcho,
		},
		{
			Tool: mcplib.NewTool("list",
				mcplib.WithDescription("Lists the files in the server's root directory."),
			),
			Handler: s.handleList,
		},
		s.readFileTool(),
		{
			Tool: mcplib.NewTool("sleep",
				mcplib.WithDescription("Waits for the given number of milliseconds, then returns."),
				mcplib.WithNumber("ms", mcplib.Description("Milliseconds to wait."), mcplib.Required()),
			),
			Handler: s.handleSleep,
		},
		{
			Tool: mcplib.NewTool("fail",
				mcplib.WithDescription("Always fails."),
			),
			Handler: s.handleFail,
		},
	}
}

func (s *Server) handleEcho(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text, ok := stringArg(req, "text")
	if !ok {
		return mcplib.NewToolResultError("echo: text is required"), nil
	}
	return mcplib.NewToolResultText(text), nil
}

func (s *Server) handleList(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("list: %v", err)), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return mcplib.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) handleSleep(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ms, _ := req.GetArguments()["ms"].(float64)
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return mcplib.NewToolResultText("done"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleFail(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return mcplib.NewToolResultError("this tool always fails"), nil
}

// stringArg extracts a named string argument from a tool call request.
func stringArg(req mcplib.CallToolRequest, name string) (string, bool) {
	args := req.GetArguments()
	if args == nil {
		return "", false
	}
	v, ok := args[name].(string)
	return v, ok
}
