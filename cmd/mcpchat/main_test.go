package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/devserver"
	"github.com/m4xw311/mcpchat/errors"
)

func init() {
	color.NoColor = true
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"MCP_SERVER_URL", "MCPCHAT_LLM", "MCPCHAT_MODEL", "LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
}

func execute(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(input), &out)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOneShotQuery(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(devserver.New())
	defer srv.Close()

	out, err := execute(t, "", "--server", srv.URL, "--llm", "mock", "hello there")
	require.NoError(t, err)
	assert.Contains(t, out, "I am a mock LLM. You said: 'hello there'.")
}

func TestInteractive(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(devserver.New(devserver.WithMode(devserver.ModeSSE)))
	defer srv.Close()

	out, err := execute(t, "tools\nhi\nquit\n", "--server", srv.URL, "--stream")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected to "+srv.URL)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "You said: 'hi'")
}

func TestServerUnreachable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(devserver.New())
	url := srv.URL
	srv.Close()

	_, err := execute(t, "", "--server", url, "q")
	var ce *errors.ConnectionError
	assert.True(t, errors.As(err, &ce), "got %v", err)
}

func TestInvalidFlags(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "--mode", "yolo", "q")
	assert.ErrorContains(t, err, "invalid mode")

	_, err = execute(t, "", "--llm", "nonsense", "q")
	assert.ErrorContains(t, err, "unknown llm provider")

	_, err = execute(t, "", "a", "b")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	logger := newLogger(&buf, config.Default(), false)
	assert.False(t, logger.Enabled(ctx, slog.LevelError), "silent by default")

	logger = newLogger(&buf, config.Default(), true)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))

	logger = newLogger(&buf, &config.Config{LogLevel: "info"}, false)
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
	logger.Info("connected")
	assert.Contains(t, buf.String(), "msg=connected")

	logger = newLogger(&buf, &config.Config{LogLevel: "warn"}, false)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
}
