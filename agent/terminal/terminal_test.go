package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"github.com/m4xw311/mcpchat/agent"
	"github.com/m4xw311/mcpchat/compact"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/llm"
	"github.com/m4xw311/mcpchat/llm/mock_llm"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
)

func init() {
	color.NoColor = true
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubCaller struct {
	descs []tools.Descriptor
	calls []string
}

func (s *stubCaller) Tools() []tools.Descriptor { return s.descs }

func (s *stubCaller) CallTool(_ context.Context, name string, _ map[string]any) (json.RawMessage, error) {
	s.calls = append(s.calls, name)
	return json.RawMessage(`{"type":"text","text":"ok"}`), nil
}

// newAgent builds an agent whose compactor never calls the model, so the
// summary is the plain transcript.
func newAgent(client llm.Client, caller agent.ToolCaller, opts ...agent.Option) *agent.Agent {
	opts = append([]agent.Option{
		agent.WithModel("test-model"),
		agent.WithLogger(discard),
		agent.WithCompactor(compact.New(client, compact.WithThreshold(1_000_000), compact.WithLogger(discard))),
	}, opts...)
	return agent.New(client, caller, opts...)
}

func run(t *testing.T, term *Terminal) {
	t.Helper()
	require.NoError(t, term.Run(context.Background(), ""))
}

func TestTerminal_query(t *testing.T) {
	var out bytes.Buffer
	term := New(newAgent(&llm.MockClient{}, &stubCaller{}), strings.NewReader("hello\nquit\n"), &out)
	run(t, term)

	assert.Contains(t, out.String(), "I am a mock LLM. You said: 'hello'.\n")
	assert.Contains(t, term.Summary(), "user: hello")
}

func TestTerminal_summaryCarriedBetweenQueries(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{Content: []session.Block{session.TextBlock("first")}}, nil),
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req *llm.Request) (*llm.Response, error) {
			require.Len(t, req.Messages, 2)
			assert.Equal(t, session.RoleAssistant, req.Messages[0].Role)
			assert.Contains(t, req.Messages[0].Text(), "user: one")
			return &llm.Response{Content: []session.Block{session.TextBlock("second")}}, nil
		}),
	)

	var out bytes.Buffer
	run(t, New(newAgent(client, &stubCaller{}), strings.NewReader("one\ntwo\n"), &out))
	assert.Contains(t, out.String(), "second\n")
}

func TestTerminal_commands(t *testing.T) {
	var out bytes.Buffer
	input := "context\nreset\ncontext\nstream\nSTREAM\n/exit\nnever sent\n"
	term := New(newAgent(&llm.MockClient{}, &stubCaller{}), strings.NewReader(input), &out, WithSummary("earlier"))
	run(t, term)

	got := out.String()
	assert.Contains(t, got, "Context: earlier")
	assert.Contains(t, got, "Context cleared.")
	assert.Contains(t, got, "No conversation context yet.")
	assert.Contains(t, got, "Streaming on")
	assert.Contains(t, got, "Streaming off")
	assert.NotContains(t, got, "never sent")
	assert.Empty(t, term.Summary())
	assert.False(t, term.Streaming())
}

func TestTerminal_tools(t *testing.T) {
	caller := &stubCaller{descs: []tools.Descriptor{
		{Name: "echo", Description: "Echo the input"},
		{Name: "list"},
	}}
	var out bytes.Buffer
	run(t, New(newAgent(&llm.MockClient{}, caller), strings.NewReader("tools\n"), &out))

	assert.Contains(t, out.String(), "  echo: Echo the input\n")
	assert.Contains(t, out.String(), "  list\n")

	out.Reset()
	run(t, New(newAgent(&llm.MockClient{}, &stubCaller{}), strings.NewReader("tools\n"), &out))
	assert.Contains(t, out.String(), "No tools available.")
}

func TestTerminal_errorKeepsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(nil, errors.New("overloaded")),
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{Content: []session.Block{session.TextBlock("recovered")}}, nil),
	)

	var out bytes.Buffer
	run(t, New(newAgent(client, &stubCaller{}), strings.NewReader("one\ntwo\n"), &out))
	assert.Contains(t, out.String(), "Error: ")
	assert.Contains(t, out.String(), "overloaded")
	assert.Contains(t, out.String(), "recovered\n")
}

func TestTerminal_promptModeDecline(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockClient(ctrl)
	caller := &stubCaller{descs: []tools.Descriptor{{Name: "list"}}}
	gomock.InOrder(
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{
			Content: []session.Block{session.ToolUseBlock("call_1", "list", json.RawMessage(`{"dir":"."}`))},
		}, nil),
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req *llm.Request) (*llm.Response, error) {
			result := req.Messages[len(req.Messages)-1].Content[0]
			assert.True(t, result.IsError)
			return &llm.Response{Content: []session.Block{session.TextBlock("fine")}}, nil
		}),
	)

	var out bytes.Buffer
	term := New(newAgent(client, caller, agent.WithMode(agent.ModePrompt)), strings.NewReader("list it\nn\n"), &out,
		WithVerbosity(agent.ToolVerbosityAll))
	run(t, term)

	assert.Empty(t, caller.calls)
	assert.Contains(t, out.String(), "Allow tool `list` with args {\"dir\":\".\"}? (y/n): ")
	assert.Contains(t, out.String(), "Error calling tool 'list'")
}

func TestTerminal_promptModeAccept(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockClient(ctrl)
	caller := &stubCaller{descs: []tools.Descriptor{{Name: "list"}}}
	gomock.InOrder(
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{
			Content: []session.Block{session.ToolUseBlock("call_1", "list", nil)},
		}, nil),
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{Content: []session.Block{session.TextBlock("done")}}, nil),
	)

	var out bytes.Buffer
	term := New(newAgent(client, caller, agent.WithMode(agent.ModePrompt)), strings.NewReader("list it\ny\n"), &out,
		WithVerbosity(agent.ToolVerbosityAll))
	run(t, term)

	assert.Equal(t, []string{"list"}, caller.calls)
	assert.Contains(t, out.String(), "Calling tool: 'list' with args: {}")
	assert.Contains(t, out.String(), "Tool result: ok")
}

func TestTerminal_streaming(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockStreamingClient(ctrl)
	client.EXPECT().ChatStream(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *llm.Request, onText func(string)) (*llm.Response, error) {
			onText("Hel")
			onText("lo")
			return &llm.Response{Content: []session.Block{session.TextBlock("Hello")}}, nil
		})

	var out bytes.Buffer
	run(t, New(newAgent(client, &stubCaller{}), strings.NewReader("hi\n"), &out, WithStreaming(true)))

	assert.Contains(t, out.String(), "Assistant: Hello\n")
	assert.Equal(t, 1, strings.Count(out.String(), "Hello"))
}

func TestTerminal_streamingToolVerbosity(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockClient(ctrl)
	caller := &stubCaller{descs: []tools.Descriptor{{Name: "list"}}}
	gomock.InOrder(
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{
			Content: []session.Block{session.ToolUseBlock("call_1", "list", nil)},
		}, nil),
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{Content: []session.Block{session.TextBlock("done")}}, nil),
	)

	var out bytes.Buffer
	run(t, New(newAgent(client, caller), strings.NewReader("go\n"), &out, WithStreaming(true), WithVerbosity(agent.ToolVerbosityAll)))
	assert.Contains(t, out.String(), "Calling tool `list` with args: {}")
	assert.Contains(t, out.String(), "Tool `list` output: ok")
	assert.Contains(t, out.String(), "Assistant: done")
}

func TestTerminal_streamSwitchesEntryPoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockStreamingClient(ctrl)
	gomock.InOrder(
		// batched: the whole turn arrives at once
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{Content: []session.Block{session.TextBlock("batched reply")}}, nil),
		client.EXPECT().ChatStream(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ *llm.Request, onText func(string)) (*llm.Response, error) {
				onText("streamed ")
				onText("reply")
				return &llm.Response{Content: []session.Block{session.TextBlock("streamed reply")}}, nil
			}),
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{Content: []session.Block{session.TextBlock("batched again")}}, nil),
	)

	var out bytes.Buffer
	term := New(newAgent(client, &stubCaller{}), strings.NewReader("one\nstream\ntwo\nstream\nthree\n"), &out)
	run(t, term)

	got := out.String()
	assert.Contains(t, got, "batched reply\n")
	assert.NotContains(t, got, "Assistant: batched reply")
	assert.Contains(t, got, "Assistant: streamed reply\n")
	assert.Contains(t, got, "batched again\n")
	assert.False(t, term.Streaming())
}

func TestTerminal_verbosityNone(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_llm.NewMockClient(ctrl)
	caller := &stubCaller{descs: []tools.Descriptor{{Name: "list"}}}
	gomock.InOrder(
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{
			Content: []session.Block{session.ToolUseBlock("call_1", "list", nil)},
		}, nil),
		client.EXPECT().Chat(gomock.Any(), gomock.Any()).Return(&llm.Response{Content: []session.Block{session.TextBlock("done")}}, nil),
	)

	var out bytes.Buffer
	run(t, New(newAgent(client, caller), strings.NewReader("go\n"), &out, WithStreaming(true), WithVerbosity(agent.ToolVerbosityNone)))
	assert.NotContains(t, out.String(), "Calling tool")
	assert.Equal(t, []string{"list"}, caller.calls)
}

func TestTerminal_initialPrompt(t *testing.T) {
	var out bytes.Buffer
	term := New(newAgent(&llm.MockClient{}, &stubCaller{}), strings.NewReader(""), &out)
	require.NoError(t, term.Run(context.Background(), "first"))
	assert.Contains(t, out.String(), "You said: 'first'")
}
