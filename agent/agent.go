package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/m4xw311/mcpchat/compact"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/llm"
	"github.com/m4xw311/mcpchat/metrics"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

// ToolVerbosity controls how much of a tool call an interactive surface shows.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

const outcomeDeclined = "declined"

// ToolCaller is the tool server as seen by the agent.
type ToolCaller interface {
	Tools() []tools.Descriptor
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// ProcessCallbacks reports the events of a query as they happen. Every field
// is optional.
type ProcessCallbacks struct {
	// OnAssistantMessage receives the text of each assistant turn.
	OnAssistantMessage func(message string)
	// OnTextDelta receives text as it is generated, when the backend streams.
	OnTextDelta func(delta string)
	OnToolCall  func(call session.Block)
	// OnToolResult receives the result rendered as the model will see it.
	OnToolResult func(call session.Block, result string)
	OnToolError  func(call session.Block, err error)
	// ShouldExecuteTool is asked before each call in prompt mode.
	ShouldExecuteTool func(call session.Block) bool
	OnWarning         func(warning string)
	OnComplete        func(conv *session.Conversation)
}

type Agent struct {
	client        llm.Client
	caller        ToolCaller
	model         string
	maxTokens     int
	maxIterations int
	system        string
	compactor     *compact.Compactor
	parallel      int
	mode          Mode
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

func New(client llm.Client, caller ToolCaller, opts ...Option) *Agent {
	a := &Agent{
		client:        client,
		caller:        caller,
		maxTokens:     DefaultMaxTokens,
		maxIterations: DefaultMaxIterations,
		parallel:      1,
		mode:          ModeAuto,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.compactor == nil {
		a.compactor = compact.New(client, compact.WithModel(a.model), compact.WithLogger(a.logger))
	}
	return a
}

func (a *Agent) Mode() Mode { return a.mode }

func (a *Agent) Model() string { return a.model }

// Tools returns the tools the model is offered.
func (a *Agent) Tools() []tools.Descriptor { return a.caller.Tools() }

// ProcessQuery runs query to completion and returns the execution log and a
// summary for the next query. priorSummary may be empty.
func (a *Agent) ProcessQuery(ctx context.Context, query, priorSummary string) (string, string, error) {
	return a.ProcessQueryWithApproval(ctx, query, priorSummary, nil)
}

// ProcessQueryWithApproval is ProcessQuery with approve consulted before each
// tool call in prompt mode. A nil approve allows every call.
func (a *Agent) ProcessQueryWithApproval(ctx context.Context, query, priorSummary string, approve func(call session.Block) bool) (string, string, error) {
	var lines []string
	cb := ProcessCallbacks{
		ShouldExecuteTool: approve,
		OnAssistantMessage: func(message string) {
			lines = append(lines, message)
		},
		OnToolCall: func(call session.Block) {
			lines = append(lines, fmt.Sprintf("Calling tool: '%s' with args: %s", call.Name, inputJSON(call)))
		},
		OnToolResult: func(call session.Block, result string) {
			lines = append(lines, "Tool result: "+result)
		},
		OnToolError: func(call session.Block, err error) {
			lines = append(lines, fmt.Sprintf("Error calling tool '%s': %v", call.Name, err))
		},
		OnWarning: func(warning string) {
			lines = append(lines, warning)
		},
	}

	summary, err := a.run(ctx, query, priorSummary, cb)
	if err != nil {
		return "", "", err
	}
	return strings.Join(lines, "\n"), summary, nil
}

// ProcessQueryWithStreaming runs query to completion, reporting each event
// through cb as soon as it happens. It returns the summary for the next query.
func (a *Agent) ProcessQueryWithStreaming(ctx context.Context, query, priorSummary string, cb ProcessCallbacks) (string, error) {
	return a.run(ctx, query, priorSummary, cb)
}

func (a *Agent) run(ctx context.Context, query, priorSummary string, cb ProcessCallbacks) (string, error) {
	conv := session.New()
	if priorSummary != "" {
		conv.AddMessage(session.AssistantText("Summary of the conversation so far: " + priorSummary))
	}
	conv.AddMessage(session.UserText(query))

	descs := a.caller.Tools()
	known := make(map[string]bool, len(descs))
	for _, d := range descs {
		known[d.Name] = true
	}

	completed := false
	iterations := 0
	for iterations < a.maxIterations {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		iterations++

		resp, err := a.chat(ctx, conv, descs, cb.OnTextDelta)
		if err != nil {
			a.metrics.Iterations(iterations)
			return "", err
		}
		reply := resp.Message()
		if text := reply.Text(); text != "" && cb.OnAssistantMessage != nil {
			cb.OnAssistantMessage(text)
		}

		uses := reply.ToolUses()
		if len(uses) == 0 {
			conv.AddMessage(reply)
			completed = true
			break
		}
		results := a.runTools(ctx, uses, known, cb)
		conv.AddMessage(reply, session.Message{Role: session.RoleUser, Content: results})
	}
	a.metrics.Iterations(iterations)

	if !completed {
		warning := fmt.Sprintf("Warning: reached maximum iterations (%d) without completion", a.maxIterations)
		a.logger.Warn("reached maximum iterations without completion", "max_iterations", a.maxIterations)
		if cb.OnWarning != nil {
			cb.OnWarning(warning)
		}
	}
	if cb.OnComplete != nil {
		cb.OnComplete(conv)
	}

	summary, err := a.compactor.Compact(ctx, conv.Messages)
	if err != nil {
		a.logger.Warn("compaction failed, keeping previous summary", "error", err)
		return priorSummary, nil
	}
	return summary, nil
}

func (a *Agent) chat(ctx context.Context, conv *session.Conversation, descs []tools.Descriptor, onText func(string)) (*llm.Response, error) {
	req := &llm.Request{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    a.system,
		Messages:  conv.Messages,
		Tools:     descs,
	}
	var (
		resp *llm.Response
		err  error
	)
	if sc, ok := a.client.(llm.StreamingClient); ok && onText != nil {
		resp, err = sc.ChatStream(ctx, req, onText)
	} else {
		resp, err = a.client.Chat(ctx, req)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.ModelCallError{Model: a.model, Err: err}
	}
	return resp, nil
}

type toolOutcome struct {
	result string
	err    error
}

func (o toolOutcome) block(toolUseID string) session.Block {
	if o.err != nil {
		return session.ToolResultBlock(toolUseID, o.err.Error(), true)
	}
	return session.ToolResultBlock(toolUseID, o.result, false)
}

// runTools executes the tool calls of one turn and returns one tool_result
// per call, in request order. Failures become is_error results.
func (a *Agent) runTools(ctx context.Context, uses []session.Block, known map[string]bool, cb ProcessCallbacks) []session.Block {
	outs := make([]toolOutcome, len(uses))
	if a.parallel <= 1 {
		for i, use := range uses {
			if cb.OnToolCall != nil {
				cb.OnToolCall(use)
			}
			if err := a.approve(use, known, cb); err != nil {
				outs[i] = toolOutcome{err: err}
			} else {
				outs[i] = a.callTool(ctx, use)
			}
			a.report(use, outs[i], cb)
		}
	} else {
		approved := make([]bool, len(uses))
		for i, use := range uses {
			if cb.OnToolCall != nil {
				cb.OnToolCall(use)
			}
			if err := a.approve(use, known, cb); err != nil {
				outs[i] = toolOutcome{err: err}
				continue
			}
			approved[i] = true
		}
		var g errgroup.Group
		g.SetLimit(a.parallel)
		for i, use := range uses {
			if !approved[i] {
				continue
			}
			g.Go(func() error {
				outs[i] = a.callTool(ctx, use)
				return nil
			})
		}
		_ = g.Wait()
		for i, use := range uses {
			a.report(use, outs[i], cb)
		}
	}

	blocks := make([]session.Block, len(uses))
	for i, use := range uses {
		blocks[i] = outs[i].block(use.ID)
	}
	return blocks
}

func (a *Agent) approve(use session.Block, known map[string]bool, cb ProcessCallbacks) error {
	if !known[use.Name] {
		a.metrics.ToolCall(metrics.OutcomeError)
		return &errors.ToolExecutionError{Tool: use.Name, Message: "no such tool"}
	}
	if a.mode == ModePrompt && cb.ShouldExecuteTool != nil && !cb.ShouldExecuteTool(use) {
		a.metrics.ToolCall(outcomeDeclined)
		return &errors.ToolExecutionError{Tool: use.Name, Message: "execution declined by the user"}
	}
	return nil
}

func (a *Agent) callTool(ctx context.Context, use session.Block) toolOutcome {
	args, err := use.Args()
	if err != nil {
		a.metrics.ToolCall(metrics.OutcomeError)
		return toolOutcome{err: err}
	}
	a.logger.Debug("calling tool", "tool", use.Name, "id", use.ID)
	raw, err := a.caller.CallTool(ctx, use.Name, args)
	if err != nil {
		a.logger.Debug("tool call failed", "tool", use.Name, "error", err)
		a.metrics.ToolCall(metrics.OutcomeError)
		return toolOutcome{err: err}
	}
	a.metrics.ToolCall(metrics.OutcomeOK)
	return toolOutcome{result: tools.ResultText(raw)}
}

func (a *Agent) report(use session.Block, out toolOutcome, cb ProcessCallbacks) {
	if out.err != nil {
		if cb.OnToolError != nil {
			cb.OnToolError(use, out.err)
		}
		return
	}
	if cb.OnToolResult != nil {
		cb.OnToolResult(use, out.result)
	}
}

func inputJSON(b session.Block) string {
	if len(b.Input) == 0 {
		return "{}"
	}
	return string(b.Input)
}
