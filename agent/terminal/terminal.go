package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/m4xw311/mcpchat/agent"
	"github.com/m4xw311/mcpchat/session"
)

const prompt = "You: "

var (
	assistantColor = color.New(color.FgCyan)
	toolColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	infoColor      = color.New(color.Faint)
)

// Terminal handles the interactive line mode for the agent.
type Terminal struct {
	agent     *agent.Agent
	in        *bufio.Scanner
	out       io.Writer
	verbosity agent.ToolVerbosity
	stream    bool
	summary   string
}

type Option func(*Terminal)

func WithVerbosity(v agent.ToolVerbosity) Option {
	return func(t *Terminal) { t.verbosity = v }
}

// WithStreaming sets the initial streaming state. The stream command
// toggles it.
func WithStreaming(on bool) Option {
	return func(t *Terminal) { t.stream = on }
}

// WithSummary seeds the conversation summary carried between queries.
func WithSummary(s string) Option {
	return func(t *Terminal) { t.summary = s }
}

func New(a *agent.Agent, in io.Reader, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		agent:     a,
		in:        bufio.NewScanner(in),
		out:       out,
		verbosity: agent.ToolVerbosityInfo,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Summary returns the summary that will be sent with the next query.
func (t *Terminal) Summary() string { return t.summary }

func (t *Terminal) Streaming() bool { return t.stream }

// Run reads lines until EOF, a quit command or ctx is done. Query errors
// are printed and do not end the session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		t.processTurn(ctx, initialPrompt)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(t.out, prompt)
		if !t.in.Scan() {
			fmt.Fprintln(t.out)
			break
		}
		line := strings.TrimSpace(t.in.Text())
		if line == "" {
			continue
		}
		if quit := t.command(ctx, line); quit {
			break
		}
	}
	return t.in.Err()
}

// command handles one input line and reports whether the session should end.
func (t *Terminal) command(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "quit", "exit", "/quit", "/exit":
		return true
	case "stream":
		t.stream = !t.stream
		state := "off"
		if t.stream {
			state = "on"
		}
		infoColor.Fprintf(t.out, "Streaming %s\n", state)
	case "context":
		if t.summary == "" {
			infoColor.Fprintln(t.out, "No conversation context yet.")
		} else {
			infoColor.Fprintf(t.out, "Context: %s\n", t.summary)
		}
	case "reset":
		t.summary = ""
		infoColor.Fprintln(t.out, "Context cleared.")
	case "tools":
		t.listTools()
	default:
		t.processTurn(ctx, line)
	}
	return false
}

func (t *Terminal) listTools() {
	descs := t.agent.Tools()
	if len(descs) == 0 {
		infoColor.Fprintln(t.out, "No tools available.")
		return
	}
	for _, d := range descs {
		if d.Description != "" {
			fmt.Fprintf(t.out, "  %s: %s\n", toolColor.Sprint(d.Name), d.Description)
		} else {
			fmt.Fprintf(t.out, "  %s\n", toolColor.Sprint(d.Name))
		}
	}
}

// processTurn runs query in streaming mode, reporting events as they
// happen, or in batched mode, printing the execution log when it is done.
func (t *Terminal) processTurn(ctx context.Context, query string) {
	var (
		summary string
		err     error
	)
	if t.stream {
		summary, err = t.agent.ProcessQueryWithStreaming(ctx, query, t.summary, t.callbacks())
	} else {
		var log string
		log, summary, err = t.agent.ProcessQueryWithApproval(ctx, query, t.summary, t.confirm)
		if err == nil && log != "" {
			fmt.Fprintln(t.out, log)
		}
	}
	if err != nil {
		errorColor.Fprintf(t.out, "Error: %v\n", err)
		return
	}
	t.summary = summary
}

// callbacks reports the events of a streaming query.
func (t *Terminal) callbacks() agent.ProcessCallbacks {
	// streamed is set once text of the current assistant turn has been
	// printed through OnTextDelta.
	streamed := false
	return agent.ProcessCallbacks{
		OnTextDelta: func(delta string) {
			if !streamed {
				assistantColor.Fprint(t.out, "Assistant: ")
				streamed = true
			}
			assistantColor.Fprint(t.out, delta)
		},
		OnAssistantMessage: func(message string) {
			if streamed {
				fmt.Fprintln(t.out)
				streamed = false
				return
			}
			assistantColor.Fprintf(t.out, "Assistant: %s\n", message)
		},
		OnToolCall: func(call session.Block) {
			switch t.verbosity {
			case agent.ToolVerbosityAll:
				toolColor.Fprintf(t.out, "Calling tool `%s` with args: %s\n", call.Name, inputText(call))
			case agent.ToolVerbosityInfo:
				toolColor.Fprintf(t.out, "Calling tool `%s`\n", call.Name)
			}
		},
		OnToolResult: func(call session.Block, result string) {
			if t.verbosity == agent.ToolVerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", call.Name, result)
			}
		},
		OnToolError: func(call session.Block, err error) {
			if t.verbosity != agent.ToolVerbosityNone {
				errorColor.Fprintf(t.out, "Tool `%s` failed: %v\n", call.Name, err)
			}
		},
		ShouldExecuteTool: func(call session.Block) bool {
			return t.confirm(call)
		},
		OnWarning: func(warning string) {
			errorColor.Fprintln(t.out, warning)
		},
	}
}

// confirm asks on the terminal whether call may run. Only consulted in
// prompt mode.
func (t *Terminal) confirm(call session.Block) bool {
	toolColor.Fprintf(t.out, "Allow tool `%s` with args %s? (y/n): ", call.Name, inputText(call))
	if !t.in.Scan() {
		fmt.Fprintln(t.out)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(t.in.Text()))
	return answer == "y" || answer == "yes"
}

func inputText(b session.Block) string {
	if len(b.Input) == 0 {
		return "{}"
	}
	return string(b.Input)
}
