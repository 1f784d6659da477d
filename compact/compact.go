// Package compact turns a finished conversation into a short summary that
// can be carried into the next query in place of the full history.
package compact

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/llm"
	"github.com/m4xw311/mcpchat/session"
)

const (
	DefaultMaxTokens = 200

	prompt = `Summarize the conversation below so it can be continued later.
Prioritize, most recent first:
- what the user is trying to achieve
- the actions taken and their outcomes
- any identifiers (file names, ids, URLs, values) needed to continue the work
Reply with the summary only.`
)

type Compactor struct {
	client    llm.Client
	model     string
	maxTokens int
	threshold int
	counter   Counter
	logger    *slog.Logger
}

type Option func(*Compactor)

// WithModel sets the model used for summaries.
func WithModel(model string) Option {
	return func(c *Compactor) { c.model = model }
}

// WithMaxTokens bounds the length of a summary.
func WithMaxTokens(n int) Option {
	return func(c *Compactor) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithThreshold sets the transcript size in tokens from which Compact asks
// the model for a summary. Zero summarizes every conversation.
func WithThreshold(tokens int) Option {
	return func(c *Compactor) { c.threshold = tokens }
}

func WithCounter(counter Counter) Option {
	return func(c *Compactor) {
		if counter != nil {
			c.counter = counter
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(c *Compactor) {
		if lg != nil {
			c.logger = lg
		}
	}
}

func New(client llm.Client, opts ...Option) *Compactor {
	c := &Compactor{
		client:    client,
		maxTokens: DefaultMaxTokens,
		counter:   ApproxCounter{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize asks the model for a summary of msgs in one bounded call. It
// returns the first text block of the reply, or "" if there is none.
func (c *Compactor) Summarize(ctx context.Context, msgs []session.Message) (string, error) {
	transcript := session.Transcript(msgs)
	resp, err := c.client.Chat(ctx, &llm.Request{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []session.Message{session.UserText(prompt + "\n\n" + transcript)},
	})
	if err != nil {
		return "", &errors.ModelCallError{Model: c.model, Err: err}
	}
	for _, b := range resp.Content {
		if b.Type == session.BlockText {
			return strings.TrimSpace(b.Text), nil
		}
	}
	return "", nil
}

// ShouldCompact reports whether the transcript of msgs has reached the
// threshold.
func (c *Compactor) ShouldCompact(msgs []session.Message) bool {
	if c.threshold <= 0 {
		return true
	}
	return c.counter.Count(session.Transcript(msgs)) >= c.threshold
}

// Compact returns a summary of msgs when they are over the threshold, and
// the plain transcript otherwise.
func (c *Compactor) Compact(ctx context.Context, msgs []session.Message) (string, error) {
	if !c.ShouldCompact(msgs) {
		c.logger.Debug("conversation below compaction threshold", "threshold", c.threshold)
		return strings.TrimSpace(session.Transcript(msgs)), nil
	}
	summary, err := c.Summarize(ctx, msgs)
	if err != nil {
		return "", err
	}
	c.logger.Debug("conversation compacted", "summary_tokens", c.counter.Count(summary))
	return summary, nil
}
