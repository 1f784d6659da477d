package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
)

//go:generate mockgen -destination=mock_llm/mock_client.go . Client,StreamingClient

// Request is one call to the model.
type Request struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []session.Message
	Tools     []tools.Descriptor
}

// Response is the assistant turn produced by the model.
type Response struct {
	Content    []session.Block
	StopReason string
}

// Message returns the response as an assistant message.
func (r *Response) Message() session.Message {
	return session.Message{Role: session.RoleAssistant, Content: r.Content}
}

// Client is the interface for interacting with a Large Language Model.
type Client interface {
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// StreamingClient is a Client that can report text as it is generated.
// onText receives each text delta; the returned Response holds the full turn.
type StreamingClient interface {
	Client
	ChatStream(ctx context.Context, req *Request, onText func(string)) (*Response, error)
}

// Options selects and configures a backend.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Region   string
}

// New creates the backend named by opts.Provider. An empty provider or
// "mock" returns the echo backend.
func New(ctx context.Context, opts Options) (Client, error) {
	switch strings.ToLower(opts.Provider) {
	case "anthropic":
		return NewAnthropicClient(opts.APIKey, opts.BaseURL)
	case "openai":
		return NewOpenAIClient(opts.APIKey, opts.BaseURL)
	case "gemini":
		return NewGeminiClient(ctx, opts.APIKey)
	case "bedrock":
		return NewBedrockClient(ctx, opts.Region, opts.BaseURL)
	case "", "mock":
		return &MockClient{}, nil
	default:
		return nil, errors.New("unknown llm provider '%s'", opts.Provider)
	}
}

// MockClient parrots the user's last message back. It never calls tools.
type MockClient struct{}

func (m *MockClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == session.RoleUser {
			if last = req.Messages[i].Text(); last != "" {
				break
			}
		}
	}
	return &Response{
		Content:    []session.Block{session.TextBlock(fmt.Sprintf("I am a mock LLM. You said: '%s'.", last))},
		StopReason: "end_turn",
	}, nil
}

// inputSchema is the subset of a JSON schema the backends forward.
type inputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}
