package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new AnthropicClient. baseURL may be empty.
func NewAnthropicClient(apiKey, baseURL string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{client: &client}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	resp, err := a.client.Messages.New(ctx, anthropicParams(req))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return processAnthropicResponse(resp), nil
}

// ChatStream sends a chat request and reports text deltas as they arrive.
func (a *AnthropicClient) ChatStream(ctx context.Context, req *Request, onText func(string)) (*Response, error) {
	stream := a.client.Messages.NewStreaming(ctx, anthropicParams(req))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, errors.Wrapf(err, "failed to accumulate Anthropic stream")
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && onText != nil {
				onText(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to stream message from Anthropic")
	}
	return processAnthropicResponse(&message), nil
}

func anthropicParams(req *Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  convertMessagesToAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, t := range convertToolsToAnthropicTools(req.Tools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &t})
	}
	return params
}

// convertMessagesToAnthropicMessages converts conversation messages to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []session.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Type {
			case session.BlockText:
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case session.BlockToolUse:
				var input any = json.RawMessage(`{}`)
				if len(b.Input) > 0 {
					input = b.Input
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: b.ID, Name: b.Name, Input: input},
				})
			case session.BlockToolResult:
				result := &anthropic.ToolResultBlockParam{
					ToolUseID: b.ToolUseID,
					IsError:   anthropic.Bool(b.IsError),
				}
				// Empty text blocks are rejected by the API; a result without
				// content is valid.
				if b.Content != "" {
					result.Content = []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: b.Content},
					}}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolResult: result})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == session.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

// convertToolsToAnthropicTools converts tool descriptors to Anthropic's tool format.
func convertToolsToAnthropicTools(ds []tools.Descriptor) []anthropic.ToolParam {
	var out []anthropic.ToolParam
	for _, d := range ds {
		var schema inputSchema
		_ = json.Unmarshal(d.Schema(), &schema)
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}
		out = append(out, anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		})
	}
	return out
}

// processAnthropicResponse converts an Anthropic message into a Response.
func processAnthropicResponse(resp *anthropic.Message) *Response {
	out := &Response{StopReason: string(resp.StopReason)}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content = append(out.Content, session.TextBlock(c.Text))
		case anthropic.ToolUseBlock:
			out.Content = append(out.Content, session.ToolUseBlock(c.ID, c.Name, c.Input))
		}
	}
	return out
}
