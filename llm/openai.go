package llm

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
)

// OpenAIClient is a client for the OpenAI Chat Completion API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAIClient. baseURL selects a compatible
// endpoint and may be empty.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	// The &c is required, do not replace and just use c
	c := openai.NewClient(options...)
	return &OpenAIClient{client: &c}, nil
}

// Chat sends a chat request to OpenAI.
func (o *OpenAIClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: convertMessagesToOpenaiContent(req.System, req.Messages),
		Tools:    convertToolsToOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}
	return processOpenaiResponse(resp), nil
}

// processOpenaiResponse converts an OpenAI completion into a Response.
func processOpenaiResponse(resp *openai.ChatCompletion) *Response {
	if len(resp.Choices) == 0 {
		return &Response{}
	}
	choice := resp.Choices[0]
	out := &Response{StopReason: string(choice.FinishReason)}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, session.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.Content = append(out.Content, session.ToolUseBlock(tc.ID, tc.Function.Name, args))
	}
	return out
}

// convertMessagesToOpenaiContent converts conversation messages to OpenAI's
// format. Tool results become one tool message each.
func convertMessagesToOpenaiContent(system string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, u := range msg.ToolUses() {
				args := "{}"
				if len(u.Input) > 0 {
					args = string(u.Input)
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   u.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      u.Name,
						Arguments: args,
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		default:
			for _, b := range msg.Content {
				if b.Type == session.BlockToolResult {
					content := b.Content
					if b.IsError {
						content = "Error: " + content
					}
					chatMessages = append(chatMessages, openai.ToolMessage(content, b.ToolUseID))
				}
			}
			if text := msg.Text(); text != "" {
				chatMessages = append(chatMessages, openai.UserMessage(text))
			}
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts tool descriptors to the OpenAI tool format.
func convertToolsToOpenAITools(ds []tools.Descriptor) []openai.ChatCompletionToolUnionParam {
	if len(ds) == 0 {
		return nil
	}
	var out []openai.ChatCompletionToolUnionParam
	for _, d := range ds {
		params := openai.FunctionParameters{}
		if err := json.Unmarshal(d.Schema(), &params); err != nil || len(params) == 0 {
			params = openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  params,
		}))
	}
	return out
}
