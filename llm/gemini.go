package llm

import (
	"context"
	"encoding/json"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new GeminiClient.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiClient{client: client}, nil
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	history := convertMessagesToGeminiContent(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}

	model := g.client.GenerativeModel(req.Model)
	model.Tools = convertToolsToGeminiTools(req.Tools)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	// The last message is the new prompt.
	last := history[len(history)-1]
	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts conversation messages to Gemini's
// format. Gemini matches function responses by name, so tool_result blocks
// are resolved to the name of the tool_use they answer.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	names := map[string]string{}
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		var parts []genai.Part
		for _, b := range msg.Content {
			switch b.Type {
			case session.BlockText:
				if b.Text != "" {
					parts = append(parts, genai.Text(b.Text))
				}
			case session.BlockToolUse:
				names[b.ID] = b.Name
				args, _ := b.Args()
				parts = append(parts, genai.FunctionCall{Name: b.Name, Args: args})
			case session.BlockToolResult:
				key := "result"
				if b.IsError {
					key = "error"
				}
				parts = append(parts, genai.FunctionResponse{
					Name:     names[b.ToolUseID],
					Response: map[string]any{key: b.Content},
				})
			}
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents
}

// convertToolsToGeminiTools converts tool descriptors to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(ds []tools.Descriptor) []*genai.Tool {
	if len(ds) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, d := range ds {
		var raw map[string]any
		_ = json.Unmarshal(d.Schema(), &raw)
		params := convertSchema(raw)
		if params == nil || params.Type != genai.TypeObject {
			params = &genai.Schema{Type: genai.TypeObject}
		}
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// convertSchema maps the JSON schema keywords Gemini understands onto
// genai.Schema. Everything else is dropped.
func convertSchema(raw map[string]any) *genai.Schema {
	if raw == nil {
		return nil
	}
	s := &genai.Schema{}
	switch raw["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if desc, ok := raw["description"].(string); ok {
		s.Description = desc
	}
	if enum, ok := raw["enum"].([]any); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = convertSchema(pm)
			}
		}
	}
	if req, ok := raw["required"].([]any); ok {
		for _, v := range req {
			if str, ok := v.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = convertSchema(items)
	}
	return s
}

// processGeminiResponse converts a Gemini response into a Response. Gemini
// does not assign call ids, so each function call gets a fresh one.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}
	cand := resp.Candidates[0]
	out := &Response{StopReason: cand.FinishReason.String()}
	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content = append(out.Content, session.TextBlock(string(v)))
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to encode arguments for '%s'", v.Name)
			}
			if v.Args == nil {
				args = json.RawMessage(`{}`)
			}
			out.Content = append(out.Content, session.ToolUseBlock("call_"+uuid.NewString(), v.Name, args))
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return out, nil
}
