package llm

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockClient is a client for the Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client *bedrockruntime.Client
}

// NewBedrockClient creates a new BedrockClient. AWS credentials come from
// the default chain. region and endpoint are optional overrides.
func NewBedrockClient(ctx context.Context, region, endpoint string) (*BedrockClient, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &BedrockClient{client: client}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	body, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

type bedrockTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type bedrockRequest struct {
	AnthropicVersion string            `json:"anthropic_version"`
	MaxTokens        int               `json:"max_tokens"`
	System           string            `json:"system,omitempty"`
	Messages         []session.Message `json:"messages"`
	Tools            []bedrockTool     `json:"tools,omitempty"`
}

// createAnthropicRequest creates the request body for Anthropic models on
// Bedrock. Conversation blocks already use the Anthropic wire shape.
func createAnthropicRequest(req *Request) ([]byte, error) {
	out := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        req.MaxTokens,
		System:           req.System,
		Messages:         make([]session.Message, 0, len(req.Messages)),
	}
	for _, msg := range req.Messages {
		var blocks []session.Block
		for _, b := range msg.Content {
			if b.Type == session.BlockText && b.Text == "" {
				continue
			}
			if b.Type == session.BlockToolUse && len(b.Input) == 0 {
				b.Input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, b)
		}
		if len(blocks) > 0 {
			out.Messages = append(out.Messages, session.Message{Role: msg.Role, Content: blocks})
		}
	}
	for _, d := range req.Tools {
		out.Tools = append(out.Tools, bedrockTool{Name: d.Name, Description: d.Description, InputSchema: d.Schema()})
	}
	return json.Marshal(out)
}

type bedrockResponse struct {
	Content    []session.Block `json:"content"`
	StopReason string          `json:"stop_reason"`
	Error      json.RawMessage `json:"error"`
}

// processBedrockResponse converts a Bedrock response body into a Response.
func processBedrockResponse(body []byte) (*Response, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, errors.New("Bedrock API error: %s", string(resp.Error))
	}
	out := &Response{StopReason: resp.StopReason}
	for _, b := range resp.Content {
		switch b.Type {
		case session.BlockText, session.BlockToolUse:
			out.Content = append(out.Content, b)
		}
	}
	return out, nil
}
