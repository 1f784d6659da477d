package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one element of a message's content. Which fields are set depends
// on Type:
//
//	text:        Text
//	tool_use:    ID, Name, Input
//	tool_result: ToolUseID, Content, IsError
type Block struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Args decodes the tool_use input into a map. An empty input is an empty map.
func (b Block) Args() (map[string]any, error) {
	args := map[string]any{}
	if len(b.Input) == 0 || string(b.Input) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(b.Input, &args); err != nil {
		return nil, fmt.Errorf("invalid input for tool '%s': %w", b.Name, err)
	}
	return args, nil
}

type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock(text)}}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []Block{TextBlock(text)}}
}

// Text joins the text blocks of the message.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks in request order.
func (m Message) ToolUses() []Block {
	var uses []Block
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Conversation is the append-only message sequence of one query.
type Conversation struct {
	Messages []Message `json:"messages"`
}

func New() *Conversation {
	return &Conversation{Messages: []Message{}}
}

// AddMessage appends messages to the conversation history.
func (c *Conversation) AddMessage(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
}

func (c *Conversation) Len() int { return len(c.Messages) }

// UnmatchedToolUses returns the ids of tool_use blocks that are not answered
// by a tool_result in the immediately following user message.
func (c *Conversation) UnmatchedToolUses() []string {
	var missing []string
	for i, m := range c.Messages {
		if m.Role != RoleAssistant {
			continue
		}
		answered := map[string]bool{}
		if i+1 < len(c.Messages) && c.Messages[i+1].Role == RoleUser {
			for _, b := range c.Messages[i+1].Content {
				if b.Type == BlockToolResult {
					answered[b.ToolUseID] = true
				}
			}
		}
		for _, u := range m.ToolUses() {
			if !answered[u.ID] {
				missing = append(missing, u.ID)
			}
		}
	}
	return missing
}

// Transcript renders the messages as plain text, one line per block.
func Transcript(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				fmt.Fprintf(&sb, "%s: %s\n", m.Role, b.Text)
			case BlockToolUse:
				fmt.Fprintf(&sb, "%s called tool %s with %s\n", m.Role, b.Name, string(b.Input))
			case BlockToolResult:
				if b.IsError {
					fmt.Fprintf(&sb, "tool error: %s\n", b.Content)
				} else {
					fmt.Fprintf(&sb, "tool result: %s\n", b.Content)
				}
			}
		}
	}
	return sb.String()
}
