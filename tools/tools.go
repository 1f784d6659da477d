package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Descriptor describes a tool offered by the remote server. It is immutable
// once fetched.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Schema returns the input schema, or an empty object schema when the server
// did not send one.
func (d Descriptor) Schema() json.RawMessage {
	if len(d.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return d.InputSchema
}

// Catalog holds the tools of one session in server order.
type Catalog struct {
	tools []Descriptor
	index map[string]int
}

func NewCatalog(ds []Descriptor) *Catalog {
	c := &Catalog{index: make(map[string]int, len(ds))}
	for _, d := range ds {
		if _, dup := c.index[d.Name]; dup {
			continue
		}
		c.index[d.Name] = len(c.tools)
		c.tools = append(c.tools, d)
	}
	return c
}

// All returns a copy of the descriptors.
func (c *Catalog) All() []Descriptor {
	if c == nil {
		return nil
	}
	out := make([]Descriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *Catalog) Get(name string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.tools[i], true
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tools)
}

// Filter hides tools by name. A tool is kept when it matches at least one
// Allow pattern (or Allow is empty) and matches no Deny pattern.
type Filter struct {
	Allow []string
	Deny  []string
}

// Validate checks that all patterns are well formed.
func (f Filter) Validate() error {
	for _, p := range append(append([]string{}, f.Allow...), f.Deny...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid tool pattern '%s'", p)
		}
	}
	return nil
}

func (f Filter) Keep(name string) bool {
	if len(f.Allow) > 0 && !matchAny(name, f.Allow) {
		return false
	}
	return !matchAny(name, f.Deny)
}

func (f Filter) Apply(ds []Descriptor) []Descriptor {
	var out []Descriptor
	for _, d := range ds {
		if f.Keep(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// matchAny checks if a tool name matches any of the glob patterns. Tool names
// are matched like paths so "fs/**" keeps every tool under a "fs/" prefix.
func matchAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ResultText renders a tool result for the model: text blocks become their
// text, anything else is passed through as JSON.
func ResultText(raw json.RawMessage) string {
	var block struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &block); err == nil && block.Type == "text" {
		return block.Text
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
