package compact

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/m4xw311/mcpchat/errors"
)

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// ApproxCounter estimates one token per four bytes. It needs no encoding
// tables and is the fallback when tiktoken cannot be loaded.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// NewTiktokenCounter returns a counter for model. Models tiktoken does not
// know use cl100k_base, which is close enough for a compaction threshold.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if enc, ok := encodingCache[model]; ok {
		return &TiktokenCounter{encoding: enc}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get encoding")
		}
	}
	encodingCache[model] = enc
	return &TiktokenCounter{encoding: enc}, nil
}

func (tc *TiktokenCounter) Count(text string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoding.Encode(text, nil, nil))
}
