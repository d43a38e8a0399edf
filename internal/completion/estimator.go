package completion

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Per-message framing overhead of the chat format.
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// Estimator counts prompt tokens with the cl100k_base encoding.
type Estimator struct {
	codec tokenizer.Codec
}

func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// Count returns the token count of text, falling back to a
// four-bytes-per-token approximation if encoding fails.
func (e *Estimator) Count(text string) int64 {
	if e == nil || e.codec == nil {
		return int64(len(text)/4 + 1)
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return int64(len(text)/4 + 1)
	}
	return int64(len(ids))
}

// CountMessages returns the prompt size of messages including chat framing.
func (e *Estimator) CountMessages(messages []Message) int64 {
	total := int64(replyPriming)
	for _, m := range messages {
		total += tokensPerMessage + e.Count(m.Role) + e.Count(m.Content)
	}
	return total
}
