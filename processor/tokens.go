package processor

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/bespokelabs/curator-go/types"
)

// TokenCounter defines the interface for counting tokens in a string.
// This abstraction allows for different tokenization strategies.
type TokenCounter interface {
	// Count returns the number of tokens in the given text according to the
	// implementation's tokenization strategy.
	Count(text string) int
}

// WordTokenCounter approximates token counts by splitting on whitespace.
// Used when no tiktoken encoding is available for a model.
type WordTokenCounter struct{}

// Count returns the number of words in the text.
func (w *WordTokenCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// TikTokenCounter provides accurate token counting using the tiktoken
// library, which implements the tokenization schemes used by OpenAI models.
type TikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTikTokenCounter creates a counter for the given encoding, e.g.
// "cl100k_base" (GPT-4, ChatGPT) or "o200k_base" (GPT-4o).
func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding: %w", err)
	}
	return &TikTokenCounter{tke: tke}, nil
}

// Count returns the exact number of tokens in the text.
func (t *TikTokenCounter) Count(text string) int {
	return len(t.tke.Encode(text, nil, nil))
}

// CounterForModel picks the best available counter for a model: the model's
// own tiktoken encoding, then cl100k_base, then a word counter.
func CounterForModel(model string) TokenCounter {
	if tke, err := tiktoken.EncodingForModel(model); err == nil {
		return &TikTokenCounter{tke: tke}
	}
	if tc, err := NewTikTokenCounter("cl100k_base"); err == nil {
		return tc
	}
	return &WordTokenCounter{}
}

// messageOverheadTokens is the per-message serialization overhead counted
// against the token budget, as in the original rate limiter.
const messageOverheadTokens = 4

// defaultCompletionEstimate is budgeted for the completion when the request
// sets no max_tokens.
const defaultCompletionEstimate = 1000

// EstimateRequestTokens returns the token budget a request should reserve:
// prompt tokens plus the expected completion size.
func EstimateRequestTokens(tc TokenCounter, req *types.Request) int {
	total := 0
	for _, m := range req.Messages {
		total += tc.Count(m.Content) + messageOverheadTokens
	}
	completion := req.GenerationParams.MaxTokens
	if completion == 0 {
		completion = defaultCompletionEstimate
	}
	return total + completion
}
