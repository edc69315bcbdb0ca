package types

import "encoding/json"

// MessageRole is the role of a chat message sender.
type MessageRole = string

const (
	SystemRole    MessageRole = "system"
	UserRole      MessageRole = "user"
	AssistantRole MessageRole = "assistant"
)

// Message is a single chat message in provider-neutral form.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// GenerationParams are the sampling parameters forwarded to the provider.
// Zero-valued fields are omitted from requests and from fingerprints.
type GenerationParams struct {
	Temperature      *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Stop             []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// IsZero reports whether no parameter is set.
func (p GenerationParams) IsZero() bool {
	return p.Temperature == nil && p.TopP == nil && p.PresencePenalty == nil &&
		p.FrequencyPenalty == nil && p.MaxTokens == 0 && len(p.Stop) == 0
}

// Request is a provider-neutral completion request for a single dataset row.
// It is what gets persisted to requests.jsonl, so a run can resume without
// re-formatting the input dataset.
type Request struct {
	Model            string           `json:"model"`
	Messages         []Message        `json:"messages"`
	GenerationParams GenerationParams `json:"generation_params,omitempty"`
	// OriginalRow is the raw input row the prompt was formatted from.
	OriginalRow json.RawMessage `json:"original_row,omitempty"`
	// OriginalRowIdx identifies the row within the run. It doubles as the
	// provider batch custom_id.
	OriginalRowIdx int `json:"original_row_idx"`
	// StructuredOutput marks requests whose completion must decode into the
	// run's response format.
	StructuredOutput bool `json:"structured_output,omitempty"`
}

// UserMessage returns the content of the last user message, or "".
func (r *Request) UserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == UserRole {
			return r.Messages[i].Content
		}
	}
	return ""
}

// SystemMessage returns the concatenated system messages, or "".
func (r *Request) SystemMessage() string {
	var out string
	for _, m := range r.Messages {
		if m.Role == SystemRole {
			if out != "" {
				out += "\n"
			}
			out += m.Content
		}
	}
	return out
}
