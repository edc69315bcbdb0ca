package types

import (
	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
)

// TokenUsage tracks token consumption for a single response or a whole run.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromOpenAI converts usage from an openai chat completion.
func (u *TokenUsage) FromOpenAI(v openai.Usage) {
	u.PromptTokens = v.PromptTokens
	u.CompletionTokens = v.CompletionTokens
	u.TotalTokens = v.TotalTokens
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// FromAnthropic converts usage from an anthropic messages response.
func (u *TokenUsage) FromAnthropic(v anthropic.MessagesUsage) {
	u.PromptTokens = v.InputTokens
	u.CompletionTokens = v.OutputTokens
	u.TotalTokens = v.InputTokens + v.OutputTokens
}

// Merge accumulates usage from another response.
func (u *TokenUsage) Merge(v TokenUsage) {
	u.PromptTokens += v.PromptTokens
	u.CompletionTokens += v.CompletionTokens
	u.TotalTokens += v.TotalTokens
}
