package types

import (
	"testing"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
)

func TestRequestCountsFromAnthropic(t *testing.T) {
	var c RequestCounts
	c.FromAnthropic(anthropic.RequestCounts{
		Processing: 2,
		Succeeded:  5,
		Canceled:   1,
		Errored:    2,
		Expired:    1,
	})
	if c.Succeeded != 5 {
		t.Errorf("succeeded, expect:5, got:%d", c.Succeeded)
	}
	if c.Failed != 4 {
		t.Errorf("failed, expect:4, got:%d", c.Failed)
	}
	if c.Total != 11 {
		t.Errorf("total, expect:11, got:%d", c.Total)
	}
	if c.Done() {
		t.Error("counts with processing requests reported done")
	}
}

func TestRequestCountsFromOpenAI(t *testing.T) {
	var c RequestCounts
	c.FromOpenAI(openai.BatchRequestCounts{Completed: 3, Failed: 1, Total: 4})
	if !c.Done() {
		t.Errorf("terminal counts not done: %+v", c)
	}
	var empty RequestCounts
	if empty.Done() {
		t.Error("zero counts reported done")
	}
}

func TestTokenUsageMerge(t *testing.T) {
	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Merge(TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	if u.PromptTokens != 11 || u.CompletionTokens != 7 || u.TotalTokens != 18 {
		t.Errorf("merge mismatch: %+v", u)
	}
}

func TestResponseErrors(t *testing.T) {
	var r Response
	if r.Failed() {
		t.Error("fresh response reported failed")
	}
	r.AddError(nil)
	if r.Failed() {
		t.Error("nil error recorded")
	}
}
