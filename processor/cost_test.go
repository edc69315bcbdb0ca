package processor

import (
	"math"
	"testing"

	"github.com/bespokelabs/curator-go/types"
)

func TestCost(t *testing.T) {
	usage := types.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}
	tests := []struct {
		model string
		batch bool
		want  float64
	}{
		{"gpt-4o-mini", false, 0.75},
		{"gpt-4o-mini", true, 0.375},
		// Dated snapshots resolve through the prefix.
		{"gpt-4o-mini-2024-07-18", false, 0.75},
		// gpt-4o must not match the gpt-4o-mini entry.
		{"gpt-4o", false, 12.50},
		{"claude-3-5-haiku-20241022", false, 4.80},
		{"totally-unknown-model", false, 0},
	}
	for _, tt := range tests {
		got := Cost(tt.model, usage, tt.batch)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Cost(%s, batch=%v), expect:%v, got:%v", tt.model, tt.batch, tt.want, got)
		}
	}
}

func TestCostZeroUsage(t *testing.T) {
	if got := Cost("gpt-4o-mini", types.TokenUsage{}, false); got != 0 {
		t.Errorf("zero usage cost, expect:0, got:%v", got)
	}
}
