package processor

import (
	"strings"

	"github.com/bespokelabs/curator-go/types"
)

// modelPricing is USD per 1M tokens. Models are matched by longest prefix so
// dated snapshots (gpt-4o-mini-2024-07-18) resolve without their own entry.
type modelPricing struct {
	prompt     float64
	completion float64
}

var pricingTable = map[string]modelPricing{
	"gpt-4o-mini":        {0.15, 0.60},
	"gpt-4o":             {2.50, 10.00},
	"gpt-4-turbo":        {10.00, 30.00},
	"gpt-3.5-turbo":      {0.50, 1.50},
	"o1-preview":         {15.00, 60.00},
	"o1-mini":            {3.00, 12.00},
	"claude-3-5-sonnet":  {3.00, 15.00},
	"claude-3-5-haiku":   {0.80, 4.00},
	"claude-3-opus":      {15.00, 75.00},
	"claude-3-haiku":     {0.25, 1.25},
	"gemini-1.5-pro":     {1.25, 5.00},
	"gemini-1.5-flash":   {0.075, 0.30},
	"command-r-plus":     {2.50, 10.00},
	"command-r":          {0.15, 0.60},
}

// batchDiscount reflects the providers' 50% batch pricing.
const batchDiscount = 0.5

// Cost estimates the USD cost of a response. Unknown models cost zero.
func Cost(model string, usage types.TokenUsage, batch bool) float64 {
	p, ok := lookupPricing(model)
	if !ok {
		return 0
	}
	cost := float64(usage.PromptTokens)/1e6*p.prompt +
		float64(usage.CompletionTokens)/1e6*p.completion
	if batch {
		cost *= batchDiscount
	}
	return cost
}

func lookupPricing(model string) (modelPricing, bool) {
	model = strings.ToLower(model)
	var (
		best    modelPricing
		bestLen = -1
	)
	for prefix, p := range pricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best, bestLen >= 0
}
