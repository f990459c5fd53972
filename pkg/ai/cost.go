package ai

import "groceryai/pkg/domain"

// costPer1KTokens is a flat $/1K-token table keyed by model name, used for
// usage accounting in logs and run summaries.
var costPer1KTokens = map[string]struct {
	Prompt     float64
	Completion float64
}{
	"text-embedding-3-small": {Prompt: 0.00002},
	"text-embedding-3-large": {Prompt: 0.00013},
	"gpt-4o-mini":            {Prompt: 0.00015, Completion: 0.0006},
	"gpt-4o":                 {Prompt: 0.0025, Completion: 0.01},
}

// EstimateCost returns the dollar cost of a call, or nil when the model is
// not in the table.
func EstimateCost(model string, usage domain.Usage) *float64 {
	rates, ok := costPer1KTokens[model]
	if !ok {
		return nil
	}
	cost := float64(usage.PromptTokens)/1000*rates.Prompt +
		float64(usage.CompletionTokens)/1000*rates.Completion
	return &cost
}
