// Package cost prices LLM calls and keeps the append-only spend ledger with
// daily and projected-monthly alerting.
package cost

import (
	"math"
	"strings"
	"unicode/utf8"
)

// ModelPricing is the per-1K-token rate card for one model family.
type ModelPricing struct {
	Model              string
	InputCostPer1KTok  float64 // USD per 1K input tokens
	OutputCostPer1KTok float64 // USD per 1K output tokens
}

// PricingTable contains current Anthropic and Gemini pricing as of mid 2025.
// Keys are model-name prefixes; dated releases resolve through PricingFor.
var PricingTable = map[string]ModelPricing{
	"claude-3-5-haiku": {
		Model:              "claude-3-5-haiku",
		InputCostPer1KTok:  0.0008, // $0.80 per 1M tokens
		OutputCostPer1KTok: 0.004,  // $4.00 per 1M tokens
	},
	"claude-3-5-sonnet": {
		Model:              "claude-3-5-sonnet",
		InputCostPer1KTok:  0.003, // $3.00 per 1M tokens
		OutputCostPer1KTok: 0.015, // $15.00 per 1M tokens
	},
	"claude-sonnet-4": {
		Model:              "claude-sonnet-4",
		InputCostPer1KTok:  0.003,
		OutputCostPer1KTok: 0.015,
	},
	"claude-opus-4": {
		Model:              "claude-opus-4",
		InputCostPer1KTok:  0.015, // $15.00 per 1M tokens
		OutputCostPer1KTok: 0.075, // $75.00 per 1M tokens
	},
	"gemini-2.0-flash": {
		Model:              "gemini-2.0-flash",
		InputCostPer1KTok:  0.0001, // $0.10 per 1M tokens
		OutputCostPer1KTok: 0.0004, // $0.40 per 1M tokens
	},
	"gemini-1.5-flash": {
		Model:              "gemini-1.5-flash",
		InputCostPer1KTok:  0.000075,
		OutputCostPer1KTok: 0.0003,
	},
	"gemini-1.5-pro": {
		Model:              "gemini-1.5-pro",
		InputCostPer1KTok:  0.0035,
		OutputCostPer1KTok: 0.0105,
	},
}

// fallbackPricing prices unknown models like mid-tier Sonnet so spend is
// over-counted rather than silently missed.
var fallbackPricing = PricingTable["claude-3-5-sonnet"]

// PricingFor resolves a concrete model name (including dated releases like
// claude-sonnet-4-20250514) to its rate card by longest-prefix match.
func PricingFor(model string) ModelPricing {
	best := ""
	for prefix := range PricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return fallbackPricing
	}
	return PricingTable[best]
}

// ComputeCost prices one call in USD.
func ComputeCost(model string, inputTokens, outputTokens int64) float64 {
	p := PricingFor(model)
	return float64(inputTokens)*p.InputCostPer1KTok/1000 + float64(outputTokens)*p.OutputCostPer1KTok/1000
}

// EstimateTokenCount gives a rough token count for prompt sizing.
// Approximation: 1 token per ~3.5 characters of English text.
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	charCount := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(charCount) / 3.5))
}
