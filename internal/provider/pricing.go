package provider

import (
	"math"
	"sort"
)

// Pricing is a per-token price pair in USD.
type Pricing struct {
	Input  float64
	Output float64
}

// PriceTable maps model identifiers to their price pair. Lookups for unknown
// models fall back to Default rather than failing; billing estimation must
// never block generation.
type PriceTable struct {
	Models  map[string]Pricing
	Default Pricing
}

// PerToken returns the price pair for model, or the default tier when the
// model is unrecognized.
func (t PriceTable) PerToken(model string) Pricing {
	if p, ok := t.Models[model]; ok {
		return p
	}
	return t.Default
}

// Cost prices a call. Pure and total: same inputs always produce the same
// output, and the result is never negative for non-negative token counts.
func (t PriceTable) Cost(inputTokens, outputTokens int, model string) float64 {
	p := t.PerToken(model)
	return RoundCost(float64(inputTokens)*p.Input + float64(outputTokens)*p.Output)
}

// ModelList returns the known model identifiers in sorted order.
func (t PriceTable) ModelList() []string {
	models := make([]string, 0, len(t.Models))
	for m := range t.Models {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// RoundCost rounds a cost to six fractional digits so aggregation over
// many calls stays stable.
func RoundCost(cost float64) float64 {
	return math.Round(cost*1e6) / 1e6
}
