package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testTable = PriceTable{
	Models: map[string]Pricing{
		"small": {Input: 0.5 / 1_000_000, Output: 1.5 / 1_000_000},
		"large": {Input: 10.0 / 1_000_000, Output: 30.0 / 1_000_000},
	},
	Default: Pricing{Input: 10.0 / 1_000_000, Output: 30.0 / 1_000_000},
}

func TestPerTokenFallsBackToDefault(t *testing.T) {
	assert.Equal(t, testTable.Models["small"], testTable.PerToken("small"))
	assert.Equal(t, testTable.Default, testTable.PerToken("model-from-the-future"))
}

func TestCostDeterministic(t *testing.T) {
	first := testTable.Cost(1000, 500, "large")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, testTable.Cost(1000, 500, "large"))
	}
	assert.InDelta(t, 0.025, first, 1e-9)
}

func TestCostNeverNegative(t *testing.T) {
	assert.GreaterOrEqual(t, testTable.Cost(0, 0, "small"), 0.0)
	assert.GreaterOrEqual(t, testTable.Cost(1, 0, "small"), 0.0)
	assert.GreaterOrEqual(t, testTable.Cost(0, 1, "unknown"), 0.0)
}

func TestCostMonotoneInTokens(t *testing.T) {
	base := testTable.Cost(10_000, 10_000, "large")
	assert.GreaterOrEqual(t, testTable.Cost(20_000, 10_000, "large"), base)
	assert.GreaterOrEqual(t, testTable.Cost(10_000, 20_000, "large"), base)
}

func TestCostRoundsToSixDigits(t *testing.T) {
	table := PriceTable{Default: Pricing{Input: 0.33 / 1_000_000}}
	// 7 input tokens at $0.33/1M is $0.00000231, which rounds to $0.000002.
	assert.Equal(t, 0.000002, table.Cost(7, 0, "any"))
	// 17 input tokens is $0.00000561, which rounds to $0.000006.
	assert.Equal(t, 0.000006, table.Cost(17, 0, "any"))
}

func TestRoundCost(t *testing.T) {
	assert.Equal(t, 0.000001, RoundCost(0.0000014))
	assert.Equal(t, 0.000002, RoundCost(0.0000017))
	assert.Equal(t, 1.234568, RoundCost(1.23456789))
	assert.Equal(t, 0.0, RoundCost(0))
}

func TestModelListSorted(t *testing.T) {
	assert.Equal(t, []string{"large", "small"}, testTable.ModelList())
}
