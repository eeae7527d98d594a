package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTable_ExactMatch(t *testing.T) {
	tbl, err := NewTable(Config{
		Currency: "USD",
		Models: map[string]ModelPricing{
			"gpt-4o": {InputPer1K: 2.5, OutputPer1K: 10.0},
		},
	})
	require.NoError(t, err)

	cost := tbl.Cost("gpt-4o", Usage{PromptTokens: 1000, CompletionTokens: 500})
	require.InEpsilon(t, 7.50, cost, 1e-9)
}

func TestTable_PrefixFallback(t *testing.T) {
	tbl, err := NewTable(Config{
		Models: map[string]ModelPricing{
			"gpt-4o": {InputPer1K: 2.5, OutputPer1K: 10.0},
		},
	})
	require.NoError(t, err)

	cost := tbl.Cost("gpt-4o-2024-08-06", Usage{PromptTokens: 1000})
	require.InEpsilon(t, 2.5, cost, 1e-9)
}

func TestTable_UnknownModelFallsBackToConfiguredRate(t *testing.T) {
	tbl, err := NewTable(Config{
		FallbackInputPer1K:  1.0,
		FallbackOutputPer1K: 2.0,
	})
	require.NoError(t, err)

	cost := tbl.Cost("some-unknown-model", Usage{PromptTokens: 1000, CompletionTokens: 1000})
	require.InEpsilon(t, 3.0, cost, 1e-9)
}

func TestTable_ZeroTokensIsZeroCost(t *testing.T) {
	tbl, err := NewTable(Config{
		Models: map[string]ModelPricing{"gpt-4o": {InputPer1K: 2.5, OutputPer1K: 10.0}},
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, tbl.Cost("gpt-4o", Usage{}))
}

func TestTable_CachedAndReasoningTokens(t *testing.T) {
	cachedRate := 1.0
	reasoningRate := 5.0
	tbl, err := NewTable(Config{
		Models: map[string]ModelPricing{
			"o1": {
				InputPer1K:       2.0,
				OutputPer1K:      8.0,
				CachedInputPer1K: &cachedRate,
				ReasoningPer1K:   &reasoningRate,
			},
		},
	})
	require.NoError(t, err)

	cost := tbl.Cost("o1", Usage{
		PromptTokens:     1000,
		CachedTokens:     400,
		CompletionTokens: 200,
		ReasoningTokens:  100,
	})
	// uncached 600 * 2.0/1000 + cached 400*1.0/1000 + completion 200*8.0/1000 + reasoning 100*5.0/1000
	want := 0.6*2.0 + 0.4*1.0 + 0.2*8.0 + 0.1*5.0
	require.InEpsilon(t, want, cost, 1e-9)
}

func TestTable_AmbiguousPrefixRejected(t *testing.T) {
	_, err := NewTable(Config{
		Models: map[string]ModelPricing{
			"gpt-4":   {InputPer1K: 1.0, OutputPer1K: 2.0},
			"gpt-4o":  {InputPer1K: 2.5, OutputPer1K: 10.0},
		},
	})
	require.Error(t, err)
}

func TestTable_ToolCost(t *testing.T) {
	tbl, err := NewTable(Config{
		Tools: map[string]ToolPricing{
			"search": {CostPerCall: 0.001, CostPerInputByte: 0.0000001, CostPerOutputByte: 0.0000002},
		},
	})
	require.NoError(t, err)

	cost := tbl.ToolCost("search", ToolUsage{InputBytes: 1000, OutputBytes: 2000})
	want := 0.001 + 1000*0.0000001 + 2000*0.0000002
	require.InEpsilon(t, want, cost, 1e-9)
}

func TestTable_UnknownToolIsZero(t *testing.T) {
	tbl, err := NewTable(Config{})
	require.NoError(t, err)
	require.Equal(t, 0.0, tbl.ToolCost("unknown", ToolUsage{InputBytes: 100}))
}
