package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptrInt64(v int64) *int64 { return &v }

func ptrFloat(v float64) *float64 { return &v }

func TestEvaluateSingleTier(t *testing.T) {
	tiers := []PriceTier{{
		InputPricePer1M:  3,
		OutputPricePer1M: 15,
		PricePerRequest:  0.002,
	}}
	dims := Dimensions{
		InputTokens:  1_000_000,
		OutputTokens: 500_000,
		RequestCount: 1,
	}

	snap, err := Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1})
	require.NoError(t, err)

	require.InDelta(t, 3.0, snap.Breakdown["input_cost"], 1e-9)
	require.InDelta(t, 7.5, snap.Breakdown["output_cost"], 1e-9)
	require.InDelta(t, 0.002, snap.Breakdown["request_cost"], 1e-9)
	require.InDelta(t, 10.502, snap.TotalCost, 1e-9)
	require.InDelta(t, snap.TotalCost, snap.ActualTotalCost, 1e-9)
}

func TestEvaluateDerivedCachePrices(t *testing.T) {
	tiers := []PriceTier{{InputPricePer1M: 10, OutputPricePer1M: 30}}
	dims := Dimensions{
		CacheCreationTokens: 1_000_000,
		CacheReadTokens:     1_000_000,
	}

	snap, err := Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1})
	require.NoError(t, err)

	// Creation derives at 1.25x input, read at 0.1x input.
	require.InDelta(t, 12.5, snap.Breakdown["cache_creation_cost"], 1e-9)
	require.InDelta(t, 1.0, snap.Breakdown["cache_read_cost"], 1e-9)
	require.InDelta(t, 12.5, snap.ResolvedVariables["cache_creation_price_per_1m"], 1e-9)
	require.InDelta(t, 1.0, snap.ResolvedVariables["cache_read_price_per_1m"], 1e-9)
}

func TestEvaluateTierSelectionOnTotalInputContext(t *testing.T) {
	tiers := []PriceTier{
		{UpTo: ptrInt64(200_000), InputPricePer1M: 1, OutputPricePer1M: 5},
		{InputPricePer1M: 2, OutputPricePer1M: 10},
	}

	// Cache reads count toward the tier boundary even though they are
	// priced separately.
	dims := Dimensions{InputTokens: 150_000, CacheReadTokens: 100_000}
	snap, err := Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1})
	require.NoError(t, err)
	require.InDelta(t, 2.0, snap.ResolvedVariables["input_price_per_1m"], 1e-9)
	require.InDelta(t, 250_000, snap.ResolvedVariables["total_input_context"], 1e-9)

	// At the boundary the cheaper tier still admits the request.
	dims = Dimensions{InputTokens: 200_000}
	snap, err = Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1})
	require.NoError(t, err)
	require.InDelta(t, 1.0, snap.ResolvedVariables["input_price_per_1m"], 1e-9)
}

func TestEvaluateCacheTTLOverride(t *testing.T) {
	tiers := []PriceTier{{
		InputPricePer1M:  2,
		OutputPricePer1M: 8,
		CacheTTLPricing: []CacheTTLPrice{{
			TTLMinutes:              60,
			CacheCreationPricePer1M: ptrFloat(4),
			CacheReadPricePer1M:     ptrFloat(0.4),
		}},
	}}
	dims := Dimensions{
		CacheCreationTokens: 1_000_000,
		CacheReadTokens:     1_000_000,
		CacheTTLMinutes:     60,
	}

	snap, err := Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1})
	require.NoError(t, err)
	require.InDelta(t, 4.0, snap.Breakdown["cache_creation_cost"], 1e-9)
	require.InDelta(t, 0.4, snap.Breakdown["cache_read_cost"], 1e-9)

	// A request without the pinned TTL class keeps derived prices.
	dims.CacheTTLMinutes = 0
	snap, err = Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1})
	require.NoError(t, err)
	require.InDelta(t, 2.5, snap.Breakdown["cache_creation_cost"], 1e-9)
	require.InDelta(t, 0.2, snap.Breakdown["cache_read_cost"], 1e-9)
}

func TestEvaluateRateMultiplier(t *testing.T) {
	tiers := []PriceTier{{InputPricePer1M: 1, OutputPricePer1M: 1}}
	dims := Dimensions{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	snap, err := Evaluate(tiers, dims, KeyTerms{RateMultiplier: 0.5})
	require.NoError(t, err)
	require.InDelta(t, 2.0, snap.TotalCost, 1e-9)
	require.InDelta(t, 1.0, snap.ActualTotalCost, 1e-9)
	require.InDelta(t, 0.5, snap.RateMultiplier, 1e-9)
}

func TestEvaluateFreeTierZeroesActualCost(t *testing.T) {
	tiers := []PriceTier{{InputPricePer1M: 1, OutputPricePer1M: 1}}
	dims := Dimensions{InputTokens: 1_000_000}

	snap, err := Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1, IsFreeTier: true})
	require.NoError(t, err)
	require.InDelta(t, 1.0, snap.TotalCost, 1e-9)
	require.Zero(t, snap.ActualTotalCost)
	require.True(t, snap.IsFreeTier)
}

func TestEvaluateNegativeMultiplier(t *testing.T) {
	tiers := []PriceTier{{InputPricePer1M: 1, OutputPricePer1M: 1}}
	_, err := Evaluate(tiers, Dimensions{InputTokens: 1}, KeyTerms{RateMultiplier: -1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "negative rate multiplier")
}

func TestEvaluateEmptyTiers(t *testing.T) {
	_, err := Evaluate(nil, Dimensions{InputTokens: 1}, KeyTerms{RateMultiplier: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "pricing table is empty")
}

func TestReplayReproducesTotal(t *testing.T) {
	tiers := []PriceTier{{
		InputPricePer1M:     3,
		OutputPricePer1M:    15,
		CacheReadPricePer1M: ptrFloat(0.3),
		PricePerRequest:     0.001,
	}}
	dims := Dimensions{
		InputTokens:         123_456,
		OutputTokens:        7_890,
		CacheCreationTokens: 2_048,
		CacheReadTokens:     65_536,
		RequestCount:        1,
	}

	snap, err := Evaluate(tiers, dims, KeyTerms{RateMultiplier: 1.2})
	require.NoError(t, err)
	require.InDelta(t, snap.TotalCost, Replay(snap), 1e-9)
}

func TestSnapshotRoundTrip(t *testing.T) {
	tiers := []PriceTier{{InputPricePer1M: 2, OutputPricePer1M: 6}}
	snap, err := Evaluate(tiers, Dimensions{InputTokens: 1000, OutputTokens: 500}, KeyTerms{RateMultiplier: 1})
	require.NoError(t, err)

	raw, err := MarshalSnapshot(snap)
	require.NoError(t, err)

	restored, err := UnmarshalSnapshot(raw)
	require.NoError(t, err)
	require.Equal(t, snap, restored)
	require.InDelta(t, snap.TotalCost, Replay(restored), 1e-9)
}

func TestSelectTierFallsBackToLargest(t *testing.T) {
	tiers := []PriceTier{
		{UpTo: ptrInt64(100), InputPricePer1M: 1},
		{UpTo: ptrInt64(200), InputPricePer1M: 2},
	}
	tier := selectTier(tiers, 500)
	require.NotNil(t, tier)
	require.InDelta(t, 2.0, tier.InputPricePer1M, 1e-9)
}
