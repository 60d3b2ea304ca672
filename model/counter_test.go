package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/llm-gateway/common/helper"
)

func TestApplyCounterDeltaAggregates(t *testing.T) {
	newTestDB(t)
	month := helper.CurrentMonth()

	delta := CounterDelta{TokenId: 1, KeyId: 2, ProviderId: 3, CostUSD: 0.5}
	require.NoError(t, ApplyCounterDelta(delta))
	require.NoError(t, ApplyCounterDelta(delta))

	for _, target := range []struct {
		scope string
		id    int64
	}{
		{CounterScopeToken, 1},
		{CounterScopeKey, 2},
		{CounterScopeProvider, 3},
	} {
		row, err := GetMonthlyCounter(target.scope, target.id, month)
		require.NoError(t, err)
		require.InDelta(t, 1.0, row.UsedUSD, 1e-9, "scope %s", target.scope)
		require.Equal(t, int64(2), row.RequestCount)
	}
}

func TestApplyCounterDeltaSkipsUnresolvedScopes(t *testing.T) {
	newTestDB(t)
	month := helper.CurrentMonth()

	// A request that failed before key resolution has no key or provider.
	require.NoError(t, ApplyCounterDelta(CounterDelta{TokenId: 5, CostUSD: 0}))

	row, err := GetMonthlyCounter(CounterScopeToken, 5, month)
	require.NoError(t, err)
	require.Equal(t, int64(1), row.RequestCount)

	var n int64
	require.NoError(t, DB.Model(&MonthlyCounter{}).Count(&n).Error)
	require.Equal(t, int64(1), n)
}

func TestGetMonthlyCounterAbsentIsZero(t *testing.T) {
	newTestDB(t)
	row, err := GetMonthlyCounter(CounterScopeToken, 99, "2026-01")
	require.NoError(t, err)
	require.Zero(t, row.UsedUSD)
	require.Zero(t, row.RequestCount)
	require.Equal(t, "2026-01", row.Month)
}
