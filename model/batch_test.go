package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/llm-gateway/common/helper"
)

func TestBatchFinalizeClaimsAndAggregates(t *testing.T) {
	newTestDB(t)
	month := helper.CurrentMonth()

	a := createTestUsage(t, "batch-a")
	b := createTestUsage(t, "batch-b")
	c := createTestUsage(t, "batch-c")

	// Row c already settled elsewhere; its delta must not count twice.
	won, err := FinalizeSettled(c.Id, Settlement{TotalCostUSD: 0.1})
	require.NoError(t, err)
	require.True(t, won)

	items := []PendingFinalization{
		{
			UsageId:    a.Id,
			Settlement: Settlement{StatusCode: 200, TotalCostUSD: 0.2, ActualTotalCostUSD: 0.2},
			Delta:      CounterDelta{TokenId: 1, KeyId: 10, ProviderId: 100, CostUSD: 0.2},
		},
		{
			UsageId:    b.Id,
			Settlement: Settlement{StatusCode: 200, TotalCostUSD: 0.3, ActualTotalCostUSD: 0.3},
			Delta:      CounterDelta{TokenId: 1, KeyId: 11, ProviderId: 100, CostUSD: 0.3},
		},
		{
			UsageId:    c.Id,
			Settlement: Settlement{StatusCode: 200, TotalCostUSD: 0.4},
			Delta:      CounterDelta{TokenId: 1, KeyId: 10, ProviderId: 100, CostUSD: 0.4},
		},
	}
	require.NoError(t, BatchFinalize(context.Background(), items))

	// Token counter carries only the two won claims, grouped in one row.
	row, err := GetMonthlyCounter(CounterScopeToken, 1, month)
	require.NoError(t, err)
	require.InDelta(t, 0.5, row.UsedUSD, 1e-9)
	require.Equal(t, int64(2), row.RequestCount)

	row, err = GetMonthlyCounter(CounterScopeKey, 10, month)
	require.NoError(t, err)
	require.InDelta(t, 0.2, row.UsedUSD, 1e-9)

	row, err = GetMonthlyCounter(CounterScopeProvider, 100, month)
	require.NoError(t, err)
	require.InDelta(t, 0.5, row.UsedUSD, 1e-9)

	got, err := GetUsageByRequestId("batch-c")
	require.NoError(t, err)
	require.InDelta(t, 0.1, got.TotalCostUSD, 1e-9)
}

func TestBatchFinalizeEmpty(t *testing.T) {
	newTestDB(t)
	require.NoError(t, BatchFinalize(context.Background(), nil))
}

func TestReconcileOrphanedUsageSettlesStaleRows(t *testing.T) {
	newTestDB(t)

	stale := createTestUsage(t, "orphan-stale")
	createTestUsage(t, "orphan-fresh")

	// Push the stale row past the reconciliation age.
	hourAgo := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, DB.Model(&Usage{}).Where("id = ?", stale.Id).
		Updates(map[string]any{"created_at": hourAgo, "token_id": 7, "key_id": 70}).Error)

	require.NoError(t, ReconcileOrphanedUsage(context.Background(), 30*time.Minute))

	got, err := GetUsageByRequestId("orphan-stale")
	require.NoError(t, err)
	require.Equal(t, BillingStatusSettled, got.BillingStatus)
	require.Equal(t, RequestStatusFailed, got.RequestStatus)
	require.Equal(t, "orphaned", got.ErrorCategory)
	require.Zero(t, got.TotalCostUSD)
	require.Greater(t, got.ResponseTimeMs, int64(0))

	got, err = GetUsageByRequestId("orphan-fresh")
	require.NoError(t, err)
	require.Equal(t, BillingStatusPending, got.BillingStatus)

	// The orphaned request still counts toward its token and key.
	counter, err := GetMonthlyCounter(CounterScopeToken, 7, helper.CurrentMonth())
	require.NoError(t, err)
	require.Equal(t, int64(1), counter.RequestCount)
	require.Zero(t, counter.UsedUSD)

	// A second pass finds nothing left to claim.
	require.NoError(t, ReconcileOrphanedUsage(context.Background(), 30*time.Minute))
	counter, err = GetMonthlyCounter(CounterScopeToken, 7, helper.CurrentMonth())
	require.NoError(t, err)
	require.Equal(t, int64(1), counter.RequestCount)
}
