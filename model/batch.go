package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/helper"
	"github.com/Laisky/llm-gateway/common/logger"
)

// orphanSweepBatchSize bounds one reconciliation pass; the next tick picks
// up the remainder.
const orphanSweepBatchSize = 500

// PendingFinalization is one queued settlement awaiting batch persistence.
// Prepare work (billing evaluation) is done by the caller; this layer only
// claims rows and aggregates counters.
type PendingFinalization struct {
	UsageId    int64
	Settlement Settlement
	Delta      CounterDelta
}

// BatchFinalize settles many pending rows: the per-row claim fans out under
// a bounded concurrency limit, then counter deltas are grouped per scope
// entity and applied in a small number of statements. Rows that already left
// pending are skipped silently; claims are idempotent.
func BatchFinalize(ctx context.Context, items []PendingFinalization) error {
	if len(items) == 0 {
		return nil
	}

	won := make([]bool, len(items))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(config.BatchFinalizeConcurrency)
	for i := range items {
		g.Go(func() error {
			ok, err := FinalizeSettled(items[i].UsageId, items[i].Settlement)
			if err != nil {
				return errors.Wrapf(err, "finalize usage %d", items[i].UsageId)
			}
			won[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "batch finalize claims")
	}

	// Only claims we won contribute to counters; grouped per (scope, id)
	// so one entity gets one UPDATE regardless of batch size.
	type bucket struct {
		usd      float64
		requests int64
	}
	type scopeKey struct {
		scope string
		id    int64
	}
	grouped := map[scopeKey]*bucket{}
	add := func(scope string, id int64, usd float64) {
		if id == 0 {
			return
		}
		key := scopeKey{scope: scope, id: id}
		b := grouped[key]
		if b == nil {
			b = &bucket{}
			grouped[key] = b
		}
		b.usd += usd
		b.requests++
	}
	claimed := 0
	for i := range items {
		if !won[i] {
			continue
		}
		claimed++
		add(CounterScopeToken, items[i].Delta.TokenId, items[i].Delta.CostUSD)
		add(CounterScopeKey, items[i].Delta.KeyId, items[i].Delta.CostUSD)
		add(CounterScopeProvider, items[i].Delta.ProviderId, items[i].Delta.CostUSD)
	}

	month := helper.CurrentMonth()
	for _, scope := range []string{CounterScopeToken, CounterScopeKey, CounterScopeProvider} {
		for key, b := range grouped {
			if key.scope != scope {
				continue
			}
			if err := bumpCounter(key.scope, key.id, month, b.usd, b.requests); err != nil {
				return errors.Wrapf(err, "apply grouped %s counter", key.scope)
			}
		}
	}

	logger.Logger.Debug("batch finalize done",
		zap.Int("items", len(items)), zap.Int("claimed", claimed))
	return nil
}

// ReconcileOrphanedUsage settles rows whose billing never left pending, the
// residue of a crash mid-relay. Rows older than age settle as failed at zero
// cost so the request still counts against its token, key and provider.
func ReconcileOrphanedUsage(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age).UnixMilli()
	now := helper.NowUnixMilli()

	var rows []Usage
	err := DB.
		Select("id", "token_id", "key_id", "provider_id", "created_at").
		Where("billing_status = ? AND created_at < ?", BillingStatusPending, cutoff).
		Limit(orphanSweepBatchSize).
		Find(&rows).Error
	if err != nil {
		return errors.Wrap(err, "select orphaned usages")
	}
	if len(rows) == 0 {
		return nil
	}

	items := make([]PendingFinalization, 0, len(rows))
	for i := range rows {
		items = append(items, PendingFinalization{
			UsageId: rows[i].Id,
			Settlement: Settlement{
				RequestStatus:  RequestStatusFailed,
				ErrorCategory:  "orphaned",
				ResponseTimeMs: now - rows[i].CreatedAt,
			},
			Delta: CounterDelta{
				TokenId:    rows[i].TokenId,
				KeyId:      rows[i].KeyId,
				ProviderId: rows[i].ProviderId,
			},
		})
	}
	logger.Logger.Info("reconciling orphaned usage rows", zap.Int("count", len(items)))
	return BatchFinalize(ctx, items)
}
