package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/zap"

	"github.com/Laisky/llm-gateway/common/helper"
	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/common/metrics"
	"github.com/Laisky/llm-gateway/common/tracing"
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
	"github.com/Laisky/llm-gateway/relay/billing"
	"github.com/Laisky/llm-gateway/relay/envelope"
	"github.com/Laisky/llm-gateway/relay/pool"
	"github.com/Laisky/llm-gateway/relay/scheduling"
)

// settleSuccess evaluates billing for a completed response, claims the
// settlement and feeds pool bookkeeping. A billing failure never fails the
// request: the row settles at zero cost with an audit flag.
func (e *Executor) settleSuccess(ctx context.Context, task *Task, candidate *scheduling.Candidate, manager *pool.Manager, result *streamResult, statusCode int) {
	settlement := e.buildSettlement(task, candidate, result, model.RequestStatusCompleted, statusCode)

	claimed, err := model.FinalizeSettled(task.Usage.Id, settlement)
	if err != nil {
		logger.Logger.Error("finalize settled request",
			zap.Int64("usage_id", task.Usage.Id),
			zap.String("trace_id", tracing.FromContext(ctx)),
			zap.Error(err))
	}
	if claimed {
		e.applyCounters(task, candidate, settlement)
	}

	manager.OnRequestSuccess(ctx, candidate.Key.Id, task.Request.SessionUUID, result.stats.TotalTokens())
	if task.Request.PrefixFingerprint != "" {
		manager.RecordAffinity(ctx, task.Request.PrefixFingerprint, candidate.Key.Id)
	}
	metrics.GlobalRecorder.RecordRelayRequest(task.StartTime, candidate.Provider.Id,
		string(task.Request.Dialect), task.Request.GlobalModel.Name, true,
		settlement.InputTokens, settlement.OutputTokens, settlement.TotalCostUSD)
}

// settleCancelled settles the tokens observed before a client disconnect.
func (e *Executor) settleCancelled(task *Task, result *streamResult, statusCode int) {
	var candidate *scheduling.Candidate
	for i := range task.Candidates {
		if !task.Candidates[i].Skipped {
			candidate = &task.Candidates[i]
		}
	}
	if candidate == nil {
		return
	}
	settlement := e.buildSettlement(task, candidate, result, model.RequestStatusCancelled, statusCode)
	settlement.ErrorCategory = "cancelled"

	claimed, err := model.FinalizeSettled(task.Usage.Id, settlement)
	if err != nil {
		logger.Logger.Error("finalize cancelled settlement",
			zap.Int64("usage_id", task.Usage.Id), zap.Error(err))
	}
	if claimed {
		e.applyCounters(task, candidate, settlement)
	}
}

// buildSettlement evaluates the pricing tables over the observed stream
// totals.
func (e *Executor) buildSettlement(task *Task, candidate *scheduling.Candidate, result *streamResult, requestStatus string, statusCode int) model.Settlement {
	stats := result.stats

	inputTokens := stats.InputTokens
	if inputTokens == 0 && stats.OutputTokens == 0 {
		// Upstream reported no usage at all; estimate the prompt side so
		// the row is not silently free.
		inputTokens = billing.EstimateRequestTokens(task.Body)
	}

	dims := billing.Dimensions{
		InputTokens:         inputTokens,
		OutputTokens:        stats.OutputTokens,
		CacheCreationTokens: stats.CacheCreationTokens,
		CacheReadTokens:     stats.CacheReadTokens,
		RequestCount:        1,
	}
	if task.Request.Dialect.Family() == apiformat.FamilyClaude {
		dims.CacheTTLMinutes = envelope.CacheTTLMinutes(task.Body)
	}
	terms := billing.KeyTerms{
		RateMultiplier: candidate.Key.RateMultiplier,
		IsFreeTier:     candidate.Key.IsFreeTier,
	}

	settlement := model.Settlement{
		RequestStatus:         requestStatus,
		StatusCode:            statusCode,
		InputTokens:           inputTokens,
		OutputTokens:          stats.OutputTokens,
		CacheCreationTokens:   stats.CacheCreationTokens,
		CacheReadTokens:       stats.CacheReadTokens,
		CacheCreation5mTokens: stats.CacheCreation5mTokens,
		CacheCreation1hTokens: stats.CacheCreation1hTokens,
		RateMultiplier:        terms.RateMultiplier,
		IsFreeTier:            terms.IsFreeTier,
		ResponseBody:          string(result.responseBody),
		ResponseTimeMs:        helper.ElapsedMs(task.StartTime),
	}

	billingStart := time.Now()
	tiers, err := candidate.ProviderModel.EffectiveTiers(task.Request.GlobalModel)
	if err == nil {
		var snapshot *billing.Snapshot
		snapshot, err = billing.Evaluate(tiers, dims, terms)
		if err == nil {
			settlement.TotalCostUSD = snapshot.TotalCost
			settlement.ActualTotalCostUSD = snapshot.ActualTotalCost
			if raw, marshalErr := billing.MarshalSnapshot(snapshot); marshalErr == nil {
				settlement.BillingSnapshot = raw
			}
		}
	}
	if err != nil {
		// Billing faults are fatal to the billing step only; the request
		// already succeeded for the client.
		logger.Logger.Error("billing evaluation failed",
			zap.Int64("usage_id", task.Usage.Id),
			zap.String("model", task.Request.GlobalModel.Name), zap.Error(err))
		meta, _ := json.Marshal(map[string]string{"billing_error": err.Error()})
		settlement.RequestMetadata = string(meta)
	}
	metrics.GlobalRecorder.RecordBillingOperation(billingStart, "evaluate", err == nil,
		task.Request.GlobalModel.Name, settlement.TotalCostUSD)
	return settlement
}

// applyCounters bumps the monthly aggregates after a won settlement claim.
func (e *Executor) applyCounters(task *Task, candidate *scheduling.Candidate, settlement model.Settlement) {
	err := model.ApplyCounterDelta(model.CounterDelta{
		TokenId:    task.Usage.TokenId,
		KeyId:      candidate.Key.Id,
		ProviderId: candidate.Provider.Id,
		CostUSD:    settlement.ActualTotalCostUSD,
	})
	if err != nil {
		logger.Logger.Error("apply monthly counters",
			zap.Int64("usage_id", task.Usage.Id), zap.Error(err))
	}
}
