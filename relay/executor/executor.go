// Package executor drives the dispatch plan: it tries candidates in strict
// order, wraps bodies through the converter matrix when dialects differ,
// applies failure classification and pool feedback, and hands successful
// responses to the stream tracker for forwarding and settlement.
package executor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/llm-gateway/common/client"
	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/common/metrics"
	"github.com/Laisky/llm-gateway/model"
	relaymodel "github.com/Laisky/llm-gateway/relay/model"
	"github.com/Laisky/llm-gateway/relay/pool"
	"github.com/Laisky/llm-gateway/relay/scheduling"
)

// maxErrorBodyBytes bounds how much of an upstream error body is read for
// classification and diagnostics.
const maxErrorBodyBytes = 8 << 10

// Task is one request's dispatch state, assembled by the relay controller.
type Task struct {
	Usage      *model.Usage
	Request    *scheduling.Request
	Body       []byte
	Headers    http.Header
	Candidates []scheduling.Candidate
	StartTime  time.Time
}

// Executor issues upstream attempts sequentially until one succeeds or the
// plan is exhausted. Collaborators are injected at startup; tests swap in
// their own pool registry and HTTP client.
type Executor struct {
	pools      *pool.Registry
	httpClient *http.Client
}

func New(pools *pool.Registry) *Executor {
	return &Executor{pools: pools, httpClient: client.HTTPClient}
}

// NewWithClient builds an executor around a specific HTTP client.
func NewWithClient(pools *pool.Registry, httpClient *http.Client) *Executor {
	return &Executor{pools: pools, httpClient: httpClient}
}

// Execute runs the plan. A nil return means the response, success or error,
// was already written to the client; a non-nil error must be rendered by the
// caller in the request's original dialect.
func (e *Executor) Execute(c *gin.Context, task *Task) *relaymodel.ErrorWithStatusCode {
	e.persistPlan(task)

	if relayErr := e.admitSession(c, task); relayErr != nil {
		return relayErr
	}

	for i := range task.Candidates {
		candidate := &task.Candidates[i]
		if candidate.Skipped {
			continue
		}
		if err := c.Request.Context().Err(); err != nil {
			return e.finishCancelled(task, nil, 0)
		}

		manager, err := e.pools.Manager(candidate.Provider.Id, candidate.Provider.PoolConfig)
		if err != nil {
			logger.Logger.Warn("pool manager unavailable for attempt",
				zap.Int64("provider_id", candidate.Provider.Id), zap.Error(err))
			continue
		}

		attemptStart := time.Now()
		outcome := e.attempt(c, task, candidate, manager)
		latency := time.Since(attemptStart).Milliseconds()

		switch {
		case outcome.done:
			e.recordAttempt(task, i, model.CandidateStatusSuccess, outcome.statusCode, "", latency)
			return nil

		case outcome.cancelled:
			e.recordAttempt(task, i, model.CandidateStatusCancelled, outcome.statusCode, "", latency)
			return e.finishCancelled(task, outcome.result, outcome.statusCode)

		case outcome.emptyForwarded:
			e.recordAttempt(task, i, model.CandidateStatusFailed, outcome.statusCode, outcome.detail, latency)
			e.finalizeFailed(task, http.StatusBadGateway, "empty_stream")
			return nil

		case outcome.kind == KindClientFatal:
			e.recordAttempt(task, i, model.CandidateStatusFailed, outcome.statusCode, outcome.detail, latency)
			e.finalizeFailed(task, outcome.statusCode, outcome.kind.Category())
			return relaymodel.NewError(outcome.statusCode, outcome.detail)

		default:
			e.recordAttempt(task, i, model.CandidateStatusFailed, outcome.statusCode, outcome.detail, latency)
		}
	}

	e.finalizeFailed(task, http.StatusBadGateway, "upstream_exhausted")
	return relaymodel.NewError(http.StatusBadGateway, "upstream temporarily unavailable")
}

// admitSession enforces the per-provider concurrent session cap before any
// upstream call. A rejected session answers 429 without burning a candidate.
func (e *Executor) admitSession(c *gin.Context, task *Task) *relaymodel.ErrorWithStatusCode {
	if task.Request.SessionUUID == "" {
		return nil
	}
	for i := range task.Candidates {
		candidate := &task.Candidates[i]
		if candidate.Skipped {
			continue
		}
		manager, err := e.pools.Manager(candidate.Provider.Id, candidate.Provider.PoolConfig)
		if err != nil {
			return nil
		}
		scope := task.Request.GlobalModel.Name
		admitted, active := manager.AdmitSession(c.Request.Context(), scope, task.Request.SessionUUID)
		if !admitted {
			logger.Logger.Warn("session limit reached",
				zap.Int64("provider_id", candidate.Provider.Id),
				zap.Int("active_sessions", active))
			e.finalizeFailed(task, http.StatusTooManyRequests, "concurrency")
			return relaymodel.NewError(http.StatusTooManyRequests, "too many concurrent sessions")
		}
		// The masked id, when the pool opts in, is what sticky bindings and
		// accounting see from here on.
		task.Request.SessionUUID = manager.MaskSessionID(scope, task.Request.SessionUUID)
		return nil
	}
	return nil
}

// stepOutcome is the result of one candidate attempt.
type stepOutcome struct {
	done      bool
	cancelled bool
	// emptyForwarded marks an empty stream that already leaked bytes to the
	// client; the request terminates voided without failover.
	emptyForwarded bool
	kind           ErrorKind
	statusCode     int
	detail         string
	result         *streamResult
}

// attempt builds and sends one upstream request and tracks its response.
// The attempt context bounds the whole exchange; its cancel doubles as the
// stream inactivity watchdog inside the tracker.
func (e *Executor) attempt(c *gin.Context, task *Task, candidate *scheduling.Candidate, manager *pool.Manager) stepOutcome {
	attemptCtx, cancel := context.WithTimeout(c.Request.Context(), config.RelayRequestTimeout())
	defer cancel()

	req, err := e.buildUpstreamRequest(attemptCtx, task, candidate, manager)
	if err != nil {
		logger.Logger.Warn("build upstream request",
			zap.Int64("key_id", candidate.Key.Id), zap.Error(err))
		return stepOutcome{kind: KindRetryableTransient, statusCode: http.StatusBadGateway, detail: "failed to build upstream request"}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if c.Request.Context().Err() != nil {
			return stepOutcome{cancelled: true}
		}
		metrics.GlobalRecorder.RecordUpstreamAttempt(candidate.Provider.Id, candidate.Key.Id,
			candidate.Endpoint.Dialect, 0, "connect_error")
		manager.OnRequestError(c.Request.Context(), candidate.Key.Id, pool.UpstreamError{})
		return stepOutcome{kind: KindRetryableTransient, statusCode: http.StatusBadGateway, detail: "upstream connection failed"}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return e.handleErrorStatus(c.Request.Context(), candidate, manager, resp)
	}

	result := e.track(c, task, candidate, resp, cancel)
	metrics.GlobalRecorder.RecordUpstreamAttempt(candidate.Provider.Id, candidate.Key.Id,
		candidate.Endpoint.Dialect, resp.StatusCode, result.outcomeLabel())

	switch {
	case result.cancelled:
		return stepOutcome{cancelled: true, statusCode: resp.StatusCode, result: result}

	case result.emptyStream && result.bytesForwarded == 0:
		// An upstream that answered 200 and produced nothing meaningful is
		// treated like a 502 without cooling the key down.
		return stepOutcome{kind: KindRetryableTransient, statusCode: http.StatusBadGateway, detail: "upstream returned an empty stream"}

	case result.emptyStream:
		// Opaque bytes already reached the client, so no further candidate
		// can run; the settlement is voided instead of settling success.
		return stepOutcome{emptyForwarded: true, statusCode: resp.StatusCode, detail: "upstream stream carried no meaningful data"}

	case result.readErr != nil && result.bytesForwarded == 0:
		return stepOutcome{kind: KindRetryableTransient, statusCode: http.StatusBadGateway, detail: "upstream stream aborted"}
	}

	e.settleSuccess(c.Request.Context(), task, candidate, manager, result, resp.StatusCode)
	return stepOutcome{done: true, statusCode: resp.StatusCode, result: result}
}

// handleErrorStatus classifies an upstream >=400 and feeds pool health.
func (e *Executor) handleErrorStatus(ctx context.Context, candidate *scheduling.Candidate, manager *pool.Manager, resp *http.Response) stepOutcome {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()

	kind := classifyStatus(resp.StatusCode)
	metrics.GlobalRecorder.RecordUpstreamAttempt(candidate.Provider.Id, candidate.Key.Id,
		candidate.Endpoint.Dialect, resp.StatusCode, "http_error")

	retryAfter := 0
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			retryAfter = secs
		}
	}
	manager.OnRequestError(ctx, candidate.Key.Id, pool.UpstreamError{
		StatusCode:    resp.StatusCode,
		RetryAfterSec: retryAfter,
		BodyExcerpt:   string(body),
	})

	detail := "upstream rejected the request"
	if kind == KindClientFatal {
		detail = string(bytes.ToValidUTF8(body, nil))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
	}
	return stepOutcome{kind: kind, statusCode: resp.StatusCode, detail: detail}
}

// persistPlan writes every slot of the dispatch plan, skipped ones included.
func (e *Executor) persistPlan(task *Task) {
	rows := make([]model.UsageCandidate, 0, len(task.Candidates))
	for i, candidate := range task.Candidates {
		row := model.UsageCandidate{
			UsageId:        task.Usage.Id,
			CandidateIndex: i,
			ProviderId:     candidate.Provider.Id,
			EndpointId:     candidate.Endpoint.Id,
			KeyId:          candidate.Key.Id,
			Status:         model.CandidateStatusPending,
		}
		if candidate.Skipped {
			row.Status = model.CandidateStatusSkipped
			row.SkipReason = candidate.SkipReason
		}
		rows = append(rows, row)
	}
	if err := model.InsertCandidates(rows); err != nil {
		logger.Logger.Warn("persist dispatch plan", zap.Error(err))
	}
}

func (e *Executor) recordAttempt(task *Task, index int, status string, statusCode int, detail string, latencyMs int64) {
	err := model.UpdateCandidateOutcome(task.Usage.Id, index, 0, status, statusCode, detail, latencyMs)
	if err != nil {
		logger.Logger.Warn("record attempt outcome", zap.Error(err))
	}
}

// finalizeFailed voids the usage row after a terminal failure.
func (e *Executor) finalizeFailed(task *Task, statusCode int, category string) {
	_, err := model.FinalizeVoid(task.Usage.Id, model.RequestStatusFailed, statusCode, category,
		time.Since(task.StartTime).Milliseconds())
	if err != nil {
		logger.Logger.Error("finalize failed request", zap.Error(err))
	}
	metrics.GlobalRecorder.RecordRelayRequest(task.StartTime, task.Usage.ProviderId,
		string(task.Request.Dialect), task.Request.GlobalModel.Name, false, 0, 0, 0)
}

// finishCancelled applies the cancellation rule: tokens already forwarded
// settle, an untouched stream voids.
func (e *Executor) finishCancelled(task *Task, result *streamResult, statusCode int) *relaymodel.ErrorWithStatusCode {
	if result != nil && result.bytesForwarded > 0 {
		e.settleCancelled(task, result, statusCode)
		return nil
	}
	_, err := model.FinalizeVoid(task.Usage.Id, model.RequestStatusCancelled, statusCode, "cancelled",
		time.Since(task.StartTime).Milliseconds())
	if err != nil {
		logger.Logger.Error("finalize cancelled request", zap.Error(err))
	}
	return nil
}
