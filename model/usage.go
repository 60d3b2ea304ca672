package model

import (
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/llm-gateway/common/helper"
)

// Request status values. Streaming never moves backward to pending;
// completed, failed and cancelled are terminal.
const (
	RequestStatusPending   = "pending"
	RequestStatusStreaming = "streaming"
	RequestStatusCompleted = "completed"
	RequestStatusFailed    = "failed"
	RequestStatusCancelled = "cancelled"
)

// Billing status values. A row leaves pending exactly once.
const (
	BillingStatusPending = "pending"
	BillingStatusSettled = "settled"
	BillingStatusVoid    = "void"
)

// Usage is the persisted accounting row for one gateway request. Request and
// billing status are orthogonal columns so a cancelled stream can still
// settle the tokens it produced.
type Usage struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	RequestId string `json:"request_id" gorm:"size:36;uniqueIndex"`
	// TraceId correlates the row with request logs and distributed traces.
	TraceId string `json:"trace_id" gorm:"size:64"`
	TokenId int64  `json:"token_id" gorm:"index"`

	Dialect       string `json:"dialect" gorm:"size:32"`
	ModelName     string `json:"model_name" gorm:"size:128;index"`
	UpstreamModel string `json:"upstream_model" gorm:"size:128"`

	// Resolved dispatch triple; zero until the first upstream byte arrives.
	ProviderId int64 `json:"provider_id" gorm:"index"`
	EndpointId int64 `json:"endpoint_id"`
	KeyId      int64 `json:"key_id" gorm:"index"`

	RequestStatus string `json:"request_status" gorm:"size:16;default:pending;index"`
	BillingStatus string `json:"billing_status" gorm:"size:16;default:pending;index"`

	InputTokens           int `json:"input_tokens"`
	OutputTokens          int `json:"output_tokens"`
	CacheCreationTokens   int `json:"cache_creation_tokens"`
	CacheReadTokens       int `json:"cache_read_tokens"`
	CacheCreation5mTokens int `json:"cache_creation_5m_tokens" gorm:"column:cache_creation_5m_tokens"`
	CacheCreation1hTokens int `json:"cache_creation_1h_tokens" gorm:"column:cache_creation_1h_tokens"`

	TotalCostUSD       float64 `json:"total_cost_usd"`
	ActualTotalCostUSD float64 `json:"actual_total_cost_usd"`
	RateMultiplier     float64 `json:"rate_multiplier" gorm:"default:1"`
	IsFreeTier         bool    `json:"is_free_tier"`

	// BillingSnapshot holds the billing.Snapshot JSON for audit; replaying
	// it reproduces TotalCostUSD.
	BillingSnapshot string `json:"billing_snapshot" gorm:"type:text"`
	// RequestMetadata carries auxiliary flags such as billing_error.
	RequestMetadata string `json:"request_metadata" gorm:"type:text"`

	// Raw bodies for debugging, subject to the retention schedule: first
	// compressed into the gzip companions, later cleared, finally deleted
	// with the row.
	RequestBody        string `json:"request_body" gorm:"type:text"`
	ResponseBody       string `json:"response_body" gorm:"type:text"`
	RequestBodyGzip    []byte `json:"-" gorm:"type:blob"`
	ResponseBodyGzip   []byte `json:"-" gorm:"type:blob"`
	RequestHeaders     string `json:"request_headers" gorm:"type:text"`
	BodiesCompressedAt *int64 `json:"bodies_compressed_at" gorm:"bigint"`

	FirstByteTimeMs *int64 `json:"first_byte_time_ms" gorm:"bigint"`
	ResponseTimeMs  int64  `json:"response_time_ms" gorm:"bigint"`
	StatusCode      int    `json:"status_code"`
	ErrorCategory   string `json:"error_category" gorm:"size:32"`
	FinalizedAt     *int64 `json:"finalized_at" gorm:"bigint"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli;index"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

func (Usage) TableName() string {
	return "usages"
}

// CreateUsage admits a request into accounting with both axes pending.
func CreateUsage(u *Usage) error {
	u.RequestStatus = RequestStatusPending
	u.BillingStatus = BillingStatusPending
	return errors.Wrap(DB.Create(u).Error, "create usage row")
}

// GetUsageByRequestId fetches one usage row.
func GetUsageByRequestId(requestId string) (*Usage, error) {
	u := &Usage{}
	if err := DB.First(u, "request_id = ?", requestId).Error; err != nil {
		return nil, errors.Wrap(err, "get usage by request id")
	}
	return u, nil
}

// MarkStreaming transitions pending -> streaming, recording time to first
// byte and the resolved dispatch triple. Later calls for the same row are
// no-ops, so only the first upstream byte wins.
func MarkStreaming(id int64, firstByteMs int64, providerId, endpointId, keyId int64, upstreamModel string) error {
	err := DB.Model(&Usage{}).
		Where("id = ? AND request_status = ?", id, RequestStatusPending).
		Updates(map[string]any{
			"request_status":     RequestStatusStreaming,
			"first_byte_time_ms": firstByteMs,
			"provider_id":        providerId,
			"endpoint_id":        endpointId,
			"key_id":             keyId,
			"upstream_model":     upstreamModel,
		}).Error
	return errors.Wrap(err, "mark usage streaming")
}

// Settlement carries everything FinalizeSettled writes in one claim.
type Settlement struct {
	RequestStatus string
	StatusCode    int
	ErrorCategory string

	InputTokens           int
	OutputTokens          int
	CacheCreationTokens   int
	CacheReadTokens       int
	CacheCreation5mTokens int
	CacheCreation1hTokens int

	TotalCostUSD       float64
	ActualTotalCostUSD float64
	RateMultiplier     float64
	IsFreeTier         bool
	BillingSnapshot    string
	RequestMetadata    string

	ResponseBody   string
	ResponseTimeMs int64
}

// FinalizeSettled claims the row's single pending->settled transition and
// writes the settlement. The returned flag reports whether this call won the
// claim; losing calls are no-ops.
func FinalizeSettled(id int64, s Settlement) (bool, error) {
	if s.RequestStatus == "" {
		s.RequestStatus = RequestStatusCompleted
	}
	now := helper.NowUnixMilli()
	tx := DB.Model(&Usage{}).
		Where("id = ? AND billing_status = ?", id, BillingStatusPending).
		Updates(map[string]any{
			"billing_status":           BillingStatusSettled,
			"request_status":           s.RequestStatus,
			"status_code":              s.StatusCode,
			"error_category":           s.ErrorCategory,
			"input_tokens":             s.InputTokens,
			"output_tokens":            s.OutputTokens,
			"cache_creation_tokens":    s.CacheCreationTokens,
			"cache_read_tokens":        s.CacheReadTokens,
			"cache_creation_5m_tokens": s.CacheCreation5mTokens,
			"cache_creation_1h_tokens": s.CacheCreation1hTokens,
			"total_cost_usd":           s.TotalCostUSD,
			"actual_total_cost_usd":    s.ActualTotalCostUSD,
			"rate_multiplier":          s.RateMultiplier,
			"is_free_tier":             s.IsFreeTier,
			"billing_snapshot":         s.BillingSnapshot,
			"request_metadata":         s.RequestMetadata,
			"response_body":            s.ResponseBody,
			"response_time_ms":         s.ResponseTimeMs,
			"finalized_at":             now,
		})
	if tx.Error != nil {
		return false, errors.Wrap(tx.Error, "finalize usage settled")
	}
	return tx.RowsAffected == 1, nil
}

// FinalizeVoid claims pending->void: the request produced nothing billable.
// A void row carries zero cost by invariant.
func FinalizeVoid(id int64, requestStatus string, statusCode int, errorCategory string, responseTimeMs int64) (bool, error) {
	now := helper.NowUnixMilli()
	tx := DB.Model(&Usage{}).
		Where("id = ? AND billing_status = ?", id, BillingStatusPending).
		Updates(map[string]any{
			"billing_status":        BillingStatusVoid,
			"request_status":        requestStatus,
			"status_code":           statusCode,
			"error_category":        errorCategory,
			"total_cost_usd":        0,
			"actual_total_cost_usd": 0,
			"response_time_ms":      responseTimeMs,
			"finalized_at":          now,
		})
	if tx.Error != nil {
		return false, errors.Wrap(tx.Error, "finalize usage void")
	}
	return tx.RowsAffected == 1, nil
}

// FinalizeSubmitted claims the transition for async tasks (video) whose cost
// is unknown at submission; the row settles at zero and is amended by
// UpdateSettledBilling when the task completes.
func FinalizeSubmitted(id int64, statusCode int, responseTimeMs int64) (bool, error) {
	now := helper.NowUnixMilli()
	tx := DB.Model(&Usage{}).
		Where("id = ? AND billing_status = ?", id, BillingStatusPending).
		Updates(map[string]any{
			"billing_status":   BillingStatusSettled,
			"request_status":   RequestStatusCompleted,
			"status_code":      statusCode,
			"request_metadata": `{"async_submitted":true}`,
			"response_time_ms": responseTimeMs,
			"finalized_at":     now,
		})
	if tx.Error != nil {
		return false, errors.Wrap(tx.Error, "finalize usage submitted")
	}
	return tx.RowsAffected == 1, nil
}

// UpdateSettledBilling amends the cost of an already settled row, used when
// an async task's true cost arrives after submission.
func UpdateSettledBilling(id int64, totalUSD, actualUSD float64, snapshot string) (bool, error) {
	tx := DB.Model(&Usage{}).
		Where("id = ? AND billing_status = ?", id, BillingStatusSettled).
		Updates(map[string]any{
			"total_cost_usd":        totalUSD,
			"actual_total_cost_usd": actualUSD,
			"billing_snapshot":      snapshot,
		})
	if tx.Error != nil {
		return false, errors.Wrap(tx.Error, "update settled billing")
	}
	return tx.RowsAffected == 1, nil
}

// VoidSettled forcibly zeroes a settled row, terminating further amendment.
func VoidSettled(id int64) (bool, error) {
	tx := DB.Model(&Usage{}).
		Where("id = ? AND billing_status = ?", id, BillingStatusSettled).
		Updates(map[string]any{
			"billing_status":        BillingStatusVoid,
			"total_cost_usd":        0,
			"actual_total_cost_usd": 0,
		})
	if tx.Error != nil {
		return false, errors.Wrap(tx.Error, "void settled usage")
	}
	return tx.RowsAffected == 1, nil
}

// CountPendingOlderThan reports stuck rows for the janitor sweep.
func CountPendingOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	var n int64
	err := DB.Model(&Usage{}).
		Where("billing_status = ? AND created_at < ?", BillingStatusPending, cutoff).
		Count(&n).Error
	return n, errors.Wrap(err, "count stale pending usages")
}
