package model

import (
	"github.com/Laisky/errors/v2"
)

// Candidate attempt status values.
const (
	CandidateStatusPending   = "pending"
	CandidateStatusStreaming = "streaming"
	CandidateStatusSuccess   = "success"
	CandidateStatusFailed    = "failed"
	CandidateStatusSkipped   = "skipped"
	CandidateStatusCancelled = "cancelled"
)

// UsageCandidate persists the outcome of one attempt slot in a request's
// dispatch plan, including slots skipped before any upstream call so the
// full decision is observable afterwards.
type UsageCandidate struct {
	Id             int64 `json:"id" gorm:"primaryKey"`
	UsageId        int64 `json:"usage_id" gorm:"index;uniqueIndex:idx_candidate_attempt"`
	CandidateIndex int   `json:"candidate_index" gorm:"uniqueIndex:idx_candidate_attempt"`
	RetryIndex     int   `json:"retry_index" gorm:"uniqueIndex:idx_candidate_attempt"`

	ProviderId int64 `json:"provider_id"`
	EndpointId int64 `json:"endpoint_id"`
	KeyId      int64 `json:"key_id"`

	Status     string `json:"status" gorm:"size:16;default:pending"`
	SkipReason string `json:"skip_reason" gorm:"size:128"`
	StatusCode int    `json:"status_code"`
	// ErrorDetail is a truncated upstream error message for diagnosis.
	ErrorDetail string `json:"error_detail" gorm:"size:512"`
	LatencyMs   int64  `json:"latency_ms" gorm:"bigint"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// InsertCandidates records the full dispatch plan in one batch.
func InsertCandidates(rows []UsageCandidate) error {
	if len(rows) == 0 {
		return nil
	}
	return errors.Wrap(DB.Create(&rows).Error, "insert usage candidates")
}

// UpdateCandidateOutcome writes the terminal state of one attempt slot.
func UpdateCandidateOutcome(usageId int64, candidateIndex, retryIndex int, status string, statusCode int, errorDetail string, latencyMs int64) error {
	if len(errorDetail) > 512 {
		errorDetail = errorDetail[:512]
	}
	err := DB.Model(&UsageCandidate{}).
		Where("usage_id = ? AND candidate_index = ? AND retry_index = ?",
			usageId, candidateIndex, retryIndex).
		Updates(map[string]any{
			"status":       status,
			"status_code":  statusCode,
			"error_detail": errorDetail,
			"latency_ms":   latencyMs,
		}).Error
	return errors.Wrap(err, "update candidate outcome")
}

// ListCandidates returns the attempt rows of one request ordered by plan
// position.
func ListCandidates(usageId int64) ([]UsageCandidate, error) {
	var rows []UsageCandidate
	err := DB.
		Where("usage_id = ?", usageId).
		Order("candidate_index asc, retry_index asc").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list usage candidates")
	}
	return rows, nil
}
