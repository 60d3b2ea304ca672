package model

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/Laisky/llm-gateway/common/helper"
)

// Counter scopes. Settlement applies deltas in this fixed order (token,
// then key, then provider) so concurrent settlements cannot deadlock on
// row locks taken in opposite orders.
const (
	CounterScopeToken    = "token"
	CounterScopeKey      = "key"
	CounterScopeProvider = "provider"
)

// MonthlyCounter aggregates settled usage per scope entity and calendar
// month, e.g. (token, 42, "2026-08").
type MonthlyCounter struct {
	Id      int64  `json:"id" gorm:"primaryKey"`
	Scope   string `json:"scope" gorm:"size:16;uniqueIndex:idx_counter_scope_month"`
	ScopeId int64  `json:"scope_id" gorm:"uniqueIndex:idx_counter_scope_month"`
	Month   string `json:"month" gorm:"size:7;uniqueIndex:idx_counter_scope_month"`

	UsedUSD      float64 `json:"used_usd"`
	RequestCount int64   `json:"request_count" gorm:"bigint"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// CounterDelta is one settlement's contribution to the monthly counters.
type CounterDelta struct {
	TokenId    int64
	KeyId      int64
	ProviderId int64
	CostUSD    float64
}

// ApplyCounterDelta compound-aggregates one settlement into the monthly
// counters. Scopes with a zero id are skipped (e.g. a request that never
// resolved a key).
func ApplyCounterDelta(d CounterDelta) error {
	month := helper.CurrentMonth()
	for _, target := range []struct {
		scope string
		id    int64
	}{
		{CounterScopeToken, d.TokenId},
		{CounterScopeKey, d.KeyId},
		{CounterScopeProvider, d.ProviderId},
	} {
		if target.id == 0 {
			continue
		}
		if err := bumpCounter(target.scope, target.id, month, d.CostUSD, 1); err != nil {
			return errors.Wrapf(err, "bump %s counter", target.scope)
		}
	}
	return nil
}

// bumpCounter is update-first to avoid unique-conflict races without
// depending on dialect-specific upsert clauses; a lost create race retries
// the update once.
func bumpCounter(scope string, scopeId int64, month string, usd float64, requests int64) error {
	tx := DB.Model(&MonthlyCounter{}).
		Where("scope = ? AND scope_id = ? AND month = ?", scope, scopeId, month).
		Updates(map[string]any{
			"used_usd":      gorm.Expr("used_usd + ?", usd),
			"request_count": gorm.Expr("request_count + ?", requests),
		})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "update monthly counter")
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	row := &MonthlyCounter{
		Scope:        scope,
		ScopeId:      scopeId,
		Month:        month,
		UsedUSD:      usd,
		RequestCount: requests,
	}
	err := DB.Create(row).Error
	if err == nil {
		return nil
	}
	if !isDuplicateKeyError(err) {
		return errors.Wrap(err, "create monthly counter")
	}
	// Lost the create race; the row exists now.
	err = DB.Model(&MonthlyCounter{}).
		Where("scope = ? AND scope_id = ? AND month = ?", scope, scopeId, month).
		Updates(map[string]any{
			"used_usd":      gorm.Expr("used_usd + ?", usd),
			"request_count": gorm.Expr("request_count + ?", requests),
		}).Error
	return errors.Wrap(err, "update monthly counter after create race")
}

// isDuplicateKeyError detects unique-constraint violations across the
// supported SQL dialects.
func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	// Postgres and SQLite surface constraint violations as plain strings
	// through their drivers.
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}

// GetMonthlyCounter fetches one counter row, zero-valued when absent.
func GetMonthlyCounter(scope string, scopeId int64, month string) (*MonthlyCounter, error) {
	row := &MonthlyCounter{}
	err := DB.First(row, "scope = ? AND scope_id = ? AND month = ?", scope, scopeId, month).Error
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return &MonthlyCounter{Scope: scope, ScopeId: scopeId, Month: month}, nil
		}
		return nil, errors.Wrap(err, "get monthly counter")
	}
	return row, nil
}
