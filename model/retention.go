package model

import (
	"bytes"
	"compress/gzip"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/logger"
)

// Retention runs three staged sweeps over usage rows:
//
//	detail_days:      raw bodies gzip into companion columns, plaintext cleared
//	compressed_days:  compressed bodies dropped
//	header_days:      stored request headers dropped
//	log_days:         rows deleted outright
//
// Every sweep is idempotent and operates in fixed-size batches so a large
// backlog never holds a long transaction.

var retentionMu sync.Mutex

// RunRetentionSweep executes one pass of all retention stages. Safe to call
// from a timer; overlapping calls coalesce.
func RunRetentionSweep() {
	if !retentionMu.TryLock() {
		return
	}
	defer retentionMu.Unlock()

	if err := compressOldBodies(); err != nil {
		logger.Logger.Warn("retention: compress bodies", zap.Error(err))
	}
	if err := clearCompressedBodies(); err != nil {
		logger.Logger.Warn("retention: clear compressed bodies", zap.Error(err))
	}
	if err := clearOldHeaders(); err != nil {
		logger.Logger.Warn("retention: clear headers", zap.Error(err))
	}
	if err := deleteExpiredRows(); err != nil {
		logger.Logger.Warn("retention: delete rows", zap.Error(err))
	}
}

func retentionCutoff(days int) int64 {
	return time.Now().AddDate(0, 0, -days).UnixMilli()
}

// compressOldBodies gzips raw bodies of rows older than detail_days. Rows
// already compressed (bodies_compressed_at set) are skipped, making the
// write idempotent.
func compressOldBodies() error {
	cutoff := retentionCutoff(config.Retention.DetailDays)
	for {
		var rows []Usage
		err := DB.
			Select("id", "request_body", "response_body").
			Where("created_at < ? AND bodies_compressed_at IS NULL", cutoff).
			Where("request_body <> '' OR response_body <> ''").
			Limit(config.Retention.BatchSize).
			Find(&rows).Error
		if err != nil {
			return errors.Wrap(err, "select rows to compress")
		}
		if len(rows) == 0 {
			return nil
		}

		now := time.Now().UnixMilli()
		for i := range rows {
			reqGz, err := gzipBytes([]byte(rows[i].RequestBody))
			if err != nil {
				return errors.Wrap(err, "gzip request body")
			}
			respGz, err := gzipBytes([]byte(rows[i].ResponseBody))
			if err != nil {
				return errors.Wrap(err, "gzip response body")
			}
			err = DB.Model(&Usage{}).
				Where("id = ? AND bodies_compressed_at IS NULL", rows[i].Id).
				Updates(map[string]any{
					"request_body_gzip":    reqGz,
					"response_body_gzip":   respGz,
					"request_body":         "",
					"response_body":        "",
					"bodies_compressed_at": now,
				}).Error
			if err != nil {
				return errors.Wrap(err, "store compressed bodies")
			}
		}
		if len(rows) < config.Retention.BatchSize {
			return nil
		}
	}
}

// clearCompressedBodies drops gzip companions older than compressed_days.
func clearCompressedBodies() error {
	cutoff := retentionCutoff(config.Retention.CompressedDays)
	for {
		tx := DB.Model(&Usage{}).
			Where("id IN (?)", DB.Model(&Usage{}).
				Select("id").
				Where("created_at < ? AND request_body_gzip IS NOT NULL", cutoff).
				Limit(config.Retention.BatchSize)).
			Updates(map[string]any{
				"request_body_gzip":  nil,
				"response_body_gzip": nil,
			})
		if tx.Error != nil {
			return errors.Wrap(tx.Error, "clear compressed bodies")
		}
		if tx.RowsAffected < int64(config.Retention.BatchSize) {
			return nil
		}
	}
}

// clearOldHeaders drops stored request headers older than header_days.
func clearOldHeaders() error {
	cutoff := retentionCutoff(config.Retention.HeaderDays)
	for {
		tx := DB.Model(&Usage{}).
			Where("id IN (?)", DB.Model(&Usage{}).
				Select("id").
				Where("created_at < ? AND request_headers <> ''", cutoff).
				Limit(config.Retention.BatchSize)).
			Update("request_headers", "")
		if tx.Error != nil {
			return errors.Wrap(tx.Error, "clear request headers")
		}
		if tx.RowsAffected < int64(config.Retention.BatchSize) {
			return nil
		}
	}
}

// deleteExpiredRows removes whole usage rows (and their candidate rows)
// beyond log_days, in fixed-size batches.
func deleteExpiredRows() error {
	cutoff := retentionCutoff(config.Retention.LogDays)
	for {
		var ids []int64
		err := DB.Model(&Usage{}).
			Select("id").
			Where("created_at < ?", cutoff).
			Limit(config.Retention.BatchSize).
			Find(&ids).Error
		if err != nil {
			return errors.Wrap(err, "select expired rows")
		}
		if len(ids) == 0 {
			return nil
		}
		if err := DB.Where("usage_id IN ?", ids).Delete(&UsageCandidate{}).Error; err != nil {
			return errors.Wrap(err, "delete expired candidate rows")
		}
		if err := DB.Where("id IN ?", ids).Delete(&Usage{}).Error; err != nil {
			return errors.Wrap(err, "delete expired usage rows")
		}
		if len(ids) < config.Retention.BatchSize {
			return nil
		}
	}
}

func gzipBytes(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "gzip write")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip close")
	}
	return buf.Bytes(), nil
}

// GunzipBytes restores a compressed body for admin display.
func GunzipBytes(compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = zr.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, errors.Wrap(err, "gzip read")
	}
	return buf.Bytes(), nil
}
