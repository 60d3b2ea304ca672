package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func backdateUsage(t *testing.T, id int64, age time.Duration) {
	t.Helper()
	createdAt := time.Now().Add(-age).UnixMilli()
	require.NoError(t, DB.Model(&Usage{}).Where("id = ?", id).
		Update("created_at", createdAt).Error)
}

func TestRetentionSweepStages(t *testing.T) {
	newTestDB(t)

	fresh := createTestUsage(t, "ret-fresh")
	require.NoError(t, DB.Model(&Usage{}).Where("id = ?", fresh.Id).Updates(map[string]any{
		"request_body":    "fresh request",
		"response_body":   "fresh response",
		"request_headers": `{"User-Agent":"x"}`,
	}).Error)

	// Past detail_days (7) but inside compressed_days (90): bodies compress.
	compressible := createTestUsage(t, "ret-compress")
	require.NoError(t, DB.Model(&Usage{}).Where("id = ?", compressible.Id).Updates(map[string]any{
		"request_body":  "old request body",
		"response_body": "old response body",
	}).Error)
	backdateUsage(t, compressible.Id, 10*24*time.Hour)

	// Past compressed_days and header_days but inside log_days (365):
	// gzip companions and headers drop, the row survives.
	stale := createTestUsage(t, "ret-stale")
	require.NoError(t, DB.Model(&Usage{}).Where("id = ?", stale.Id).Updates(map[string]any{
		"request_body":    "stale body",
		"request_headers": `{"User-Agent":"y"}`,
	}).Error)
	backdateUsage(t, stale.Id, 100*24*time.Hour)

	// Past log_days: deleted outright.
	expired := createTestUsage(t, "ret-expired")
	backdateUsage(t, expired.Id, 400*24*time.Hour)

	RunRetentionSweep()

	got, err := GetUsageByRequestId("ret-fresh")
	require.NoError(t, err)
	require.Equal(t, "fresh request", got.RequestBody)
	require.Nil(t, got.BodiesCompressedAt)

	got, err = GetUsageByRequestId("ret-compress")
	require.NoError(t, err)
	require.Empty(t, got.RequestBody)
	require.Empty(t, got.ResponseBody)
	require.NotNil(t, got.BodiesCompressedAt)
	restored, err := GunzipBytes(got.RequestBodyGzip)
	require.NoError(t, err)
	require.Equal(t, "old request body", string(restored))

	got, err = GetUsageByRequestId("ret-stale")
	require.NoError(t, err)
	require.Nil(t, got.RequestBodyGzip)
	require.Empty(t, got.RequestHeaders)

	_, err = GetUsageByRequestId("ret-expired")
	require.Error(t, err)
}

func TestRetentionSweepIdempotent(t *testing.T) {
	newTestDB(t)

	u := createTestUsage(t, "ret-repeat")
	require.NoError(t, DB.Model(&Usage{}).Where("id = ?", u.Id).
		Update("request_body", "body").Error)
	backdateUsage(t, u.Id, 10*24*time.Hour)

	RunRetentionSweep()
	got, err := GetUsageByRequestId("ret-repeat")
	require.NoError(t, err)
	firstCompressedAt := got.BodiesCompressedAt
	require.NotNil(t, firstCompressedAt)

	RunRetentionSweep()
	got, err = GetUsageByRequestId("ret-repeat")
	require.NoError(t, err)
	require.Equal(t, *firstCompressedAt, *got.BodiesCompressedAt)
}

func TestGunzipBytesEmpty(t *testing.T) {
	out, err := GunzipBytes(nil)
	require.NoError(t, err)
	require.Nil(t, out)
}
