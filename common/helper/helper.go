package helper

import (
	"fmt"
	"time"

	gutils "github.com/Laisky/go-utils/v6"
)

// GenRequestID returns a time-ordered unique id for a gateway request.
func GenRequestID() string {
	return gutils.UUID7()
}

// NowUnixMilli returns the current wall clock in milliseconds.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// ElapsedMs returns the elapsed wall time since start in milliseconds,
// never negative.
func ElapsedMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// CurrentMonth returns the aggregation bucket for monthly counters, e.g.
// "2026-08".
func CurrentMonth() string {
	now := time.Now().UTC()
	return fmt.Sprintf("%04d-%02d", now.Year(), int(now.Month()))
}
