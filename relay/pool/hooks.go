package pool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gutils "github.com/Laisky/go-utils/v6"
	"github.com/Laisky/zap"

	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/common/metrics"
)

// Cooldown reasons written by the health policy.
const (
	ReasonAuthFailed      = "auth_failed_401"
	ReasonPaymentRequired = "payment_required_402"
	ReasonForbidden       = "forbidden_403"
	ReasonRateLimited     = "rate_limited_429"
	ReasonOverloaded      = "overloaded_529"
)

// accountDisabledPatterns mark 400 responses that really mean the upstream
// account is dead; such keys cool down for an hour like a 403.
var accountDisabledPatterns = []string{
	"organization has been disabled",
	"organization_disabled",
	"account has been disabled",
	"account_disabled",
}

// OnRequestSuccess records a completed request on a key: sticky binding
// refresh, LRU touch and a cost-window entry for the tokens consumed. All
// writes are fire-and-forget; a degraded store loses bookkeeping, never the
// request.
func (m *Manager) OnRequestSuccess(ctx context.Context, keyId int64, sessionUUID string, tokensUsed int) {
	if !m.store.Available() {
		return
	}
	now := time.Now()

	if sessionUUID != "" {
		m.store.Set(ctx, m.stickyKey(sessionUUID),
			strconv.FormatInt(keyId, 10), m.cfg.StickyTTL())
	}
	if m.cfg.LRUEnabled {
		m.store.ZAdd(ctx, m.lruKey(), float64(now.Unix()), strconv.FormatInt(keyId, 10))
	}
	if tokensUsed > 0 {
		member := fmt.Sprintf("%s:%d", gutils.UUID7(), tokensUsed)
		costKey := m.costKey(keyId)
		m.store.ZAdd(ctx, costKey, float64(now.Unix()), member)
		m.store.Expire(ctx, costKey, m.cfg.CostKeyTTL())
	}
}

// RecordAffinity binds a request prefix fingerprint to the key that served
// it, for cache-affinity scheduling.
func (m *Manager) RecordAffinity(ctx context.Context, fingerprint string, keyId int64) {
	if fingerprint == "" {
		return
	}
	m.store.Set(ctx, m.affinityKey(fingerprint), strconv.FormatInt(keyId, 10), m.cfg.StickyTTL())
}

// AffinityTarget returns the key that most recently served the same prefix
// fingerprint, or 0.
func (m *Manager) AffinityTarget(ctx context.Context, fingerprint string) int64 {
	if fingerprint == "" {
		return 0
	}
	raw, ok := m.store.Get(ctx, m.affinityKey(fingerprint))
	if !ok {
		return 0
	}
	keyId, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return keyId
}

// UpstreamError carries what the health policy needs from a failed attempt.
type UpstreamError struct {
	StatusCode int
	// RetryAfterSec is the parsed Retry-After header value, 0 when absent.
	RetryAfterSec int
	// BodyExcerpt is the decoded error body (truncated by the caller).
	BodyExcerpt string
}

// OnRequestError applies the health policy to a failed attempt: status codes
// and body patterns map onto cooldowns with recorded reasons. Idempotent;
// re-applying the same error refreshes the same cooldown.
func (m *Manager) OnRequestError(ctx context.Context, keyId int64, upstreamErr UpstreamError) {
	if !m.cfg.HealthPolicyEnabled {
		return
	}

	duration, reason := m.classifyError(upstreamErr)
	if duration <= 0 {
		return
	}
	if upstreamErr.StatusCode == 401 {
		m.InvalidateOAuthCache(ctx, keyId)
	}
	m.setCooldown(ctx, keyId, reason, duration)
}

// classifyError maps an upstream failure onto a cooldown duration and
// reason; zero duration means no cooldown.
func (m *Manager) classifyError(upstreamErr UpstreamError) (time.Duration, string) {
	switch upstreamErr.StatusCode {
	case 401:
		return time.Minute, ReasonAuthFailed
	case 402:
		return time.Hour, ReasonPaymentRequired
	case 403:
		return time.Hour, ReasonForbidden
	case 400:
		lower := strings.ToLower(upstreamErr.BodyExcerpt)
		for _, pattern := range accountDisabledPatterns {
			if strings.Contains(lower, pattern) {
				return time.Hour, "account_disabled_400:" + pattern
			}
		}
	case 429:
		seconds := upstreamErr.RetryAfterSec
		if seconds > 0 {
			if seconds < 1 {
				seconds = 1
			}
			if seconds > 3600 {
				seconds = 3600
			}
			return time.Duration(seconds) * time.Second, ReasonRateLimited
		}
		return time.Duration(m.cfg.RateLimitCooldownSec) * time.Second, ReasonRateLimited
	case 529:
		return time.Duration(m.cfg.OverloadCooldownSec) * time.Second, ReasonOverloaded
	}

	// Keyword rules apply to any status.
	lower := strings.ToLower(upstreamErr.BodyExcerpt)
	for _, rule := range m.cfg.UnschedulableRules {
		if rule.Keyword != "" && strings.Contains(lower, strings.ToLower(rule.Keyword)) {
			duration := time.Duration(rule.DurationMinutes) * time.Minute
			if duration < time.Minute {
				duration = time.Minute
			}
			return duration, "rule:" + rule.Keyword
		}
	}
	return 0, ""
}

// OnStreamTimeout counts an inactivity timeout against a key; crossing the
// threshold within the window trips a cooldown.
func (m *Manager) OnStreamTimeout(ctx context.Context, keyId int64) {
	if m.cfg.StreamTimeoutThreshold <= 0 || !m.store.Available() {
		return
	}
	counterKey := m.streamTimeoutKey(keyId)
	n, ok := m.store.Incr(ctx, counterKey)
	if !ok {
		return
	}
	if n == 1 {
		m.store.Expire(ctx, counterKey, time.Duration(m.cfg.StreamTimeoutWindowSec)*time.Second)
	}
	if n >= int64(m.cfg.StreamTimeoutThreshold) {
		m.setCooldown(ctx, keyId,
			fmt.Sprintf("stream_timeout_x%d", n),
			time.Duration(m.cfg.RateLimitCooldownSec)*time.Second)
		m.store.Del(ctx, counterKey)
	}
}

func (m *Manager) setCooldown(ctx context.Context, keyId int64, reason string, duration time.Duration) {
	m.store.Set(ctx, m.cooldownKey(keyId), reason, duration)
	metrics.GlobalRecorder.RecordCooldown(m.providerId, keyId, reason)
	logger.Logger.Info("key cooldown set",
		zap.Int64("provider_id", m.providerId),
		zap.Int64("key_id", keyId),
		zap.String("reason", reason),
		zap.Duration("duration", duration))
}
