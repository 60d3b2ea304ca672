// Package pool manages per-provider key pools: sticky sessions, LRU and
// cost-window scheduling state in the coordination store, cooldown-driven
// health policy, session admission and the OAuth token cache. All state
// lives in the coordination store; when it is unreachable every query
// degrades to "unknown" and scheduling falls back to priority order.
package pool

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"
)

// KeywordRule cools a key down when an upstream error body contains the
// keyword, regardless of status code.
type KeywordRule struct {
	Keyword         string `json:"keyword" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0"`
}

// Config tunes one provider's pool. The zero value is unusable; start from
// DefaultConfig.
type Config struct {
	StickyTTLSec      int  `json:"sticky_ttl_sec" validate:"gt=0"`
	LoadThresholdPct  int  `json:"load_threshold_pct" validate:"gte=0,lte=100"`
	LRUEnabled        bool `json:"lru_enabled"`
	CostWindowSec     int  `json:"cost_window_sec" validate:"gt=0"`
	CostLimitPerKey   *int `json:"cost_limit_per_key_tokens,omitempty" validate:"omitempty,gt=0"`
	CostSoftThreshold int  `json:"cost_soft_threshold_pct" validate:"gte=0,lte=100"`

	RateLimitCooldownSec int `json:"rate_limit_cooldown_sec" validate:"gt=0"`
	OverloadCooldownSec  int `json:"overload_cooldown_sec" validate:"gt=0"`
	ProactiveRefreshSec  int `json:"proactive_refresh_sec" validate:"gte=0"`

	HealthPolicyEnabled bool          `json:"health_policy_enabled"`
	UnschedulableRules  []KeywordRule `json:"unschedulable_rules,omitempty" validate:"dive"`
	Strategies          []string      `json:"strategies,omitempty"`

	// Session admission for CLI traffic; zero MaxSessions disables it.
	MaxSessions        int  `json:"max_sessions" validate:"gte=0"`
	IdleTimeoutMinutes int  `json:"idle_timeout_minutes" validate:"gte=0"`
	MaskSessionIds     bool `json:"mask_session_ids"`

	// Stream inactivity timeouts within the window trip a cooldown once the
	// threshold is crossed.
	StreamTimeoutThreshold int `json:"stream_timeout_threshold" validate:"gte=0"`
	StreamTimeoutWindowSec int `json:"stream_timeout_window_sec" validate:"gte=0"`
}

// DefaultConfig returns the documented pool defaults.
func DefaultConfig() Config {
	return Config{
		StickyTTLSec:           3600,
		LoadThresholdPct:       80,
		LRUEnabled:             true,
		CostWindowSec:          18000,
		CostSoftThreshold:      80,
		RateLimitCooldownSec:   300,
		OverloadCooldownSec:    30,
		ProactiveRefreshSec:    180,
		HealthPolicyEnabled:    true,
		IdleTimeoutMinutes:     30,
		StreamTimeoutThreshold: 3,
		StreamTimeoutWindowSec: 600,
	}
}

// ParseConfig merges a provider's JSON pool config over the defaults and
// validates the result. Empty input yields the defaults.
func ParseConfig(raw string) (Config, error) {
	cfg := DefaultConfig()
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return cfg, errors.Wrap(err, "decode pool config")
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, "validate pool config")
	}
	return cfg, nil
}

// StickyTTL returns the sticky-session TTL as a duration.
func (c Config) StickyTTL() time.Duration {
	return time.Duration(c.StickyTTLSec) * time.Second
}

// CostWindow returns the sliding cost window as a duration.
func (c Config) CostWindow() time.Duration {
	return time.Duration(c.CostWindowSec) * time.Second
}

// CostKeyTTL bounds cost sorted sets so abandoned keys expire on their own.
func (c Config) CostKeyTTL() time.Duration {
	return c.CostWindow() + 10*time.Minute
}

// IdleTimeout returns the session idle timeout as a duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

// SoftLimit returns the token total beyond which a key sorts last, or 0
// when no cost limit is configured.
func (c Config) SoftLimit() int64 {
	if c.CostLimitPerKey == nil {
		return 0
	}
	return int64(*c.CostLimitPerKey) * int64(c.CostSoftThreshold) / 100
}
