package pool

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"

	"github.com/Laisky/llm-gateway/common/coord"
	"github.com/Laisky/llm-gateway/common/logger"
)

// Manager holds one provider's pool state handle. It is cheap to construct
// per request; all durable state lives in the coordination store.
type Manager struct {
	providerId int64
	cfg        Config
	store      *coord.Client
	strategies []Strategy
	sessions   *sessionFallback
}

// NewManager builds a pool manager for one provider.
func NewManager(providerId int64, cfg Config, store *coord.Client) *Manager {
	return &Manager{
		providerId: providerId,
		cfg:        cfg,
		store:      store,
		strategies: resolveStrategies(cfg.Strategies),
		sessions:   fallbackForProvider(providerId),
	}
}

// Config exposes the manager's effective pool configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// KeyCandidate is one key offered for reordering.
type KeyCandidate struct {
	KeyId    int64
	Priority int
}

// ReorderedKey is one key's placement decision with the trace fields that
// produced it.
type ReorderedKey struct {
	KeyId      int64
	Priority   int
	Skipped    bool
	SkipReason string

	Sticky      bool
	SoftPenalty bool
	LRUScore    float64
	CostTotal   int64
	Score       float64
}

// ReorderTrace summarises one reordering decision for observability.
type ReorderTrace struct {
	StoreDegraded bool
	StickyHit     bool
	StickyKeyId   int64
}

// Reorder applies the pool policy to a provider's candidate keys: sticky
// binding first when healthy, cooldown and cost-exhausted keys skipped,
// the rest ordered by LRU age with soft-threshold keys pushed last. When
// the coordination store is unreachable the input priority order stands
// untouched; unknown health never blocks a request.
func (m *Manager) Reorder(ctx context.Context, sessionUUID string, candidates []KeyCandidate) ([]ReorderedKey, ReorderTrace) {
	trace := ReorderTrace{}
	keys := make([]ReorderedKey, len(candidates))
	for i, c := range candidates {
		keys[i] = ReorderedKey{KeyId: c.KeyId, Priority: c.Priority}
	}

	if !m.store.Available() {
		trace.StoreDegraded = true
		return keys, trace
	}

	stickyTarget := m.resolveSticky(ctx, sessionUUID, &trace)
	m.fetchState(ctx, keys, &trace)

	softLimit := m.cfg.SoftLimit()
	for i := range keys {
		if keys[i].Skipped {
			continue
		}
		if softLimit > 0 && keys[i].CostTotal >= softLimit {
			keys[i].SoftPenalty = true
		}
		if keys[i].KeyId == stickyTarget {
			keys[i].Sticky = true
		}
		if !m.cfg.LRUEnabled {
			keys[i].LRUScore = 0
		}
		// Base score is LRU age; strategies may override below.
		keys[i].Score = keys[i].LRUScore
	}

	for _, s := range m.strategies {
		s.BeforeSelect(ctx, m.providerId, keys)
		for i := range keys {
			if !keys[i].Skipped {
				keys[i].Score = s.ComputeScore(ctx, m.providerId, keys[i])
			}
		}
	}

	m.sortKeys(keys)

	for _, s := range m.strategies {
		s.AfterSelect(ctx, m.providerId, keys)
	}
	return keys, trace
}

// resolveSticky runs the sticky-select transaction: lookup, health check and
// TTL refresh in one script. Returns 0 when no healthy binding exists.
func (m *Manager) resolveSticky(ctx context.Context, sessionUUID string, trace *ReorderTrace) int64 {
	if sessionUUID == "" {
		return 0
	}
	reply, ok := m.store.Eval(ctx, stickySelectScript,
		[]string{m.stickyKey(sessionUUID), m.cooldownPrefix()},
		m.cfg.StickyTTLSec)
	if !ok {
		trace.StoreDegraded = true
		return 0
	}
	bound, isString := reply.(string)
	if !isString || bound == "" {
		return 0
	}
	keyId, err := strconv.ParseInt(bound, 10, 64)
	if err != nil {
		logger.Logger.Warn("malformed sticky binding",
			zap.Int64("provider_id", m.providerId), zap.String("value", bound))
		return 0
	}
	trace.StickyHit = true
	trace.StickyKeyId = keyId
	return keyId
}

// fetchState batch-fetches cooldown, cost-window totals and LRU scores for
// all candidate keys, one coordinated round trip per class, and marks skips.
func (m *Manager) fetchState(ctx context.Context, keys []ReorderedKey, trace *ReorderTrace) {
	// Cooldown reasons in one pipeline of GETs.
	cooldownCmds, ok := m.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range keys {
			pipe.Get(ctx, m.cooldownKey(keys[i].KeyId))
		}
		return nil
	})
	if !ok {
		trace.StoreDegraded = true
		return
	}
	for i, cmd := range cooldownCmds {
		if i >= len(keys) {
			break
		}
		if get, isGet := cmd.(*redis.StringCmd); isGet {
			if reason, err := get.Result(); err == nil && reason != "" {
				keys[i].Skipped = true
				keys[i].SkipReason = "cooldown:" + reason
			}
		}
	}

	// Cost-window sums: the prune-and-sum script per key, pipelined.
	windowStart := time.Now().Add(-m.cfg.CostWindow()).Unix()
	costCmds, ok := m.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range keys {
			costWindowSumScript.Run(ctx, pipe, []string{m.costKey(keys[i].KeyId)}, windowStart)
		}
		return nil
	})
	if ok {
		for i, cmd := range costCmds {
			if i >= len(keys) {
				break
			}
			if run, isCmd := cmd.(*redis.Cmd); isCmd {
				if total, err := run.Int64(); err == nil {
					keys[i].CostTotal = total
				}
			}
		}
	} else {
		trace.StoreDegraded = true
	}

	// LRU scores in one pipeline of ZSCOREs; absent members read as 0
	// (never used, oldest possible).
	lruCmds, ok := m.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range keys {
			pipe.ZScore(ctx, m.lruKey(), strconv.FormatInt(keys[i].KeyId, 10))
		}
		return nil
	})
	if ok {
		for i, cmd := range lruCmds {
			if i >= len(keys) {
				break
			}
			if zscore, isZ := cmd.(*redis.FloatCmd); isZ {
				if score, err := zscore.Result(); err == nil {
					keys[i].LRUScore = score
				}
			}
		}
	} else {
		trace.StoreDegraded = true
	}

	if limit := m.cfg.CostLimitPerKey; limit != nil {
		for i := range keys {
			if !keys[i].Skipped && keys[i].CostTotal >= int64(*limit) {
				keys[i].Skipped = true
				keys[i].SkipReason = "cost_exhausted"
			}
		}
	}
}

// sortKeys orders: sticky first, then non-penalised by descending internal
// priority with ascending score and random tie-break, then soft-penalised,
// then skipped at the tail. The degraded-store path never reaches here and
// keeps the caller's priority order as-is.
func (m *Manager) sortKeys(keys []ReorderedKey) {
	jitter := make(map[int64]float64, len(keys))
	for i := range keys {
		jitter[keys[i].KeyId] = rand.Float64()
	}
	rank := func(k ReorderedKey) int {
		switch {
		case k.Skipped:
			return 3
		case k.SoftPenalty && !k.Sticky:
			return 2
		case k.Sticky:
			return 0
		default:
			return 1
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		if keys[i].Priority != keys[j].Priority {
			return keys[i].Priority > keys[j].Priority
		}
		if keys[i].Score != keys[j].Score {
			return keys[i].Score < keys[j].Score
		}
		return jitter[keys[i].KeyId] < jitter[keys[j].KeyId]
	})
}

// IsSchedulable reports whether a key is currently eligible at all; unknown
// health (degraded store) counts as schedulable.
func (m *Manager) IsSchedulable(ctx context.Context, keyId int64) bool {
	if !m.store.Available() {
		return true
	}
	_, found := m.store.Get(ctx, m.cooldownKey(keyId))
	return !found
}

// CooldownReason returns the active cooldown reason of a key, if any.
func (m *Manager) CooldownReason(ctx context.Context, keyId int64) (string, bool) {
	return m.store.Get(ctx, m.cooldownKey(keyId))
}
