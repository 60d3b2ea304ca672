package scheduling

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/Laisky/zap"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/relay/pool"
)

// Scheduler turns builder output into the final dispatch order. It is
// constructed once at startup and shared by all requests.
type Scheduler struct {
	pools    *pool.Registry
	settings config.SchedulerSettings
}

func NewScheduler(pools *pool.Registry, settings config.SchedulerSettings) *Scheduler {
	return &Scheduler{pools: pools, settings: settings}
}

// Order applies the configured priority mode to the candidate plan. Usable
// candidates come first in attempt order; skipped ones keep their reasons
// and trail the list. Pool state only ever demotes or annotates, so a
// degraded coordination store leaves the builder's priority order intact.
func (s *Scheduler) Order(ctx context.Context, req *Request, candidates []Candidate) []Candidate {
	var usable, skipped []Candidate
	for _, c := range candidates {
		if c.Skipped {
			skipped = append(skipped, c)
		} else {
			usable = append(usable, c)
		}
	}

	switch s.settings.Mode {
	case "global_key_first":
		usable, skipped = s.orderGlobalKeyFirst(ctx, req, usable, skipped)
	default:
		usable, skipped = s.orderProviderFirst(ctx, req, usable, skipped)
	}

	if len(usable) == 0 && s.settings.LastResortRateLimited {
		usable, skipped = promoteLastResort(usable, skipped)
	}
	if s.settings.CacheAffinityEnabled && req.PrefixFingerprint != "" {
		usable = s.applyCacheAffinity(ctx, req, usable)
	}
	return append(usable, skipped...)
}

// orderProviderFirst keeps the builder's provider grouping and lets each
// provider's pool manager reorder its own keys.
func (s *Scheduler) orderProviderFirst(ctx context.Context, req *Request, usable, skipped []Candidate) ([]Candidate, []Candidate) {
	var ordered []Candidate
	for start := 0; start < len(usable); {
		end := start
		for end < len(usable) && usable[end].Provider.Id == usable[start].Provider.Id {
			end++
		}
		group := usable[start:end]
		start = end

		manager, err := s.pools.Manager(group[0].Provider.Id, group[0].Provider.PoolConfig)
		if err != nil {
			logger.Logger.Warn("pool config rejected, keeping priority order",
				zap.Int64("provider_id", group[0].Provider.Id), zap.Error(err))
			ordered = append(ordered, group...)
			continue
		}

		byKey := make(map[int64]*Candidate, len(group))
		keyCandidates := make([]pool.KeyCandidate, 0, len(group))
		for i := range group {
			byKey[group[i].Key.Id] = &group[i]
			keyCandidates = append(keyCandidates, pool.KeyCandidate{
				KeyId:    group[i].Key.Id,
				Priority: group[i].Key.InternalPriority,
			})
		}

		reordered, _ := manager.Reorder(ctx, req.SessionUUID, keyCandidates)
		for _, rk := range reordered {
			candidate := byKey[rk.KeyId]
			if candidate == nil {
				continue
			}
			if rk.Skipped {
				candidate.Skipped = true
				candidate.SkipReason = rk.SkipReason
				skipped = append(skipped, *candidate)
				continue
			}
			ordered = append(ordered, *candidate)
		}
	}
	return ordered, skipped
}

// orderGlobalKeyFirst flattens providers and sorts keys by global priority,
// nulls last, with a deterministic fingerprint hash breaking ties so load
// spreads stably across equal-priority keys. The pool is consulted only to
// skip unhealthy keys.
func (s *Scheduler) orderGlobalKeyFirst(ctx context.Context, req *Request, usable, skipped []Candidate) ([]Candidate, []Candidate) {
	var ordered []Candidate
	for _, c := range usable {
		manager, err := s.pools.Manager(c.Provider.Id, c.Provider.PoolConfig)
		if err != nil {
			ordered = append(ordered, c)
			continue
		}
		if !manager.IsSchedulable(ctx, c.Key.Id) {
			reason, _ := manager.CooldownReason(ctx, c.Key.Id)
			c.Skipped = true
			c.SkipReason = "cooldown:" + reason
			skipped = append(skipped, c)
			continue
		}
		ordered = append(ordered, c)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Key.GlobalPriority, ordered[j].Key.GlobalPriority
		switch {
		case pi == nil && pj == nil:
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi > *pj
		}
		return candidateHash(req.PrefixFingerprint, ordered[i].Key.Id) <
			candidateHash(req.PrefixFingerprint, ordered[j].Key.Id)
	})
	return ordered, skipped
}

// candidateHash yields the stable tie-break value for a (fingerprint, key)
// pair.
func candidateHash(fingerprint string, keyId int64) uint32 {
	h := fnv.New32a()
	h.Write([]byte(fingerprint))
	h.Write([]byte(strconv.FormatInt(keyId, 10)))
	return h.Sum32()
}

// applyCacheAffinity moves the key that most recently served the same
// request prefix to the front. The hint is additive only: it never skips,
// demotes or resurrects a candidate.
func (s *Scheduler) applyCacheAffinity(ctx context.Context, req *Request, usable []Candidate) []Candidate {
	seen := make(map[int64]bool)
	for i, c := range usable {
		if seen[c.Provider.Id] {
			continue
		}
		seen[c.Provider.Id] = true
		manager, err := s.pools.Manager(c.Provider.Id, c.Provider.PoolConfig)
		if err != nil {
			continue
		}
		target := manager.AffinityTarget(ctx, req.PrefixFingerprint)
		if target == 0 {
			continue
		}
		for j := i; j < len(usable); j++ {
			if usable[j].Key.Id == target {
				hit := usable[j]
				copy(usable[i+1:j+1], usable[i:j])
				usable[i] = hit
				return usable
			}
		}
	}
	return usable
}

// promoteLastResort lets a rate-limited key serve as the final fallback
// when no healthy candidate remains.
func promoteLastResort(usable, skipped []Candidate) ([]Candidate, []Candidate) {
	for i, c := range skipped {
		if c.SkipReason == "cooldown:"+pool.ReasonRateLimited {
			c.Skipped = false
			c.SkipReason = ""
			usable = append(usable, c)
			skipped = append(skipped[:i], skipped[i+1:]...)
			break
		}
	}
	return usable, skipped
}
