package pool

import (
	"context"
	"sync"
)

// Strategy lets deployments inject custom scoring into candidate
// reordering. Implementations must not block on the coordination store;
// they run inline on the dispatch path.
type Strategy interface {
	// BeforeSelect observes the candidate set before scoring.
	BeforeSelect(ctx context.Context, providerId int64, keys []ReorderedKey)
	// ComputeScore returns the ordering score for one key; lower runs first.
	ComputeScore(ctx context.Context, providerId int64, key ReorderedKey) float64
	// AfterSelect observes the final ordering.
	AfterSelect(ctx context.Context, providerId int64, keys []ReorderedKey)
}

var (
	strategiesMu sync.RWMutex
	strategyReg  = map[string]Strategy{}
)

// RegisterStrategy installs a named strategy for pool configs to reference.
func RegisterStrategy(name string, s Strategy) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	strategyReg[name] = s
}

// resolveStrategies maps configured names onto registered strategies;
// unknown names are ignored rather than failing the pool.
func resolveStrategies(names []string) []Strategy {
	if len(names) == 0 {
		return nil
	}
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		if s, found := strategyReg[name]; found {
			out = append(out, s)
		}
	}
	return out
}
