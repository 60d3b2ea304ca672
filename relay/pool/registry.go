package pool

import (
	"context"
	"sync"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/llm-gateway/common/coord"
)

// Registry caches one Manager per provider. Managers are rebuilt when the
// provider's serialized pool config changes, so admin edits take effect
// without a restart.
type Registry struct {
	store *coord.Client

	mu      sync.Mutex
	entries map[int64]*registryEntry
}

type registryEntry struct {
	rawConfig string
	manager   *Manager
}

func NewRegistry(store *coord.Client) *Registry {
	// Prime the script run inside pipelines; EVALSHA there cannot fall back
	// to EVAL on NOSCRIPT.
	store.LoadScript(context.Background(), costWindowSumScript)
	return &Registry{
		store:   store,
		entries: make(map[int64]*registryEntry),
	}
}

// Manager returns the pool manager for providerId, building it from
// rawConfig on first use or when the config has changed.
func (r *Registry) Manager(providerId int64, rawConfig string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[providerId]; ok && entry.rawConfig == rawConfig {
		return entry.manager, nil
	}
	cfg, err := ParseConfig(rawConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "parse pool config for provider %d", providerId)
	}
	manager := NewManager(providerId, cfg, r.store)
	r.entries[providerId] = &registryEntry{rawConfig: rawConfig, manager: manager}
	return manager, nil
}
