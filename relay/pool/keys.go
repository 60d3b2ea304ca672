package pool

import "fmt"

// Coordination store key layout per provider. Everything here is ephemeral
// and TTL-bounded; deleting a provider key may strand entries which expire
// on their own.
func (m *Manager) stickyKey(sessionUUID string) string {
	return fmt.Sprintf("ap:%d:sticky:%s", m.providerId, sessionUUID)
}

func (m *Manager) lruKey() string {
	return fmt.Sprintf("ap:%d:lru", m.providerId)
}

func (m *Manager) cooldownKey(keyId int64) string {
	return fmt.Sprintf("ap:%d:cooldown:%d", m.providerId, keyId)
}

// cooldownPrefix is completed with a key id inside the sticky-select script.
func (m *Manager) cooldownPrefix() string {
	return fmt.Sprintf("ap:%d:cooldown:", m.providerId)
}

func (m *Manager) costKey(keyId int64) string {
	return fmt.Sprintf("ap:%d:cost:%d", m.providerId, keyId)
}

func (m *Manager) sessionsKey(scope string) string {
	return fmt.Sprintf("ap:%d:sessions:%s", m.providerId, scope)
}

func (m *Manager) streamTimeoutKey(keyId int64) string {
	return fmt.Sprintf("ap:%d:stream_timeout:%d", m.providerId, keyId)
}

func (m *Manager) affinityKey(fingerprint string) string {
	return fmt.Sprintf("ap:%d:affinity:%s", m.providerId, fingerprint)
}

func oauthCacheKey(keyId int64) string {
	return fmt.Sprintf("oauth_token_cache:%d", keyId)
}
