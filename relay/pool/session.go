package pool

import (
	"context"
	"regexp"
	"sync"
	"time"

	gutils "github.com/Laisky/go-utils/v6"
	gocache "github.com/patrickmn/go-cache"
)

// sessionMarker matches the trailing session marker CLI clients append to
// metadata.user_id, e.g. "user_..._session_550e8400-e29b-41d4-a716-446655440000".
var sessionMarker = regexp.MustCompile(`_session_([0-9a-fA-F-]{36})$`)

// ExtractSessionID pulls the session UUID out of a metadata user id, or ""
// when no marker is present.
func ExtractSessionID(metadataUserId string) string {
	match := sessionMarker.FindStringSubmatch(metadataUserId)
	if len(match) != 2 {
		return ""
	}
	return match[1]
}

// maskedSessions maps (scope, real session id) to a stable masked UUID so
// the upstream never sees tenant-identifying session ids. Each entry lives
// for its pool's idle timeout, refreshed on use, so one session keeps one
// mask for as long as the admission set counts it as active.
var maskedSessions = gocache.New(gocache.NoExpiration, 5*time.Minute)

// MaskSessionID returns the stable masked UUID for a session within a scope,
// minting one on first sight. Masking is a per-pool opt-in and runs after
// admission so the admission set counts real sessions; pools that do not opt
// in get the raw id back.
func (m *Manager) MaskSessionID(scope, sessionId string) string {
	if !m.cfg.MaskSessionIds || sessionId == "" {
		return sessionId
	}
	ttl := m.cfg.IdleTimeout()
	cacheKey := scope + "\x00" + sessionId
	if masked, found := maskedSessions.Get(cacheKey); found {
		maskedSessions.Set(cacheKey, masked, ttl)
		return masked.(string)
	}
	masked := gutils.UUID7()
	maskedSessions.Set(cacheKey, masked, ttl)
	return masked
}

// sessionFallback is the in-process admission map used when the coordination
// store is unreachable: best-effort, single-node, one mutex per provider.
type sessionFallback struct {
	mu       sync.Mutex
	lastSeen map[string]map[string]time.Time // scope -> session id -> last seen
}

var (
	fallbacksMu sync.Mutex
	fallbacks   = map[int64]*sessionFallback{}
)

func fallbackForProvider(providerId int64) *sessionFallback {
	fallbacksMu.Lock()
	defer fallbacksMu.Unlock()
	fb := fallbacks[providerId]
	if fb == nil {
		fb = &sessionFallback{lastSeen: map[string]map[string]time.Time{}}
		fallbacks[providerId] = fb
	}
	return fb
}

func (fb *sessionFallback) admit(scope, sessionId string, maxSessions int, idleTimeout time.Duration) (bool, int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	now := time.Now()
	sessions := fb.lastSeen[scope]
	if sessions == nil {
		sessions = map[string]time.Time{}
		fb.lastSeen[scope] = sessions
	}
	for id, seen := range sessions {
		if now.Sub(seen) > idleTimeout {
			delete(sessions, id)
		}
	}
	if _, active := sessions[sessionId]; active {
		sessions[sessionId] = now
		return true, len(sessions)
	}
	if len(sessions) >= maxSessions {
		return false, len(sessions)
	}
	sessions[sessionId] = now
	return true, len(sessions) + 1
}

// AdmitSession enforces the provider's max-sessions cap for one scope:
// prune idle entries, touch a known session, admit a new one only below the
// cap. A single scripted transaction when the store is reachable; the
// in-process map otherwise.
func (m *Manager) AdmitSession(ctx context.Context, scope, sessionId string) (admitted bool, activeCount int) {
	if m.cfg.MaxSessions <= 0 || sessionId == "" {
		return true, 0
	}

	if m.store.Available() {
		now := time.Now()
		idleCutoff := now.Add(-m.cfg.IdleTimeout()).Unix()
		setTTL := int(m.cfg.IdleTimeout().Seconds()) + 60
		reply, ok := m.store.Eval(ctx, sessionReserveScript,
			[]string{m.sessionsKey(scope)},
			now.Unix(), idleCutoff, m.cfg.MaxSessions, sessionId, setTTL)
		if ok {
			if pair, isSlice := reply.([]interface{}); isSlice && len(pair) == 2 {
				admittedFlag, _ := pair[0].(int64)
				count, _ := pair[1].(int64)
				return admittedFlag == 1, int(count)
			}
		}
		// Fall through to the local map on a degraded store.
	}
	return m.sessions.admit(scope, sessionId, m.cfg.MaxSessions, m.cfg.IdleTimeout())
}
