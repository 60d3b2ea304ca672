package pool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Laisky/llm-gateway/common/client"
	"github.com/Laisky/llm-gateway/common/coord"
	"github.com/Laisky/llm-gateway/common/logger"
)

// OAuthCredential is what the token exchange needs from a provider key; the
// refresh token arrives already decrypted.
type OAuthCredential struct {
	KeyId        int64
	RefreshToken string
	TokenURL     string
	ClientId     string
}

// oauthLocalCache backs the token cache when the coordination store is
// unreachable; single-node only.
var oauthLocalCache = gocache.New(10*time.Minute, 5*time.Minute)

// AccessToken resolves a usable access token for an OAuth key: the
// coordination store cache first, the in-process cache second, a refresh
// against the provider's token endpoint last. The cached TTL undercuts the
// token's lifetime by 60 seconds so a served token is never about to expire.
func (m *Manager) AccessToken(ctx context.Context, cred OAuthCredential) (string, error) {
	cacheKey := oauthCacheKey(cred.KeyId)
	if token, found := m.store.Get(ctx, cacheKey); found && token != "" {
		return token, nil
	}
	if token, found := oauthLocalCache.Get(cacheKey); found {
		return token.(string), nil
	}

	token, ttl, err := refreshAccessToken(ctx, cred)
	if err != nil {
		return "", errors.Wrapf(err, "refresh oauth token for key %d", cred.KeyId)
	}

	m.store.Set(ctx, cacheKey, token, ttl)
	oauthLocalCache.Set(cacheKey, token, ttl)
	return token, nil
}

// InvalidateOAuthCache drops the cached access token of a key, typically
// after an upstream 401.
func (m *Manager) InvalidateOAuthCache(ctx context.Context, keyId int64) {
	m.store.Del(ctx, oauthCacheKey(keyId))
	oauthLocalCache.Delete(oauthCacheKey(keyId))
}

// refreshAccessToken exchanges a refresh token at the provider's token
// endpoint and returns the access token with its cacheable TTL.
func refreshAccessToken(ctx context.Context, cred OAuthCredential) (string, time.Duration, error) {
	if cred.TokenURL == "" {
		return "", 0, errors.New("oauth key has no token url")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	if cred.ClientId != "" {
		form.Set("client_id", cred.ClientId)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.ImpatientHTTPClient.Do(req)
	if err != nil {
		return "", 0, errors.Wrap(err, "call token endpoint")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", 0, errors.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", 0, errors.Wrap(err, "decode token response")
	}
	if reply.AccessToken == "" {
		return "", 0, errors.New("token endpoint returned empty access token")
	}

	ttl := cacheableTTL(reply.AccessToken, reply.ExpiresIn)
	return reply.AccessToken, ttl, nil
}

// cacheableTTL derives how long a token may be cached: expires_in minus a
// 60 second safety margin, with the JWT exp claim as fallback when the
// endpoint omitted expires_in.
func cacheableTTL(accessToken string, expiresIn int) time.Duration {
	if expiresIn <= 0 {
		expiresIn = expiresInFromJWT(accessToken)
	}
	if expiresIn <= 60 {
		return time.Minute
	}
	return time.Duration(expiresIn-60) * time.Second
}

// expiresInFromJWT reads the exp claim of a JWT-shaped access token without
// verifying the signature; this only bounds our own cache, never authz.
func expiresInFromJWT(accessToken string) int {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	remaining := time.Until(exp.Time)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds())
}

// StartProactiveRefresh launches a background ticker that re-resolves
// tokens expiring within the configured horizon, keeping the dispatch path
// off the token endpoint. creds is re-evaluated every tick so key changes
// are picked up.
func StartProactiveRefresh(ctx context.Context, store *coord.Client, intervalSec int, creds func() []ManagedCredential) {
	if intervalSec <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshExpiring(ctx, store, intervalSec, creds())
			}
		}
	}()
}

// ManagedCredential pairs an OAuth credential with its provider's pool
// config for background refresh.
type ManagedCredential struct {
	ProviderId int64
	Config     Config
	Credential OAuthCredential
}

func refreshExpiring(ctx context.Context, store *coord.Client, horizonSec int, creds []ManagedCredential) {
	for _, mc := range creds {
		cacheKey := oauthCacheKey(mc.Credential.KeyId)
		ttl, known := store.TTL(ctx, cacheKey)
		if known && ttl > time.Duration(horizonSec)*time.Second {
			continue
		}
		token, tokenTTL, err := refreshAccessToken(ctx, mc.Credential)
		if err != nil {
			logger.Logger.Warn("proactive oauth refresh failed",
				zap.Int64("key_id", mc.Credential.KeyId), zap.Error(err))
			continue
		}
		store.Set(ctx, cacheKey, token, tokenTTL)
		oauthLocalCache.Set(cacheKey, token, tokenTTL)
	}
}
