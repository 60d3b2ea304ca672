package scheduling

import (
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/jinzhu/copier"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// catalogCache holds the active provider catalog when MEMORY_CACHE_ENABLED
// is set. Entries are served as deep copies so a caller can never mutate
// the cached tree.
var catalogCache = gocache.New(30*time.Second, time.Minute)

const catalogCacheKey = "active_providers"

func activeProviders() ([]model.Provider, error) {
	if !config.MemoryCacheEnabled {
		return model.ListActiveProviders()
	}

	if cached, ok := catalogCache.Get(catalogCacheKey); ok {
		var providers []model.Provider
		if err := copier.CopyWithOption(&providers, cached.([]model.Provider),
			copier.Option{DeepCopy: true}); err == nil {
			return providers, nil
		}
	}
	providers, err := model.ListActiveProviders()
	if err != nil {
		return nil, err
	}
	catalogCache.Set(catalogCacheKey, providers, gocache.DefaultExpiration)
	return providers, nil
}

// BuildCandidates enumerates every (provider, endpoint, key) triple that
// could serve the request, ordered by composite priority: provider priority
// descending, key internal priority descending, endpoint id as tie-break.
// Triples that fail a policy or capability check are retained as skipped
// entries after the usable ones.
func BuildCandidates(req *Request) ([]Candidate, error) {
	providers, err := activeProviders()
	if err != nil {
		return nil, errors.Wrap(err, "list active providers")
	}
	providerModels, err := model.ListProviderModels(req.GlobalModel.Id)
	if err != nil {
		return nil, errors.Wrap(err, "list provider models")
	}

	var usable, skipped []Candidate
	for i := range providers {
		provider := &providers[i]
		if req.Token != nil && !req.Token.AllowsProvider(provider.Name) {
			continue
		}

		endpoint, needsConversion := selectEndpoint(provider, req.Dialect, req.Stream)
		if endpoint == nil {
			continue
		}
		if req.Token != nil && !req.Token.AllowsEndpoint(endpoint.Dialect) {
			continue
		}

		pm := providerModels[provider.Id]
		modelMissing := pm == nil || !pm.Active

		for j := range provider.Keys {
			key := &provider.Keys[j]
			if !key.Active {
				continue
			}
			candidate := Candidate{
				Provider:        provider,
				Endpoint:        endpoint,
				Key:             key,
				ProviderModel:   pm,
				NeedsConversion: needsConversion,
			}
			if modelMissing {
				candidate.Skipped = true
				candidate.SkipReason = SkipReasonNoModel
				skipped = append(skipped, candidate)
				continue
			}
			if reason, ok := missingCapability(key, req.Capabilities); !ok {
				candidate.Skipped = true
				candidate.SkipReason = "key lacks capability " + reason
				skipped = append(skipped, candidate)
				continue
			}
			usable = append(usable, candidate)
		}
	}

	logger.Logger.Debug("built candidate plan",
		zap.String("model", req.GlobalModel.Name),
		zap.String("dialect", string(req.Dialect)),
		zap.Int("usable", len(usable)),
		zap.Int("skipped", len(skipped)))
	return append(usable, skipped...), nil
}

// selectEndpoint picks the provider endpoint for the request dialect,
// preferring an exact dialect match over a converted pair. Conversion
// requires the provider to opt in and the pair to be admissible for this
// request's streaming mode.
func selectEndpoint(provider *model.Provider, dialect apiformat.Dialect, stream bool) (*model.Endpoint, bool) {
	for i := range provider.Endpoints {
		endpoint := &provider.Endpoints[i]
		if endpoint.Active && endpoint.DialectValue() == dialect {
			return endpoint, false
		}
	}
	if !provider.EnableFormatConversion {
		return nil, false
	}
	for i := range provider.Endpoints {
		endpoint := &provider.Endpoints[i]
		if !endpoint.Active {
			continue
		}
		if apiformat.PairAdmissible(dialect, endpoint.DialectValue(), stream) {
			return endpoint, true
		}
	}
	return nil, false
}

// missingCapability reports whether the key's capability set covers every
// requested capability; the first missing name is returned for the skip
// reason.
func missingCapability(key *model.ProviderKey, requested map[string]bool) (string, bool) {
	if len(requested) == 0 {
		return "", true
	}
	caps, err := key.CapabilitySet()
	if err != nil {
		logger.Logger.Warn("malformed key capabilities",
			zap.Int64("key_id", key.Id), zap.Error(err))
		caps = nil
	}
	for name := range requested {
		if !caps[name] {
			return name, false
		}
	}
	return "", true
}
