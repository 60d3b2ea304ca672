// Package billing evaluates per-model tiered pricing over the token
// dimensions observed on a stream and produces an immutable Snapshot for
// settlement and audit.
package billing

// CacheTTLPrice overrides cache prices for requests pinned to one cache TTL
// class, matched on cache_ttl_minutes.
type CacheTTLPrice struct {
	TTLMinutes              int      `json:"ttl_minutes"`
	CacheCreationPricePer1M *float64 `json:"cache_creation_price_per_1m,omitempty"`
	CacheReadPricePer1M     *float64 `json:"cache_read_price_per_1m,omitempty"`
}

// PriceTier is one row of a model's tiered pricing table. The first tier
// whose UpTo bound admits the request's total input context wins; a nil
// UpTo is unbounded. Unset cache prices derive from the input price.
type PriceTier struct {
	UpTo *int64 `json:"up_to,omitempty"`

	InputPricePer1M         float64  `json:"input_price_per_1m"`
	OutputPricePer1M        float64  `json:"output_price_per_1m"`
	CacheCreationPricePer1M *float64 `json:"cache_creation_price_per_1m,omitempty"`
	CacheReadPricePer1M     *float64 `json:"cache_read_price_per_1m,omitempty"`
	PricePerRequest         float64  `json:"price_per_request,omitempty"`

	CacheTTLPricing []CacheTTLPrice `json:"cache_ttl_pricing,omitempty"`
}

// Derived cache price factors applied when a tier leaves them unset.
const (
	cacheCreationFactor = 1.25
	cacheReadFactor     = 0.1
)

// resolvedPrices is the flat price set after tier selection and derivation.
type resolvedPrices struct {
	input         float64
	output        float64
	cacheCreation float64
	cacheRead     float64
	perRequest    float64
}

// selectTier picks the pricing tier for a request. totalInputContext is
// input_tokens + cache_read_tokens per the tier contract.
func selectTier(tiers []PriceTier, totalInputContext int64) *PriceTier {
	for i := range tiers {
		if tiers[i].UpTo == nil || totalInputContext <= *tiers[i].UpTo {
			return &tiers[i]
		}
	}
	// No tier admits the context; the last (largest) tier applies.
	if len(tiers) > 0 {
		return &tiers[len(tiers)-1]
	}
	return nil
}

// resolve flattens a tier into concrete prices, deriving unset cache prices
// and applying any cache-TTL override matching the request.
func resolve(tier *PriceTier, cacheTTLMinutes int) resolvedPrices {
	p := resolvedPrices{
		input:      tier.InputPricePer1M,
		output:     tier.OutputPricePer1M,
		perRequest: tier.PricePerRequest,
	}

	p.cacheCreation = tier.InputPricePer1M * cacheCreationFactor
	if tier.CacheCreationPricePer1M != nil {
		p.cacheCreation = *tier.CacheCreationPricePer1M
	}
	p.cacheRead = tier.InputPricePer1M * cacheReadFactor
	if tier.CacheReadPricePer1M != nil {
		p.cacheRead = *tier.CacheReadPricePer1M
	}

	if cacheTTLMinutes > 0 {
		for _, ttl := range tier.CacheTTLPricing {
			if ttl.TTLMinutes != cacheTTLMinutes {
				continue
			}
			if ttl.CacheCreationPricePer1M != nil {
				p.cacheCreation = *ttl.CacheCreationPricePer1M
			}
			if ttl.CacheReadPricePer1M != nil {
				p.cacheRead = *ttl.CacheReadPricePer1M
			}
			break
		}
	}
	return p
}
