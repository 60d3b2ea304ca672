package billing

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
)

// Dimensions are the observed billable measurements of one request.
type Dimensions struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
	RequestCount        int
	// CacheTTLMinutes selects a per-tier cache TTL price override when the
	// request pinned a cache class (0 = none).
	CacheTTLMinutes int
}

// KeyTerms are the chosen key's billing attributes.
type KeyTerms struct {
	RateMultiplier float64
	IsFreeTier     bool
}

// Snapshot is the immutable audit record of one billing evaluation.
// Reapplying ResolvedVariables over Breakdown reproduces TotalCost.
type Snapshot struct {
	Breakdown         map[string]float64 `json:"breakdown"`
	ResolvedVariables map[string]float64 `json:"resolved_variables"`
	TotalCost         float64            `json:"total_cost"`
	ActualTotalCost   float64            `json:"actual_total_cost"`
	RateMultiplier    float64            `json:"rate_multiplier"`
	IsFreeTier        bool               `json:"is_free_tier"`
}

const perMillion = 1_000_000

// Evaluate runs the pricing expression over one request's dimensions:
//
//	total = input + output + cache_creation + cache_read + request
//
// with tier selection on total_input_context = input + cache_read tokens.
// The rate multiplier scales every component into the actual cost; a free
// tier key zeroes the actual cost while the surface cost stands for
// statistics.
func Evaluate(tiers []PriceTier, dims Dimensions, terms KeyTerms) (*Snapshot, error) {
	totalInputContext := int64(dims.InputTokens) + int64(dims.CacheReadTokens)
	tier := selectTier(tiers, totalInputContext)
	if tier == nil {
		return nil, errors.New("pricing table is empty")
	}
	prices := resolve(tier, dims.CacheTTLMinutes)

	inputCost := float64(dims.InputTokens) * prices.input / perMillion
	outputCost := float64(dims.OutputTokens) * prices.output / perMillion
	cacheCreationCost := float64(dims.CacheCreationTokens) * prices.cacheCreation / perMillion
	cacheReadCost := float64(dims.CacheReadTokens) * prices.cacheRead / perMillion
	requestCost := float64(dims.RequestCount) * prices.perRequest

	total := inputCost + outputCost + cacheCreationCost + cacheReadCost + requestCost

	multiplier := terms.RateMultiplier
	if multiplier < 0 {
		return nil, errors.Errorf("negative rate multiplier %f", multiplier)
	}
	actual := total * multiplier
	if terms.IsFreeTier {
		actual = 0
	}

	return &Snapshot{
		Breakdown: map[string]float64{
			"input_cost":          inputCost,
			"output_cost":         outputCost,
			"cache_creation_cost": cacheCreationCost,
			"cache_read_cost":     cacheReadCost,
			"request_cost":        requestCost,
		},
		ResolvedVariables: map[string]float64{
			"input_tokens":                float64(dims.InputTokens),
			"output_tokens":               float64(dims.OutputTokens),
			"cache_creation_tokens":       float64(dims.CacheCreationTokens),
			"cache_read_tokens":           float64(dims.CacheReadTokens),
			"request_count":               float64(dims.RequestCount),
			"total_input_context":         float64(totalInputContext),
			"input_price_per_1m":          prices.input,
			"output_price_per_1m":         prices.output,
			"cache_creation_price_per_1m": prices.cacheCreation,
			"cache_read_price_per_1m":     prices.cacheRead,
			"price_per_request":           prices.perRequest,
		},
		TotalCost:       total,
		ActualTotalCost: actual,
		RateMultiplier:  multiplier,
		IsFreeTier:      terms.IsFreeTier,
	}, nil
}

// Replay recomputes the total from a snapshot's resolved variables; the
// result matches TotalCost to within float tolerance and guards against
// snapshot corruption.
func Replay(s *Snapshot) float64 {
	v := s.ResolvedVariables
	return v["input_tokens"]*v["input_price_per_1m"]/perMillion +
		v["output_tokens"]*v["output_price_per_1m"]/perMillion +
		v["cache_creation_tokens"]*v["cache_creation_price_per_1m"]/perMillion +
		v["cache_read_tokens"]*v["cache_read_price_per_1m"]/perMillion +
		v["request_count"]*v["price_per_request"]
}

// MarshalSnapshot serialises a snapshot for the usage row.
func MarshalSnapshot(s *Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "marshal billing snapshot")
	}
	return string(raw), nil
}

// UnmarshalSnapshot restores a persisted snapshot.
func UnmarshalSnapshot(raw string) (*Snapshot, error) {
	s := &Snapshot{}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return nil, errors.Wrap(err, "unmarshal billing snapshot")
	}
	return s, nil
}
