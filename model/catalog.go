package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/llm-gateway/relay/billing"
)

// GlobalModel is the canonical model identity shared across providers,
// carrying the default tiered pricing and the capability universe.
type GlobalModel struct {
	Id   int64  `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"size:128;uniqueIndex"`

	// TieredPricing is a JSON array of billing.PriceTier; the first tier is
	// the default price. Must be non-empty.
	TieredPricing string `json:"tiered_pricing" gorm:"type:text"`

	// SupportedCapabilities is a JSON array bounding what any key may claim
	// for this model.
	SupportedCapabilities string `json:"supported_capabilities" gorm:"type:text"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// PricingTiers decodes the model's tiered pricing table.
func (m *GlobalModel) PricingTiers() ([]billing.PriceTier, error) {
	var tiers []billing.PriceTier
	if err := json.Unmarshal([]byte(m.TieredPricing), &tiers); err != nil {
		return nil, errors.Wrapf(err, "decode tiered pricing of global model %q", m.Name)
	}
	if len(tiers) == 0 {
		return nil, errors.Errorf("global model %q has empty tiered pricing", m.Name)
	}
	return tiers, nil
}

// ProviderModel is one provider's realisation of a global model. Non-null
// override columns shadow the global model's values.
type ProviderModel struct {
	Id            int64 `json:"id" gorm:"primaryKey"`
	ProviderId    int64 `json:"provider_id" gorm:"index;uniqueIndex:idx_provider_model_name"`
	GlobalModelId int64 `json:"global_model_id" gorm:"index"`
	// ProviderModelName is the name the upstream expects in request bodies.
	ProviderModelName string `json:"provider_model_name" gorm:"size:128;uniqueIndex:idx_provider_model_name"`
	Active            bool   `json:"active" gorm:"default:true"`

	// TieredPricingOverride replaces the global pricing table when non-empty.
	TieredPricingOverride string `json:"tiered_pricing_override" gorm:"type:text"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// EffectiveTiers resolves the pricing table for this provider model,
// preferring the per-provider override.
func (m *ProviderModel) EffectiveTiers(global *GlobalModel) ([]billing.PriceTier, error) {
	if m.TieredPricingOverride != "" {
		var tiers []billing.PriceTier
		if err := json.Unmarshal([]byte(m.TieredPricingOverride), &tiers); err != nil {
			return nil, errors.Wrapf(err, "decode pricing override of provider model %q", m.ProviderModelName)
		}
		if len(tiers) > 0 {
			return tiers, nil
		}
	}
	return global.PricingTiers()
}

// GetGlobalModelByName resolves the canonical model for a requested name.
func GetGlobalModelByName(name string) (*GlobalModel, error) {
	m := &GlobalModel{}
	if err := DB.First(m, "name = ?", name).Error; err != nil {
		return nil, errors.Wrapf(err, "get global model %q", name)
	}
	return m, nil
}

// GetProviderModel returns the active realisation of a global model on one
// provider, or nil when the provider does not implement it.
func GetProviderModel(providerId, globalModelId int64) (*ProviderModel, error) {
	m := &ProviderModel{}
	err := DB.First(m, "provider_id = ? AND global_model_id = ? AND active = ?",
		providerId, globalModelId, true).Error
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get provider model")
	}
	return m, nil
}

// ListProviderModels returns all active realisations of a global model keyed
// by provider id, fetched in one query for the candidate builder.
func ListProviderModels(globalModelId int64) (map[int64]*ProviderModel, error) {
	var rows []ProviderModel
	err := DB.Find(&rows, "global_model_id = ? AND active = ?", globalModelId, true).Error
	if err != nil {
		return nil, errors.Wrap(err, "list provider models")
	}
	out := make(map[int64]*ProviderModel, len(rows))
	for i := range rows {
		out[rows[i].ProviderId] = &rows[i]
	}
	return out, nil
}

// ListGlobalModels returns every catalogued global model.
func ListGlobalModels() ([]GlobalModel, error) {
	var models []GlobalModel
	if err := DB.Order("name asc").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list global models")
	}
	return models, nil
}
