package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// Provider is one logical upstream vendor. Deactivation is soft: a provider
// referenced by usage rows is never destroyed.
type Provider struct {
	Id       int64  `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"size:64;uniqueIndex"`
	Priority int    `json:"priority" gorm:"default:0;index"`
	Active   bool   `json:"active" gorm:"default:true;index"`

	// EnableFormatConversion admits candidates speaking another dialect via
	// the converter matrix.
	EnableFormatConversion bool `json:"enable_format_conversion" gorm:"default:false"`

	// PoolConfig is a JSON-serialised pool.Config override; empty means
	// defaults.
	PoolConfig string `json:"pool_config" gorm:"type:text"`

	Endpoints []Endpoint    `json:"endpoints,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Keys      []ProviderKey `json:"keys,omitempty" gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// Endpoint is one dialect a provider exposes: base URL plus optional path and
// header overrides. A provider has at most one endpoint per dialect.
type Endpoint struct {
	Id         int64  `json:"id" gorm:"primaryKey"`
	ProviderId int64  `json:"provider_id" gorm:"index;uniqueIndex:idx_endpoint_provider_dialect"`
	Dialect    string `json:"dialect" gorm:"size:32;uniqueIndex:idx_endpoint_provider_dialect"`
	BaseURL    string `json:"base_url" gorm:"size:256"`
	// CustomPath overrides the dialect's default upstream path when set.
	CustomPath string `json:"custom_path" gorm:"size:256"`
	// HeaderRules is a JSON object of header name -> value applied to
	// outbound requests after dialect defaults.
	HeaderRules string `json:"header_rules" gorm:"type:text"`
	// TLSProfile is an opaque hint for upstreams that fingerprint clients.
	TLSProfile string `json:"tls_profile" gorm:"size:64"`
	Active     bool   `json:"active" gorm:"default:true"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// DialectValue returns the endpoint dialect as an apiformat value.
func (e *Endpoint) DialectValue() apiformat.Dialect {
	return apiformat.Dialect(e.Dialect)
}

// ParsedHeaderRules decodes the endpoint's header rewrite rules.
func (e *Endpoint) ParsedHeaderRules() (map[string]string, error) {
	if e.HeaderRules == "" {
		return nil, nil
	}
	rules := map[string]string{}
	if err := json.Unmarshal([]byte(e.HeaderRules), &rules); err != nil {
		return nil, errors.Wrap(err, "decode endpoint header rules")
	}
	return rules, nil
}

// ListActiveProviders returns all active providers with their active
// endpoints and keys preloaded, ordered by priority descending.
func ListActiveProviders() ([]Provider, error) {
	var providers []Provider
	err := DB.
		Preload("Endpoints", "active = ?", true).
		Preload("Keys", func(db *gorm.DB) *gorm.DB {
			return db.Where("active = ?", true).Order("internal_priority desc, id asc")
		}).
		Where("active = ?", true).
		Order("priority desc, id asc").
		Find(&providers).Error
	if err != nil {
		return nil, errors.Wrap(err, "list active providers")
	}
	return providers, nil
}

// GetProviderById fetches one provider regardless of active flag.
func GetProviderById(id int64) (*Provider, error) {
	provider := &Provider{}
	if err := DB.First(provider, "id = ?", id).Error; err != nil {
		return nil, errors.Wrap(err, "get provider by id")
	}
	return provider, nil
}
