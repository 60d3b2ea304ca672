package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/Laisky/llm-gateway/common"
)

// Key auth types.
const (
	KeyAuthAPIKey = "api_key"
	KeyAuthOAuth  = "oauth"
)

// ProviderKey is one credential scoped to a provider. The secret column holds
// the AES-GCM ciphertext of either an API key or an OAuth refresh token.
type ProviderKey struct {
	Id         int64  `json:"id" gorm:"primaryKey"`
	ProviderId int64  `json:"provider_id" gorm:"index"`
	Name       string `json:"name" gorm:"size:64"`
	AuthType   string `json:"auth_type" gorm:"size:16;default:api_key"`
	Secret     string `json:"-" gorm:"type:text"`
	// TokenURL is the OAuth token endpoint for auth_type=oauth keys.
	TokenURL string `json:"token_url" gorm:"size:256"`
	ClientId string `json:"client_id" gorm:"size:128"`

	Active     bool `json:"active" gorm:"default:true;index"`
	IsFreeTier bool `json:"is_free_tier" gorm:"default:false"`

	// InternalPriority orders keys within their provider; GlobalPriority
	// orders keys across providers in global_key_first mode (null sorts last).
	InternalPriority int  `json:"internal_priority" gorm:"default:0"`
	GlobalPriority   *int `json:"global_priority"`

	// RateMultiplier scales every billed cost component into actual cost.
	RateMultiplier float64 `json:"rate_multiplier" gorm:"default:1"`

	// Capabilities is a JSON array of capability names this key may serve,
	// e.g. ["cache_1h","video"]. Empty means no extra capabilities.
	Capabilities string `json:"capabilities" gorm:"type:text"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// CapabilitySet decodes the key's capability list into a set.
func (k *ProviderKey) CapabilitySet() (map[string]bool, error) {
	if k.Capabilities == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(k.Capabilities), &names); err != nil {
		return nil, errors.Wrap(err, "decode key capabilities")
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set, nil
}

// PlainSecret decrypts the stored credential.
func (k *ProviderKey) PlainSecret() (string, error) {
	secret, err := common.DecryptSecret(k.Secret)
	if err != nil {
		return "", errors.Wrapf(err, "decrypt secret of key %d", k.Id)
	}
	return secret, nil
}

// SetSecret encrypts and stores plaintext on the row (in memory only; the
// caller persists).
func (k *ProviderKey) SetSecret(plaintext string) error {
	ciphertext, err := common.EncryptSecret(plaintext)
	if err != nil {
		return errors.Wrap(err, "encrypt secret")
	}
	k.Secret = ciphertext
	return nil
}

// DisplaySecret renders the masked form of the credential for admin views
// without logging decrypt failures.
func (k *ProviderKey) DisplaySecret() string {
	return common.DisplaySecret(common.DecryptSecretSilent(k.Secret))
}
