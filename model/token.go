package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"
)

// AccessToken is the caller credential. Only a SHA-256 digest of the
// presented key is stored; the plaintext never touches the database.
//
// The allowed_* columns restrict what the token may dispatch to. A NULL
// column means everything is allowed, a JSON "[]" means nothing is: the
// distinction is deliberate and documented user-facing.
type AccessToken struct {
	Id      int64  `json:"id" gorm:"primaryKey"`
	Name    string `json:"name" gorm:"size:64"`
	KeyHash string `json:"-" gorm:"size:64;uniqueIndex"`
	Active  bool   `json:"active" gorm:"default:true;index"`

	AllowedProviders  *string `json:"allowed_providers" gorm:"type:text"`
	AllowedEndpoints  *string `json:"allowed_endpoints" gorm:"type:text"`
	AllowedModels     *string `json:"allowed_models" gorm:"type:text"`
	AllowedAPIFormats *string `json:"allowed_api_formats" gorm:"type:text"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// HashAccessKey digests a presented key for lookup and storage.
func HashAccessKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidateAccessToken resolves the active token matching a presented key.
func ValidateAccessToken(key string) (*AccessToken, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("access key is empty")
	}
	token := &AccessToken{}
	err := DB.First(token, "key_hash = ? AND active = ?", HashAccessKey(key), true).Error
	if err != nil {
		return nil, errors.Wrap(err, "look up access token")
	}
	return token, nil
}

// allowList decodes one allowed_* column. allowAll is true for NULL columns.
func allowList(column *string) (allowAll bool, values map[string]bool, err error) {
	if column == nil {
		return true, nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(*column), &names); err != nil {
		return false, nil, errors.Wrap(err, "decode allow list")
	}
	values = make(map[string]bool, len(names))
	for _, name := range names {
		values[name] = true
	}
	return false, values, nil
}

// AllowsProvider reports whether the token may use the named provider.
func (t *AccessToken) AllowsProvider(name string) bool {
	return allows(t.AllowedProviders, name)
}

// AllowsEndpoint reports whether the token may use the endpoint dialect name.
func (t *AccessToken) AllowsEndpoint(name string) bool {
	return allows(t.AllowedEndpoints, name)
}

// AllowsModel reports whether the token may request the named global model.
func (t *AccessToken) AllowsModel(name string) bool {
	return allows(t.AllowedModels, name)
}

// AllowsAPIFormat reports whether the token may speak the named dialect.
func (t *AccessToken) AllowsAPIFormat(name string) bool {
	return allows(t.AllowedAPIFormats, name)
}

func allows(column *string, name string) bool {
	allowAll, values, err := allowList(column)
	if err != nil {
		// A malformed allow list denies, never silently widens access.
		return false
	}
	if allowAll {
		return true
	}
	return values[name]
}

// VisibleModelNames filters the catalogue down to the models this token may
// request, for the /v1/models listing.
func (t *AccessToken) VisibleModelNames() ([]string, error) {
	models, err := ListGlobalModels()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		if t.AllowsModel(m.Name) {
			names = append(names, m.Name)
		}
	}
	return names, nil
}
