package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestHashAccessKey(t *testing.T) {
	h := HashAccessKey("sk-test")
	require.Len(t, h, 64)
	require.Equal(t, h, HashAccessKey("sk-test"))
	require.NotEqual(t, h, HashAccessKey("sk-other"))
}

func TestValidateAccessToken(t *testing.T) {
	newTestDB(t)
	require.NoError(t, DB.Create(&AccessToken{
		Name:    "ci",
		KeyHash: HashAccessKey("sk-valid"),
		Active:  true,
	}).Error)
	require.NoError(t, DB.Create(&AccessToken{
		Name:    "revoked",
		KeyHash: HashAccessKey("sk-revoked"),
		Active:  false,
	}).Error)

	token, err := ValidateAccessToken("sk-valid")
	require.NoError(t, err)
	require.Equal(t, "ci", token.Name)

	// Surrounding whitespace is caller noise, not part of the key.
	token, err = ValidateAccessToken("  sk-valid \n")
	require.NoError(t, err)
	require.Equal(t, "ci", token.Name)

	_, err = ValidateAccessToken("sk-unknown")
	require.Error(t, err)

	_, err = ValidateAccessToken("sk-revoked")
	require.Error(t, err)

	_, err = ValidateAccessToken("")
	require.Error(t, err)
}

func TestAllowListSemantics(t *testing.T) {
	// NULL column: everything allowed.
	token := &AccessToken{}
	require.True(t, token.AllowsProvider("anthropic"))
	require.True(t, token.AllowsModel("any-model"))

	// Empty JSON array: nothing allowed.
	token.AllowedProviders = strPtr("[]")
	require.False(t, token.AllowsProvider("anthropic"))

	token.AllowedProviders = strPtr(`["anthropic","openai"]`)
	require.True(t, token.AllowsProvider("anthropic"))
	require.False(t, token.AllowsProvider("google"))

	// A malformed list denies rather than widening access.
	token.AllowedModels = strPtr("{not json")
	require.False(t, token.AllowsModel("gpt-test"))

	token.AllowedAPIFormats = strPtr(`["claude:chat"]`)
	require.True(t, token.AllowsAPIFormat("claude:chat"))
	require.False(t, token.AllowsAPIFormat("gemini:chat"))
}

func TestVisibleModelNames(t *testing.T) {
	newTestDB(t)
	require.NoError(t, DB.Create(&GlobalModel{Name: "model-a", TieredPricing: "[]"}).Error)
	require.NoError(t, DB.Create(&GlobalModel{Name: "model-b", TieredPricing: "[]"}).Error)

	token := &AccessToken{}
	names, err := token.VisibleModelNames()
	require.NoError(t, err)
	require.Equal(t, []string{"model-a", "model-b"}, names)

	token.AllowedModels = strPtr(`["model-b"]`)
	names, err = token.VisibleModelNames()
	require.NoError(t, err)
	require.Equal(t, []string{"model-b"}, names)
}
