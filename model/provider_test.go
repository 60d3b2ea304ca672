package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListActiveProvidersOrderAndPreload(t *testing.T) {
	newTestDB(t)
	require.NoError(t, DB.Create(&Provider{
		Id: 1, Name: "low", Priority: 1, Active: true,
		Endpoints: []Endpoint{
			{Dialect: "claude:chat", BaseURL: "https://a.example", Active: true},
			{Dialect: "openai:chat", BaseURL: "https://a.example", Active: false},
		},
		Keys: []ProviderKey{
			{Name: "k1", Active: true},
			{Name: "k2", Active: false},
			{Name: "k3", Active: true, InternalPriority: 7},
		},
	}).Error)
	require.NoError(t, DB.Create(&Provider{
		Id: 2, Name: "high", Priority: 9, Active: true,
	}).Error)
	require.NoError(t, DB.Create(&Provider{
		Id: 3, Name: "off", Priority: 99, Active: false,
	}).Error)

	providers, err := ListActiveProviders()
	require.NoError(t, err)
	require.Len(t, providers, 2)
	require.Equal(t, "high", providers[0].Name)
	require.Equal(t, "low", providers[1].Name)

	// Inactive endpoints and keys never load into the dispatch plan; active
	// keys come back ordered by internal priority.
	require.Len(t, providers[1].Endpoints, 1)
	require.Equal(t, "claude:chat", providers[1].Endpoints[0].Dialect)
	require.Len(t, providers[1].Keys, 2)
	require.Equal(t, "k3", providers[1].Keys[0].Name)
	require.Equal(t, "k1", providers[1].Keys[1].Name)
}

func TestParsedHeaderRules(t *testing.T) {
	e := &Endpoint{}
	rules, err := e.ParsedHeaderRules()
	require.NoError(t, err)
	require.Nil(t, rules)

	e.HeaderRules = `{"X-Custom":"v1","User-Agent":"probe"}`
	rules, err = e.ParsedHeaderRules()
	require.NoError(t, err)
	require.Equal(t, "v1", rules["X-Custom"])

	e.HeaderRules = "{bad"
	_, err = e.ParsedHeaderRules()
	require.Error(t, err)
}

func TestCapabilitySet(t *testing.T) {
	k := &ProviderKey{}
	caps, err := k.CapabilitySet()
	require.NoError(t, err)
	require.Nil(t, caps)

	k.Capabilities = `["cache_1h","video"]`
	caps, err = k.CapabilitySet()
	require.NoError(t, err)
	require.True(t, caps["cache_1h"])
	require.True(t, caps["video"])
	require.False(t, caps["batch"])

	k.Capabilities = "[broken"
	_, err = k.CapabilitySet()
	require.Error(t, err)
}

func TestProviderKeySecretRoundTrip(t *testing.T) {
	k := &ProviderKey{Id: 1}
	require.NoError(t, k.SetSecret("sk-ant-REDACTED"))
	require.NotEqual(t, "sk-ant-REDACTED", k.Secret)

	plain, err := k.PlainSecret()
	require.NoError(t, err)
	require.Equal(t, "sk-ant-REDACTED", plain)

	masked := k.DisplaySecret()
	require.NotContains(t, masked, "super-secret")
	require.Contains(t, masked, "***")
}
