// Package scheduling builds the ordered dispatch plan for a request: the
// candidate builder enumerates admissible (provider, endpoint, key) triples
// and the scheduler turns them into a final attempt order with pool-manager
// health applied.
package scheduling

import (
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// SkipReasonNoModel marks providers that carry no active mapping for the
// requested model.
const SkipReasonNoModel = "Provider does not implement this model"

// Request carries everything candidate enumeration needs, resolved by the
// auth middleware and model lookup before dispatch.
type Request struct {
	Dialect      apiformat.Dialect
	Stream       bool
	GlobalModel  *model.GlobalModel
	Token        *model.AccessToken
	Capabilities map[string]bool

	// SessionUUID is the masked sticky-session scope, empty when the
	// request carries no session marker.
	SessionUUID string

	// PrefixFingerprint keys cache affinity; empty disables the hint.
	PrefixFingerprint string
}

// Candidate is one (provider, endpoint, key) triple considered for serving
// a request. Skipped candidates stay in the plan with their reason so the
// persisted attempt trail shows the full decision.
type Candidate struct {
	Provider      *model.Provider
	Endpoint      *model.Endpoint
	Key           *model.ProviderKey
	ProviderModel *model.ProviderModel

	// NeedsConversion is set when the endpoint speaks a different dialect
	// and the converter matrix bridges the pair.
	NeedsConversion bool

	Skipped    bool
	SkipReason string
}

// UpstreamModelName is the model name the provider expects in request
// bodies.
func (c *Candidate) UpstreamModelName() string {
	if c.ProviderModel != nil {
		return c.ProviderModel.ProviderModelName
	}
	return ""
}
