// Package envelope shapes outbound upstream requests per dialect: extra
// headers, mandatory CLI beta tokens, thinking-block sanitation and
// cache-control TTL normalisation. Everything here is a pure rewrite of the
// JSON body or the header set; no I/O.
package envelope

import (
	"net/http"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// Envelope is the per-dialect hook set applied while building an upstream
// request.
type Envelope interface {
	// WrapRequest rewrites the request body before dispatch.
	WrapRequest(body []byte, stream bool) ([]byte, error)
	// ExtraHeaders returns headers merged over dialect defaults; inbound
	// gives access to caller-supplied values that must carry through.
	ExtraHeaders(inbound http.Header) map[string]string
}

// ForDialect returns the envelope for a dialect. Dialects without special
// handling get a pass-through.
func ForDialect(d apiformat.Dialect) Envelope {
	switch d {
	case apiformat.ClaudeCLI:
		return claudeCLIEnvelope{}
	case apiformat.ClaudeChat:
		return claudeChatEnvelope{}
	case apiformat.GeminiChat, apiformat.GeminiCLI, apiformat.GeminiVideo:
		return passthroughEnvelope{}
	default:
		return passthroughEnvelope{}
	}
}

type passthroughEnvelope struct{}

func (passthroughEnvelope) WrapRequest(body []byte, _ bool) ([]byte, error) { return body, nil }
func (passthroughEnvelope) ExtraHeaders(_ http.Header) map[string]string    { return nil }
