package apiformat

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
)

// ErrAuthMissing is returned when no recognised credential accompanies the
// request.
var ErrAuthMissing = errors.New("missing or unrecognized credentials")

// Detect recognises the inbound dialect from the auth headers, URL path and
// query, and extracts the presented API key. cliTokens are User-Agent
// substrings that promote chat dialects to their CLI counterparts.
func Detect(headers http.Header, path string, query url.Values, cliTokens []string) (Dialect, string, error) {
	dialect, key := detectByAuth(headers, query)
	if pathDialect, ok := detectByPath(path); ok {
		// The path is authoritative for the family; auth only supplies the key.
		if key == "" {
			return pathDialect, "", ErrAuthMissing
		}
		dialect = pathDialect
	}
	if dialect == "" {
		return "", "", ErrAuthMissing
	}
	if key == "" {
		return dialect, "", ErrAuthMissing
	}

	if ua := headers.Get("User-Agent"); ua != "" && dialect.Variant() == VariantChat {
		lowered := strings.ToLower(ua)
		for _, token := range cliTokens {
			if token != "" && strings.Contains(lowered, strings.ToLower(token)) {
				dialect = dialect.CLIVariant()
				break
			}
		}
	}

	return dialect, key, nil
}

// detectByAuth applies the credential-header conventions in precedence order:
// Claude's x-api-key with anthropic-version, Gemini's x-goog-api-key or ?key=,
// then the OpenAI bearer token.
func detectByAuth(headers http.Header, query url.Values) (Dialect, string) {
	if key := headers.Get("x-api-key"); key != "" && headers.Get("anthropic-version") != "" {
		return ClaudeChat, key
	}
	if key := headers.Get("x-goog-api-key"); key != "" {
		return GeminiChat, key
	}
	if query != nil {
		if key := query.Get("key"); key != "" {
			return GeminiChat, key
		}
	}
	if auth := headers.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
			return OpenAIChat, strings.TrimSpace(token)
		}
	}
	// A bare x-api-key without the version header still identifies Claude.
	if key := headers.Get("x-api-key"); key != "" {
		return ClaudeChat, key
	}
	return "", ""
}

func detectByPath(path string) (Dialect, bool) {
	switch {
	case strings.HasPrefix(path, "/v1/messages"):
		return ClaudeChat, true
	case strings.HasPrefix(path, "/v1/chat/completions"), strings.HasPrefix(path, "/v1/completions"), strings.HasPrefix(path, "/v1/embeddings"):
		return OpenAIChat, true
	case strings.HasPrefix(path, "/v1/videos"):
		return OpenAIVideo, true
	case strings.Contains(path, ":predictLongRunning"):
		return GeminiVideo, true
	case strings.HasPrefix(path, "/v1beta/models/"), strings.HasPrefix(path, "/v1/models/") && strings.Contains(path, ":"):
		return GeminiChat, true
	default:
		return "", false
	}
}

// ModelFromGeminiPath extracts the model segment from a Gemini-style path
// such as /v1beta/models/gemini-2.5-pro:streamGenerateContent.
func ModelFromGeminiPath(path string) (model string, verb string) {
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return "", ""
	}
	rest := path[idx+len("/models/"):]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		return rest[:colon], rest[colon+1:]
	}
	return rest, ""
}
