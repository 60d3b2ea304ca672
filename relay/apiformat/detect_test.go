package apiformat

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

var testCLITokens = []string{"claude-code", "gemini-cli", "codex"}

func TestDetectClaudeChat(t *testing.T) {
	t.Parallel()
	headers := http.Header{}
	headers.Set("x-api-key", "sk-ant-test")
	headers.Set("anthropic-version", "2023-06-01")

	dialect, key, err := Detect(headers, "/v1/messages", nil, testCLITokens)
	require.NoError(t, err)
	require.Equal(t, ClaudeChat, dialect)
	require.Equal(t, "sk-ant-test", key)
}

func TestDetectClaudeCLIPromotion(t *testing.T) {
	t.Parallel()
	headers := http.Header{}
	headers.Set("x-api-key", "sk-ant-test")
	headers.Set("anthropic-version", "2023-06-01")
	headers.Set("User-Agent", "claude-code/1.0.44 (cli)")

	dialect, _, err := Detect(headers, "/v1/messages", nil, testCLITokens)
	require.NoError(t, err)
	require.Equal(t, ClaudeCLI, dialect)
}

func TestDetectOpenAIBearer(t *testing.T) {
	t.Parallel()
	headers := http.Header{}
	headers.Set("Authorization", "Bearer sk-test")

	dialect, key, err := Detect(headers, "/v1/chat/completions", nil, testCLITokens)
	require.NoError(t, err)
	require.Equal(t, OpenAIChat, dialect)
	require.Equal(t, "sk-test", key)
}

func TestDetectGeminiQueryKey(t *testing.T) {
	t.Parallel()
	query := url.Values{}
	query.Set("key", "AIza-test")

	dialect, key, err := Detect(http.Header{}, "/v1beta/models/gemini-2.5-pro:streamGenerateContent", query, testCLITokens)
	require.NoError(t, err)
	require.Equal(t, GeminiChat, dialect)
	require.Equal(t, "AIza-test", key)
}

func TestDetectGeminiHeaderKey(t *testing.T) {
	t.Parallel()
	headers := http.Header{}
	headers.Set("x-goog-api-key", "AIza-test")
	headers.Set("User-Agent", "gemini-cli/0.4 (linux)")

	dialect, _, err := Detect(headers, "/v1beta/models/gemini-2.5-pro:generateContent", nil, testCLITokens)
	require.NoError(t, err)
	require.Equal(t, GeminiCLI, dialect)
}

func TestDetectPathOverridesAuthFamily(t *testing.T) {
	t.Parallel()
	// A bearer token on the Claude path still speaks the Claude dialect.
	headers := http.Header{}
	headers.Set("Authorization", "Bearer sk-ant-test")

	dialect, key, err := Detect(headers, "/v1/messages", nil, testCLITokens)
	require.NoError(t, err)
	require.Equal(t, ClaudeChat, dialect)
	require.Equal(t, "sk-ant-test", key)
}

func TestDetectMissingAuth(t *testing.T) {
	t.Parallel()
	_, _, err := Detect(http.Header{}, "/v1/chat/completions", nil, testCLITokens)
	require.ErrorIs(t, err, ErrAuthMissing)
}

func TestDialectAccessors(t *testing.T) {
	t.Parallel()
	require.Equal(t, FamilyClaude, ClaudeCLI.Family())
	require.Equal(t, VariantCLI, ClaudeCLI.Variant())
	require.True(t, ClaudeCLI.IsCLI())
	require.Equal(t, ClaudeCLI, ClaudeChat.CLIVariant())
	require.Equal(t, OpenAIChat, OpenAICLI.ChatVariant())
	require.Equal(t, GeminiVideo, GeminiVideo.CLIVariant())
	require.True(t, OpenAIVideo.Valid())
	require.False(t, Dialect("grok:chat").Valid())
}

func TestModelFromGeminiPath(t *testing.T) {
	t.Parallel()
	model, verb := ModelFromGeminiPath("/v1beta/models/gemini-2.5-pro:streamGenerateContent")
	require.Equal(t, "gemini-2.5-pro", model)
	require.Equal(t, "streamGenerateContent", verb)

	model, verb = ModelFromGeminiPath("/v1beta/models/gemini-2.5-flash")
	require.Equal(t, "gemini-2.5-flash", model)
	require.Empty(t, verb)
}

func TestAuthHeaderConventions(t *testing.T) {
	t.Parallel()
	name, scheme := AuthHeaderFor(ClaudeChat)
	require.Equal(t, "x-api-key", name)
	require.Equal(t, AuthHeader, scheme)

	name, scheme = AuthHeaderFor(OpenAIChat)
	require.Equal(t, "Authorization", name)
	require.Equal(t, AuthBearer, scheme)

	require.Equal(t, "/v1/chat/completions", DefaultPath(OpenAICLI))
}
