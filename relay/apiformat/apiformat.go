// Package apiformat catalogues the wire dialects the gateway accepts and
// forwards: Claude, OpenAI and Gemini, each with a chat and a CLI variant,
// plus video task variants. It owns dialect detection, default upstream
// paths, auth header conventions and the request/response converter matrix.
package apiformat

import "strings"

// Family identifies the wire protocol vendor.
type Family string

const (
	FamilyClaude Family = "claude"
	FamilyOpenAI Family = "openai"
	FamilyGemini Family = "gemini"
)

// Variant distinguishes interactive chat, CLI agent traffic and async video
// tasks within one family.
type Variant string

const (
	VariantChat  Variant = "chat"
	VariantCLI   Variant = "cli"
	VariantVideo Variant = "video"
)

// Dialect is one concrete wire format, e.g. "claude:cli".
type Dialect string

const (
	ClaudeChat  Dialect = "claude:chat"
	ClaudeCLI   Dialect = "claude:cli"
	OpenAIChat  Dialect = "openai:chat"
	OpenAICLI   Dialect = "openai:cli"
	GeminiChat  Dialect = "gemini:chat"
	GeminiCLI   Dialect = "gemini:cli"
	OpenAIVideo Dialect = "openai:video"
	GeminiVideo Dialect = "gemini:video"
)

// AllDialects lists every dialect the gateway recognises.
var AllDialects = []Dialect{
	ClaudeChat, ClaudeCLI,
	OpenAIChat, OpenAICLI,
	GeminiChat, GeminiCLI,
	OpenAIVideo, GeminiVideo,
}

// Family returns the vendor family of d.
func (d Dialect) Family() Family {
	name := string(d)
	if idx := strings.IndexByte(name, ':'); idx > 0 {
		return Family(name[:idx])
	}
	return Family(name)
}

// Variant returns the variant of d; unknown dialects report chat.
func (d Dialect) Variant() Variant {
	name := string(d)
	if idx := strings.IndexByte(name, ':'); idx >= 0 && idx+1 < len(name) {
		return Variant(name[idx+1:])
	}
	return VariantChat
}

// IsCLI reports whether d is a CLI variant.
func (d Dialect) IsCLI() bool {
	return d.Variant() == VariantCLI
}

// Valid reports whether d names a known dialect.
func (d Dialect) Valid() bool {
	for _, known := range AllDialects {
		if known == d {
			return true
		}
	}
	return false
}

// CLIVariant returns the CLI counterpart of a chat dialect; CLI and video
// dialects map to themselves.
func (d Dialect) CLIVariant() Dialect {
	switch d {
	case ClaudeChat:
		return ClaudeCLI
	case OpenAIChat:
		return OpenAICLI
	case GeminiChat:
		return GeminiCLI
	default:
		return d
	}
}

// ChatVariant returns the chat counterpart of a CLI dialect; other dialects
// map to themselves. Converters are registered on chat variants only.
func (d Dialect) ChatVariant() Dialect {
	switch d {
	case ClaudeCLI:
		return ClaudeChat
	case OpenAICLI:
		return OpenAIChat
	case GeminiCLI:
		return GeminiChat
	default:
		return d
	}
}

// AuthScheme names how the upstream credential is transported.
type AuthScheme string

const (
	AuthBearer AuthScheme = "bearer" // Authorization: Bearer <key>
	AuthHeader AuthScheme = "header" // <name>: <key>
	AuthQuery  AuthScheme = "query"  // ?<name>=<key>
)

// dialectMeta fixes the per-dialect upstream conventions.
type dialectMeta struct {
	defaultPath string
	authName    string
	authScheme  AuthScheme
}

var dialectTable = map[Dialect]dialectMeta{
	ClaudeChat:  {defaultPath: "/v1/messages", authName: "x-api-key", authScheme: AuthHeader},
	ClaudeCLI:   {defaultPath: "/v1/messages", authName: "x-api-key", authScheme: AuthHeader},
	OpenAIChat:  {defaultPath: "/v1/chat/completions", authName: "Authorization", authScheme: AuthBearer},
	OpenAICLI:   {defaultPath: "/v1/chat/completions", authName: "Authorization", authScheme: AuthBearer},
	GeminiChat:  {defaultPath: "/v1beta/models/{model}:generateContent", authName: "x-goog-api-key", authScheme: AuthHeader},
	GeminiCLI:   {defaultPath: "/v1beta/models/{model}:generateContent", authName: "x-goog-api-key", authScheme: AuthHeader},
	OpenAIVideo: {defaultPath: "/v1/videos", authName: "Authorization", authScheme: AuthBearer},
	GeminiVideo: {defaultPath: "/v1beta/models/{model}:predictLongRunning", authName: "x-goog-api-key", authScheme: AuthHeader},
}

// DefaultPath returns the upstream path template for d. Gemini paths carry a
// {model} placeholder plus a :generateContent / :streamGenerateContent verb
// chosen by the request builder.
func DefaultPath(d Dialect) string {
	if meta, ok := dialectTable[d]; ok {
		return meta.defaultPath
	}
	return ""
}

// AuthHeaderFor returns the header (or query parameter) name and scheme used
// to authenticate against an upstream speaking d.
func AuthHeaderFor(d Dialect) (name string, scheme AuthScheme) {
	if meta, ok := dialectTable[d]; ok {
		return meta.authName, meta.authScheme
	}
	return "Authorization", AuthBearer
}
