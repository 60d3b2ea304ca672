// Package convert holds the bidirectional converter matrix between wire
// dialects. Converters are pure rewrites over JSON bodies and SSE events;
// a pair is admissible for dispatch only when both directions exist, and
// for streaming only when deltas can be rewritten incrementally. Fields the
// target dialect cannot express are dropped, declared-preserved fields
// (model, message text, tool schemas, sampling parameters, cache TTL class)
// round-trip.
package convert

import (
	"strings"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

func init() {
	apiformat.RegisterConversion(&apiformat.Conversion{
		From:              apiformat.ClaudeChat,
		To:                apiformat.OpenAIChat,
		TransformRequest:  ClaudeToOpenAIRequest,
		TransformResponse: OpenAIToClaudeResponse,
		TransformStream:   OpenAIToClaudeStream,
	})
	apiformat.RegisterConversion(&apiformat.Conversion{
		From:              apiformat.OpenAIChat,
		To:                apiformat.ClaudeChat,
		TransformRequest:  OpenAIToClaudeRequest,
		TransformResponse: ClaudeToOpenAIResponse,
		TransformStream:   ClaudeToOpenAIStream,
	})
	apiformat.RegisterConversion(&apiformat.Conversion{
		From:              apiformat.GeminiChat,
		To:                apiformat.OpenAIChat,
		TransformRequest:  GeminiToOpenAIRequest,
		TransformResponse: OpenAIToGeminiResponse,
		TransformStream:   OpenAIToGeminiStream,
	})
	apiformat.RegisterConversion(&apiformat.Conversion{
		From:              apiformat.OpenAIChat,
		To:                apiformat.GeminiChat,
		TransformRequest:  OpenAIToGeminiRequest,
		TransformResponse: GeminiToOpenAIResponse,
		TransformStream:   GeminiToOpenAIStream,
	})
}

// stopReasonToFinish maps Claude stop reasons onto OpenAI finish reasons.
func stopReasonToFinish(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

// finishToStopReason maps OpenAI finish reasons onto Claude stop reasons.
func finishToStopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// geminiFinishToOpenAI maps Gemini finish reasons onto OpenAI ones.
func geminiFinishToOpenAI(finishReason string) string {
	switch finishReason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return "stop"
	}
}

// openAIFinishToGemini maps OpenAI finish reasons onto Gemini ones.
func openAIFinishToGemini(finishReason string) string {
	switch finishReason {
	case "length":
		return "MAX_TOKENS"
	case "content_filter":
		return "SAFETY"
	default:
		return "STOP"
	}
}

// dataURL splits "data:media/type;base64,payload" into its parts.
func dataURL(url string) (mediaType, payload string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", "", false
	}
	return rest[:semi], rest[semi+len(";base64,"):], true
}
