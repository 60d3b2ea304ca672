package parser

import (
	"github.com/tidwall/gjson"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// geminiParser understands generateContent stream chunks. Gemini never names
// its events and reports usage cumulatively on every chunk.
type geminiParser struct{}

func (geminiParser) ParseEvent(event apiformat.SSEEvent) ParsedChunk {
	parsed := gjson.ParseBytes(event.Data)
	if !parsed.IsObject() {
		return ParsedChunk{Opaque: true, DataJSON: event.Data}
	}
	return parseGeminiPayload(parsed)
}

func (geminiParser) ParseComplete(body []byte) ParsedChunk {
	chunk := parseGeminiPayload(gjson.ParseBytes(body))
	chunk.IsCompletion = true
	return chunk
}

func parseGeminiPayload(parsed gjson.Result) ParsedChunk {
	chunk := ParsedChunk{ResponseID: parsed.Get("responseId").String()}
	parsed.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		chunk.TextDelta += part.Get("text").String()
		return true
	})
	if reason := parsed.Get("candidates.0.finishReason"); reason.Exists() {
		chunk.StopReason = reason.String()
		chunk.IsCompletion = true
	}
	readGeminiUsage(parsed.Get("usageMetadata"), &chunk)
	return chunk
}

func readGeminiUsage(usage gjson.Result, chunk *ParsedChunk) {
	if !usage.IsObject() {
		return
	}
	chunk.HasUsage = true
	cached := int(usage.Get("cachedContentTokenCount").Int())
	chunk.InputTokens = int(usage.Get("promptTokenCount").Int()) - cached
	if chunk.InputTokens < 0 {
		chunk.InputTokens = 0
	}
	chunk.OutputTokens = int(usage.Get("candidatesTokenCount").Int()) +
		int(usage.Get("thoughtsTokenCount").Int())
	chunk.CacheReadTokens = cached
}
