package parser

import (
	"bytes"

	"github.com/tidwall/gjson"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

var openaiDoneMarker = []byte("[DONE]")

// openaiParser understands chat completion chunks. Events carry no name;
// everything rides on data lines.
type openaiParser struct{}

func (openaiParser) ParseEvent(event apiformat.SSEEvent) ParsedChunk {
	data := bytes.TrimSpace(event.Data)
	if bytes.Equal(data, openaiDoneMarker) {
		return ParsedChunk{IsCompletion: true}
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return ParsedChunk{Opaque: true, DataJSON: event.Data}
	}

	chunk := ParsedChunk{ResponseID: parsed.Get("id").String()}
	if choice := parsed.Get("choices.0"); choice.Exists() {
		if delta := choice.Get("delta.content"); delta.Exists() {
			chunk.TextDelta = delta.String()
		} else if text := choice.Get("text"); text.Exists() {
			chunk.TextDelta = text.String()
		}
		if reason := choice.Get("finish_reason"); reason.Type == gjson.String {
			chunk.StopReason = reason.String()
			chunk.IsCompletion = true
		}
	}
	readOpenAIUsage(parsed.Get("usage"), &chunk)
	return chunk
}

func (openaiParser) ParseComplete(body []byte) ParsedChunk {
	parsed := gjson.ParseBytes(body)
	chunk := ParsedChunk{
		ResponseID:   parsed.Get("id").String(),
		TextDelta:    parsed.Get("choices.0.message.content").String(),
		StopReason:   parsed.Get("choices.0.finish_reason").String(),
		IsCompletion: true,
	}
	readOpenAIUsage(parsed.Get("usage"), &chunk)
	return chunk
}

func readOpenAIUsage(usage gjson.Result, chunk *ParsedChunk) {
	if !usage.IsObject() {
		return
	}
	chunk.HasUsage = true
	cached := int(usage.Get("prompt_tokens_details.cached_tokens").Int())
	// Cached prompt tokens are reported inside prompt_tokens; split them out
	// so billing can price the dimensions separately.
	chunk.InputTokens = int(usage.Get("prompt_tokens").Int()) - cached
	if chunk.InputTokens < 0 {
		chunk.InputTokens = 0
	}
	chunk.OutputTokens = int(usage.Get("completion_tokens").Int())
	chunk.CacheReadTokens = cached
}
