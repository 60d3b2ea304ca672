package parser

import (
	"github.com/tidwall/gjson"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// claudeParser understands the Anthropic Messages event vocabulary.
type claudeParser struct{}

func (claudeParser) ParseEvent(event apiformat.SSEEvent) ParsedChunk {
	data := gjson.ParseBytes(event.Data)
	name := event.Event
	if name == "" {
		name = data.Get("type").String()
	}

	switch name {
	case "message_start":
		chunk := ParsedChunk{ResponseID: data.Get("message.id").String()}
		readClaudeUsage(data.Get("message.usage"), &chunk)
		return chunk
	case "content_block_delta":
		return ParsedChunk{TextDelta: data.Get("delta.text").String()}
	case "message_delta":
		chunk := ParsedChunk{StopReason: data.Get("delta.stop_reason").String()}
		readClaudeUsage(data.Get("usage"), &chunk)
		return chunk
	case "message_stop":
		return ParsedChunk{IsCompletion: true}
	case "content_block_start", "content_block_stop", "ping":
		return ParsedChunk{}
	case "error":
		return ParsedChunk{StopReason: "error", DataJSON: event.Data}
	default:
		return ParsedChunk{Opaque: true, DataJSON: event.Data}
	}
}

func (claudeParser) ParseComplete(body []byte) ParsedChunk {
	data := gjson.ParseBytes(body)
	chunk := ParsedChunk{
		ResponseID:   data.Get("id").String(),
		StopReason:   data.Get("stop_reason").String(),
		IsCompletion: true,
	}
	data.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			chunk.TextDelta += block.Get("text").String()
		}
		return true
	})
	readClaudeUsage(data.Get("usage"), &chunk)
	return chunk
}

func readClaudeUsage(usage gjson.Result, chunk *ParsedChunk) {
	if !usage.Exists() {
		return
	}
	chunk.HasUsage = true
	chunk.InputTokens = int(usage.Get("input_tokens").Int())
	chunk.OutputTokens = int(usage.Get("output_tokens").Int())
	chunk.CacheCreationTokens = int(usage.Get("cache_creation_input_tokens").Int())
	chunk.CacheReadTokens = int(usage.Get("cache_read_input_tokens").Int())
	chunk.CacheCreation5mTokens = int(usage.Get("cache_creation.ephemeral_5m_input_tokens").Int())
	chunk.CacheCreation1hTokens = int(usage.Get("cache_creation.ephemeral_1h_input_tokens").Int())
}
