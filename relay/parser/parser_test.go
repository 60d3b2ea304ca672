package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

func feedAll(t *testing.T, stream *EventStream, raw string, chunkSize int) []apiformat.SSEEvent {
	t.Helper()
	var events []apiformat.SSEEvent
	for start := 0; start < len(raw); start += chunkSize {
		end := start + chunkSize
		if end > len(raw) {
			end = len(raw)
		}
		events = append(events, stream.Feed([]byte(raw[start:end]))...)
	}
	if event, ok := stream.Flush(); ok {
		events = append(events, event)
	}
	return events
}

func TestEventStreamSplitsAcrossChunkBoundaries(t *testing.T) {
	raw := "event: message_start\ndata: {\"a\":1}\n\nevent: ping\ndata: {}\n\n"
	for _, size := range []int{1, 3, 7, len(raw)} {
		stream := &EventStream{}
		events := feedAll(t, stream, raw, size)
		require.Len(t, events, 2, "chunk size %d", size)
		require.Equal(t, "message_start", events[0].Event)
		require.JSONEq(t, `{"a":1}`, string(events[0].Data))
		require.Equal(t, "ping", events[1].Event)
	}
}

func TestEventStreamJoinsDataLines(t *testing.T) {
	stream := &EventStream{}
	events := stream.Feed([]byte("data: first\ndata: second\n\n"))
	require.Len(t, events, 1)
	require.Equal(t, "first\nsecond", string(events[0].Data))
}

func TestEventStreamIgnoresCommentsAndCRLF(t *testing.T) {
	stream := &EventStream{}
	events := stream.Feed([]byte(": keep-alive\r\ndata: {\"x\":2}\r\n\r\n"))
	require.Len(t, events, 1)
	require.Equal(t, `{"x":2}`, string(events[0].Data))
}

func TestEventStreamFlushReturnsTrailingEvent(t *testing.T) {
	stream := &EventStream{}
	events := stream.Feed([]byte("data: [DONE]"))
	require.Empty(t, events)

	event, ok := stream.Flush()
	require.True(t, ok)
	require.Equal(t, "[DONE]", string(event.Data))

	_, ok = stream.Flush()
	require.False(t, ok)
}

func TestClaudeStreamAccounting(t *testing.T) {
	raw := "event: message_start\n" +
		`data: {"type":"message_start","message":{"id":"msg_01","usage":{"input_tokens":120,"output_tokens":1,"cache_creation_input_tokens":300,"cache_read_input_tokens":4000,"cache_creation":{"ephemeral_5m_input_tokens":200,"ephemeral_1h_input_tokens":100}}}}` + "\n\n" +
		"event: content_block_start\ndata: {\"type\":\"content_block_start\"}\n\n" +
		"event: content_block_delta\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}` + "\n\n" +
		"event: ping\ndata: {\"type\":\"ping\"}\n\n" +
		"event: message_delta\n" +
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":42}}` + "\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	stream := &EventStream{}
	chunkParser := ForDialect(apiformat.ClaudeChat)
	var stats StreamStats
	for _, event := range feedAll(t, stream, raw, 16) {
		stats.Add(chunkParser.ParseEvent(event))
	}

	require.True(t, stats.HasCompletion)
	require.False(t, stats.IsEmpty())
	require.Equal(t, "msg_01", stats.ResponseID)
	require.Equal(t, "end_turn", stats.StopReason)
	require.Equal(t, 120, stats.InputTokens)
	require.Equal(t, 42, stats.OutputTokens)
	require.Equal(t, 300, stats.CacheCreationTokens)
	require.Equal(t, 4000, stats.CacheReadTokens)
	require.Equal(t, 200, stats.CacheCreation5mTokens)
	require.Equal(t, 100, stats.CacheCreation1hTokens)
}

func TestClaudeUnknownEventPassesThroughOpaque(t *testing.T) {
	chunk := ForDialect(apiformat.ClaudeCLI).ParseEvent(apiformat.SSEEvent{
		Event: "context_compaction",
		Data:  []byte(`{"type":"context_compaction","detail":1}`),
	})
	require.True(t, chunk.Opaque)
	require.False(t, chunk.HasUsage)
	require.JSONEq(t, `{"type":"context_compaction","detail":1}`, string(chunk.DataJSON))
}

func TestOpenAIStreamAccounting(t *testing.T) {
	chunkParser := ForDialect(apiformat.OpenAIChat)
	var stats StreamStats

	stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{
		Data: []byte(`{"id":"chatcmpl-9","choices":[{"delta":{"content":"Hi"},"finish_reason":null}]}`),
	}))
	stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{
		Data: []byte(`{"id":"chatcmpl-9","choices":[{"delta":{},"finish_reason":"stop"}]}`),
	}))
	stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{
		Data: []byte(`{"id":"chatcmpl-9","choices":[],"usage":{"prompt_tokens":150,"completion_tokens":20,"prompt_tokens_details":{"cached_tokens":100}}}`),
	}))
	stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{Data: []byte("[DONE]")}))

	require.True(t, stats.HasCompletion)
	require.Equal(t, "stop", stats.StopReason)
	require.Equal(t, 50, stats.InputTokens, "cached tokens are carved out of prompt_tokens")
	require.Equal(t, 100, stats.CacheReadTokens)
	require.Equal(t, 20, stats.OutputTokens)
}

func TestOpenAIDoneOnlyStreamIsEmpty(t *testing.T) {
	chunkParser := ForDialect(apiformat.OpenAIChat)
	var stats StreamStats
	stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{Data: []byte("[DONE]")}))

	require.True(t, stats.HasCompletion)
	require.True(t, stats.IsEmpty())
}

func TestGeminiStreamAccounting(t *testing.T) {
	chunkParser := ForDialect(apiformat.GeminiChat)
	var stats StreamStats

	stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{
		Data: []byte(`{"responseId":"resp-1","candidates":[{"content":{"parts":[{"text":"thinking...","thought":true},{"text":"Hello"}]}}],"usageMetadata":{"promptTokenCount":90,"candidatesTokenCount":5}}`),
	}))
	stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{
		Data: []byte(`{"candidates":[{"content":{"parts":[{"text":" there"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":90,"candidatesTokenCount":12,"thoughtsTokenCount":3,"cachedContentTokenCount":60}}`),
	}))

	require.True(t, stats.HasCompletion)
	require.Equal(t, "STOP", stats.StopReason)
	require.Equal(t, "resp-1", stats.ResponseID)
	require.Equal(t, 30, stats.InputTokens)
	require.Equal(t, 60, stats.CacheReadTokens)
	require.Equal(t, 15, stats.OutputTokens)
}

func TestPingOnlyStreamIsEmpty(t *testing.T) {
	chunkParser := ForDialect(apiformat.ClaudeChat)
	var stats StreamStats
	for i := 0; i < 3; i++ {
		stats.Add(chunkParser.ParseEvent(apiformat.SSEEvent{Event: "ping", Data: []byte(`{"type":"ping"}`)}))
	}
	require.True(t, stats.IsEmpty())
	require.False(t, stats.HasCompletion)
}

func TestParseCompleteClaude(t *testing.T) {
	chunk := ForDialect(apiformat.ClaudeChat).ParseComplete([]byte(
		`{"id":"msg_02","content":[{"type":"text","text":"Hi"},{"type":"tool_use","name":"f"}],"stop_reason":"tool_use","usage":{"input_tokens":10,"output_tokens":7}}`,
	))
	require.True(t, chunk.IsCompletion)
	require.Equal(t, "msg_02", chunk.ResponseID)
	require.Equal(t, "Hi", chunk.TextDelta)
	require.Equal(t, "tool_use", chunk.StopReason)
	require.Equal(t, 10, chunk.InputTokens)
	require.Equal(t, 7, chunk.OutputTokens)
}

func TestParseCompleteOpenAI(t *testing.T) {
	chunk := ForDialect(apiformat.OpenAICLI).ParseComplete([]byte(
		`{"id":"chatcmpl-1","choices":[{"message":{"content":"done"},"finish_reason":"stop"}],"usage":{"prompt_tokens":11,"completion_tokens":3}}`,
	))
	require.True(t, chunk.IsCompletion)
	require.Equal(t, "done", chunk.TextDelta)
	require.Equal(t, 11, chunk.InputTokens)
	require.Equal(t, 3, chunk.OutputTokens)
}

func TestParseCompleteGemini(t *testing.T) {
	chunk := ForDialect(apiformat.GeminiCLI).ParseComplete([]byte(
		`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":2}}`,
	))
	require.True(t, chunk.IsCompletion)
	require.Equal(t, "ok", chunk.TextDelta)
	require.Equal(t, 8, chunk.InputTokens)
	require.Equal(t, 2, chunk.OutputTokens)
}
