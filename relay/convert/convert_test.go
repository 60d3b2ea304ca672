package convert

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

func TestConverterMatrixRegistration(t *testing.T) {
	require.True(t, apiformat.PairAdmissible(apiformat.ClaudeChat, apiformat.OpenAIChat, true))
	require.True(t, apiformat.PairAdmissible(apiformat.OpenAIChat, apiformat.ClaudeChat, true))
	require.True(t, apiformat.PairAdmissible(apiformat.GeminiChat, apiformat.OpenAIChat, true))
	require.True(t, apiformat.PairAdmissible(apiformat.OpenAIChat, apiformat.GeminiChat, true))

	// CLI variants ride on the chat converters.
	require.True(t, apiformat.PairAdmissible(apiformat.ClaudeCLI, apiformat.OpenAIChat, true))

	// No direct Claude<->Gemini pair is registered.
	require.False(t, apiformat.PairAdmissible(apiformat.ClaudeChat, apiformat.GeminiChat, false))
	require.False(t, apiformat.PairAdmissible(apiformat.GeminiChat, apiformat.ClaudeChat, false))
}

func TestClaudeToOpenAIRequest(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"system": "be terse",
		"max_tokens": 512,
		"temperature": 0.3,
		"stop_sequences": ["END"],
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": {"q": "x"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "42"}
			]}
		],
		"tools": [{"name": "lookup", "description": "find things", "input_schema": {"type": "object"}}]
	}`)

	out, err := ClaudeToOpenAIRequest("gpt-5-mini", body, true)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "gpt-5-mini", root.Get("model").String())
	require.True(t, root.Get("stream").Bool())
	require.Equal(t, int64(512), root.Get("max_tokens").Int())
	require.InDelta(t, 0.3, root.Get("temperature").Float(), 1e-9)
	require.Equal(t, "END", root.Get("stop.0").String())

	msgs := root.Get("messages").Array()
	require.Equal(t, "system", msgs[0].Get("role").String())
	require.Equal(t, "be terse", msgs[0].Get("content").String())
	require.Equal(t, "hello", msgs[1].Get("content").String())

	require.Equal(t, "checking", msgs[2].Get("content").String())
	require.Equal(t, "toolu_1", msgs[2].Get("tool_calls.0.id").String())
	require.Equal(t, "lookup", msgs[2].Get("tool_calls.0.function.name").String())
	require.JSONEq(t, `{"q":"x"}`, msgs[2].Get("tool_calls.0.function.arguments").String())

	require.Equal(t, "tool", msgs[3].Get("role").String())
	require.Equal(t, "toolu_1", msgs[3].Get("tool_call_id").String())
	require.Equal(t, "42", msgs[3].Get("content").String())

	require.Equal(t, "function", root.Get("tools.0.type").String())
	require.Equal(t, "lookup", root.Get("tools.0.function.name").String())
	require.Equal(t, "object", root.Get("tools.0.function.parameters.type").String())
}

func TestClaudeToOpenAIRequestImageBlock(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "what is this"},
			{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "aGk="}}
		]}]
	}`)

	out, err := ClaudeToOpenAIRequest("gpt-5-mini", body, false)
	require.NoError(t, err)

	parts := gjson.GetBytes(out, "messages.0.content").Array()
	require.Len(t, parts, 2)
	require.Equal(t, "data:image/png;base64,aGk=", parts[1].Get("image_url.url").String())
}

func TestOpenAIToClaudeRequest(t *testing.T) {
	body := []byte(`{
		"model": "gpt-5-mini",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": "", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "42"}
		],
		"stop": "END",
		"temperature": 0.3,
		"tools": [{"type": "function", "function": {"name": "lookup", "parameters": {"type": "object"}}}]
	}`)

	out, err := OpenAIToClaudeRequest("claude-sonnet-4-5", body, false)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "claude-sonnet-4-5", root.Get("model").String())
	require.Equal(t, "be terse", root.Get("system").String())
	require.Equal(t, "END", root.Get("stop_sequences.0").String())
	require.Greater(t, root.Get("max_tokens").Int(), int64(0))

	msgs := root.Get("messages").Array()
	require.Equal(t, "hello", msgs[0].Get("content.0.text").String())
	require.Equal(t, "tool_use", msgs[1].Get("content.0.type").String())
	require.Equal(t, "call_1", msgs[1].Get("content.0.id").String())
	require.Equal(t, "x", msgs[1].Get("content.0.input.q").String())
	require.Equal(t, "tool_result", msgs[2].Get("content.0.type").String())
	require.Equal(t, "call_1", msgs[2].Get("content.0.tool_use_id").String())

	require.Equal(t, "lookup", root.Get("tools.0.name").String())
	require.Equal(t, "object", root.Get("tools.0.input_schema.type").String())
}

func TestOpenAIToClaudeRequestDefaultsMaxTokens(t *testing.T) {
	out, err := OpenAIToClaudeRequest("claude-sonnet-4-5",
		[]byte(`{"messages":[{"role":"user","content":"hi"}]}`), false)
	require.NoError(t, err)
	require.Equal(t, int64(defaultClaudeMaxTokens), gjson.GetBytes(out, "max_tokens").Int())
}

func TestOpenAIToClaudeResponse(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-abc",
		"choices": [{"index": 0, "message": {
			"role": "assistant",
			"content": "the answer",
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}]
		}, "finish_reason": "tool_calls"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5}
	}`)

	out, err := OpenAIToClaudeResponse("claude-sonnet-4-5", nil, body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "chatcmpl-abc", root.Get("id").String())
	require.Equal(t, "message", root.Get("type").String())
	require.Equal(t, "the answer", root.Get("content.0.text").String())
	require.Equal(t, "tool_use", root.Get("content.1.type").String())
	require.Equal(t, "lookup", root.Get("content.1.name").String())
	require.Equal(t, "x", root.Get("content.1.input.q").String())
	require.Equal(t, "tool_use", root.Get("stop_reason").String())
	require.Equal(t, int64(10), root.Get("usage.input_tokens").Int())
	require.Equal(t, int64(5), root.Get("usage.output_tokens").Int())
}

func TestClaudeToOpenAIResponse(t *testing.T) {
	body := []byte(`{
		"id": "msg_1",
		"content": [
			{"type": "text", "text": "hello "},
			{"type": "text", "text": "world"}
		],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 7, "output_tokens": 3}
	}`)

	out, err := ClaudeToOpenAIResponse("gpt-5-mini", nil, body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "msg_1", root.Get("id").String())
	require.Equal(t, "chat.completion", root.Get("object").String())
	require.Equal(t, "hello world", root.Get("choices.0.message.content").String())
	require.Equal(t, "length", root.Get("choices.0.finish_reason").String())
	require.Equal(t, int64(7), root.Get("usage.prompt_tokens").Int())
	require.Equal(t, int64(10), root.Get("usage.total_tokens").Int())
}

func feedStream(t *testing.T, transform apiformat.StreamTransform, ctx *apiformat.StreamContext, events []apiformat.SSEEvent) []apiformat.SSEEvent {
	t.Helper()
	var out []apiformat.SSEEvent
	for _, event := range events {
		produced, err := transform(ctx, event)
		require.NoError(t, err)
		out = append(out, produced...)
	}
	return out
}

func TestClaudeToOpenAIStream(t *testing.T) {
	ctx := &apiformat.StreamContext{Model: "gpt-5-mini"}
	out := feedStream(t, ClaudeToOpenAIStream, ctx, []apiformat.SSEEvent{
		{Event: "message_start", Data: []byte(`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12}}}`)},
		{Event: "content_block_start", Data: []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)},
		{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)},
		{Event: "content_block_stop", Data: []byte(`{"type":"content_block_stop","index":0}`)},
		{Event: "message_delta", Data: []byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`)},
		{Event: "message_stop", Data: []byte(`{"type":"message_stop"}`)},
	})

	require.Len(t, out, 4)

	role := gjson.ParseBytes(out[0].Data)
	require.Equal(t, "msg_1", role.Get("id").String())
	require.Equal(t, "assistant", role.Get("choices.0.delta.role").String())

	require.Equal(t, "hi", gjson.GetBytes(out[1].Data, "choices.0.delta.content").String())

	final := gjson.ParseBytes(out[2].Data)
	require.Equal(t, "stop", final.Get("choices.0.finish_reason").String())
	require.Equal(t, int64(12), final.Get("usage.prompt_tokens").Int())
	require.Equal(t, int64(4), final.Get("usage.completion_tokens").Int())
	require.Equal(t, int64(16), final.Get("usage.total_tokens").Int())

	require.Equal(t, "[DONE]", string(out[3].Data))
}

func TestClaudeToOpenAIStreamToolUse(t *testing.T) {
	ctx := &apiformat.StreamContext{Model: "gpt-5-mini"}
	out := feedStream(t, ClaudeToOpenAIStream, ctx, []apiformat.SSEEvent{
		{Event: "message_start", Data: []byte(`{"type":"message_start","message":{"id":"msg_1","usage":{}}}`)},
		{Event: "content_block_start", Data: []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup"}}`)},
		{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`)},
	})

	require.Len(t, out, 3)
	call := gjson.GetBytes(out[1].Data, "choices.0.delta.tool_calls.0")
	require.Equal(t, "toolu_1", call.Get("id").String())
	require.Equal(t, "lookup", call.Get("function.name").String())
	require.Equal(t, int64(0), call.Get("index").Int())

	require.Equal(t, `{"q":`, gjson.GetBytes(out[2].Data, "choices.0.delta.tool_calls.0.function.arguments").String())
}

func TestOpenAIToClaudeStream(t *testing.T) {
	ctx := &apiformat.StreamContext{Model: "claude-sonnet-4-5"}
	out := feedStream(t, OpenAIToClaudeStream, ctx, []apiformat.SSEEvent{
		{Data: []byte(`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"he"}}]}`)},
		{Data: []byte(`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"llo"}}]}`)},
		{Data: []byte(`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)},
		{Data: []byte(`[DONE]`)},
	})

	var types []string
	for _, event := range out {
		types = append(types, event.Event)
	}
	require.Equal(t, []string{
		"message_start",
		"content_block_start", "content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta", "message_stop",
	}, types)

	require.Equal(t, "chatcmpl-1", gjson.GetBytes(out[0].Data, "message.id").String())
	require.Equal(t, "he", gjson.GetBytes(out[2].Data, "delta.text").String())
	require.Equal(t, "llo", gjson.GetBytes(out[3].Data, "delta.text").String())
	require.Equal(t, "end_turn", gjson.GetBytes(out[5].Data, "delta.stop_reason").String())
	require.Equal(t, int64(2), gjson.GetBytes(out[5].Data, "usage.output_tokens").Int())
}

func TestGeminiToOpenAIRequest(t *testing.T) {
	body := []byte(`{
		"systemInstruction": {"parts": [{"text": "be terse"}]},
		"contents": [
			{"role": "user", "parts": [{"text": "hello"}]},
			{"role": "model", "parts": [{"text": "hi there"}]}
		],
		"generationConfig": {"temperature": 0.4, "maxOutputTokens": 256, "stopSequences": ["END"]}
	}`)

	out, err := GeminiToOpenAIRequest("gpt-5-mini", body, false)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "gpt-5-mini", root.Get("model").String())
	msgs := root.Get("messages").Array()
	require.Equal(t, "system", msgs[0].Get("role").String())
	require.Equal(t, "be terse", msgs[0].Get("content").String())
	require.Equal(t, "user", msgs[1].Get("role").String())
	require.Equal(t, "assistant", msgs[2].Get("role").String())
	require.InDelta(t, 0.4, root.Get("temperature").Float(), 1e-9)
	require.Equal(t, int64(256), root.Get("max_tokens").Int())
}

func TestOpenAIToGeminiResponse(t *testing.T) {
	body := []byte(`{
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "the answer"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 8, "completion_tokens": 4, "total_tokens": 12}
	}`)

	out, err := OpenAIToGeminiResponse("gemini-2.5-pro", nil, body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "model", root.Get("candidates.0.content.role").String())
	require.Equal(t, "the answer", root.Get("candidates.0.content.parts.0.text").String())
	require.Equal(t, "STOP", root.Get("candidates.0.finishReason").String())
	require.Equal(t, int64(8), root.Get("usageMetadata.promptTokenCount").Int())
	require.Equal(t, int64(12), root.Get("usageMetadata.totalTokenCount").Int())
}

func TestGeminiToOpenAIResponse(t *testing.T) {
	body := []byte(`{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "pong"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 1, "totalTokenCount": 6}
	}`)

	out, err := GeminiToOpenAIResponse("gpt-5-mini", nil, body)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "pong", root.Get("choices.0.message.content").String())
	require.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
	require.Equal(t, int64(5), root.Get("usage.prompt_tokens").Int())
	require.Equal(t, int64(6), root.Get("usage.total_tokens").Int())
}

func TestOpenAIToGeminiStreamSwallowsDone(t *testing.T) {
	ctx := &apiformat.StreamContext{Model: "gemini-2.5-pro"}
	out := feedStream(t, OpenAIToGeminiStream, ctx, []apiformat.SSEEvent{
		{Data: []byte(`{"choices":[{"index":0,"delta":{"content":"po"}}]}`)},
		{Data: []byte(`{"choices":[{"index":0,"delta":{"content":"ng"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)},
		{Data: []byte(`[DONE]`)},
	})

	// Gemini streams have no terminator event, [DONE] produces nothing.
	require.Len(t, out, 2)
	require.Equal(t, "po", gjson.GetBytes(out[0].Data, "candidates.0.content.parts.0.text").String())
	require.Equal(t, "STOP", gjson.GetBytes(out[1].Data, "candidates.0.finishReason").String())
}

func TestGeminiToOpenAIStreamEmitsDone(t *testing.T) {
	ctx := &apiformat.StreamContext{Model: "gpt-5-mini"}
	out := feedStream(t, GeminiToOpenAIStream, ctx, []apiformat.SSEEvent{
		{Data: []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"po"}]}}]}`)},
		{Data: []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ng"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":1,"totalTokenCount":4}}`)},
	})

	require.NotEmpty(t, out)
	require.Equal(t, "[DONE]", string(out[len(out)-1].Data))

	joined := ""
	for _, event := range out[:len(out)-1] {
		joined += gjson.GetBytes(event.Data, "choices.0.delta.content").String()
	}
	require.Equal(t, "pong", joined)
}

func TestStopReasonMappings(t *testing.T) {
	require.Equal(t, "stop", stopReasonToFinish("end_turn"))
	require.Equal(t, "length", stopReasonToFinish("max_tokens"))
	require.Equal(t, "tool_calls", stopReasonToFinish("tool_use"))
	require.Equal(t, "end_turn", finishToStopReason("stop"))
	require.Equal(t, "max_tokens", finishToStopReason("length"))
	require.Equal(t, "tool_use", finishToStopReason("tool_calls"))
	require.Equal(t, "STOP", openAIFinishToGemini("stop"))
	require.Equal(t, "MAX_TOKENS", openAIFinishToGemini("length"))
	require.Equal(t, "stop", geminiFinishToOpenAI("STOP"))
	require.Equal(t, "length", geminiFinishToOpenAI("MAX_TOKENS"))
}
