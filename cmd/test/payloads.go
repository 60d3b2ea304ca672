package main

import (
	"encoding/json"
	"net/url"
)

const probePrompt = "Reply with exactly: pong"

// probeSpecs enumerates the smoke matrix: each inbound dialect, streaming and
// non-streaming.
func probeSpecs(model string) []probeSpec {
	return []probeSpec{
		{
			Name:    "openai_chat",
			Dialect: "openai",
			Path:    "/v1/chat/completions",
			Payload: openAIPayload(model, false),
		},
		{
			Name:    "openai_chat_stream",
			Dialect: "openai",
			Path:    "/v1/chat/completions",
			Stream:  true,
			Payload: openAIPayload(model, true),
		},
		{
			Name:    "claude_messages",
			Dialect: "claude",
			Path:    "/v1/messages",
			Auth:    "x-api-key",
			Payload: claudePayload(model, false),
		},
		{
			Name:    "claude_messages_stream",
			Dialect: "claude",
			Path:    "/v1/messages",
			Stream:  true,
			Auth:    "x-api-key",
			Payload: claudePayload(model, true),
		},
		{
			Name:    "gemini_generate",
			Dialect: "gemini",
			Path:    "/v1beta/models/" + url.PathEscape(model) + ":generateContent",
			Auth:    "x-goog-api-key",
			Payload: geminiPayload(),
		},
		{
			Name:    "gemini_generate_stream",
			Dialect: "gemini",
			Path:    "/v1beta/models/" + url.PathEscape(model) + ":streamGenerateContent",
			Stream:  true,
			Auth:    "x-goog-api-key",
			Payload: geminiPayload(),
		},
	}
}

func openAIPayload(model string, stream bool) []byte {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "user", "content": probePrompt},
		},
		"max_tokens": 64,
	}
	if stream {
		payload["stream"] = true
	}
	return mustJSON(payload)
}

func claudePayload(model string, stream bool) []byte {
	payload := map[string]any{
		"model":      model,
		"max_tokens": 64,
		"messages": []map[string]any{
			{"role": "user", "content": probePrompt},
		},
	}
	if stream {
		payload["stream"] = true
	}
	return mustJSON(payload)
}

func geminiPayload() []byte {
	return mustJSON(map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": probePrompt}},
			},
		},
		"generationConfig": map[string]any{"maxOutputTokens": 64},
	})
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
