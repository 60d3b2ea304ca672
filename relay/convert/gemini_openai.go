package convert

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Laisky/llm-gateway/common/helper"
	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// GeminiToOpenAIRequest rewrites a Gemini generateContent request into an
// OpenAI chat-completions request. systemInstruction becomes a system
// message, contents become role-tagged messages, functionCall/Response
// parts become tool_calls and tool messages.
func GeminiToOpenAIRequest(modelName string, rawJSON []byte, stream bool) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)

	var messages []any
	if sys := root.Get("systemInstruction.parts"); sys.Exists() {
		var text strings.Builder
		sys.ForEach(func(_, part gjson.Result) bool {
			text.WriteString(part.Get("text").String())
			return true
		})
		if text.Len() > 0 {
			messages = append(messages, map[string]any{"role": "system", "content": text.String()})
		}
	}

	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := content.Get("role").String()
		if role == "model" {
			role = "assistant"
		} else if role == "" {
			role = "user"
		}

		var text strings.Builder
		var parts []any
		var toolCalls []any
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Get("text").Exists():
				text.WriteString(part.Get("text").String())
			case part.Get("inlineData").Exists():
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": "data:" + part.Get("inlineData.mimeType").String() +
							";base64," + part.Get("inlineData.data").String(),
					},
				})
			case part.Get("functionCall").Exists():
				args := part.Get("functionCall.args").Raw
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, map[string]any{
					"id":   "call_" + helper.GenRequestID(),
					"type": "function",
					"function": map[string]any{
						"name":      part.Get("functionCall.name").String(),
						"arguments": args,
					},
				})
			case part.Get("functionResponse").Exists():
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": "call_" + part.Get("functionResponse.name").String(),
					"content":      part.Get("functionResponse.response").Raw,
				})
			}
			return true
		})

		msg := map[string]any{"role": role}
		if len(parts) > 0 {
			if text.Len() > 0 {
				parts = append([]any{map[string]any{"type": "text", "text": text.String()}}, parts...)
			}
			msg["content"] = parts
		} else {
			msg["content"] = text.String()
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		if msg["content"] != "" || len(toolCalls) > 0 || len(parts) > 0 {
			messages = append(messages, msg)
		}
		return true
	})

	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)
	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, errors.Wrap(err, "marshal converted messages")
	}
	out, _ = sjson.SetRaw(out, "messages", string(rawMessages))

	gen := root.Get("generationConfig")
	if v := gen.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := gen.Get("topP"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if v := gen.Get("maxOutputTokens"); v.Exists() {
		out, _ = sjson.Set(out, "max_tokens", v.Int())
	}
	if v := gen.Get("stopSequences"); v.IsArray() {
		out, _ = sjson.SetRaw(out, "stop", v.Raw)
	}

	if tools := root.Get("tools.0.functionDeclarations"); tools.IsArray() {
		var converted []any
		tools.ForEach(func(_, fn gjson.Result) bool {
			schema := fn.Get("parameters").Value()
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			converted = append(converted, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        fn.Get("name").String(),
					"description": fn.Get("description").String(),
					"parameters":  schema,
				},
			})
			return true
		})
		rawTools, err := json.Marshal(converted)
		if err != nil {
			return nil, errors.Wrap(err, "marshal converted tools")
		}
		out, _ = sjson.SetRaw(out, "tools", string(rawTools))
	}

	return []byte(out), nil
}

// OpenAIToGeminiResponse rewrites a complete OpenAI chat response into a
// Gemini generateContent response.
func OpenAIToGeminiResponse(modelName string, originalRequest, rawJSON []byte) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	message := root.Get("choices.0.message")

	var parts []any
	if text := message.Get("content").String(); text != "" {
		parts = append(parts, map[string]any{"text": text})
	}
	message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		args := call.Get("function.arguments").String()
		var parsed any = map[string]any{}
		if args != "" {
			if err := json.Unmarshal([]byte(args), &parsed); err != nil {
				parsed = map[string]any{}
			}
		}
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{
				"name": call.Get("function.name").String(),
				"args": parsed,
			},
		})
		return true
	})
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}

	out := `{"candidates":[{"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", modelName)
	out, _ = sjson.Set(out, "candidates.0.content", map[string]any{
		"role":  "model",
		"parts": parts,
	})
	out, _ = sjson.Set(out, "candidates.0.finishReason",
		openAIFinishToGemini(root.Get("choices.0.finish_reason").String()))
	out, _ = sjson.Set(out, "usageMetadata", map[string]any{
		"promptTokenCount":     root.Get("usage.prompt_tokens").Int(),
		"candidatesTokenCount": root.Get("usage.completion_tokens").Int(),
		"totalTokenCount":      root.Get("usage.total_tokens").Int(),
	})
	return []byte(out), nil
}

// OpenAIToGeminiStream rewrites OpenAI delta chunks into Gemini streaming
// candidates. The [DONE] sentinel is swallowed since Gemini streams have no
// terminator event.
func OpenAIToGeminiStream(ctx *apiformat.StreamContext, event apiformat.SSEEvent) ([]apiformat.SSEEvent, error) {
	trimmed := strings.TrimSpace(string(event.Data))
	if trimmed == "[DONE]" || trimmed == "" {
		return nil, nil
	}
	root := gjson.ParseBytes(event.Data)
	delta := root.Get("choices.0.delta")

	var parts []any
	if text := delta.Get("content").String(); text != "" {
		parts = append(parts, map[string]any{"text": text})
	}
	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		if name := call.Get("function.name").String(); name != "" {
			args := call.Get("function.arguments").String()
			var parsed any = map[string]any{}
			if args != "" && json.Valid([]byte(args)) {
				_ = json.Unmarshal([]byte(args), &parsed)
			}
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{"name": name, "args": parsed},
			})
		}
		return true
	})

	finish := root.Get("choices.0.finish_reason").String()
	if len(parts) == 0 && finish == "" {
		return nil, nil
	}

	out := `{"candidates":[{"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", ctx.Model)
	if len(parts) > 0 {
		out, _ = sjson.Set(out, "candidates.0.content", map[string]any{
			"role":  "model",
			"parts": parts,
		})
	}
	if finish != "" {
		out, _ = sjson.Set(out, "candidates.0.finishReason", openAIFinishToGemini(finish))
		if usage := root.Get("usage"); usage.Exists() {
			out, _ = sjson.Set(out, "usageMetadata", map[string]any{
				"promptTokenCount":     usage.Get("prompt_tokens").Int(),
				"candidatesTokenCount": usage.Get("completion_tokens").Int(),
				"totalTokenCount":      usage.Get("total_tokens").Int(),
			})
		}
	}
	return []apiformat.SSEEvent{{Data: []byte(out)}}, nil
}

// OpenAIToGeminiRequest rewrites an OpenAI chat-completions request into a
// Gemini generateContent request.
func OpenAIToGeminiRequest(modelName string, rawJSON []byte, stream bool) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)

	var system strings.Builder
	var contents []any

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch role {
		case "system", "developer":
			if content.Type == gjson.String {
				system.WriteString(content.String())
			} else {
				content.ForEach(func(_, part gjson.Result) bool {
					system.WriteString(part.Get("text").String())
					return true
				})
			}
		case "tool":
			var response any = map[string]any{"result": content.String()}
			if json.Valid([]byte(content.String())) {
				_ = json.Unmarshal([]byte(content.String()), &response)
			}
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []any{map[string]any{
					"functionResponse": map[string]any{
						"name":     strings.TrimPrefix(msg.Get("tool_call_id").String(), "call_"),
						"response": response,
					},
				}},
			})
		default:
			geminiRole := "user"
			if role == "assistant" {
				geminiRole = "model"
			}
			parts := openAIContentToGeminiParts(content)
			msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
				args := call.Get("function.arguments").String()
				var parsed any = map[string]any{}
				if args != "" && json.Valid([]byte(args)) {
					_ = json.Unmarshal([]byte(args), &parsed)
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{
						"name": call.Get("function.name").String(),
						"args": parsed,
					},
				})
				return true
			})
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": geminiRole, "parts": parts})
			}
		}
		return true
	})

	out := `{"contents":[]}`
	rawContents, err := json.Marshal(contents)
	if err != nil {
		return nil, errors.Wrap(err, "marshal converted contents")
	}
	out, _ = sjson.SetRaw(out, "contents", string(rawContents))

	if system.Len() > 0 {
		out, _ = sjson.Set(out, "systemInstruction", map[string]any{
			"parts": []any{map[string]any{"text": system.String()}},
		})
	}

	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.topP", v.Float())
	}
	if v := root.Get("max_tokens"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.maxOutputTokens", v.Int())
	}
	if stop := root.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			out, _ = sjson.SetRaw(out, "generationConfig.stopSequences", stop.Raw)
		} else {
			out, _ = sjson.Set(out, "generationConfig.stopSequences", []string{stop.String()})
		}
	}

	if tools := root.Get("tools"); tools.IsArray() {
		var decls []any
		tools.ForEach(func(_, tool gjson.Result) bool {
			fn := tool.Get("function")
			schema := fn.Get("parameters").Value()
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			decls = append(decls, map[string]any{
				"name":        fn.Get("name").String(),
				"description": fn.Get("description").String(),
				"parameters":  schema,
			})
			return true
		})
		rawDecls, err := json.Marshal(decls)
		if err != nil {
			return nil, errors.Wrap(err, "marshal function declarations")
		}
		out, _ = sjson.SetRaw(out, "tools.0.functionDeclarations", string(rawDecls))
	}

	return []byte(out), nil
}

// openAIContentToGeminiParts converts OpenAI message content into Gemini
// parts.
func openAIContentToGeminiParts(content gjson.Result) []any {
	var parts []any
	if content.Type == gjson.String {
		if content.String() != "" {
			parts = append(parts, map[string]any{"text": content.String()})
		}
		return parts
	}
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"text": part.Get("text").String()})
		case "image_url":
			if mediaType, payload, ok := dataURL(part.Get("image_url.url").String()); ok {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{
						"mimeType": mediaType,
						"data":     payload,
					},
				})
			}
		}
		return true
	})
	return parts
}

// GeminiToOpenAIResponse rewrites a complete Gemini generateContent
// response into an OpenAI chat response.
func GeminiToOpenAIResponse(modelName string, originalRequest, rawJSON []byte) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	candidate := root.Get("candidates.0")

	text := ""
	var toolCalls []any
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("text").Exists():
			text += part.Get("text").String()
		case part.Get("functionCall").Exists():
			args := part.Get("functionCall.args").Raw
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   "call_" + helper.GenRequestID(),
				"type": "function",
				"function": map[string]any{
					"name":      part.Get("functionCall.name").String(),
					"arguments": args,
				},
			})
		}
		return true
	})

	out := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`
	out, _ = sjson.Set(out, "id", "chatcmpl-"+helper.GenRequestID())
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "created", helper.NowUnixMilli()/1000)
	out, _ = sjson.Set(out, "choices.0.message.content", text)
	if len(toolCalls) > 0 {
		rawCalls, err := json.Marshal(toolCalls)
		if err != nil {
			return nil, errors.Wrap(err, "marshal tool calls")
		}
		out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls", string(rawCalls))
	}
	finish := geminiFinishToOpenAI(candidate.Get("finishReason").String())
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}
	out, _ = sjson.Set(out, "choices.0.finish_reason", finish)
	out, _ = sjson.Set(out, "usage", map[string]any{
		"prompt_tokens":     root.Get("usageMetadata.promptTokenCount").Int(),
		"completion_tokens": root.Get("usageMetadata.candidatesTokenCount").Int(),
		"total_tokens":      root.Get("usageMetadata.totalTokenCount").Int(),
	})
	return []byte(out), nil
}

// geminiStreamState tracks the synthetic OpenAI chunk id and terminator
// emission across a Gemini event stream.
type geminiStreamState struct {
	id       string
	sentRole bool
	done     bool
}

// GeminiToOpenAIStream rewrites Gemini streaming candidates into OpenAI
// delta chunks. The final chunk carrying finishReason is followed by the
// [DONE] terminator.
func GeminiToOpenAIStream(ctx *apiformat.StreamContext, event apiformat.SSEEvent) ([]apiformat.SSEEvent, error) {
	state, _ := ctx.State.(*geminiStreamState)
	if state == nil {
		state = &geminiStreamState{id: "chatcmpl-" + helper.GenRequestID()}
		ctx.State = state
	}
	if state.done {
		return nil, nil
	}
	root := gjson.ParseBytes(event.Data)
	candidate := root.Get("candidates.0")

	out := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
	out, _ = sjson.Set(out, "id", state.id)
	out, _ = sjson.Set(out, "model", ctx.Model)
	if !state.sentRole {
		out, _ = sjson.Set(out, "choices.0.delta.role", "assistant")
		state.sentRole = true
	}

	text := ""
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		text += part.Get("text").String()
		return true
	})
	if text != "" {
		out, _ = sjson.Set(out, "choices.0.delta.content", text)
	}

	events := []apiformat.SSEEvent{}
	if finish := candidate.Get("finishReason").String(); finish != "" {
		out, _ = sjson.Set(out, "choices.0.finish_reason", geminiFinishToOpenAI(finish))
		if usage := root.Get("usageMetadata"); usage.Exists() {
			out, _ = sjson.Set(out, "usage", map[string]any{
				"prompt_tokens":     usage.Get("promptTokenCount").Int(),
				"completion_tokens": usage.Get("candidatesTokenCount").Int(),
				"total_tokens":      usage.Get("totalTokenCount").Int(),
			})
		}
		state.done = true
		events = append(events, apiformat.SSEEvent{Data: []byte(out)})
		events = append(events, apiformat.SSEEvent{Data: []byte("[DONE]")})
		return events, nil
	}

	if text == "" {
		return nil, nil
	}
	events = append(events, apiformat.SSEEvent{Data: []byte(out)})
	return events, nil
}
