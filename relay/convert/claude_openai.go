package convert

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Laisky/errors/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Laisky/llm-gateway/common/helper"
	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// ClaudeToOpenAIRequest rewrites a Claude messages request into an OpenAI
// chat-completions request: system prompt becomes a system message, content
// blocks become content parts, tool_use/tool_result become tool calls and
// tool messages.
func ClaudeToOpenAIRequest(modelName string, rawJSON []byte, stream bool) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	if v := root.Get("max_tokens"); v.Exists() {
		out, _ = sjson.Set(out, "max_tokens", v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if v := root.Get("stop_sequences"); v.IsArray() {
		out, _ = sjson.SetRaw(out, "stop", v.Raw)
	}

	var messages []any

	// Claude's top-level system prompt (string or text blocks).
	if system := root.Get("system"); system.Exists() {
		text := system.String()
		if system.IsArray() {
			text = ""
			for _, block := range system.Array() {
				text += block.Get("text").String()
			}
		}
		if text != "" {
			messages = append(messages, map[string]any{"role": "system", "content": text})
		}
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")

		if content.Type == gjson.String {
			messages = append(messages, map[string]any{"role": role, "content": content.String()})
			return true
		}

		// Block content: split into content parts, tool calls and tool
		// results, which OpenAI represents as separate messages.
		var parts []any
		var toolCalls []any
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				parts = append(parts, map[string]any{"type": "text", "text": block.Get("text").String()})
			case "image":
				url := fmt.Sprintf("data:%s;base64,%s",
					block.Get("source.media_type").String(), block.Get("source.data").String())
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": url},
				})
			case "tool_use":
				args := block.Get("input").Raw
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, map[string]any{
					"id":   block.Get("id").String(),
					"type": "function",
					"function": map[string]any{
						"name":      block.Get("name").String(),
						"arguments": args,
					},
				})
			case "tool_result":
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": block.Get("tool_use_id").String(),
					"content":      flattenToolResult(block.Get("content")),
				})
			}
			return true
		})

		if len(parts) > 0 || len(toolCalls) > 0 {
			converted := map[string]any{"role": role}
			if len(parts) == 1 {
				if text, isText := parts[0].(map[string]any)["text"]; isText {
					converted["content"] = text
				} else {
					converted["content"] = parts
				}
			} else if len(parts) > 0 {
				converted["content"] = parts
			}
			if len(toolCalls) > 0 {
				converted["tool_calls"] = toolCalls
			}
			messages = append(messages, converted)
		}
		return true
	})

	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, errors.Wrap(err, "marshal converted messages")
	}
	out, _ = sjson.SetRaw(out, "messages", string(rawMessages))

	// Tool schemas carry through unchanged inside the function wrapper.
	if tools := root.Get("tools"); tools.IsArray() {
		var converted []any
		tools.ForEach(func(_, tool gjson.Result) bool {
			schema := tool.Get("input_schema").Value()
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			converted = append(converted, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Get("name").String(),
					"description": tool.Get("description").String(),
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

// flattenToolResult renders a Claude tool_result content value as plain text
// for OpenAI tool messages.
func flattenToolResult(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	text := ""
	content.ForEach(func(_, block gjson.Result) bool {
		text += block.Get("text").String()
		return true
	})
	return text
}

// OpenAIToClaudeResponse rewrites a complete OpenAI chat response into a
// Claude messages response.
func OpenAIToClaudeResponse(modelName string, originalRequest, rawJSON []byte) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	choice := root.Get("choices.0")

	out := `{"type":"message","role":"assistant","content":[]}`
	id := root.Get("id").String()
	if id == "" {
		id = "msg_" + helper.GenRequestID()
	}
	out, _ = sjson.Set(out, "id", id)
	out, _ = sjson.Set(out, "model", modelName)

	blockIdx := 0
	if text := choice.Get("message.content").String(); text != "" {
		out, _ = sjson.Set(out, "content."+strconv.Itoa(blockIdx), map[string]any{"type": "text", "text": text})
		blockIdx++
	}
	for _, call := range choice.Get("message.tool_calls").Array() {
		args := call.Get("function.arguments").String()
		input := json.RawMessage("{}")
		if json.Valid([]byte(args)) && args != "" {
			input = json.RawMessage(args)
		}
		out, _ = sjson.Set(out, "content."+strconv.Itoa(blockIdx), map[string]any{
			"type":  "tool_use",
			"id":    call.Get("id").String(),
			"name":  call.Get("function.name").String(),
			"input": input,
		})
		blockIdx++
	}

	out, _ = sjson.Set(out, "stop_reason", finishToStopReason(choice.Get("finish_reason").String()))
	out, _ = sjson.Set(out, "usage", map[string]any{
		"input_tokens":  root.Get("usage.prompt_tokens").Int(),
		"output_tokens": root.Get("usage.completion_tokens").Int(),
	})
	return []byte(out), nil
}

// claudeStreamState tracks the Claude event scaffolding synthesised around
// an OpenAI delta stream.
type claudeStreamState struct {
	messageStarted bool
	textBlockOpen  bool
	toolBlockOpen  bool
	toolIndex      int
	blockIndex     int
	outputTokens   int64
	finishReason   string
}

// OpenAIToClaudeStream rewrites OpenAI delta chunks into Claude SSE events.
// The first delta synthesises message_start and content_block_start; the
// [DONE] terminator flushes block close, message_delta and message_stop.
func OpenAIToClaudeStream(ctx *apiformat.StreamContext, event apiformat.SSEEvent) ([]apiformat.SSEEvent, error) {
	state, _ := ctx.State.(*claudeStreamState)
	if state == nil {
		state = &claudeStreamState{toolIndex: -1}
		ctx.State = state
	}

	data := string(event.Data)
	if data == "[DONE]" {
		return claudeStreamClose(state), nil
	}
	root := gjson.Parse(data)
	if !root.Get("choices").Exists() && !root.Get("usage").Exists() {
		return nil, nil
	}

	var events []apiformat.SSEEvent
	if !state.messageStarted {
		state.messageStarted = true
		start, _ := sjson.Set(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[],"stop_reason":null,"usage":{"input_tokens":0,"output_tokens":0}}}`,
			"message.id", firstNonEmpty(root.Get("id").String(), "msg_"+helper.GenRequestID()))
		start, _ = sjson.Set(start, "message.model", ctx.Model)
		events = append(events, apiformat.SSEEvent{Event: "message_start", Data: []byte(start)})
	}

	if usage := root.Get("usage"); usage.Exists() && usage.Get("completion_tokens").Exists() {
		state.outputTokens = usage.Get("completion_tokens").Int()
	}

	delta := root.Get("choices.0.delta")
	if finish := root.Get("choices.0.finish_reason"); finish.Exists() && finish.String() != "" {
		state.finishReason = finish.String()
	}

	if text := delta.Get("content"); text.Exists() && text.String() != "" {
		if state.toolBlockOpen {
			events = append(events, claudeBlockStop(state))
		}
		if !state.textBlockOpen {
			state.textBlockOpen = true
			start, _ := sjson.Set(`{"type":"content_block_start","content_block":{"type":"text","text":""}}`,
				"index", state.blockIndex)
			events = append(events, apiformat.SSEEvent{Event: "content_block_start", Data: []byte(start)})
		}
		payload, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"text_delta"}}`, "index", state.blockIndex)
		payload, _ = sjson.Set(payload, "delta.text", text.String())
		events = append(events, apiformat.SSEEvent{Event: "content_block_delta", Data: []byte(payload)})
	}

	for _, call := range delta.Get("tool_calls").Array() {
		idx := int(call.Get("index").Int())
		if name := call.Get("function.name").String(); name != "" || call.Get("id").String() != "" {
			// New tool call: close whatever block is open and start a
			// tool_use block.
			if state.textBlockOpen || state.toolBlockOpen {
				events = append(events, claudeBlockStop(state))
			}
			state.toolBlockOpen = true
			state.toolIndex = idx
			start, _ := sjson.Set(`{"type":"content_block_start","content_block":{"type":"tool_use","input":{}}}`,
				"index", state.blockIndex)
			start, _ = sjson.Set(start, "content_block.id", call.Get("id").String())
			start, _ = sjson.Set(start, "content_block.name", name)
			events = append(events, apiformat.SSEEvent{Event: "content_block_start", Data: []byte(start)})
		}
		if args := call.Get("function.arguments").String(); args != "" && state.toolBlockOpen {
			payload, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"input_json_delta"}}`,
				"index", state.blockIndex)
			payload, _ = sjson.Set(payload, "delta.partial_json", args)
			events = append(events, apiformat.SSEEvent{Event: "content_block_delta", Data: []byte(payload)})
		}
	}

	return events, nil
}

// claudeBlockStop closes the currently open content block.
func claudeBlockStop(state *claudeStreamState) apiformat.SSEEvent {
	payload, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", state.blockIndex)
	state.blockIndex++
	state.textBlockOpen = false
	state.toolBlockOpen = false
	return apiformat.SSEEvent{Event: "content_block_stop", Data: []byte(payload)}
}

// claudeStreamClose emits the trailing Claude events once the OpenAI stream
// terminates.
func claudeStreamClose(state *claudeStreamState) []apiformat.SSEEvent {
	var events []apiformat.SSEEvent
	if state.textBlockOpen || state.toolBlockOpen {
		events = append(events, claudeBlockStop(state))
	}
	if state.messageStarted {
		payload, _ := sjson.Set(`{"type":"message_delta","delta":{},"usage":{}}`,
			"delta.stop_reason", finishToStopReason(state.finishReason))
		payload, _ = sjson.Set(payload, "usage.output_tokens", state.outputTokens)
		events = append(events,
			apiformat.SSEEvent{Event: "message_delta", Data: []byte(payload)},
			apiformat.SSEEvent{Event: "message_stop", Data: []byte(`{"type":"message_stop"}`)})
	}
	return events
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
