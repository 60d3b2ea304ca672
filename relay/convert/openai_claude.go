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

const defaultClaudeMaxTokens = 32000

// OpenAIToClaudeRequest rewrites an OpenAI chat-completions request into a
// Claude messages request. System messages collapse into the top-level
// system prompt; tool calls and tool messages become tool_use/tool_result
// blocks.
func OpenAIToClaudeRequest(modelName string, rawJSON []byte, stream bool) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","max_tokens":32000,"messages":[]}`
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
	if stop := root.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			out, _ = sjson.SetRaw(out, "stop_sequences", stop.Raw)
		} else {
			out, _ = sjson.Set(out, "stop_sequences", []string{stop.String()})
		}
	}

	var system strings.Builder
	var messages []any

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
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": msg.Get("tool_call_id").String(),
					"content":     content.String(),
				}},
			})
		default:
			blocks := openAIContentToBlocks(content)
			for _, call := range msg.Get("tool_calls").Array() {
				args := call.Get("function.arguments").String()
				input := json.RawMessage("{}")
				if args != "" && json.Valid([]byte(args)) {
					input = json.RawMessage(args)
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    call.Get("id").String(),
					"name":  call.Get("function.name").String(),
					"input": input,
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, map[string]any{"role": role, "content": blocks})
			}
		}
		return true
	})

	if system.Len() > 0 {
		out, _ = sjson.Set(out, "system", system.String())
	}
	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, errors.Wrap(err, "marshal converted messages")
	}
	out, _ = sjson.SetRaw(out, "messages", string(rawMessages))

	if tools := root.Get("tools"); tools.IsArray() {
		var converted []any
		tools.ForEach(func(_, tool gjson.Result) bool {
			fn := tool.Get("function")
			schema := fn.Get("parameters").Value()
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			converted = append(converted, map[string]any{
				"name":         fn.Get("name").String(),
				"description":  fn.Get("description").String(),
				"input_schema": schema,
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

// openAIContentToBlocks converts OpenAI message content (string or parts)
// into Claude content blocks.
func openAIContentToBlocks(content gjson.Result) []any {
	var blocks []any
	if content.Type == gjson.String {
		if content.String() != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": content.String()})
		}
		return blocks
	}
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Get("text").String()})
		case "image_url":
			if mediaType, payload, ok := dataURL(part.Get("image_url.url").String()); ok {
				blocks = append(blocks, map[string]any{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": mediaType,
						"data":       payload,
					},
				})
			}
		}
		return true
	})
	return blocks
}

// ClaudeToOpenAIResponse rewrites a complete Claude messages response into
// an OpenAI chat response.
func ClaudeToOpenAIResponse(modelName string, originalRequest, rawJSON []byte) ([]byte, error) {
	root := gjson.ParseBytes(rawJSON)

	out := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`
	out, _ = sjson.Set(out, "id", firstNonEmpty(root.Get("id").String(), "chatcmpl-"+helper.GenRequestID()))
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "created", helper.NowUnixMilli()/1000)

	text := ""
	var toolCalls []any
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			text += block.Get("text").String()
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
		}
		return true
	})
	out, _ = sjson.Set(out, "choices.0.message.content", text)
	if len(toolCalls) > 0 {
		rawCalls, err := json.Marshal(toolCalls)
		if err != nil {
			return nil, errors.Wrap(err, "marshal tool calls")
		}
		out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls", string(rawCalls))
	}

	out, _ = sjson.Set(out, "choices.0.finish_reason", stopReasonToFinish(root.Get("stop_reason").String()))
	out, _ = sjson.Set(out, "usage", map[string]any{
		"prompt_tokens":     root.Get("usage.input_tokens").Int(),
		"completion_tokens": root.Get("usage.output_tokens").Int(),
		"total_tokens":      root.Get("usage.input_tokens").Int() + root.Get("usage.output_tokens").Int(),
	})
	return []byte(out), nil
}

// openaiStreamState tracks the OpenAI chunk scaffolding synthesised around
// a Claude event stream.
type openaiStreamState struct {
	id           string
	sentRole     bool
	toolIndex    int
	inputTokens  int64
	outputTokens int64
	done         bool
}

// ClaudeToOpenAIStream rewrites Claude SSE events into OpenAI delta chunks;
// message_stop becomes the [DONE] terminator.
func ClaudeToOpenAIStream(ctx *apiformat.StreamContext, event apiformat.SSEEvent) ([]apiformat.SSEEvent, error) {
	state, _ := ctx.State.(*openaiStreamState)
	if state == nil {
		state = &openaiStreamState{toolIndex: -1}
		ctx.State = state
	}
	root := gjson.ParseBytes(event.Data)
	eventType := firstNonEmpty(event.Event, root.Get("type").String())

	chunk := func() string {
		out := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
		out, _ = sjson.Set(out, "id", state.id)
		out, _ = sjson.Set(out, "model", ctx.Model)
		return out
	}

	switch eventType {
	case "message_start":
		state.id = firstNonEmpty(root.Get("message.id").String(), "chatcmpl-"+helper.GenRequestID())
		state.inputTokens = root.Get("message.usage.input_tokens").Int()
		out, _ := sjson.Set(chunk(), "choices.0.delta.role", "assistant")
		state.sentRole = true
		return []apiformat.SSEEvent{{Data: []byte(out)}}, nil

	case "content_block_start":
		block := root.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil, nil
		}
		state.toolIndex++
		out, _ := sjson.Set(chunk(), "choices.0.delta.tool_calls.0", map[string]any{
			"index": state.toolIndex,
			"id":    block.Get("id").String(),
			"type":  "function",
			"function": map[string]any{
				"name":      block.Get("name").String(),
				"arguments": "",
			},
		})
		return []apiformat.SSEEvent{{Data: []byte(out)}}, nil

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			out, _ := sjson.Set(chunk(), "choices.0.delta.content", delta.Get("text").String())
			return []apiformat.SSEEvent{{Data: []byte(out)}}, nil
		case "input_json_delta":
			out, _ := sjson.Set(chunk(), "choices.0.delta.tool_calls.0", map[string]any{
				"index":    state.toolIndex,
				"function": map[string]any{"arguments": delta.Get("partial_json").String()},
			})
			return []apiformat.SSEEvent{{Data: []byte(out)}}, nil
		}
		return nil, nil

	case "message_delta":
		if v := root.Get("usage.output_tokens"); v.Exists() {
			state.outputTokens = v.Int()
		}
		out, _ := sjson.Set(chunk(), "choices.0.finish_reason",
			stopReasonToFinish(root.Get("delta.stop_reason").String()))
		out, _ = sjson.Set(out, "usage", map[string]any{
			"prompt_tokens":     state.inputTokens,
			"completion_tokens": state.outputTokens,
			"total_tokens":      state.inputTokens + state.outputTokens,
		})
		return []apiformat.SSEEvent{{Data: []byte(out)}}, nil

	case "message_stop":
		if state.done {
			return nil, nil
		}
		state.done = true
		return []apiformat.SSEEvent{{Data: []byte("[DONE]")}}, nil
	}
	return nil, nil
}
