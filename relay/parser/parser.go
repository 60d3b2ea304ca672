// Package parser turns raw upstream bytes into a uniform stream of
// ParsedChunk values, one per server-sent event, independent of the upstream
// dialect. Token dimensions the dialect does not report stay zero.
package parser

import (
	"bytes"
	"strings"

	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// ParsedChunk is the uniform view of one upstream event.
type ParsedChunk struct {
	TextDelta  string
	ResponseID string
	StopReason string

	HasUsage              bool
	InputTokens           int
	OutputTokens          int
	CacheCreationTokens   int
	CacheReadTokens       int
	CacheCreation5mTokens int
	CacheCreation1hTokens int

	// IsCompletion is set on terminal events (message_stop, finish_reason,
	// finishReason, [DONE]).
	IsCompletion bool

	// Opaque marks events the dialect parser does not recognise; DataJSON
	// carries the payload through untouched and no token accounting happens.
	Opaque   bool
	DataJSON []byte
}

// meaningful reports whether the chunk carries content worth accounting.
// Keep-alive pings and opaque passthrough do not count.
func (c ParsedChunk) meaningful() bool {
	return c.TextDelta != "" || c.HasUsage || c.ResponseID != "" || c.StopReason != ""
}

// StreamStats accumulates ParsedChunk values over one response stream.
type StreamStats struct {
	Chunks int

	InputTokens           int
	OutputTokens          int
	CacheCreationTokens   int
	CacheReadTokens       int
	CacheCreation5mTokens int
	CacheCreation1hTokens int

	ResponseID    string
	StopReason    string
	HasCompletion bool
}

// Add folds one chunk into the running totals. Prompt-side dimensions are
// replace-on-report since dialects emit them once with final values, while
// output tokens take the maximum reported figure.
func (s *StreamStats) Add(chunk ParsedChunk) {
	if chunk.meaningful() {
		s.Chunks++
	}
	if chunk.IsCompletion {
		s.HasCompletion = true
	}
	if chunk.ResponseID != "" {
		s.ResponseID = chunk.ResponseID
	}
	if chunk.StopReason != "" {
		s.StopReason = chunk.StopReason
	}
	if !chunk.HasUsage {
		return
	}
	if chunk.InputTokens > 0 {
		s.InputTokens = chunk.InputTokens
	}
	if chunk.OutputTokens > s.OutputTokens {
		s.OutputTokens = chunk.OutputTokens
	}
	if chunk.CacheCreationTokens > 0 {
		s.CacheCreationTokens = chunk.CacheCreationTokens
	}
	if chunk.CacheReadTokens > 0 {
		s.CacheReadTokens = chunk.CacheReadTokens
	}
	if chunk.CacheCreation5mTokens > 0 {
		s.CacheCreation5mTokens = chunk.CacheCreation5mTokens
	}
	if chunk.CacheCreation1hTokens > 0 {
		s.CacheCreation1hTokens = chunk.CacheCreation1hTokens
	}
}

// IsEmpty reports the fault condition where a stream produced no meaningful
// chunk at all; the executor maps it to a retryable bad-gateway failure.
func (s *StreamStats) IsEmpty() bool {
	return s.Chunks == 0
}

// TotalTokens returns the sum across all accounted dimensions.
func (s *StreamStats) TotalTokens() int {
	return s.InputTokens + s.OutputTokens + s.CacheCreationTokens + s.CacheReadTokens
}

// ChunkParser maps raw SSE events of one dialect onto ParsedChunk.
type ChunkParser interface {
	ParseEvent(event apiformat.SSEEvent) ParsedChunk
	// ParseComplete extracts the same dimensions from a non-streaming
	// response body.
	ParseComplete(body []byte) ParsedChunk
}

// ForDialect returns the chunk parser for a dialect's family.
func ForDialect(d apiformat.Dialect) ChunkParser {
	switch d.Family() {
	case apiformat.FamilyClaude:
		return claudeParser{}
	case apiformat.FamilyGemini:
		return geminiParser{}
	default:
		return openaiParser{}
	}
}

// EventStream incrementally splits raw SSE bytes into events. Feed accepts
// arbitrary chunk boundaries; an event completes on a blank line and its data
// lines are joined with "\n".
type EventStream struct {
	partial   bytes.Buffer
	eventName string
	dataLines []string
	sawField  bool
}

// Feed consumes the next raw chunk and returns the events completed by it.
func (s *EventStream) Feed(p []byte) []apiformat.SSEEvent {
	var out []apiformat.SSEEvent
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			s.partial.Write(p)
			break
		}
		s.partial.Write(p[:idx])
		p = p[idx+1:]

		line := strings.TrimSuffix(s.partial.String(), "\r")
		s.partial.Reset()
		if event, ok := s.consumeLine(line); ok {
			out = append(out, event)
		}
	}
	return out
}

// Flush returns the trailing event when the stream ended without a final
// blank line.
func (s *EventStream) Flush() (apiformat.SSEEvent, bool) {
	if s.partial.Len() > 0 {
		line := strings.TrimSuffix(s.partial.String(), "\r")
		s.partial.Reset()
		if event, ok := s.consumeLine(line); ok {
			// A complete event was already pending; the new line started
			// another which is dropped as truncated.
			return event, true
		}
	}
	if !s.sawField {
		return apiformat.SSEEvent{}, false
	}
	event := s.finishEvent()
	return event, true
}

func (s *EventStream) consumeLine(line string) (apiformat.SSEEvent, bool) {
	if line == "" {
		if !s.sawField {
			return apiformat.SSEEvent{}, false
		}
		return s.finishEvent(), true
	}
	if strings.HasPrefix(line, ":") {
		return apiformat.SSEEvent{}, false
	}

	field, value := line, ""
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		field = line[:idx]
		value = strings.TrimPrefix(line[idx+1:], " ")
	}

	switch field {
	case "event":
		s.eventName = value
		s.sawField = true
	case "data":
		s.dataLines = append(s.dataLines, value)
		s.sawField = true
	default:
		// id, retry and unknown fields do not affect the payload.
	}
	return apiformat.SSEEvent{}, false
}

func (s *EventStream) finishEvent() apiformat.SSEEvent {
	event := apiformat.SSEEvent{
		Event: s.eventName,
		Data:  []byte(strings.Join(s.dataLines, "\n")),
	}
	s.eventName = ""
	s.dataLines = nil
	s.sawField = false
	return event
}
