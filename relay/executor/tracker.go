package executor

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/llm-gateway/common"
	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/helper"
	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/common/metrics"
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
	"github.com/Laisky/llm-gateway/relay/parser"
	"github.com/Laisky/llm-gateway/relay/scheduling"
)

// maxStoredResponseBytes caps the response excerpt kept on the usage row.
const maxStoredResponseBytes = 64 << 10

// prefetchBufferBytes bounds how much of a passthrough stream is held back
// while waiting for the first meaningful parsed chunk. A stream that ends
// inside this window without meaningful data forwards nothing, so the plan
// can advance to the next candidate.
const prefetchBufferBytes = 16 << 10

// streamResult is what the tracker learned from one upstream response.
type streamResult struct {
	stats          parser.StreamStats
	bytesForwarded int64
	firstByteMs    int64
	responseBody   []byte
	// pending buffers passthrough bytes during the prefetch window; they are
	// dropped when the stream ends without meaningful data.
	pending     []byte
	cancelled   bool
	emptyStream bool
	readErr     error
}

// streamForwarder writes the client response lazily: headers go out with the
// first payload byte, so an attempt that forwards nothing leaves the
// connection untouched for the next candidate.
type streamForwarder struct {
	c      *gin.Context
	status int
	opened bool
}

func (f *streamForwarder) write(b []byte) int {
	if !f.opened {
		f.opened = true
		common.SetEventStreamHeaders(f.c)
		f.c.Writer.WriteHeader(f.status)
	}
	n, _ := f.c.Writer.Write(b)
	f.c.Writer.Flush()
	return n
}

func (r *streamResult) outcomeLabel() string {
	switch {
	case r.cancelled:
		return "cancelled"
	case r.emptyStream:
		return "empty_stream"
	case r.readErr != nil:
		return "stream_error"
	default:
		return "success"
	}
}

// track mirrors the upstream response to the client while accounting
// tokens. Bytes are forwarded before any parsing or store write so time to
// first byte reflects wire time only. cancelUpstream aborts the upstream
// read and is re-armed per chunk as the inactivity watchdog.
func (e *Executor) track(c *gin.Context, task *Task, candidate *scheduling.Candidate, resp *http.Response, cancelUpstream context.CancelFunc) *streamResult {
	defer resp.Body.Close()

	if task.Request.Stream {
		return e.trackStream(c, task, candidate, resp, cancelUpstream)
	}
	return e.trackComplete(c, task, candidate, resp)
}

// trackComplete handles a non-streaming response: read, convert if the
// dialects differ, forward, account.
func (e *Executor) trackComplete(c *gin.Context, task *Task, candidate *scheduling.Candidate, resp *http.Response) *streamResult {
	result := &streamResult{}
	endpointDialect := candidate.Endpoint.DialectValue()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.Request.Context().Err() != nil {
			result.cancelled = true
			return result
		}
		result.readErr = err
		return result
	}

	chunk := parser.ForDialect(endpointDialect).ParseComplete(body)
	result.stats.Add(chunk)

	outBody := body
	if candidate.NeedsConversion {
		conv := apiformat.ConversionBetween(task.Request.Dialect, endpointDialect)
		outBody, err = conv.TransformResponse(task.Request.GlobalModel.Name, task.Body, body)
		if err != nil {
			logger.Logger.Warn("convert upstream response", zap.Error(err))
			result.readErr = err
			return result
		}
	}

	e.markFirstByte(task, candidate, result)
	c.Writer.Header().Set("Content-Type", "application/json")
	c.Writer.WriteHeader(resp.StatusCode)
	n, _ := c.Writer.Write(outBody)
	result.bytesForwarded = int64(n)
	result.responseBody = clip(outBody, maxStoredResponseBytes)
	return result
}

// trackStream forwards SSE chunks as they arrive; with no conversion the
// raw bytes pass straight through, otherwise each complete event is
// rewritten before forwarding.
func (e *Executor) trackStream(c *gin.Context, task *Task, candidate *scheduling.Candidate, resp *http.Response, cancelUpstream context.CancelFunc) *streamResult {
	result := &streamResult{}
	endpointDialect := candidate.Endpoint.DialectValue()
	chunkParser := parser.ForDialect(endpointDialect)

	var conv *apiformat.Conversion
	var streamCtx *apiformat.StreamContext
	if candidate.NeedsConversion {
		conv = apiformat.ConversionBetween(task.Request.Dialect, endpointDialect)
		streamCtx = &apiformat.StreamContext{
			Model:           task.Request.GlobalModel.Name,
			OriginalRequest: task.Body,
		}
	}

	fw := &streamForwarder{c: c, status: resp.StatusCode}

	watchdog := time.AfterFunc(config.FirstByteTimeout(), cancelUpstream)
	defer watchdog.Stop()

	events := &parser.EventStream{}
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(config.FirstByteTimeout())
			e.forwardChunk(fw, task, candidate, result, buf[:n], events, chunkParser, conv, streamCtx)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if c.Request.Context().Err() != nil {
				result.cancelled = true
				return result
			}
			result.readErr = err
			break
		}
	}

	if event, ok := events.Flush(); ok {
		e.forwardEvent(fw, task, candidate, result, event, chunkParser, conv, streamCtx)
	}
	// A stream that produced no meaningful parsed data is an empty stream
	// regardless of how many opaque bytes arrived. Prefetched bytes are only
	// released once meaningful data showed up, so the common case forwards
	// nothing and the plan can advance.
	if result.stats.IsEmpty() {
		result.emptyStream = true
		return result
	}
	e.flushPending(fw, task, candidate, result)
	return result
}

// forwardChunk feeds one raw chunk to the parser and forwards it (or its
// converted events). Passthrough bytes are held in the prefetch buffer until
// the stream proves meaningful.
func (e *Executor) forwardChunk(fw *streamForwarder, task *Task, candidate *scheduling.Candidate, result *streamResult,
	chunk []byte, events *parser.EventStream, chunkParser parser.ChunkParser, conv *apiformat.Conversion, streamCtx *apiformat.StreamContext) {

	if conv == nil {
		for _, event := range events.Feed(chunk) {
			result.stats.Add(chunkParser.ParseEvent(event))
		}
		if !fw.opened && result.stats.IsEmpty() && len(result.pending)+len(chunk) <= prefetchBufferBytes {
			result.pending = append(result.pending, chunk...)
			return
		}
		e.flushPending(fw, task, candidate, result)
		e.markFirstByte(task, candidate, result)
		n := fw.write(chunk)
		result.bytesForwarded += int64(n)
		result.responseBody = appendClipped(result.responseBody, chunk, maxStoredResponseBytes)
		return
	}

	for _, event := range events.Feed(chunk) {
		e.forwardEvent(fw, task, candidate, result, event, chunkParser, conv, streamCtx)
	}
}

// flushPending releases the prefetch buffer to the client.
func (e *Executor) flushPending(fw *streamForwarder, task *Task, candidate *scheduling.Candidate, result *streamResult) {
	if len(result.pending) == 0 {
		return
	}
	e.markFirstByte(task, candidate, result)
	n := fw.write(result.pending)
	result.bytesForwarded += int64(n)
	result.responseBody = appendClipped(result.responseBody, result.pending, maxStoredResponseBytes)
	result.pending = nil
}

// forwardEvent rewrites one upstream event into the client dialect, writes
// it, then accounts it.
func (e *Executor) forwardEvent(fw *streamForwarder, task *Task, candidate *scheduling.Candidate, result *streamResult,
	event apiformat.SSEEvent, chunkParser parser.ChunkParser, conv *apiformat.Conversion, streamCtx *apiformat.StreamContext) {

	if conv == nil {
		result.stats.Add(chunkParser.ParseEvent(event))
		return
	}

	out, err := conv.TransformStream(streamCtx, event)
	if err != nil {
		logger.Logger.Warn("convert stream event", zap.Error(err))
		return
	}
	for _, ev := range out {
		e.markFirstByte(task, candidate, result)
		n := fw.writeSSE(ev)
		result.bytesForwarded += int64(n)
		result.responseBody = appendClipped(result.responseBody, ev.Data, maxStoredResponseBytes)
	}
	result.stats.Add(chunkParser.ParseEvent(event))
}

// markFirstByte runs once per response: usage moves to streaming with the
// resolved dispatch triple and TTFB lands in metrics.
func (e *Executor) markFirstByte(task *Task, candidate *scheduling.Candidate, result *streamResult) {
	if result.firstByteMs > 0 {
		return
	}
	result.firstByteMs = helper.ElapsedMs(task.StartTime)
	if result.firstByteMs == 0 {
		result.firstByteMs = 1
	}
	err := model.MarkStreaming(task.Usage.Id, result.firstByteMs,
		candidate.Provider.Id, candidate.Endpoint.Id, candidate.Key.Id, candidate.UpstreamModelName())
	if err != nil {
		logger.Logger.Warn("mark usage streaming", zap.Error(err))
	}
	metrics.GlobalRecorder.RecordStreamFirstByte(candidate.Endpoint.Dialect,
		float64(result.firstByteMs)/1000)
}

// writeSSE serialises one event in wire format and returns bytes written.
func (f *streamForwarder) writeSSE(event apiformat.SSEEvent) int {
	var b []byte
	if event.Event != "" {
		b = append(b, "event: "+event.Event+"\n"...)
	}
	b = append(b, "data: "...)
	b = append(b, event.Data...)
	b = append(b, "\n\n"...)
	return f.write(b)
}

func clip(b []byte, limit int) []byte {
	if len(b) <= limit {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	out := make([]byte, limit)
	copy(out, b[:limit])
	return out
}

func appendClipped(dst, src []byte, limit int) []byte {
	if len(dst) >= limit {
		return dst
	}
	if len(dst)+len(src) > limit {
		src = src[:limit-len(dst)]
	}
	return append(dst, src...)
}
