// Package tracing resolves per-request correlation ids: the gin-middlewares
// request trace id for logs and usage rows, and the distributed
// OpenTelemetry trace id when a span is recording.
package tracing

import (
	"context"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TraceID returns the per-request trace id. It stays unique even when
// several requests share one distributed trace, so a usage row always maps
// back to exactly one inbound request.
func TraceID(c *gin.Context) string {
	id, err := gmw.TraceID(c)
	if err != nil {
		gmw.GetLogger(c).Warn("resolve request trace id", zap.Error(err))
		return ""
	}
	return id.String()
}

// FromContext resolves a trace id from a plain context: the request-scoped
// id when a gin context is embedded, the OpenTelemetry trace id otherwise.
// Background workers use this to tie their logs back to the request that
// spawned them.
func FromContext(ctx context.Context) string {
	if ginCtx, ok := gmw.GetGinCtxFromStdCtx(ctx); ok {
		return TraceID(ginCtx)
	}
	return distributedTraceID(ctx)
}

// WithTraceID prepends the trace id to structured log fields so failure
// logs and the persisted usage row share a correlation handle.
func WithTraceID(c *gin.Context, fields ...zap.Field) []zap.Field {
	id := TraceID(c)
	if id == "" {
		return fields
	}
	return append([]zap.Field{zap.String("trace_id", id)}, fields...)
}

func distributedTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	spanCtx := oteltrace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
