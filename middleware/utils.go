package middleware

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/llm-gateway/common/ctxkey"
	"github.com/Laisky/llm-gateway/common/tracing"
	"github.com/Laisky/llm-gateway/relay/apiformat"
	relaymodel "github.com/Laisky/llm-gateway/relay/model"
)

// AbortWithError aborts the request with a wire-format-correct error body in
// the request's detected dialect. 4xx aborts log as warnings since the
// client caused them.
func AbortWithError(c *gin.Context, statusCode int, message string) {
	logger := gmw.GetLogger(c)
	fields := tracing.WithTraceID(c,
		zap.Int("status_code", statusCode),
		zap.String("message", message))
	if statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError {
		logger.Warn("request aborted", fields...)
	} else {
		logger.Error("request aborted", fields...)
	}

	dialect := RequestDialect(c)
	c.Data(statusCode, "application/json",
		relaymodel.RenderError(dialect, relaymodel.NewError(statusCode, message)))
	c.Abort()
}

// RequestDialect returns the dialect stashed by GatewayAuth, defaulting to
// OpenAI chat so error rendering always has a shape.
func RequestDialect(c *gin.Context) apiformat.Dialect {
	if v, ok := c.Get(ctxkey.Dialect); ok {
		if d, ok := v.(apiformat.Dialect); ok {
			return d
		}
	}
	return apiformat.OpenAIChat
}
