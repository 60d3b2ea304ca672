package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Laisky/llm-gateway/common/ctxkey"
	"github.com/Laisky/llm-gateway/common/helper"
)

// RequestId assigns a unique id to every request and echoes it back so
// clients can correlate support reports with usage rows.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(helper.RequestIdHeader)
		if id == "" {
			id = helper.GenRequestID()
		}
		c.Set(ctxkey.RequestId, id)
		c.Header(helper.RequestIdHeader, id)
		c.Next()
	}
}
