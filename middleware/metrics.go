package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Laisky/llm-gateway/common/metrics"
)

// Metrics reports per-request HTTP metrics. The route template is used
// instead of the raw path to keep label cardinality bounded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.GlobalRecorder.RecordHTTPRequest(start, path, c.Request.Method, strconv.Itoa(c.Writer.Status()))
	}
}
