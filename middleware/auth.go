package middleware

import (
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/llm-gateway/common"
	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/ctxkey"
	"github.com/Laisky/llm-gateway/common/metrics"
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
)

// GatewayAuth recognises the inbound dialect, extracts the presented
// credential and validates it against the access-token table. The resolved
// dialect, token and key land on the context for the relay handler.
func GatewayAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		dialect, key, err := apiformat.Detect(
			c.Request.Header, c.Request.URL.Path, c.Request.URL.Query(), config.CLIUserAgentTokens)
		if dialect != "" {
			c.Set(ctxkey.Dialect, dialect)
		}
		if err != nil {
			metrics.GlobalRecorder.RecordTokenAuth(false)
			AbortWithError(c, http.StatusUnauthorized, "missing or unrecognized credentials")
			return
		}

		token, err := model.ValidateAccessToken(key)
		if err != nil {
			metrics.GlobalRecorder.RecordTokenAuth(false)
			gmw.GetLogger(c).Warn("access token rejected",
				zap.String("key", common.MaskSecret(key)), zap.Error(err))
			AbortWithError(c, http.StatusUnauthorized, "invalid access token")
			return
		}
		if !token.AllowsAPIFormat(string(dialect)) {
			metrics.GlobalRecorder.RecordTokenAuth(false)
			AbortWithError(c, http.StatusForbidden, "this token may not use the "+string(dialect)+" API")
			return
		}
		metrics.GlobalRecorder.RecordTokenAuth(true)

		c.Set(ctxkey.Token, token)
		c.Set(ctxkey.TokenId, token.Id)
		c.Set(ctxkey.InboundAPIKey, key)
		c.Set(ctxkey.RequestStartAt, time.Now())
		c.Next()
	}
}
