package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/controller"
	"github.com/Laisky/llm-gateway/middleware"
)

// SetRouter registers every HTTP route on engine. The relay surface accepts
// all three inbound dialects; the dialect is detected per request by the
// authentication middleware, not by the route.
func SetRouter(engine *gin.Engine, rc *controller.RelayController) {
	startTime := time.Now()

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(startTime).Round(time.Second).String(),
		})
	})

	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Model listings never stream, so they can be compressed; relay routes
	// stay uncompressed to keep SSE flushing byte for byte.
	listing := engine.Group("")
	listing.Use(middleware.Metrics(), middleware.RequestId(), middleware.GatewayAuth())
	if config.GzipEnabled {
		listing.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	{
		listing.GET("/v1/models", controller.ListModels)
		listing.GET("/v1beta/models", controller.ListModels)
	}

	relay := engine.Group("")
	relay.Use(middleware.Metrics(), middleware.RequestId(), middleware.GatewayAuth())
	{
		// Claude dialects
		relay.POST("/v1/messages", rc.Relay)

		// OpenAI dialects
		relay.POST("/v1/chat/completions", rc.Relay)
		relay.POST("/v1/completions", rc.Relay)
		relay.POST("/v1/embeddings", rc.Relay)
		relay.POST("/v1/videos", rc.Relay)

		// Gemini dialects carry the model and verb in the path, e.g.
		// /v1beta/models/gemini-2.5-pro:streamGenerateContent.
		relay.POST("/v1beta/models/*action", rc.Relay)
	}

	engine.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, "no such route: "+c.Request.URL.Path)
	})
}
