package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Laisky/llm-gateway/common"
	"github.com/Laisky/llm-gateway/common/client"
	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/coord"
	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/common/telemetry"
	"github.com/Laisky/llm-gateway/controller"
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/monitor"
	"github.com/Laisky/llm-gateway/relay/executor"
	"github.com/Laisky/llm-gateway/relay/pool"
	"github.com/Laisky/llm-gateway/relay/scheduling"
	"github.com/Laisky/llm-gateway/router"
)

func main() {
	_ = godotenv.Load()
	startTime := time.Now()

	logger.SetupLogger(config.DebugEnabled)
	if err := config.Validate(); err != nil {
		logger.Logger.Panic("invalid configuration", zap.Error(err))
	}

	client.Init()

	if err := model.InitDB(); err != nil {
		logger.Logger.Panic("initialize database", zap.Error(err))
	}
	defer func() {
		if err := model.CloseDB(); err != nil {
			logger.Logger.Warn("close database", zap.Error(err))
		}
	}()

	if err := coord.Init(config.RedisConnString); err != nil {
		logger.Logger.Panic("initialize coordination store", zap.Error(err))
	}

	if err := monitor.InitMonitoring(common.Version, runtime.Version(), startTime); err != nil {
		logger.Logger.Panic("initialize monitoring", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if config.OpenTelemetryEnabled {
		otelProviders, err := telemetry.Init(rootCtx)
		if err != nil {
			logger.Logger.Panic("initialize opentelemetry", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(ctx); err != nil {
				logger.Logger.Warn("shutdown opentelemetry", zap.Error(err))
			}
		}()
	}

	pools := pool.NewRegistry(coord.Store)
	scheduler := scheduling.NewScheduler(pools, config.Scheduler)
	relayController := controller.NewRelayController(scheduler, executor.New(pools))

	startBackgroundTasks(rootCtx)

	if !config.DebugEnabled {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "x-api-key",
			"x-goog-api-key", "anthropic-version", "anthropic-beta"},
		MaxAge: 12 * time.Hour,
	}))
	if config.OpenTelemetryEnabled {
		engine.Use(otelgin.Middleware(config.OpenTelemetryServiceName))
	}
	engine.Use(gmw.NewLoggerMiddleware(
		gmw.WithLevel(ginLogLevel().String()),
		gmw.WithLogger(logger.Logger.Named("gin")),
	))
	router.SetRouter(engine, relayController)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Logger.Warn("shutdown http server", zap.Error(err))
		}
	}()

	logger.Logger.Info("llm-gateway started",
		zap.String("version", common.Version),
		zap.Int("port", config.Port))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Logger.Panic("http server exited", zap.Error(err))
	}

	logger.Logger.Info("llm-gateway stopped")
}

func ginLogLevel() glog.Level {
	if config.DebugEnabled {
		return glog.LevelDebug
	}
	return glog.LevelInfo
}

// startBackgroundTasks launches the periodic sweeps that keep the gateway
// healthy without touching the request path.
func startBackgroundTasks(ctx context.Context) {
	go monitor.WatchCoordination(coord.Store, ctx.Done())

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				model.RunRetentionSweep()
			}
		}
	}()

	// Rows abandoned mid-relay by a crashed instance are settled in batches
	// once they are safely past any live request's timeout.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		orphanAge := 2 * config.RelayRequestTimeout()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := model.ReconcileOrphanedUsage(ctx, orphanAge); err != nil {
					logger.Logger.Warn("reconcile orphaned usage", zap.Error(err))
				}
			}
		}
	}()

	defaults, _ := pool.ParseConfig("")
	pool.StartProactiveRefresh(ctx, coord.Store, defaults.ProactiveRefreshSec, managedOAuthCredentials)
}

// managedOAuthCredentials lists every active OAuth key together with its
// provider's pool config; re-evaluated on each refresh tick.
func managedOAuthCredentials() []pool.ManagedCredential {
	providers, err := model.ListActiveProviders()
	if err != nil {
		logger.Logger.Warn("list providers for oauth refresh", zap.Error(err))
		return nil
	}

	var creds []pool.ManagedCredential
	for _, provider := range providers {
		cfg, err := pool.ParseConfig(provider.PoolConfig)
		if err != nil {
			logger.Logger.Warn("parse pool config for oauth refresh",
				zap.Int64("provider_id", provider.Id), zap.Error(err))
			continue
		}
		for _, key := range provider.Keys {
			if key.AuthType != model.KeyAuthOAuth {
				continue
			}
			refreshToken, err := key.PlainSecret()
			if err != nil {
				logger.Logger.Warn("decrypt oauth refresh token",
					zap.Int64("key_id", key.Id), zap.Error(err))
				continue
			}
			creds = append(creds, pool.ManagedCredential{
				ProviderId: provider.Id,
				Config:     cfg,
				Credential: pool.OAuthCredential{
					KeyId:        key.Id,
					RefreshToken: refreshToken,
					TokenURL:     key.TokenURL,
					ClientId:     key.ClientId,
				},
			})
		}
	}
	return creds
}
