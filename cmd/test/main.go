// Package main implements gateway-test, a smoke probe for a running
// llm-gateway instance. It sends one small request per inbound dialect,
// streaming and non-streaming, and reports which combinations answered.
//
// Running every probe against a production deployment costs real tokens,
// prefer -dialects to narrow the run during development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	_ "github.com/joho/godotenv/autoload"

	"github.com/Laisky/llm-gateway/common/helper"
)

const (
	defaultBaseURL = "http://127.0.0.1:3000"
	defaultModel   = "gpt-5-mini"

	maxResponseBodySize = 1 << 20
	maxLoggedBodyBytes  = 2048
)

func main() {
	logger, err := glog.NewConsoleWithName("gateway-test", glog.LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %+v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		baseURL  = flag.String("base-url", envOr("GATEWAY_TEST_BASE_URL", defaultBaseURL), "gateway base URL")
		token    = flag.String("token", os.Getenv("GATEWAY_TEST_TOKEN"), "inbound access token")
		model    = flag.String("model", envOr("GATEWAY_TEST_MODEL", defaultModel), "global model name to probe")
		dialects = flag.String("dialects", "claude,openai,gemini", "comma separated dialects to probe")
		timeout  = flag.Duration("timeout", 90*time.Second, "per-probe timeout")
	)
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "missing access token, set -token or GATEWAY_TEST_TOKEN")
		os.Exit(1)
	}

	selected := map[string]bool{}
	for _, d := range strings.Split(*dialects, ",") {
		selected[strings.TrimSpace(strings.ToLower(d))] = true
	}

	h := &harness{
		baseURL: strings.TrimSuffix(*baseURL, "/"),
		token:   *token,
		model:   *model,
		timeout: *timeout,
		logger:  logger,
	}

	logger.Info("starting smoke run",
		zap.String("base_url", h.baseURL),
		zap.String("model", h.model),
		zap.String("token", helper.MaskAPIKey(h.token)))

	failed := 0
	for _, spec := range probeSpecs(*model) {
		if !selected[spec.Dialect] {
			continue
		}
		result := h.run(ctx, spec)
		if result.Success {
			logger.Info("probe passed",
				zap.String("probe", spec.Name),
				zap.Int("status", result.StatusCode),
				zap.Duration("elapsed", result.Elapsed))
			continue
		}
		failed++
		logger.Error("probe failed",
			zap.String("probe", spec.Name),
			zap.Int("status", result.StatusCode),
			zap.String("reason", result.Reason),
			zap.String("body", result.ResponseBody))
	}

	if failed > 0 {
		logger.Error("smoke run finished with failures", zap.Int("failed", failed))
		os.Exit(1)
	}
	logger.Info("smoke run finished, all probes passed")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
