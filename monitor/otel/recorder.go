package otel

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelRecorder implements the MetricsRecorder interface using OpenTelemetry
type OtelRecorder struct {
	meter metric.Meter

	// HTTP metrics
	httpRequestDuration metric.Float64Histogram
	httpRequestsTotal   metric.Int64Counter

	// Relay metrics
	relayRequestDuration metric.Float64Histogram
	relayRequestsTotal   metric.Int64Counter
	relayTokensUsed      metric.Int64Counter
	relayCostUSD         metric.Float64Counter

	// Upstream metrics
	upstreamAttemptsTotal  metric.Int64Counter
	streamFirstByteSeconds metric.Float64Histogram

	// Pool metrics
	keyCooldownsTotal     metric.Int64Counter
	coordinationAvailable metric.Int64Gauge

	// Store metrics
	redisCommandDuration metric.Float64Histogram
	redisCommandsTotal   metric.Int64Counter
	dbQueryDuration      metric.Float64Histogram
	dbQueriesTotal       metric.Int64Counter

	// Billing metrics
	billingOperationDuration metric.Float64Histogram
	billingOperationsTotal   metric.Int64Counter

	// Auth metrics
	tokenAuthTotal metric.Int64Counter

	// Error metrics
	errorsTotal metric.Int64Counter

	// Process metrics
	buildInfo metric.Int64Gauge
}

// NewOtelRecorder creates a new OtelRecorder
func NewOtelRecorder() (*OtelRecorder, error) {
	meter := otel.Meter("llm-gateway")
	r := &OtelRecorder{meter: meter}

	var err error
	// HTTP metrics
	if r.httpRequestDuration, err = meter.Float64Histogram("gateway_http_request_duration_seconds", metric.WithDescription("Duration of HTTP requests in seconds")); err != nil {
		return nil, err
	}
	if r.httpRequestsTotal, err = meter.Int64Counter("gateway_http_requests_total", metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}

	// Relay metrics
	if r.relayRequestDuration, err = meter.Float64Histogram("gateway_relay_request_duration_seconds", metric.WithDescription("Duration of relayed requests in seconds")); err != nil {
		return nil, err
	}
	if r.relayRequestsTotal, err = meter.Int64Counter("gateway_relay_requests_total", metric.WithDescription("Total number of relayed requests")); err != nil {
		return nil, err
	}
	if r.relayTokensUsed, err = meter.Int64Counter("gateway_relay_tokens_total", metric.WithDescription("Total number of tokens consumed by relayed requests")); err != nil {
		return nil, err
	}
	if r.relayCostUSD, err = meter.Float64Counter("gateway_relay_cost_usd_total", metric.WithDescription("Accumulated billed cost in USD")); err != nil {
		return nil, err
	}

	// Upstream metrics
	if r.upstreamAttemptsTotal, err = meter.Int64Counter("gateway_upstream_attempts_total", metric.WithDescription("Total number of upstream attempts")); err != nil {
		return nil, err
	}
	if r.streamFirstByteSeconds, err = meter.Float64Histogram("gateway_stream_first_byte_seconds", metric.WithDescription("Latency until the first streamed byte reached the client")); err != nil {
		return nil, err
	}

	// Pool metrics
	if r.keyCooldownsTotal, err = meter.Int64Counter("gateway_key_cooldowns_total", metric.WithDescription("Total number of key cooldowns")); err != nil {
		return nil, err
	}
	if r.coordinationAvailable, err = meter.Int64Gauge("gateway_coordination_available", metric.WithDescription("Whether the shared coordination store is reachable")); err != nil {
		return nil, err
	}

	// Store metrics
	if r.redisCommandDuration, err = meter.Float64Histogram("gateway_redis_command_duration_seconds", metric.WithDescription("Duration of coordination store commands in seconds")); err != nil {
		return nil, err
	}
	if r.redisCommandsTotal, err = meter.Int64Counter("gateway_redis_commands_total", metric.WithDescription("Total number of coordination store commands")); err != nil {
		return nil, err
	}
	if r.dbQueryDuration, err = meter.Float64Histogram("gateway_db_query_duration_seconds", metric.WithDescription("Duration of database queries in seconds")); err != nil {
		return nil, err
	}
	if r.dbQueriesTotal, err = meter.Int64Counter("gateway_db_queries_total", metric.WithDescription("Total number of database queries")); err != nil {
		return nil, err
	}

	// Billing metrics
	if r.billingOperationDuration, err = meter.Float64Histogram("gateway_billing_operation_duration_seconds", metric.WithDescription("Duration of billing operations in seconds")); err != nil {
		return nil, err
	}
	if r.billingOperationsTotal, err = meter.Int64Counter("gateway_billing_operations_total", metric.WithDescription("Total number of billing operations")); err != nil {
		return nil, err
	}

	// Auth metrics
	if r.tokenAuthTotal, err = meter.Int64Counter("gateway_token_auth_total", metric.WithDescription("Total number of access token authentication attempts")); err != nil {
		return nil, err
	}

	// Error metrics
	if r.errorsTotal, err = meter.Int64Counter("gateway_errors_total", metric.WithDescription("Total number of errors")); err != nil {
		return nil, err
	}

	// Process metrics
	if r.buildInfo, err = meter.Int64Gauge("gateway_build_info", metric.WithDescription("Build information, value is always 1")); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordHTTPRequest records HTTP request metrics
func (r *OtelRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
		attribute.String("status_code", statusCode),
	}
	r.httpRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRelayRequest records end to end relay metrics
func (r *OtelRecorder) RecordRelayRequest(startTime time.Time, providerId int64, dialect, model string, success bool, promptTokens, completionTokens int, costUSD float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider", strconv.FormatInt(providerId, 10)),
		attribute.String("dialect", dialect),
		attribute.String("model", model),
		attribute.Bool("success", success),
	}
	r.relayRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.relayRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	tokenAttrs := []attribute.KeyValue{
		attribute.String("provider", strconv.FormatInt(providerId, 10)),
		attribute.String("model", model),
	}
	if promptTokens > 0 {
		r.relayTokensUsed.Add(ctx, int64(promptTokens), metric.WithAttributes(append(tokenAttrs, attribute.String("direction", "prompt"))...))
	}
	if completionTokens > 0 {
		r.relayTokensUsed.Add(ctx, int64(completionTokens), metric.WithAttributes(append(tokenAttrs, attribute.String("direction", "completion"))...))
	}
	if costUSD > 0 {
		r.relayCostUSD.Add(ctx, costUSD, metric.WithAttributes(tokenAttrs...))
	}
}

// RecordUpstreamAttempt records the outcome of a single upstream attempt
func (r *OtelRecorder) RecordUpstreamAttempt(providerId, keyId int64, dialect string, statusCode int, outcome string) {
	r.upstreamAttemptsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", strconv.FormatInt(providerId, 10)),
		attribute.String("key", strconv.FormatInt(keyId, 10)),
		attribute.String("dialect", dialect),
		attribute.Int("status_code", statusCode),
		attribute.String("outcome", outcome),
	))
}

// RecordStreamFirstByte records the time to first streamed byte
func (r *OtelRecorder) RecordStreamFirstByte(dialect string, seconds float64) {
	r.streamFirstByteSeconds.Record(context.Background(), seconds, metric.WithAttributes(
		attribute.String("dialect", dialect),
	))
}

// RecordCooldown records a key cooldown event
func (r *OtelRecorder) RecordCooldown(providerId, keyId int64, reason string) {
	r.keyCooldownsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", strconv.FormatInt(providerId, 10)),
		attribute.String("key", strconv.FormatInt(keyId, 10)),
		attribute.String("reason", reason),
	))
}

// UpdateCoordinationAvailable records coordination store reachability
func (r *OtelRecorder) UpdateCoordinationAvailable(available bool) {
	var v int64
	if available {
		v = 1
	}
	r.coordinationAvailable.Record(context.Background(), v)
}

// RecordRedisCommand records coordination store command metrics
func (r *OtelRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("command", command),
		attribute.Bool("success", success),
	}
	r.redisCommandDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.redisCommandsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDBQuery records database query metrics
func (r *OtelRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("table", table),
		attribute.Bool("success", success),
	}
	r.dbQueryDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.dbQueriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillingOperation records billing evaluation metrics
func (r *OtelRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, model string, costUSD float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.Bool("success", success),
		attribute.String("model", model),
	}
	r.billingOperationDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.billingOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokenAuth records an authentication attempt
func (r *OtelRecorder) RecordTokenAuth(success bool) {
	r.tokenAuthTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordError records an error by type and component
func (r *OtelRecorder) RecordError(errorType, component string) {
	r.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", errorType),
		attribute.String("component", component),
	))
}

// InitSystemMetrics records build information once at startup
func (r *OtelRecorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {
	r.buildInfo.Record(context.Background(), 1, metric.WithAttributes(
		attribute.String("version", version),
		attribute.String("go_version", goVersion),
		attribute.String("start_time", startTime.UTC().Format(time.RFC3339)),
	))
}
