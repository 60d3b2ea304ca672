package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"path", "method", "status"},
	)

	relayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_relay_requests_total",
			Help: "Total number of relayed requests",
		},
		[]string{"provider", "dialect", "model", "success"},
	)

	relayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_relay_request_duration_seconds",
			Help:    "End to end relay latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "dialect", "model", "success"},
	)

	relayTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_relay_tokens_used_total",
			Help: "Total tokens consumed by relayed requests",
		},
		[]string{"provider", "model", "direction"},
	)

	relayCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_relay_cost_usd_total",
			Help: "Accumulated billed cost in USD",
		},
		[]string{"provider", "model"},
	)

	upstreamAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_attempts_total",
			Help: "Total number of upstream attempts",
		},
		[]string{"provider", "key", "dialect", "status", "outcome"},
	)

	streamFirstByteSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_stream_first_byte_seconds",
			Help:    "Latency until the first streamed byte reached the client",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"dialect"},
	)

	keyCooldownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_key_cooldowns_total",
			Help: "Total number of key cooldowns by reason",
		},
		[]string{"provider", "key", "reason"},
	)

	coordinationAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_coordination_available",
			Help: "Whether the shared coordination store is reachable (1) or degraded (0)",
		},
	)

	redisCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_redis_commands_total",
			Help: "Total number of coordination store commands",
		},
		[]string{"command", "success"},
	)

	redisCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_redis_command_duration_seconds",
			Help:    "Coordination store command latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"command"},
	)

	dbQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "table", "success"},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation", "table"},
	)

	billingOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_billing_operations_total",
			Help: "Total number of billing operations",
		},
		[]string{"operation", "success", "model"},
	)

	billingOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_billing_operation_duration_seconds",
			Help:    "Billing operation latency in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
		},
		[]string{"operation"},
	)

	tokenAuthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_auth_total",
			Help: "Total number of access token authentication attempts",
		},
		[]string{"success"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of errors by type and component",
		},
		[]string{"type", "component"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_build_info",
			Help: "Build information, value is always 1",
		},
		[]string{"version", "go_version"},
	)

	processStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_process_start_time_seconds",
			Help: "Unix time the gateway process started",
		},
	)
)

// PrometheusRecorder implements metrics.MetricsRecorder on top of the
// default Prometheus registry.
type PrometheusRecorder struct{}

func (p *PrometheusRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	httpRequestsTotal.WithLabelValues(path, method, statusCode).Inc()
	httpRequestDuration.WithLabelValues(path, method, statusCode).Observe(time.Since(startTime).Seconds())
}

func (p *PrometheusRecorder) RecordRelayRequest(startTime time.Time, providerId int64, dialect, model string, success bool, promptTokens, completionTokens int, costUSD float64) {
	provider := strconv.FormatInt(providerId, 10)
	ok := strconv.FormatBool(success)
	relayRequestsTotal.WithLabelValues(provider, dialect, model, ok).Inc()
	relayRequestDuration.WithLabelValues(provider, dialect, model, ok).Observe(time.Since(startTime).Seconds())
	if promptTokens > 0 {
		relayTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		relayTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		relayCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

func (p *PrometheusRecorder) RecordUpstreamAttempt(providerId, keyId int64, dialect string, statusCode int, outcome string) {
	upstreamAttemptsTotal.WithLabelValues(
		strconv.FormatInt(providerId, 10),
		strconv.FormatInt(keyId, 10),
		dialect,
		strconv.Itoa(statusCode),
		outcome,
	).Inc()
}

func (p *PrometheusRecorder) RecordStreamFirstByte(dialect string, seconds float64) {
	streamFirstByteSeconds.WithLabelValues(dialect).Observe(seconds)
}

func (p *PrometheusRecorder) RecordCooldown(providerId, keyId int64, reason string) {
	keyCooldownsTotal.WithLabelValues(
		strconv.FormatInt(providerId, 10),
		strconv.FormatInt(keyId, 10),
		reason,
	).Inc()
}

func (p *PrometheusRecorder) UpdateCoordinationAvailable(available bool) {
	if available {
		coordinationAvailable.Set(1)
	} else {
		coordinationAvailable.Set(0)
	}
}

func (p *PrometheusRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {
	redisCommandsTotal.WithLabelValues(command, strconv.FormatBool(success)).Inc()
	redisCommandDuration.WithLabelValues(command).Observe(time.Since(startTime).Seconds())
}

func (p *PrometheusRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {
	dbQueriesTotal.WithLabelValues(operation, table, strconv.FormatBool(success)).Inc()
	dbQueryDuration.WithLabelValues(operation, table).Observe(time.Since(startTime).Seconds())
}

func (p *PrometheusRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, model string, costUSD float64) {
	billingOperationsTotal.WithLabelValues(operation, strconv.FormatBool(success), model).Inc()
	billingOperationDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
}

func (p *PrometheusRecorder) RecordTokenAuth(success bool) {
	tokenAuthTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (p *PrometheusRecorder) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

func (p *PrometheusRecorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {
	buildInfo.WithLabelValues(version, goVersion).Set(1)
	processStartTime.Set(float64(startTime.Unix()))
}
