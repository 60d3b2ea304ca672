package metrics

import (
	"time"
)

// MetricsRecorder receives dispatch-path measurements. Implementations must
// be safe for concurrent use and must never block the request path.
type MetricsRecorder interface {
	// HTTP surface
	RecordHTTPRequest(startTime time.Time, path, method, statusCode string)

	// Dispatch path
	RecordRelayRequest(startTime time.Time, providerId int64, dialect, model string, success bool, promptTokens, completionTokens int, costUSD float64)
	RecordUpstreamAttempt(providerId, keyId int64, dialect string, statusCode int, outcome string)
	RecordStreamFirstByte(dialect string, seconds float64)

	// Pool health
	RecordCooldown(providerId, keyId int64, reason string)
	UpdateCoordinationAvailable(available bool)

	// Stores
	RecordRedisCommand(startTime time.Time, command string, success bool)
	RecordDBQuery(startTime time.Time, operation, table string, success bool)

	// Billing and settlement
	RecordBillingOperation(startTime time.Time, operation string, success bool, model string, costUSD float64)

	// Authentication
	RecordTokenAuth(success bool)

	// Errors by component
	RecordError(errorType, component string)

	// Process
	InitSystemMetrics(version, goVersion string, startTime time.Time)
}

// GlobalRecorder holds the active metrics recorder implementation.
var GlobalRecorder MetricsRecorder = &NoOpRecorder{}

// NoOpRecorder is used when metrics are disabled.
type NoOpRecorder struct{}

func (n *NoOpRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {}
func (n *NoOpRecorder) RecordRelayRequest(startTime time.Time, providerId int64, dialect, model string, success bool, promptTokens, completionTokens int, costUSD float64) {
}
func (n *NoOpRecorder) RecordUpstreamAttempt(providerId, keyId int64, dialect string, statusCode int, outcome string) {
}
func (n *NoOpRecorder) RecordStreamFirstByte(dialect string, seconds float64) {}
func (n *NoOpRecorder) RecordCooldown(providerId, keyId int64, reason string) {}
func (n *NoOpRecorder) UpdateCoordinationAvailable(available bool)            {}
func (n *NoOpRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {
}
func (n *NoOpRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {}
func (n *NoOpRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, model string, costUSD float64) {
}
func (n *NoOpRecorder) RecordTokenAuth(success bool)                                     {}
func (n *NoOpRecorder) RecordError(errorType, component string)                          {}
func (n *NoOpRecorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {}

// MultiRecorder fans a measurement out to several recorders.
type MultiRecorder struct {
	Recorders []MetricsRecorder
}

func (m *MultiRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	for _, r := range m.Recorders {
		r.RecordHTTPRequest(startTime, path, method, statusCode)
	}
}

func (m *MultiRecorder) RecordRelayRequest(startTime time.Time, providerId int64, dialect, model string, success bool, promptTokens, completionTokens int, costUSD float64) {
	for _, r := range m.Recorders {
		r.RecordRelayRequest(startTime, providerId, dialect, model, success, promptTokens, completionTokens, costUSD)
	}
}

func (m *MultiRecorder) RecordUpstreamAttempt(providerId, keyId int64, dialect string, statusCode int, outcome string) {
	for _, r := range m.Recorders {
		r.RecordUpstreamAttempt(providerId, keyId, dialect, statusCode, outcome)
	}
}

func (m *MultiRecorder) RecordStreamFirstByte(dialect string, seconds float64) {
	for _, r := range m.Recorders {
		r.RecordStreamFirstByte(dialect, seconds)
	}
}

func (m *MultiRecorder) RecordCooldown(providerId, keyId int64, reason string) {
	for _, r := range m.Recorders {
		r.RecordCooldown(providerId, keyId, reason)
	}
}

func (m *MultiRecorder) UpdateCoordinationAvailable(available bool) {
	for _, r := range m.Recorders {
		r.UpdateCoordinationAvailable(available)
	}
}

func (m *MultiRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {
	for _, r := range m.Recorders {
		r.RecordRedisCommand(startTime, command, success)
	}
}

func (m *MultiRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {
	for _, r := range m.Recorders {
		r.RecordDBQuery(startTime, operation, table, success)
	}
}

func (m *MultiRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, model string, costUSD float64) {
	for _, r := range m.Recorders {
		r.RecordBillingOperation(startTime, operation, success, model, costUSD)
	}
}

func (m *MultiRecorder) RecordTokenAuth(success bool) {
	for _, r := range m.Recorders {
		r.RecordTokenAuth(success)
	}
}

func (m *MultiRecorder) RecordError(errorType, component string) {
	for _, r := range m.Recorders {
		r.RecordError(errorType, component)
	}
}

func (m *MultiRecorder) InitSystemMetrics(version, goVersion string, startTime time.Time) {
	for _, r := range m.Recorders {
		r.InitSystemMetrics(version, goVersion, startTime)
	}
}
