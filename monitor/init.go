package monitor

import (
	"context"
	"time"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/coord"
	"github.com/Laisky/llm-gateway/common/metrics"
	"github.com/Laisky/llm-gateway/monitor/otel"
	"github.com/Laisky/llm-gateway/monitor/prometheus"
)

// InitMonitoring wires the configured metrics recorders into the global
// recorder. With both backends disabled the no-op recorder stays in place.
func InitMonitoring(version, goVersion string, startTime time.Time) error {
	var recorders []metrics.MetricsRecorder

	if config.EnablePrometheusMetrics {
		recorders = append(recorders, &prometheus.PrometheusRecorder{})
	}

	if config.OpenTelemetryEnabled {
		otelRecorder, err := otel.NewOtelRecorder()
		if err != nil {
			return err
		}
		recorders = append(recorders, otelRecorder)
	}

	switch len(recorders) {
	case 0:
		metrics.GlobalRecorder = &metrics.NoOpRecorder{}
		return nil
	case 1:
		metrics.GlobalRecorder = recorders[0]
	default:
		metrics.GlobalRecorder = &metrics.MultiRecorder{Recorders: recorders}
	}

	metrics.GlobalRecorder.InitSystemMetrics(version, goVersion, startTime)

	return nil
}

// WatchCoordination periodically probes the coordination store and keeps the
// availability gauge current even when no request traffic touches the store.
func WatchCoordination(store *coord.Client, stop <-chan struct{}) {
	if store == nil || !store.Available() {
		metrics.GlobalRecorder.UpdateCoordinationAvailable(false)
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			metrics.GlobalRecorder.UpdateCoordinationAvailable(store.Ping(ctx))
			cancel()
		}
	}
}
