package telemetry

import (
	"context"

	"github.com/giobyte8/resizer/internal/telemetry/metrics"
)

type Config struct {
	OtelEnabled bool

	// host:port of the OpenTelemetry collector gRPC receiver
	CollectorGrpcEndpoint string
}

type TelemetrySvc struct {
	metrics metrics.MetricsSvc
}

func NewTelemetrySvc(ctx context.Context, cfg Config) (*TelemetrySvc, error) {
	var metricsSvc metrics.MetricsSvc
	var err error

	if cfg.OtelEnabled {
		metricsSvc, err = metrics.NewOtelMetricsSvc(
			ctx,
			cfg.CollectorGrpcEndpoint,
		)
		if err != nil {
			return nil, err
		}
	} else {
		metricsSvc = metrics.NewNoopMetricsSvc()
	}

	return NewTelemetrySvcWithMetrics(metricsSvc), nil
}

// NewTelemetrySvcWithMetrics wraps an already built metrics service.
func NewTelemetrySvcWithMetrics(m metrics.MetricsSvc) *TelemetrySvc {
	if m == nil {
		m = metrics.NewNoopMetricsSvc()
	}
	return &TelemetrySvc{metrics: m}
}

func (t *TelemetrySvc) Metrics() metrics.MetricsSvc {
	return t.metrics
}

func (t *TelemetrySvc) Shutdown(ctx context.Context) error {
	return t.metrics.Shutdown(ctx)
}
