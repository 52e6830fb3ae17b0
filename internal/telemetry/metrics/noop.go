package metrics

import (
	"context"
)

// NoopMetricsSvc discards every measurement. Used when OTEL_ENABLED is
// not "true".
type NoopMetricsSvc struct{}

func NewNoopMetricsSvc() *NoopMetricsSvc {
	return &NoopMetricsSvc{}
}

func (n *NoopMetricsSvc) Increment(MetricName, map[string]string) {}

func (n *NoopMetricsSvc) Shutdown(context.Context) error {
	return nil
}
