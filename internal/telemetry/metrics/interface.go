package metrics

import (
	"context"
)

// Custom type to represent a metric name,
// providing a type-safe way to handle metric names.
type MetricName string

const (
	ResizeRequestReceived MetricName = "resize.request.received"
	ImageResized          MetricName = "image.resized"
	ImageFailed           MetricName = "image.failed"
	BatchCompleted        MetricName = "batch.completed"
)

type MetricsSvc interface {
	Increment(metric MetricName, attrs map[string]string)
	Shutdown(ctx context.Context) error
}
