// Package observer defines metrics hooks for sandbox execution and judging.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64)
	ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryKB int64)
	ObserveJudge(ctx context.Context, backend string, status string, elapsed time.Duration)
	ObserveSandboxError(ctx context.Context, backend string)
	ObserveQueueDepth(ctx context.Context, depth int64)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryKB int64) {
}

func (NoopMetricsRecorder) ObserveJudge(ctx context.Context, backend string, status string, elapsed time.Duration) {
}

func (NoopMetricsRecorder) ObserveSandboxError(ctx context.Context, backend string) {}

func (NoopMetricsRecorder) ObserveQueueDepth(ctx context.Context, depth int64) {}
