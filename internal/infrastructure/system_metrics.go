package infrastructure

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// SystemMetrics records Go runtime health alongside the business metrics so
// the /metrics endpoint reports the process, not just the dashboard.
type SystemMetrics struct {
	goRoutines    metric.Int64Gauge
	memoryUsage   metric.Int64Gauge
	memorySystem  metric.Int64Gauge
	gcCount       metric.Int64Gauge
	processUptime metric.Float64Gauge

	startTime time.Time
}

// NewSystemMetrics creates a new system metrics collector
func NewSystemMetrics(meter metric.Meter) (*SystemMetrics, error) {
	goRoutines, err := meter.Int64Gauge(
		"system_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	memoryUsage, err := meter.Int64Gauge(
		"system_memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	memorySystem, err := meter.Int64Gauge(
		"system_memory_system_bytes",
		metric.WithDescription("Memory obtained from the OS in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64Gauge(
		"system_gc_count",
		metric.WithDescription("Garbage collections since process start"),
	)
	if err != nil {
		return nil, err
	}

	processUptime, err := meter.Float64Gauge(
		"system_process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &SystemMetrics{
		goRoutines:    goRoutines,
		memoryUsage:   memoryUsage,
		memorySystem:  memorySystem,
		gcCount:       gcCount,
		processUptime: processUptime,
		startTime:     time.Now(),
	}, nil
}

// Collect records one sample of runtime statistics.
func (sm *SystemMetrics) Collect(ctx context.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sm.goRoutines.Record(ctx, int64(runtime.NumGoroutine()))
	sm.memoryUsage.Record(ctx, int64(memStats.Alloc))
	sm.memorySystem.Record(ctx, int64(memStats.Sys))
	sm.gcCount.Record(ctx, int64(memStats.NumGC))
	sm.processUptime.Record(ctx, time.Since(sm.startTime).Seconds())
}

// Start runs periodic collection until the context is cancelled.
func (sm *SystemMetrics) Start(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "System metrics collection started",
		slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "System metrics collection stopped")
			return
		case <-ticker.C:
			sm.Collect(ctx)
		}
	}
}
