package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

const report_perf_stats_cpu = "perf_stats.cpu"

var (
	perfMeter           = otel.Meter("gradeportal.process")
	cpuGauge, _         = perfMeter.Float64Gauge("process.cpu_percent")
	allocatedGauge, _   = perfMeter.Int64Gauge("process.allocated_mb")
	liveObjectsGauge, _ = perfMeter.Int64Gauge("process.live_objects")
	goroutineGauge, _   = perfMeter.Int64Gauge("process.goroutines")
)

type PerfStats struct {
	// CpuPercent is nil when the host does not report cpu usage.
	CpuPercent  *float64
	AllocatedMb int64
	LiveObjects int64
	Goroutines  int64
}

// ReadPerfStats samples the process, the cpu sample blocks for `window`.
func ReadPerfStats(ctx context.Context, window time.Duration) (PerfStats, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := PerfStats{
		AllocatedMb: int64(memStats.Alloc / 1_000_000),
		LiveObjects: int64(memStats.Mallocs) - int64(memStats.Frees),
		Goroutines:  int64(runtime.NumGoroutine()),
	}
	usage, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return stats, err
	}
	if len(usage) > 0 {
		stats.CpuPercent = &usage[0]
	}
	return stats, nil
}

func (s PerfStats) record(ctx context.Context) {
	if s.CpuPercent != nil {
		cpuGauge.Record(ctx, *s.CpuPercent)
	}
	allocatedGauge.Record(ctx, s.AllocatedMb)
	liveObjectsGauge.Record(ctx, s.LiveObjects)
	goroutineGauge.Record(ctx, s.Goroutines)
}

// InstrumentPerfStats records process stats every interval until ctx is done.
func InstrumentPerfStats(ctx context.Context, interval time.Duration, tel API) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats, err := ReadPerfStats(ctx, time.Second)
				if err != nil {
					tel.ReportWarning(report_perf_stats_cpu, err)
				}
				stats.record(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
