package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor periodically samples host CPU/RAM/disk usage and logs it
// as a pressure signal for operators. It never deletes data: persisted
// messages and event-log entries are not auto-purged by the core (spec §7).
type ResourceMonitor struct {
	diskWarnPercent     float64
	diskCriticalPercent float64
}

// NewResourceMonitor constructs a ResourceMonitor with the given disk
// warning/critical thresholds, expressed as percentages (0-100).
func NewResourceMonitor(diskWarnPercent, diskCriticalPercent float64) *ResourceMonitor {
	return &ResourceMonitor{
		diskWarnPercent:     diskWarnPercent,
		diskCriticalPercent: diskCriticalPercent,
	}
}

// Sample takes a single measurement and logs it at a level derived from disk
// pressure: Debug when safe, Warn past diskWarnPercent, Error past
// diskCriticalPercent.
func (r *ResourceMonitor) Sample(ctx context.Context) {
	var cpuPercent float64
	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	} else if err != nil {
		slog.Warn("resource monitor: cpu sample failed", "error", err)
	}

	var ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramPercent = memStat.UsedPercent
	} else {
		slog.Warn("resource monitor: memory sample failed", "error", err)
	}

	var diskPercent float64
	if diskStat, err := disk.UsageWithContext(ctx, "."); err == nil {
		diskPercent = diskStat.UsedPercent
	} else {
		slog.Warn("resource monitor: disk sample failed", "error", err)
	}

	fields := []any{
		"cpu_percent", roundTo2(cpuPercent),
		"ram_percent", roundTo2(ramPercent),
		"disk_percent", roundTo2(diskPercent),
		"goroutines", runtime.NumGoroutine(),
	}

	switch {
	case diskPercent >= r.diskCriticalPercent:
		slog.Error("resource pressure: disk usage critical", fields...)
	case diskPercent >= r.diskWarnPercent:
		slog.Warn("resource pressure: disk usage elevated", fields...)
	default:
		slog.Debug("resource sample", fields...)
	}
}

func roundTo2(f float64) float64 {
	return float64(int(f*100)) / 100
}
