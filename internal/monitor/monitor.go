// Package monitor samples host CPU/RAM utilization for the heartbeat's
// optional telemetry field.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is one CPU/RAM sample.
type Stats struct {
	CPUPercent float64
	RAMPercent float64
}

// SystemMonitor samples host resource usage via gopsutil.
type SystemMonitor struct{}

// NewSystemMonitor builds a SystemMonitor.
func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{}
}

// Sample gathers a single CPU/RAM reading. The CPU sample blocks for
// 500ms to average over a short window.
func (m *SystemMonitor) Sample(ctx context.Context) (Stats, error) {
	var stats Stats

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("monitor: mem stats: %w", err)
	}
	stats.RAMPercent = v.UsedPercent

	cpuPct, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false)
	if err != nil {
		return stats, fmt.Errorf("monitor: cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		stats.CPUPercent = cpuPct[0]
	}

	return stats, nil
}
