// Package device classifies the host so the chunk cache can size itself.
package device

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vrabczak/BuildingRadar/internal/chunkcache"
)

// Thresholds on available memory.
const (
	lowMemory  = 1 << 30 // 1 GiB
	highMemory = 8 << 30 // 8 GiB
	lowCPUs    = 2
)

// Info describes the host resources.
type Info struct {
	AvailableMemory uint64
	TotalMemory     uint64
	LogicalCPUs     int
}

// Classify maps host resources to a device class. Hosts with little
// available memory or very few CPUs are low; plenty of memory is high.
func Classify(info Info) chunkcache.DeviceClass {
	switch {
	case info.AvailableMemory < lowMemory || (info.LogicalCPUs > 0 && info.LogicalCPUs <= lowCPUs):
		return chunkcache.DeviceLow
	case info.AvailableMemory >= highMemory:
		return chunkcache.DeviceHigh
	default:
		return chunkcache.DeviceStandard
	}
}

// Inspect reads host memory and CPU counts.
func Inspect(ctx context.Context) (Info, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Info{}, err
	}
	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Info{}, err
	}
	return Info{AvailableMemory: vm.Available, TotalMemory: vm.Total, LogicalCPUs: cpus}, nil
}

// Resolve returns class unchanged unless it is auto, in which case the host
// is inspected. A failed inspection falls back to standard.
func Resolve(ctx context.Context, class chunkcache.DeviceClass, logger *slog.Logger) chunkcache.DeviceClass {
	if class != chunkcache.DeviceAuto && class != "" {
		return class
	}

	info, err := Inspect(ctx)
	if err != nil {
		logger.Warn("device inspection failed, assuming standard device", "error", err)
		return chunkcache.DeviceStandard
	}

	resolved := Classify(info)
	logger.Info("device class resolved",
		"class", resolved,
		"available_memory", humanize.IBytes(info.AvailableMemory),
		"total_memory", humanize.IBytes(info.TotalMemory),
		"cpus", info.LogicalCPUs,
	)
	return resolved
}
