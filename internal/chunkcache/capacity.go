package chunkcache

import (
	"fmt"
	"strings"

	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// DeviceClass describes how much memory the host can spare for decoded chunks.
type DeviceClass string

// Device classes.
const (
	DeviceAuto     DeviceClass = "auto"
	DeviceLow      DeviceClass = "low"
	DeviceStandard DeviceClass = "standard"
	DeviceHigh     DeviceClass = "high"
)

// Capacity bounds.
const (
	MinFractionCapacity = 3
	MaxFractionCapacity = 20
)

var deviceCaps = map[DeviceClass]int{
	DeviceLow:      4,
	DeviceStandard: 12,
	DeviceHigh:     20,
}

// ParseDeviceClass parses a device class name. The empty string means auto.
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch d := DeviceClass(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DeviceAuto, nil
	case DeviceAuto, DeviceLow, DeviceStandard, DeviceHigh:
		return d, nil
	default:
		return "", fmt.Errorf("device class %q: %w", s, domain.ErrInvalidInput)
	}
}

// Hints carries caller-provided capacity constraints.
type Hints struct {
	MaxChunks int         // Explicit ceiling, 0 = none
	Device    DeviceClass // Resolved device class; auto is treated as standard
}

// TuneCapacity returns the number of chunks the cache may keep resident:
// the smallest of the explicit ceiling, ~10% of chunkCount clamped to
// [3, 20] and the device cap. The result is never below 1.
func TuneCapacity(h Hints, chunkCount int) int {
	capacity := (chunkCount + 9) / 10
	capacity = max(capacity, MinFractionCapacity)
	capacity = min(capacity, MaxFractionCapacity)

	if h.MaxChunks > 0 {
		capacity = min(capacity, h.MaxChunks)
	}

	device, ok := deviceCaps[h.Device]
	if !ok {
		device = deviceCaps[DeviceStandard]
	}
	capacity = min(capacity, device)

	return max(capacity, 1)
}
