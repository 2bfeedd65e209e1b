// Package processor provides the frame processor contract and the
// green-pixel threshold processor. Processors are pure transformations
// from a frame to a flat map of named numeric results, and declare one
// sensor descriptor per metric they can emit so every result key is
// always registrable for discovery.
package processor

import (
	"github.com/verdantlab/brokkoli/internal/source"
)

// Descriptor declares a single metric a processor can emit, carrying
// the display metadata the messaging client needs to build a discovery
// payload.
type Descriptor struct {
	// Key is the metric key in the Process result map, e.g.
	// "green_percentage" or "top_left_green_pixels".
	Key string
	// Name is the human-readable sensor name.
	Name string
	// Unit is the unit of measurement, e.g. "%" or "pixels".
	Unit string
	// Icon is a Material Design icon reference, e.g. "mdi:leaf".
	Icon string
	// StateClass is the HA state class, typically "measurement".
	StateClass string
}

// Processor analyzes frames. Implementations must never let a
// per-frame failure escape Process; a failed frame yields an empty
// result map.
type Processor interface {
	// Name returns the configured processor name.
	Name() string

	// Enabled reports whether the processor should run. A disabled
	// processor returns empty results and declares no sensors.
	Enabled() bool

	// Process analyzes a frame and returns metric key to numeric value.
	// The key set is always a subset of the declared descriptor keys.
	Process(frame *source.Frame, md source.Metadata) map[string]any

	// SensorConfigs returns one descriptor per metric Process can emit
	// for the current enablement and quadrant configuration.
	SensorConfigs() []Descriptor
}
