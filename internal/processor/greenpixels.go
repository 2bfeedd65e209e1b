package processor

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/verdantlab/brokkoli/internal/imaging"
	"github.com/verdantlab/brokkoli/internal/source"
)

// Default HSV bounds for green classification, on OpenCV scales.
var (
	defaultGreenLo = imaging.HSV{H: 35, S: 40, V: 40}
	defaultGreenHi = imaging.HSV{H: 85, S: 255, V: 255}
)

// GreenPixelsOptions configures a GreenPixels processor.
type GreenPixelsOptions struct {
	Enabled   bool
	Quadrants bool
	// Lo and Hi override the default green HSV box when Hi is
	// non-zero.
	Lo, Hi imaging.HSV
}

// GreenPixels counts pixels whose HSV value falls inside a green
// threshold box and reports the match as a count and a percentage,
// optionally per quadrant. It is stateless across frames apart from
// the bounds fixed at construction.
type GreenPixels struct {
	name      string
	enabled   bool
	quadrants bool
	lo, hi    imaging.HSV
	logger    *slog.Logger
}

// NewGreenPixels creates the processor. A zero-value Hi bound in opts
// selects the default green box.
func NewGreenPixels(name string, opts GreenPixelsOptions, logger *slog.Logger) *GreenPixels {
	if logger == nil {
		logger = slog.Default()
	}

	lo, hi := defaultGreenLo, defaultGreenHi
	if opts.Hi != (imaging.HSV{}) {
		lo, hi = opts.Lo, opts.Hi
	}

	return &GreenPixels{
		name:      name,
		enabled:   opts.Enabled,
		quadrants: opts.Quadrants,
		lo:        lo,
		hi:        hi,
		logger:    logger.With("processor", name),
	}
}

// Name returns the configured processor name.
func (p *GreenPixels) Name() string { return p.name }

// Enabled reports whether the processor is enabled.
func (p *GreenPixels) Enabled() bool { return p.enabled }

// Process counts green pixels in the frame. Disabled processors and
// unusable frames yield an empty map; a classification panic is
// recovered so one bad frame cannot take down the polling loop.
func (p *GreenPixels) Process(frame *source.Frame, md source.Metadata) (results map[string]any) {
	results = map[string]any{}
	if !p.enabled {
		return results
	}
	if frame == nil || frame.Image == nil {
		p.logger.Warn("no image in frame", "source", md.SourceName)
		return results
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pixel classification failed",
				"source", md.SourceName, "panic", fmt.Sprint(r))
			results = map[string]any{}
		}
	}()

	img := frame.Image
	matched, total := imaging.CountInRange(img, img.Bounds(), p.lo, p.hi)
	results["green_pixels"] = matched
	results["total_pixels"] = total
	results["green_percentage"] = percentage(matched, total)

	if p.quadrants {
		for i, rect := range imaging.Quadrants(img.Bounds()) {
			qm, qt := imaging.CountInRange(img, rect, p.lo, p.hi)
			prefix := imaging.QuadrantNames[i]
			results[prefix+"_green_pixels"] = qm
			results[prefix+"_green_percentage"] = percentage(qm, qt)
		}
	}

	p.logger.Debug("green pixels counted",
		"source", md.SourceName,
		"matched", matched,
		"total", total,
	)
	return results
}

// percentage returns matched/total as a percent rounded to two
// decimals, and 0 when total is 0.
func percentage(matched, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(matched)/float64(total)*10000) / 100
}

// SensorConfigs declares one descriptor per metric Process can emit
// for the current configuration. Disabled processors declare nothing.
func (p *GreenPixels) SensorConfigs() []Descriptor {
	if !p.enabled {
		return nil
	}

	configs := []Descriptor{
		{Key: "green_pixels", Name: "Green Pixels", Unit: "pixels", Icon: "mdi:leaf", StateClass: "measurement"},
		{Key: "total_pixels", Name: "Total Pixels", Unit: "pixels", Icon: "mdi:image", StateClass: "measurement"},
		{Key: "green_percentage", Name: "Green Percentage", Unit: "%", Icon: "mdi:percent", StateClass: "measurement"},
	}

	if p.quadrants {
		for i := range imaging.QuadrantNames {
			key := imaging.QuadrantNames[i]
			display := quadrantDisplay[i]
			configs = append(configs,
				Descriptor{Key: key + "_green_pixels", Name: display + " Green Pixels", Unit: "pixels", Icon: "mdi:leaf", StateClass: "measurement"},
				Descriptor{Key: key + "_green_percentage", Name: display + " Green Percentage", Unit: "%", Icon: "mdi:percent", StateClass: "measurement"},
			)
		}
	}
	return configs
}

var quadrantDisplay = [4]string{
	imaging.TopLeft:     "Top Left",
	imaging.TopRight:    "Top Right",
	imaging.BottomLeft:  "Bottom Left",
	imaging.BottomRight: "Bottom Right",
}

var _ Processor = (*GreenPixels)(nil)
