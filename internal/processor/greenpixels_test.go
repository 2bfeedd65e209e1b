package processor

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/verdantlab/brokkoli/internal/imaging"
	"github.com/verdantlab/brokkoli/internal/source"
)

// testFrame builds a w x h frame with a green patch covering rect.
func testFrame(w, h int, greenRect image.Rectangle) *source.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{200, 30, 30, 255}
			if image.Pt(x, y).In(greenRect) {
				c = color.RGBA{30, 220, 30, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return &source.Frame{Image: img, Path: "test.png", ModTime: time.Now()}
}

// A hue box around red, for the custom-bounds test.
var (
	redLo = imaging.HSV{H: 0, S: 40, V: 40}
	redHi = imaging.HSV{H: 10, S: 255, V: 255}
)

func md(name string) source.Metadata {
	return source.Metadata{SourceName: name, SourceType: "folder"}
}

func TestGreenPixels_Disabled(t *testing.T) {
	p := NewGreenPixels("Green Pixels", GreenPixelsOptions{Enabled: false}, nil)

	results := p.Process(testFrame(10, 10, image.Rect(0, 0, 10, 10)), md("cam"))
	if len(results) != 0 {
		t.Errorf("disabled processor returned %d results, want 0", len(results))
	}
	if configs := p.SensorConfigs(); len(configs) != 0 {
		t.Errorf("disabled processor declared %d sensors, want 0", len(configs))
	}
}

func TestGreenPixels_Counts(t *testing.T) {
	p := NewGreenPixels("Green Pixels", GreenPixelsOptions{Enabled: true}, nil)

	// 10x10 frame, 5x4 green patch = 20 of 100 pixels.
	results := p.Process(testFrame(10, 10, image.Rect(0, 0, 5, 4)), md("cam"))

	if got := results["green_pixels"]; got != 20 {
		t.Errorf("green_pixels = %v, want 20", got)
	}
	if got := results["total_pixels"]; got != 100 {
		t.Errorf("total_pixels = %v, want 100", got)
	}
	if got := results["green_percentage"]; got != 20.0 {
		t.Errorf("green_percentage = %v, want 20.0", got)
	}
}

func TestGreenPixels_PercentageRounding(t *testing.T) {
	p := NewGreenPixels("Green Pixels", GreenPixelsOptions{Enabled: true}, nil)

	// 1 green pixel of 9 = 11.11%.
	results := p.Process(testFrame(3, 3, image.Rect(0, 0, 1, 1)), md("cam"))
	if got := results["green_percentage"]; got != 11.11 {
		t.Errorf("green_percentage = %v, want 11.11", got)
	}
}

func TestGreenPixels_ZeroTotal(t *testing.T) {
	if got := percentage(0, 0); got != 0 {
		t.Errorf("percentage(0, 0) = %v, want 0", got)
	}

	p := NewGreenPixels("Green Pixels", GreenPixelsOptions{Enabled: true}, nil)
	results := p.Process(testFrame(0, 0, image.Rectangle{}), md("cam"))
	if got := results["green_percentage"]; got != 0.0 {
		t.Errorf("green_percentage on empty frame = %v, want 0", got)
	}
}

func TestGreenPixels_NilFrame(t *testing.T) {
	p := NewGreenPixels("Green Pixels", GreenPixelsOptions{Enabled: true}, nil)

	if got := p.Process(nil, md("cam")); len(got) != 0 {
		t.Errorf("nil frame returned %d results, want 0", len(got))
	}
	if got := p.Process(&source.Frame{}, md("cam")); len(got) != 0 {
		t.Errorf("frame without image returned %d results, want 0", len(got))
	}
}

func TestGreenPixels_Quadrants(t *testing.T) {
	p := NewGreenPixels("Green Pixels", GreenPixelsOptions{Enabled: true, Quadrants: true}, nil)

	// 101x101 with the top-left 50x50 region fully green.
	results := p.Process(testFrame(101, 101, image.Rect(0, 0, 50, 50)), md("cam"))

	if got := results["top_left_green_pixels"]; got != 2500 {
		t.Errorf("top_left_green_pixels = %v, want 2500", got)
	}
	if got := results["top_left_green_percentage"]; got != 100.0 {
		t.Errorf("top_left_green_percentage = %v, want 100", got)
	}
	if got := results["bottom_right_green_pixels"]; got != 0 {
		t.Errorf("bottom_right_green_pixels = %v, want 0", got)
	}
	if got := results["green_pixels"]; got != 2500 {
		t.Errorf("green_pixels = %v, want 2500", got)
	}
	if got := results["total_pixels"]; got != 101*101 {
		t.Errorf("total_pixels = %v, want %d", got, 101*101)
	}
}

// Every key Process can emit must be declared, and nothing more, so
// discovery registration and state publishes stay in lockstep.
func TestGreenPixels_DescriptorsMatchResults(t *testing.T) {
	for _, quadrants := range []bool{false, true} {
		name := "plain"
		if quadrants {
			name = "quadrants"
		}
		t.Run(name, func(t *testing.T) {
			p := NewGreenPixels("Green Pixels", GreenPixelsOptions{Enabled: true, Quadrants: quadrants}, nil)

			results := p.Process(testFrame(8, 8, image.Rect(0, 0, 4, 4)), md("cam"))
			declared := make(map[string]bool)
			for _, d := range p.SensorConfigs() {
				if declared[d.Key] {
					t.Errorf("descriptor key %q declared twice", d.Key)
				}
				declared[d.Key] = true
			}

			for key := range results {
				if !declared[key] {
					t.Errorf("result key %q has no descriptor", key)
				}
			}
			if len(results) != len(declared) {
				t.Errorf("results emit %d keys, descriptors declare %d", len(results), len(declared))
			}
		})
	}
}

func TestGreenPixels_CustomBounds(t *testing.T) {
	// A red-only box classifies the red background instead of green.
	p := NewGreenPixels("Red Pixels", GreenPixelsOptions{
		Enabled: true,
		Lo:      redLo, Hi: redHi,
	}, nil)

	results := p.Process(testFrame(10, 10, image.Rect(0, 0, 5, 4)), md("cam"))
	if got := results["green_pixels"]; got != 80 {
		t.Errorf("matched = %v, want 80 (red background)", got)
	}
}
