package imaging

import "image"

// HSV is a color bound on the OpenCV 8-bit scales: hue 0-179 (half
// degrees), saturation and value 0-255. Using these scales keeps
// threshold constants interchangeable with OpenCV-based tooling.
type HSV struct {
	H, S, V uint8
}

// RGBToHSV converts an 8-bit RGB triple to HSV on the OpenCV scales.
func RGBToHSV(r, g, b uint8) HSV {
	maxC := max(r, max(g, b))
	minC := min(r, min(g, b))
	v := maxC
	delta := int(maxC) - int(minC)

	var s uint8
	if maxC > 0 {
		s = uint8((delta*255 + int(maxC)/2) / int(maxC))
	}

	if delta == 0 {
		return HSV{0, s, v}
	}

	// Hue in degrees, then halved to fit 0-179.
	var hDeg int
	switch maxC {
	case r:
		hDeg = (60 * (int(g) - int(b))) / delta
	case g:
		hDeg = 120 + (60*(int(b)-int(r)))/delta
	default:
		hDeg = 240 + (60*(int(r)-int(g)))/delta
	}
	if hDeg < 0 {
		hDeg += 360
	}
	return HSV{uint8(hDeg / 2), s, v}
}

// InRange reports whether c falls inside the inclusive [lo, hi] box.
func (c HSV) InRange(lo, hi HSV) bool {
	return c.H >= lo.H && c.H <= hi.H &&
		c.S >= lo.S && c.S <= hi.S &&
		c.V >= lo.V && c.V <= hi.V
}

// CountInRange scans rect within img and returns how many pixels fall
// inside the [lo, hi] HSV box, along with the total pixel count of the
// region. rect is clipped to the image bounds.
func CountInRange(img *image.RGBA, rect image.Rectangle, lo, hi HSV) (matched, total int) {
	rect = rect.Intersect(img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		i := img.PixOffset(rect.Min.X, y)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			c := RGBToHSV(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			if c.InRange(lo, hi) {
				matched++
			}
			i += 4
		}
	}
	return matched, rect.Dx() * rect.Dy()
}
