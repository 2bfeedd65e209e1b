package imaging

import "image"

// Quadrant names, in the order returned by Quadrants.
const (
	TopLeft = iota
	TopRight
	BottomLeft
	BottomRight
)

// QuadrantNames maps the Quadrants indices to their metric key prefixes.
var QuadrantNames = [4]string{"top_left", "top_right", "bottom_left", "bottom_right"}

// Quadrants splits bounds into four non-overlapping regions at the
// floor midpoint. For odd dimensions the extra row and column land in
// the bottom/right regions, so the four regions always tile the whole
// rectangle.
func Quadrants(bounds image.Rectangle) [4]image.Rectangle {
	midX := bounds.Min.X + bounds.Dx()/2
	midY := bounds.Min.Y + bounds.Dy()/2

	return [4]image.Rectangle{
		TopLeft:     image.Rect(bounds.Min.X, bounds.Min.Y, midX, midY),
		TopRight:    image.Rect(midX, bounds.Min.Y, bounds.Max.X, midY),
		BottomLeft:  image.Rect(bounds.Min.X, midY, midX, bounds.Max.Y),
		BottomRight: image.Rect(midX, midY, bounds.Max.X, bounds.Max.Y),
	}
}
