// Package source provides the image source contract and its folder
// implementation. A source watches a location for new frames and hands
// the newest undelivered one to the coordinator's polling loop.
package source

import (
	"image"
	"time"
)

// Frame is a decoded image ready for processing. Pixel data is always
// in RGBA layout (red-green-blue channel order).
type Frame struct {
	Image   *image.RGBA
	Path    string
	ModTime time.Time
}

// Metadata describes the source and its most recent frame.
type Metadata struct {
	SourceName    string
	SourceType    string
	FilePath      string
	FileSize      int64
	ModTime       time.Time
	LastDelivered time.Time
}

// Source is a provider of frames. Implementations are polled from the
// coordinator's single processing loop; Start may spawn an internal
// watch goroutine that updates latest-frame state concurrently.
type Source interface {
	// Name returns the configured source name.
	Name() string

	// Start begins observing the backing location. A failed Start is
	// logged by the caller and does not abort the other sources.
	Start() error

	// Stop ceases observation and releases watch resources. Safe to
	// call when never started.
	Stop()

	// Available reports whether the backing location currently exists
	// and is usable.
	Available() bool

	// LatestFrame returns the newest undelivered frame, or nil when
	// there is nothing new, the minimum update interval has not
	// elapsed, or the candidate failed to decode.
	LatestFrame() *Frame

	// Metadata returns information about the source and its current
	// frame for processor result context.
	Metadata() Metadata
}
