// Package frame holds the depth and color frames delivered by a sensor and the single slot that
// hands the latest one from the producer to the pipeline.
package frame

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/fusion/rimage"
)

// ErrResolutionMismatch is returned when a frame does not have the configured sensor resolution.
var ErrResolutionMismatch = errors.New("frame resolution does not match sensor")

// Pair is a depth frame and, if the sensor streams color, the color frame captured with it. A
// Pair is immutable once published; whoever holds it owns it.
type Pair struct {
	Depth *rimage.DepthMap
	// Color is nil when the sensor has no color stream.
	Color *rimage.Image
	// Timestamp is the capture time reported by the source.
	Timestamp time.Time
	// Seq is assigned by the slot when the pair is published.
	Seq uint64
}

// NewPair checks that depth and color agree on size and returns the pair.
func NewPair(depth *rimage.DepthMap, color *rimage.Image, ts time.Time) (*Pair, error) {
	if depth == nil || !depth.HasData() {
		return nil, errors.New("frame pair needs a depth map")
	}
	if color != nil && color.Bounds() != depth.Bounds() {
		return nil, errors.Wrapf(ErrResolutionMismatch, "color is %dx%d but depth is %dx%d",
			color.Width(), color.Height(), depth.Width(), depth.Height())
	}
	return &Pair{Depth: depth, Color: color, Timestamp: ts}, nil
}

// HasColor returns whether the pair carries a color frame.
func (p *Pair) HasColor() bool {
	return p.Color != nil
}

// Width of both frames in pixels.
func (p *Pair) Width() int {
	return p.Depth.Width()
}

// Height of both frames in pixels.
func (p *Pair) Height() int {
	return p.Depth.Height()
}

// CheckResolution returns an error if the pair does not match width x height. A zero size
// accepts any resolution.
func (p *Pair) CheckResolution(width, height int) error {
	if width == 0 && height == 0 {
		return nil
	}
	if p.Width() != width || p.Height() != height {
		return errors.Wrapf(ErrResolutionMismatch, "got %dx%d, want %dx%d", p.Width(), p.Height(), width, height)
	}
	return nil
}
