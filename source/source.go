// Package source defines depth sensors that deliver frames asynchronously through a callback.
package source

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/fusion/frame"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/rimage/transform"
)

// Callback receives a depth frame and, if the sensor streams color, the matching color frame. It
// is called from a goroutine owned by the source and must not block.
type Callback func(depth *rimage.DepthMap, color *rimage.Image, ts time.Time)

// Source is an asynchronous depth sensor.
type Source interface {
	// Start begins delivering frames to cb. Starting a started source does nothing.
	Start(ctx context.Context, cb Callback) error
	// Stop stops delivery; no callback runs after it returns. It is safe to call more than once,
	// and before Start.
	Stop(ctx context.Context) error
	// HasColor reports whether frames come with a color image.
	HasColor() bool
	// Intrinsics of the depth stream.
	Intrinsics() *transform.PinholeCameraIntrinsics
}

// PublishTo returns a Callback that wraps every frame in a Pair and publishes it into slot. Frames
// that arrive after the slot is closed are dropped silently.
func PublishTo(slot *frame.Slot, logger logging.Logger) Callback {
	return func(depth *rimage.DepthMap, color *rimage.Image, ts time.Time) {
		p, err := frame.NewPair(depth, color, ts)
		if err == nil {
			err = slot.Publish(p)
		}
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrSlotClosed):
			logger.Debug("dropping frame delivered after shutdown")
		default:
			logger.Warnw("dropping frame", "error", err)
		}
	}
}
