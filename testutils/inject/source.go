package inject

import (
	"context"

	"go.viam.com/fusion/rimage/transform"
	"go.viam.com/fusion/source"
)

// Source is an injected frame source.
type Source struct {
	source.Source
	StartFunc      func(ctx context.Context, cb source.Callback) error
	StopFunc       func(ctx context.Context) error
	HasColorFunc   func() bool
	IntrinsicsFunc func() *transform.PinholeCameraIntrinsics
}

// Start calls the injected Start or the real version.
func (s *Source) Start(ctx context.Context, cb source.Callback) error {
	if s.StartFunc == nil {
		return s.Source.Start(ctx, cb)
	}
	return s.StartFunc(ctx, cb)
}

// Stop calls the injected Stop or the real version.
func (s *Source) Stop(ctx context.Context) error {
	if s.StopFunc == nil {
		return s.Source.Stop(ctx)
	}
	return s.StopFunc(ctx)
}

// HasColor calls the injected HasColor or the real version.
func (s *Source) HasColor() bool {
	if s.HasColorFunc == nil {
		return s.Source.HasColor()
	}
	return s.HasColorFunc()
}

// Intrinsics calls the injected Intrinsics or the real version.
func (s *Source) Intrinsics() *transform.PinholeCameraIntrinsics {
	if s.IntrinsicsFunc == nil {
		return s.Source.Intrinsics()
	}
	return s.IntrinsicsFunc()
}
