// Package fake implements a synthetic depth sensor that renders a sphere drifting in front of a
// wall at a fixed frame rate.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/rimage/transform"
	"go.viam.com/fusion/source"
	"go.viam.com/fusion/utils"
)

const (
	defaultWidth  = 640
	defaultHeight = 480
	defaultFPS    = 30

	wallDepth   = 2000
	sphereDepth = 1200
)

// Config are the attributes of the fake sensor.
type Config struct {
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	FPS    float64 `json:"fps,omitempty"`
	Color  bool    `json:"color,omitempty"`
}

// Validate checks that the config attributes are valid for a fake sensor.
func (conf *Config) Validate(path string) ([]string, error) {
	if conf.Width < 0 || conf.Height < 0 {
		return nil, goutils.NewConfigValidationError(path,
			errors.Errorf("resolution cannot be negative, got %dx%d", conf.Width, conf.Height))
	}
	if conf.FPS < 0 {
		return nil, goutils.NewConfigValidationError(path, errors.Errorf("fps cannot be negative, got %v", conf.FPS))
	}
	return nil, nil
}

// Sensor is the fake depth sensor.
type Sensor struct {
	width, height int
	period        time.Duration
	color         bool
	intrinsics    *transform.PinholeCameraIntrinsics
	clock         clock.Clock
	logger        logging.Logger

	mu      sync.Mutex
	workers *utils.StoppableWorkers
	stopped bool
	frames  atomic.Uint64
}

var _ source.Source = (*Sensor)(nil)

// New returns a fake sensor. A nil clock means the wall clock.
func New(conf Config, clk clock.Clock, logger logging.Logger) (*Sensor, error) {
	if _, err := conf.Validate("source"); err != nil {
		return nil, err
	}
	if conf.Width == 0 {
		conf.Width = defaultWidth
	}
	if conf.Height == 0 {
		conf.Height = defaultHeight
	}
	if conf.FPS == 0 {
		conf.FPS = defaultFPS
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sensor{
		width:      conf.Width,
		height:     conf.Height,
		period:     time.Duration(float64(time.Second) / conf.FPS),
		color:      conf.Color,
		intrinsics: transform.DefaultIntrinsics(conf.Width, conf.Height),
		clock:      clk,
		logger:     logger,
	}, nil
}

// Start begins rendering frames on every tick of the sensor clock.
func (s *Sensor) Start(ctx context.Context, cb source.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("fake sensor has been stopped")
	}
	if s.workers != nil {
		return nil
	}
	s.logger.Infof("streaming %dx%d synthetic frames every %v", s.width, s.height, s.period)
	s.workers = utils.NewStoppableWorkers(ctx, func(ctx context.Context) {
		ticker := s.clock.Ticker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			depth, color := s.Frame(s.frames.Inc())
			cb(depth, color, s.clock.Now())
		}
	})
	return nil
}

// Stop stops the frame loop and waits for it to return.
func (s *Sensor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.workers != nil {
		s.workers.Stop()
	}
	return nil
}

// HasColor reports whether frames include color.
func (s *Sensor) HasColor() bool {
	return s.color
}

// Intrinsics of the synthetic camera.
func (s *Sensor) Intrinsics() *transform.PinholeCameraIntrinsics {
	return s.intrinsics
}

// Frames returns how many frames have been delivered.
func (s *Sensor) Frames() uint64 {
	return s.frames.Load()
}

// Frame renders frame n. The color image is nil if the sensor has no color stream.
func (s *Sensor) Frame(n uint64) (*rimage.DepthMap, *rimage.Image) {
	depth := rimage.NewEmptyDepthMap(s.width, s.height)
	var color *rimage.Image
	if s.color {
		color = rimage.NewImage(s.width, s.height)
	}

	radius := float64(min(s.width, s.height)) / 4
	cx := float64(s.width)/2 + math.Sin(float64(n)/30)*float64(s.width)/8
	cy := float64(s.height) / 2
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			r2 := (dx*dx + dy*dy) / (radius * radius)
			if r2 < 1 {
				bulge := math.Sqrt(1 - r2)
				depth.Set(x, y, rimage.Depth(wallDepth-(wallDepth-sphereDepth)*bulge))
				if color != nil {
					color.SetXY(x, y, rimage.NewColorFromHSV(0, 0.8, 0.4+0.6*bulge))
				}
				continue
			}
			depth.Set(x, y, wallDepth)
			if color != nil {
				color.SetXY(x, y, rimage.NewColorFromHSV(240*float64(x)/float64(s.width), 0.3, 0.8))
			}
		}
	}
	return depth, color
}
