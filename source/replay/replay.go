// Package replay implements a source that plays back depth frames recorded as 16 bit PNG files.
//
// The directory is scanned once. Every file whose name contains "depth" is a depth frame; frames
// are played in name order. A color frame is picked up from the file with the same name where
// "depth" is replaced by "color".
package replay

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
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

const defaultFPS = 30

// Config are the attributes of a replay source.
type Config struct {
	Directory  string                             `json:"directory"`
	FPS        float64                            `json:"fps,omitempty"`
	Loop       bool                               `json:"loop,omitempty"`
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) ([]string, error) {
	if conf.Directory == "" {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "directory")
	}
	if conf.FPS < 0 {
		return nil, goutils.NewConfigValidationError(path, errors.Errorf("fps cannot be negative, got %v", conf.FPS))
	}
	return nil, nil
}

type recording struct {
	depth string
	color string
}

// Source replays a directory of frames.
type Source struct {
	recordings []recording
	hasColor   bool
	loop       bool
	period     time.Duration
	intrinsics *transform.PinholeCameraIntrinsics
	clock      clock.Clock
	logger     logging.Logger

	mu      sync.Mutex
	workers *utils.StoppableWorkers
	stopped bool

	played    atomic.Uint64
	exhausted chan struct{}
}

var _ source.Source = (*Source)(nil)

// New scans conf.Directory and returns a source for it. A nil clock means the wall clock.
func New(conf Config, clk clock.Clock, logger logging.Logger) (*Source, error) {
	if _, err := conf.Validate("source"); err != nil {
		return nil, err
	}
	recordings, err := scan(conf.Directory)
	if err != nil {
		return nil, err
	}
	if len(recordings) == 0 {
		return nil, errors.Errorf("no depth frames found in %q", conf.Directory)
	}

	hasColor := true
	for _, r := range recordings {
		if r.color == "" {
			hasColor = false
			break
		}
	}

	intrinsics := conf.Intrinsics
	if intrinsics == nil {
		first, err := rimage.ReadDepthMapFromFile(recordings[0].depth)
		if err != nil {
			return nil, err
		}
		intrinsics = transform.DefaultIntrinsics(first.Width(), first.Height())
		logger.Infof("no intrinsics given, assuming defaults for %dx%d", first.Width(), first.Height())
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}

	fps := conf.FPS
	if fps == 0 {
		fps = defaultFPS
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Source{
		recordings: recordings,
		hasColor:   hasColor,
		loop:       conf.Loop,
		period:     time.Duration(float64(time.Second) / fps),
		intrinsics: intrinsics,
		clock:      clk,
		logger:     logger,
		exhausted:  make(chan struct{}),
	}, nil
}

func scan(dir string) ([]recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read replay directory")
	}
	names := map[string]bool{}
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}

	var out []recording
	for name := range names {
		if !strings.Contains(name, "depth") || !strings.EqualFold(filepath.Ext(name), ".png") {
			continue
		}
		r := recording{depth: filepath.Join(dir, name)}
		if colorName := strings.Replace(name, "depth", "color", 1); names[colorName] {
			r.color = filepath.Join(dir, colorName)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].depth < out[j].depth })
	return out, nil
}

// Len is the number of recorded frames.
func (s *Source) Len() int {
	return len(s.recordings)
}

// Start begins playing frames, one per tick of the source clock.
func (s *Source) Start(ctx context.Context, cb source.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("replay source has been stopped")
	}
	if s.workers != nil {
		return nil
	}
	s.workers = utils.NewStoppableWorkers(ctx, func(ctx context.Context) {
		s.play(ctx, cb)
	})
	return nil
}

func (s *Source) play(ctx context.Context, cb source.Callback) {
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()
	for i := 0; ; i++ {
		if i == len(s.recordings) {
			if !s.loop {
				s.logger.Infof("replayed all %d frames", len(s.recordings))
				close(s.exhausted)
				return
			}
			i = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		depth, color, err := s.load(s.recordings[i])
		if err != nil {
			s.logger.Warnw("skipping unreadable frame", "file", s.recordings[i].depth, "error", err)
			continue
		}
		s.played.Inc()
		cb(depth, color, s.clock.Now())
	}
}

func (s *Source) load(r recording) (*rimage.DepthMap, *rimage.Image, error) {
	depth, err := rimage.ReadDepthMapFromFile(r.depth)
	if err != nil {
		return nil, nil, err
	}
	if !s.hasColor {
		return depth, nil, nil
	}
	color, err := rimage.ReadImageFromFile(r.color)
	if err != nil {
		return nil, nil, err
	}
	return depth, color, nil
}

// Played returns how many frames have been delivered.
func (s *Source) Played() uint64 {
	return s.played.Load()
}

// Exhausted is closed once every frame has been played, unless the source loops.
func (s *Source) Exhausted() <-chan struct{} {
	return s.exhausted
}

// Stop stops playback and waits for it to return.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.workers != nil {
		s.workers.Stop()
	}
	return nil
}

// HasColor reports whether every depth frame has a matching color frame.
func (s *Source) HasColor() bool {
	return s.hasColor
}

// Intrinsics of the recording.
func (s *Source) Intrinsics() *transform.PinholeCameraIntrinsics {
	return s.intrinsics
}
