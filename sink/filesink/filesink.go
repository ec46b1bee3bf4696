// Package filesink implements headless presentation sinks that write what they are shown to
// files in an output directory.
package filesink

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/golang/geo/r3"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/sink"
	"go.viam.com/fusion/spatialmath"
	"go.viam.com/fusion/utils"
)

const (
	defaultWriteEvery    = 30
	defaultMaxSavedViews = 1000
)

// Config are the attributes shared by the file sinks.
type Config struct {
	Dir string `json:"dir,omitempty"`
	// WriteEvery writes every n-th frame shown; the others are only counted.
	WriteEvery int `json:"write_every,omitempty"`
	// MaxFrames closes the sink after that many frames, like a user closing a window. Zero means
	// never.
	MaxFrames int `json:"max_frames,omitempty"`
}

func (conf Config) withDefaults() Config {
	if conf.WriteEvery <= 0 {
		conf.WriteEvery = defaultWriteEvery
	}
	return conf
}

type base struct {
	name   string
	conf   Config
	logger logging.Logger

	mu     sync.Mutex
	shown  int
	closed atomic.Bool
}

func newBase(name string, conf Config, logger logging.Logger) base {
	return base{name: name, conf: conf.withDefaults(), logger: logger.Sublogger(name)}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Closed() bool {
	return b.closed.Load()
}

// tick counts a shown frame and reports whether it should be written out.
func (b *base) tick() bool {
	b.shown++
	if b.conf.MaxFrames > 0 && b.shown >= b.conf.MaxFrames {
		if !b.closed.Swap(true) {
			b.logger.Infof("closed after %d frames", b.shown)
		}
	}
	return b.shown%b.conf.WriteEvery == 0
}

func (b *base) writeImage(name string, img image.Image) error {
	path, err := utils.OutputPath(b.conf.Dir, name)
	if err != nil {
		return err
	}
	return rimage.WriteImageToFile(path, img)
}

// Scene writes the rendered scene to scene.png. If views are saved, every scene shown is also
// kept in grayscale and written as a numbered sequence on Close.
type Scene struct {
	base
	saveViews bool
	maxViews  int
	views     []*image.Gray
}

var _ sink.SceneSink = (*Scene)(nil)

// NewScene returns a scene sink.
func NewScene(conf Config, saveViews bool, logger logging.Logger) *Scene {
	return &Scene{
		base:      newBase("scene", conf, logger),
		saveViews: saveViews,
		maxViews:  defaultMaxSavedViews,
	}
}

// ShowScene counts img and writes it out every WriteEvery frames.
func (s *Scene) ShowScene(ctx context.Context, img *rimage.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveViews && len(s.views) < s.maxViews {
		s.views = append(s.views, img.ToGray())
	}
	if !s.tick() {
		return nil
	}
	return s.writeImage("scene.png", img)
}

// SavedViews is the number of views kept for Close.
func (s *Scene) SavedViews() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// Close writes the saved views.
func (s *Scene) Close(ctx context.Context) error {
	s.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.views) == 0 {
		return nil
	}
	s.logger.Infof("saving %d views", len(s.views))
	var err error
	for i, v := range s.views {
		if ctx.Err() != nil {
			return multierr.Combine(err, ctx.Err())
		}
		err = multierr.Combine(err, s.writeImage(fmt.Sprintf("scene_%04d.png", i), v))
	}
	s.views = nil
	return err
}

// Depth writes a false color rendering of the depth frame to depth.png.
type Depth struct {
	base
}

var _ sink.DepthSink = (*Depth)(nil)

// NewDepth returns a depth sink.
func NewDepth(conf Config, logger logging.Logger) *Depth {
	return &Depth{base: newBase("depth", conf, logger)}
}

// ShowDepth counts depth and writes it out every WriteEvery frames.
func (d *Depth) ShowDepth(ctx context.Context, depth *rimage.DepthMap) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.tick() {
		return nil
	}
	return d.writeImage("depth.png", depth.ToPrettyPicture(0, 0))
}

// Close closes the sink.
func (d *Depth) Close(ctx context.Context) error {
	d.closed.Store(true)
	return nil
}

// Cloud keeps the last cloud or mesh it was shown and writes it to <name>.pcd or <name>.ply.
// Clouds shown every frame are written every WriteEvery frames; a mesh is always written.
type Cloud struct {
	base
	viewpoint   spatialmath.Pose
	cloud       pointcloud.PointCloud
	mesh        *spatialmath.Mesh
	boundsShown bool
}

var _ sink.CloudSink = (*Cloud)(nil)

// NewCloud returns a cloud sink named name.
func NewCloud(name string, conf Config, logger logging.Logger) *Cloud {
	return &Cloud{base: newBase(name, conf, logger), viewpoint: spatialmath.NewZeroPose()}
}

// ShowCloud replaces what the sink shows with cloud.
func (c *Cloud) ShowCloud(ctx context.Context, cloud pointcloud.PointCloud) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cloud = cloud
	c.mesh = nil
	if !c.tick() {
		return nil
	}
	return c.write(c.name+".pcd", func(f *os.File) error {
		return pointcloud.ToPCD(cloud, f, pointcloud.PCDBinary)
	})
}

// ShowMesh replaces what the sink shows with mesh.
func (c *Cloud) ShowMesh(ctx context.Context, mesh *spatialmath.Mesh) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mesh = mesh
	c.cloud = nil
	return c.write(c.name+".ply", func(f *os.File) error {
		return mesh.ToPLY(f)
	})
}

// ShowVolumeBounds records whether the volume box is drawn.
func (c *Cloud) ShowVolumeBounds(ctx context.Context, min, max r3.Vector, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundsShown = visible
	if visible {
		c.logger.Infof("volume bounds %v to %v", min, max)
	}
	return nil
}

// BoundsShown reports whether the volume box is drawn.
func (c *Cloud) BoundsShown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundsShown
}

// Contents returns what the sink currently shows.
func (c *Cloud) Contents() (pointcloud.PointCloud, *spatialmath.Mesh) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cloud, c.mesh
}

// Clear drops whatever the sink shows.
func (c *Cloud) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cloud = nil
	c.mesh = nil
	c.logger.Info("clouds/meshes were cleared")
	return nil
}

// Viewpoint returns the pose the sink is viewed from.
func (c *Cloud) Viewpoint() spatialmath.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewpoint
}

// SetViewpoint moves the pose the sink is viewed from.
func (c *Cloud) SetViewpoint(pose spatialmath.Pose) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewpoint = pose
}

// Close closes the sink.
func (c *Cloud) Close(ctx context.Context) error {
	c.closed.Store(true)
	return nil
}

//nolint:gosec
func (c *Cloud) write(name string, fn func(f *os.File) error) (err error) {
	path, err := utils.OutputPath(c.conf.Dir, name)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return fn(f)
}
