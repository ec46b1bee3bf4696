package pipeline

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/export"
	"go.viam.com/fusion/frame"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/sink"
	"go.viam.com/fusion/source"
	"go.viam.com/fusion/spatialmath"
)

// Defaults of the coordinator Config.
const (
	DefaultWaitTimeout    = 100 * time.Millisecond
	DefaultTextureCadence = 45
)

// Config tunes the coordinator loop.
type Config struct {
	// WaitTimeout bounds how long a cycle waits for a frame.
	WaitTimeout time.Duration
	// TextureCadence saves a texture every that many frames while texture extraction is on.
	TextureCadence uint64
	// StatsEvery is the number of steps between two timing reports.
	StatsEvery     int
	MaxColorWeight int
	// OutputDir receives the pose trajectory.
	OutputDir string
}

func (conf Config) withDefaults() Config {
	if conf.WaitTimeout <= 0 {
		conf.WaitTimeout = DefaultWaitTimeout
	}
	if conf.TextureCadence == 0 {
		conf.TextureCadence = DefaultTextureCadence
	}
	if conf.StatsEvery <= 0 {
		conf.StatsEvery = DefaultStatsEvery
	}
	if conf.MaxColorWeight <= 0 {
		conf.MaxColorWeight = engine.DefaultMaxColorWeight
	}
	return conf
}

// Deps are the collaborators driven by the coordinator. Textures and Clock may be nil.
type Deps struct {
	Source   source.Source
	Engine   engine.Engine
	Views    *ViewDispatcher
	Exporter *export.Exporter
	Textures sink.TextureSink
	Clock    clock.Clock
}

// Coordinator is the consumer loop. It takes the latest frame, steps the engine, runs at most one
// pending export, shows the results and decides when the session ends. Everything it calls on the
// engine happens on the goroutine running Run.
type Coordinator struct {
	conf     Config
	state    *State
	slot     *frame.Slot
	src      source.Source
	eng      engine.Engine
	views    *ViewDispatcher
	exporter *export.Exporter
	textures sink.TextureSink
	clock    clock.Clock
	logger   logging.Logger

	// Owned by the Run goroutine.
	mode        engine.ExtractionMode
	colorInit   bool
	boundsShown bool
	held        struct {
		cloud  pointcloud.PointCloud
		mesh   *spatialmath.Mesh
		volume *engine.Volume
	}
	stats    *stepStats
	traj     trajectory
	textured int
}

// NewCoordinator returns a coordinator for state. The frame slot is sized after the source
// intrinsics.
func NewCoordinator(conf Config, state *State, deps Deps, logger logging.Logger) (*Coordinator, error) {
	if deps.Source == nil || deps.Engine == nil || deps.Views == nil || deps.Exporter == nil {
		return nil, errors.New("coordinator needs a source, an engine, views and an exporter")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	var width, height int
	if in := deps.Source.Intrinsics(); in != nil {
		width, height = in.Width, in.Height
	}
	conf = conf.withDefaults()
	logger = logger.Sublogger("coordinator")
	return &Coordinator{
		conf:     conf,
		state:    state,
		slot:     frame.NewSlot(width, height, clk),
		src:      deps.Source,
		eng:      deps.Engine,
		views:    deps.Views,
		exporter: deps.Exporter,
		textures: deps.Textures,
		clock:    clk,
		logger:   logger,
		stats:    newStepStats(conf.StatsEvery, logger),
	}, nil
}

// Slot is the frame slot the source publishes into.
func (c *Coordinator) Slot() *frame.Slot {
	return c.slot
}

// Timing is the last step timing report.
func (c *Coordinator) Timing() StepTiming {
	return c.stats.Last()
}

// Run starts the source and cycles until the session ends: on an exit command, when ctx is done,
// when every view has been closed, when the engine finished its last scan, or on a fatal error.
// It then shuts everything down. The returned error is the fatal error, if any, combined with
// shutdown failures.
func (c *Coordinator) Run(ctx context.Context) error {
	shutdownCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// A stop request interrupts a wait in progress.
	goutils.PanicCapturingGo(func() {
		select {
		case <-c.state.Done():
			cancel()
		case <-ctx.Done():
		}
	})

	if err := c.src.Start(ctx, source.PublishTo(c.slot, c.logger)); err != nil {
		c.state.RequestStop()
		return multierr.Combine(errors.Wrap(err, "cannot start source"), c.shutdown(shutdownCtx))
	}
	snap := c.state.Snapshot()
	c.mode = snap.ExtractionMode
	c.eng.SetExtractionMode(c.mode)
	c.logger.Infow("running", "views", c.views.Modes().String(), "wait_timeout", c.conf.WaitTimeout)

	var runErr error
	for c.state.Running() && ctx.Err() == nil {
		if err := c.safely(func() error { return c.cycle(ctx) }); err != nil {
			c.logger.Errorw("stopping on fatal error", "class", engine.Classify(err).String(), "error", err)
			runErr = err
			break
		}
		if reason := c.terminationReason(); reason != "" {
			c.logger.Infof("stopping: %s", reason)
			break
		}
	}
	c.state.RequestStop()
	return multierr.Combine(runErr, c.shutdown(shutdownCtx))
}

// safely runs fn, turning a panic into an error.
func (c *Coordinator) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engine.PanicError{Value: r}
		}
	}()
	return fn()
}

func (c *Coordinator) terminationReason() string {
	switch {
	case !c.state.Running():
		return "exit requested"
	case c.views.AllClosed():
		return "all views closed"
	case c.eng.IsFinished():
		return "last scan completed"
	default:
		return ""
	}
}

// cycle runs one pass of the loop. A returned error ends the session.
func (c *Coordinator) cycle(ctx context.Context) error {
	pair, hasData := c.slot.WaitAndTake(ctx, c.conf.WaitTimeout)
	if ctx.Err() != nil || !c.state.Running() {
		return nil
	}

	snap := c.state.Snapshot()
	if err := c.applySettings(snap.Flags); err != nil {
		return err
	}

	var (
		counter  uint64
		hasImage bool
		degraded bool
		color    *rimage.Image
	)
	if hasData {
		counter = c.state.IncrementFrameCounter()
		color = pair.Color
		if err := c.views.ShowDepth(ctx, pair.Depth); err != nil {
			return err
		}
		var stepColor *rimage.Image
		if snap.Registration && snap.ColorIntegration {
			stepColor = color
		}
		start := c.clock.Now()
		ok, err := c.eng.Step(ctx, pair.Depth, stepColor)
		c.stats.Add(c.clock.Since(start))
		switch {
		case err == nil:
			hasImage = ok
			c.traj.Add(counter, pair.Timestamp, c.eng.CurrentPose())
		case engine.Classify(err) == engine.ClassDegraded:
			degraded = true
			c.logger.Warnw("nothing to render this frame", "frame", counter, "error", err)
		default:
			return errors.Wrapf(err, "reconstruction step failed on frame %d", counter)
		}
	}

	// An export waits out a cycle that lost tracking.
	if req, ok := c.takeExport(degraded); ok {
		if err := c.runExport(ctx, req, snap.Flags); err != nil {
			if !errors.Is(err, export.ErrExportFailed) && engine.Classify(err).IsFatal() {
				return err
			}
			c.logger.Errorw("export failed", "export", req.Kind.String(), "error", err)
		}
	}

	if c.state.TakeClearClouds() {
		c.held.cloud, c.held.mesh = nil, nil
		if err := c.views.ClearClouds(ctx); err != nil {
			return err
		}
	}

	if snap.VolumeBounds != c.boundsShown {
		if err := c.views.ShowVolumeBounds(ctx, c.eng, snap.VolumeBounds); err != nil {
			return err
		}
		c.boundsShown = snap.VolumeBounds
	}

	if hasImage {
		if err := c.views.Dispatch(ctx, c.eng, snap.Flags, color); err != nil {
			return err
		}
	}
	c.views.SyncViewpoint(c.eng, snap.Flags)

	if hasData && snap.TextureExtraction && c.textures != nil && color != nil && counter%c.conf.TextureCadence == 0 {
		if err := c.textures.SaveTexture(ctx, c.eng.CurrentPose(), color); err != nil {
			c.logger.Errorw("cannot save texture", "frame", counter, "error", err)
		} else {
			c.textured++
		}
	}
	return nil
}

func (c *Coordinator) takeExport(degraded bool) (ExportRequest, bool) {
	if degraded {
		return ExportRequest{}, false
	}
	return c.state.TakePendingExport()
}

// applySettings passes mode changes made by commands on to the engine.
func (c *Coordinator) applySettings(flags Flags) error {
	if flags.ExtractionMode != c.mode {
		c.eng.SetExtractionMode(flags.ExtractionMode)
		c.mode = flags.ExtractionMode
	}
	if flags.Registration && flags.ColorIntegration && !c.colorInit {
		if err := c.eng.InitColorIntegration(c.conf.MaxColorWeight); err != nil {
			return errors.Wrap(err, "cannot start color integration")
		}
		c.colorInit = true
	}
	if c.state.TakeLastScanRequest() {
		c.eng.PerformLastScan()
	}
	return nil
}

// runExport extracts and, if the request names a format, saves. Saving reuses what the last
// extraction of the same kind produced.
func (c *Coordinator) runExport(ctx context.Context, req ExportRequest, flags Flags) error {
	switch req.Kind {
	case ExportCloud:
		if req.CloudFormat == export.CloudNone || c.held.cloud == nil {
			if err := c.takeCloud(ctx, flags); err != nil {
				return err
			}
		}
		if req.CloudFormat == export.CloudNone {
			return nil
		}
		cloud, err := fitCloud(c.held.cloud, flags)
		if err != nil {
			return err
		}
		_, err = c.exporter.WriteCloud(cloud, req.CloudFormat)
		return err
	case ExportMesh:
		if req.MeshFormat == export.MeshNone || c.held.mesh == nil {
			mesh, err := c.eng.ExportMesh(ctx)
			if err != nil {
				return err
			}
			c.logger.Infof("extracted mesh with %d triangles", len(mesh.Triangles()))
			c.held.mesh, c.held.cloud = mesh, nil
			if err := c.views.ShowMesh(ctx, mesh); err != nil {
				return err
			}
		}
		if req.MeshFormat == export.MeshNone {
			return nil
		}
		_, err := c.exporter.WriteMesh(c.held.mesh, req.MeshFormat)
		return err
	case ExportVolume:
		if c.held.volume == nil {
			vol, err := c.eng.ExportVolume(ctx)
			if err != nil {
				return err
			}
			c.held.volume = vol
		}
		_, err := c.exporter.WriteVolume(c.held.volume)
		c.held.volume = nil
		return err
	default:
		return nil
	}
}

// fitCloud drops the normals or colors of a taken cloud once the modes no longer ask for them.
func fitCloud(cloud pointcloud.PointCloud, flags Flags) (pointcloud.PointCloud, error) {
	meta := cloud.MetaData()
	var err error
	if meta.HasNormal && !flags.Normals {
		if cloud, err = pointcloud.StripNormals(cloud); err != nil {
			return nil, err
		}
	}
	if meta.HasColor && !(flags.Registration && flags.ColorIntegration) {
		return pointcloud.StripColor(cloud)
	}
	return cloud, nil
}

func (c *Coordinator) takeCloud(ctx context.Context, flags Flags) error {
	wantColor := flags.Registration && flags.ColorIntegration
	cloud, err := c.eng.ExportCloud(ctx, engine.CloudOptions{WithNormals: flags.Normals, WithColor: wantColor})
	if err != nil {
		return err
	}
	if wantColor && !cloud.MetaData().HasColor {
		c.logger.Info("no color integrated yet, extracting the cloud without color")
	}
	c.logger.Infof("extracted cloud with %d points", cloud.Size())
	c.held.cloud, c.held.mesh = cloud, nil
	if err := c.views.ShowCloud(ctx, cloud); err != nil {
		return err
	}
	if flags.VolumeScan {
		vol, err := c.eng.ExportVolume(ctx)
		if err != nil {
			return err
		}
		c.logger.Infof("downloaded volume with %d voxels", len(vol.Voxels))
		c.held.volume = vol
	}
	return nil
}

// shutdown revokes the producer, stops the source, flushes a pending export and closes the views.
func (c *Coordinator) shutdown(ctx context.Context) error {
	c.slot.Close()
	err := errors.Wrap(c.src.Stop(ctx), "stopping source")

	if req, ok := c.state.TakePendingExport(); ok {
		c.logger.Infof("flushing pending %v export", req.Kind)
		if ferr := c.safely(func() error { return c.runExport(ctx, req, c.state.Flags()) }); ferr != nil {
			c.logger.Errorw("pending export lost", "export", req.Kind.String(), "error", ferr)
		}
	}

	if path, terr := c.traj.Save(c.conf.OutputDir); terr != nil {
		c.logger.Errorw("cannot save trajectory", "error", terr)
	} else if path != "" {
		c.logger.Infof("saved %d poses to %s", c.traj.Len(), path)
	}

	err = multierr.Combine(err, c.views.Close(ctx))
	if c.textures != nil {
		err = multierr.Combine(err, errors.Wrap(c.textures.Close(ctx), "closing texture store"))
	}

	st := c.slot.Stats()
	c.logger.Infow("stopped",
		"frames", c.state.FrameCounter(),
		"published", st.Published,
		"dropped", st.Dropped,
		"textures", c.textured,
	)
	return err
}
