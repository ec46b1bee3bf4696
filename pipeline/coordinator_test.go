package pipeline

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/export"
	"go.viam.com/fusion/frame"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/rimage/transform"
	"go.viam.com/fusion/source"
	"go.viam.com/fusion/spatialmath"
	"go.viam.com/fusion/testutils/inject"
)

const testWaitTimeout = 10 * time.Millisecond

// harness wires a coordinator to injected collaborators. The engine methods run on the Run
// goroutine; the counters are atomic so tests may poll them while it runs.
type harness struct {
	t      *testing.T
	dir    string
	state  *State
	proc   *CommandProcessor
	coord  *Coordinator
	eng    *inject.Engine
	src    *inject.Source
	scene  *inject.SceneSink
	clouds *inject.CloudSink

	started   chan struct{}
	stops     atomic.Int32
	steps     atomic.Int32
	textures  atomic.Int32
	exports   atomic.Int32
	lastScan  atomic.Bool
	finished  atomic.Bool
	sceneDown atomic.Bool

	mu         sync.Mutex
	stepColors []bool
	cloudOpts  []engine.CloudOptions
	colorInits []int
}

func newHarness(t *testing.T, flags Flags, width, height int, hasColor bool) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	h := &harness{t: t, dir: t.TempDir(), started: make(chan struct{})}

	var startOnce sync.Once
	h.src = &inject.Source{
		StartFunc: func(ctx context.Context, cb source.Callback) error {
			startOnce.Do(func() { close(h.started) })
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			h.stops.Inc()
			return nil
		},
		HasColorFunc: func() bool { return hasColor },
		IntrinsicsFunc: func() *transform.PinholeCameraIntrinsics {
			return transform.DefaultIntrinsics(width, height)
		},
	}

	h.eng = &inject.Engine{
		StepFunc: func(ctx context.Context, depth *rimage.DepthMap, color *rimage.Image) (bool, error) {
			h.steps.Inc()
			h.mu.Lock()
			h.stepColors = append(h.stepColors, color != nil)
			h.mu.Unlock()
			if h.lastScan.Load() {
				h.finished.Store(true)
			}
			return true, nil
		},
		CurrentPoseFunc: func() spatialmath.Pose {
			return spatialmath.NewPoseFromPoint(r3.Vector{Z: float64(h.steps.Load())})
		},
		ExportCloudFunc: func(ctx context.Context, opts engine.CloudOptions) (pointcloud.PointCloud, error) {
			h.exports.Inc()
			h.mu.Lock()
			h.cloudOpts = append(h.cloudOpts, opts)
			h.mu.Unlock()
			pc := pointcloud.New()
			if err := pc.Set(pointcloud.NewVector(0, 0, 1), pointcloud.NewBasicData()); err != nil {
				return nil, err
			}
			return pc, nil
		},
		ExportMeshFunc: func(ctx context.Context) (*spatialmath.Mesh, error) {
			h.exports.Inc()
			return spatialmath.NewMesh(spatialmath.NewZeroPose(), []*spatialmath.Triangle{
				spatialmath.NewTriangle(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Y: 1}),
			}), nil
		},
		ExportVolumeFunc: func(ctx context.Context) (*engine.Volume, error) {
			h.exports.Inc()
			return &engine.Volume{
				Size:       r3.Vector{X: 1, Y: 1, Z: 1},
				Resolution: [3]int{2, 2, 2},
				Voxels:     []engine.Voxel{{I: 1, Weight: 3}},
			}, nil
		},
		RenderSceneFunc: func(ctx context.Context, viewpoint spatialmath.Pose) (*engine.SceneView, error) {
			return &engine.SceneView{Shaded: rimage.NewImage(width, height), Mask: make([]bool, width*height)}, nil
		},
		VolumeBoundsFunc: func() (r3.Vector, r3.Vector) {
			return r3.Vector{}, r3.Vector{X: 3, Y: 3, Z: 3}
		},
		InitColorIntegrationFunc: func(maxWeight int) error {
			h.mu.Lock()
			h.colorInits = append(h.colorInits, maxWeight)
			h.mu.Unlock()
			return nil
		},
		SetExtractionModeFunc: func(mode engine.ExtractionMode) {},
		PerformLastScanFunc:   func() { h.lastScan.Store(true) },
		IsFinishedFunc:        func() bool { return h.finished.Load() },
	}

	h.scene = &inject.SceneSink{
		NameFunc:      func() string { return "scene" },
		ClosedFunc:    func() bool { return h.sceneDown.Load() },
		CloseFunc:     func(ctx context.Context) error { return nil },
		ShowSceneFunc: func(ctx context.Context, img *rimage.Image) error { return nil },
	}
	h.clouds = &inject.CloudSink{
		NameFunc:             func() string { return "scene_cloud" },
		ClosedFunc:           func() bool { return false },
		CloseFunc:            func(ctx context.Context) error { return nil },
		ShowCloudFunc:        func(ctx context.Context, cloud pointcloud.PointCloud) error { return nil },
		ShowMeshFunc:         func(ctx context.Context, mesh *spatialmath.Mesh) error { return nil },
		ShowVolumeBoundsFunc: func(ctx context.Context, min, max r3.Vector, visible bool) error { return nil },
		ClearFunc:            func(ctx context.Context) error { return nil },
		ViewpointFunc:        func() spatialmath.Pose { return spatialmath.NewZeroPose() },
		SetViewpointFunc:     func(pose spatialmath.Pose) {},
	}
	textures := &inject.TextureSink{
		SaveTextureFunc: func(ctx context.Context, pose spatialmath.Pose, color *rimage.Image) error {
			h.textures.Inc()
			return nil
		},
	}

	h.state = NewState(flags)
	h.proc = NewCommandProcessor(h.state, hasColor, &strings.Builder{}, logger)
	coord, err := NewCoordinator(
		Config{WaitTimeout: testWaitTimeout, OutputDir: h.dir},
		h.state,
		Deps{
			Source:   h.src,
			Engine:   h.eng,
			Views:    NewViewDispatcher(Views{Scene: h.scene, SceneCloud: h.clouds}),
			Exporter: export.NewExporter(h.dir, logger),
			Textures: textures,
		},
		logger,
	)
	test.That(t, err, test.ShouldBeNil)
	h.coord = coord
	return h
}

// run starts the coordinator and returns a channel with its result.
func (h *harness) run() <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- h.coord.Run(context.Background())
	}()
	select {
	case <-h.started:
	case <-time.After(5 * time.Second):
		h.t.Fatal("source was never started")
	}
	return done
}

func (h *harness) wait(done <-chan error) error {
	h.t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("coordinator did not stop")
		return nil
	}
}

func (h *harness) exit() {
	test.That(h.t, h.proc.Apply(Command{Kind: CommandExit}), test.ShouldBeNil)
}

// publish hands one frame to the coordinator and waits until it has been stepped.
func (h *harness) publish(width, height int, withColor bool) {
	h.t.Helper()
	before := h.steps.Load()
	var color *rimage.Image
	if withColor {
		color = rimage.NewImage(width, height)
	}
	depth := rimage.NewEmptyDepthMap(width, height)
	depth.Set(0, 0, 1000)
	p, err := frame.NewPair(depth, color, time.Now())
	test.That(h.t, err, test.ShouldBeNil)
	test.That(h.t, h.coord.Slot().Publish(p), test.ShouldBeNil)
	h.waitFor(func() bool { return h.steps.Load() > before })
}

func (h *harness) waitFor(cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestFirstFrame(t *testing.T) {
	h := newHarness(t, Flags{TextureExtraction: true}, 640, 480, false)
	done := h.run()

	h.publish(640, 480, false)
	h.exit()
	test.That(t, h.wait(done), test.ShouldBeNil)

	test.That(t, h.state.FrameCounter(), test.ShouldEqual, 1)
	test.That(t, h.steps.Load(), test.ShouldEqual, 1)
	test.That(t, h.textures.Load(), test.ShouldEqual, 0)
	test.That(t, h.stops.Load(), test.ShouldEqual, 1)
	test.That(t, h.coord.Slot().Stats().Closed, test.ShouldBeTrue)

	data, err := os.ReadFile(filepath.Join(h.dir, TrajectoryFileName))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.HasPrefix(string(data), "1 "), test.ShouldBeTrue)
}

func TestTextureCadence(t *testing.T) {
	h := newHarness(t, Flags{TextureExtraction: true}, 8, 6, true)
	done := h.run()
	for i := 0; i < DefaultTextureCadence+1; i++ {
		h.publish(8, 6, true)
		if i == DefaultTextureCadence-2 {
			test.That(t, h.textures.Load(), test.ShouldEqual, 0)
		}
	}
	h.exit()
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, h.state.FrameCounter(), test.ShouldEqual, DefaultTextureCadence+1)
	test.That(t, h.textures.Load(), test.ShouldEqual, 1)
}

func TestSingleExportLastWriteWins(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	test.That(t, h.proc.Apply(Command{Kind: CommandSaveCloud, CloudFormat: export.CloudPCDASCII}), test.ShouldBeNil)
	test.That(t, h.proc.Apply(Command{Kind: CommandSaveCloud, CloudFormat: export.CloudPLY}), test.ShouldBeNil)

	done := h.run()
	h.waitFor(func() bool { return h.exports.Load() > 0 && !h.hasPending() })
	// Another cycle runs without exporting again.
	time.Sleep(5 * testWaitTimeout)
	h.exit()
	test.That(t, h.wait(done), test.ShouldBeNil)

	test.That(t, h.exports.Load(), test.ShouldEqual, 1)
	test.That(t, fileExists(filepath.Join(h.dir, export.CloudPLY.FileName())), test.ShouldBeTrue)
	test.That(t, fileExists(filepath.Join(h.dir, export.CloudPCDASCII.FileName())), test.ShouldBeFalse)
}

func (h *harness) hasPending() bool {
	return h.state.Snapshot().Pending.Kind != ExportNone
}

func TestSaveReusesTakenCloud(t *testing.T) {
	h := newHarness(t, Flags{Registration: true, ColorIntegration: true, Normals: true}, 8, 6, true)
	done := h.run()

	test.That(t, h.proc.Apply(Command{Kind: CommandTakeCloud}), test.ShouldBeNil)
	h.waitFor(func() bool { return h.exports.Load() == 1 && !h.hasPending() })
	test.That(t, h.proc.Apply(Command{Kind: CommandSaveCloud, CloudFormat: export.CloudPCDBinary}), test.ShouldBeNil)
	h.waitFor(func() bool { return fileExists(filepath.Join(h.dir, export.CloudPCDBinary.FileName())) })

	h.exit()
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, h.exports.Load(), test.ShouldEqual, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	test.That(t, h.cloudOpts, test.ShouldResemble, []engine.CloudOptions{{WithNormals: true, WithColor: true}})
	test.That(t, h.colorInits, test.ShouldResemble, []int{engine.DefaultMaxColorWeight})
}

func TestFitCloud(t *testing.T) {
	pc := pointcloud.New()
	d := pointcloud.NewColoredData(color.NRGBA{R: 9, A: 255}).SetNormal(r3.Vector{Z: 1})
	test.That(t, pc.Set(pointcloud.NewVector(0, 0, 1), d), test.ShouldBeNil)

	same, err := fitCloud(pc, Flags{Registration: true, ColorIntegration: true, Normals: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same, test.ShouldEqual, pc)

	plain, err := fitCloud(pc, Flags{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plain.Size(), test.ShouldEqual, 1)
	test.That(t, plain.MetaData().HasColor, test.ShouldBeFalse)
	test.That(t, plain.MetaData().HasNormal, test.ShouldBeFalse)

	colored, err := fitCloud(pc, Flags{Registration: true, ColorIntegration: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, colored.MetaData().HasColor, test.ShouldBeTrue)
	test.That(t, colored.MetaData().HasNormal, test.ShouldBeFalse)
}

func TestVolumeScanAndSave(t *testing.T) {
	h := newHarness(t, Flags{VolumeScan: true}, 8, 6, false)
	done := h.run()

	test.That(t, h.proc.Apply(Command{Kind: CommandTakeCloud}), test.ShouldBeNil)
	// The cloud and the volume.
	h.waitFor(func() bool { return h.exports.Load() == 2 })
	test.That(t, h.proc.Apply(Command{Kind: CommandSaveVolumeAndCloud}), test.ShouldBeNil)
	h.waitFor(func() bool { return fileExists(filepath.Join(h.dir, export.VolumeCloudFileName)) })

	h.exit()
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, h.exports.Load(), test.ShouldEqual, 2)
	test.That(t, fileExists(filepath.Join(h.dir, export.VolumeFileName)), test.ShouldBeTrue)
}

func TestPendingExportFlushedOnShutdown(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	test.That(t, h.proc.Apply(Command{Kind: CommandSaveMesh, MeshFormat: export.MeshVTK}), test.ShouldBeNil)
	h.exit()

	done := h.run()
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, fileExists(filepath.Join(h.dir, export.MeshVTK.FileName())), test.ShouldBeTrue)
}

func TestExitInterruptsWait(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	h.coord.conf.WaitTimeout = time.Minute
	done := h.run()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	h.exit()
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
	test.That(t, h.steps.Load(), test.ShouldEqual, 0)

	// The producer is revoked.
	err := h.coord.Slot().Publish(&frame.Pair{Depth: rimage.NewEmptyDepthMap(8, 6)})
	test.That(t, errors.Is(err, frame.ErrSlotClosed), test.ShouldBeTrue)
}

func TestContextCancelStops(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.coord.Run(ctx)
	}()
	<-h.started
	cancel()
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, h.state.Running(), test.ShouldBeFalse)
}

func TestDegradedStepContinues(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	rendered := atomic.NewInt32(0)
	h.eng.StepFunc = func(ctx context.Context, depth *rimage.DepthMap, color *rimage.Image) (bool, error) {
		h.steps.Inc()
		return false, errors.Wrap(engine.ErrTrackingLost, "icp diverged")
	}
	h.scene.ShowSceneFunc = func(ctx context.Context, img *rimage.Image) error {
		rendered.Inc()
		return nil
	}
	done := h.run()
	for i := 0; i < 3; i++ {
		h.publish(8, 6, false)
	}
	test.That(t, h.proc.Apply(Command{Kind: CommandTakeCloud}), test.ShouldBeNil)
	h.exit()

	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, h.state.FrameCounter(), test.ShouldEqual, 3)
	test.That(t, rendered.Load(), test.ShouldEqual, 0)
	test.That(t, fileExists(filepath.Join(h.dir, TrajectoryFileName)), test.ShouldBeFalse)
}

func TestFatalStepStops(t *testing.T) {
	for _, tc := range []struct {
		name  string
		step  func() (bool, error)
		class engine.ErrorClass
	}{
		{"unclassified", func() (bool, error) { return false, errors.New("cuda failure") }, engine.ClassFatal},
		{"out of memory", func() (bool, error) { return false, errors.Wrap(engine.ErrOutOfMemory, "volume") }, engine.ClassResourceExhausted},
		{"panic", func() (bool, error) { panic("engine corrupted") }, engine.ClassFatal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Flags{}, 8, 6, false)
			h.eng.StepFunc = func(ctx context.Context, depth *rimage.DepthMap, color *rimage.Image) (bool, error) {
				h.steps.Inc()
				return tc.step()
			}
			test.That(t, h.proc.Apply(Command{Kind: CommandSaveCloud, CloudFormat: export.CloudPLY}), test.ShouldBeNil)
			done := h.run()

			depth := rimage.NewEmptyDepthMap(8, 6)
			depth.Set(1, 1, 900)
			p, err := frame.NewPair(depth, nil, time.Now())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, h.coord.Slot().Publish(p), test.ShouldBeNil)

			err = h.wait(done)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, engine.Classify(err), test.ShouldEqual, tc.class)
			test.That(t, h.state.Running(), test.ShouldBeFalse)
			test.That(t, h.stops.Load(), test.ShouldEqual, 1)
		})
	}
}

func TestAllViewsClosedStops(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	h.clouds.ClosedFunc = func() bool { return true }
	done := h.run()
	h.sceneDown.Store(true)
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, h.state.Running(), test.ShouldBeFalse)
}

func TestLastScanStopsAfterFinalPass(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	done := h.run()
	h.publish(8, 6, false)

	test.That(t, h.proc.Apply(Command{Kind: CommandPerformLastScan}), test.ShouldBeNil)
	// Not immediately: the engine still needs its final pass.
	time.Sleep(5 * testWaitTimeout)
	test.That(t, h.state.Running(), test.ShouldBeTrue)
	test.That(t, h.lastScan.Load(), test.ShouldBeTrue)

	h.publish(8, 6, false)
	test.That(t, h.wait(done), test.ShouldBeNil)
	test.That(t, h.finished.Load(), test.ShouldBeTrue)
	test.That(t, h.steps.Load(), test.ShouldEqual, 2)
}

func TestColorOnlyStepsWithIntegration(t *testing.T) {
	h := newHarness(t, Flags{Registration: true}, 8, 6, true)
	done := h.run()
	h.publish(8, 6, true)
	test.That(t, h.proc.Apply(Command{Kind: CommandToggleColorIntegration}), test.ShouldBeNil)
	h.publish(8, 6, true)
	h.exit()
	test.That(t, h.wait(done), test.ShouldBeNil)

	h.mu.Lock()
	defer h.mu.Unlock()
	test.That(t, h.stepColors, test.ShouldResemble, []bool{false, true})
	test.That(t, len(h.colorInits), test.ShouldEqual, 1)
}

func TestSourceStartFailure(t *testing.T) {
	h := newHarness(t, Flags{}, 8, 6, false)
	h.src.StartFunc = func(ctx context.Context, cb source.Callback) error {
		return errors.New("device busy")
	}
	err := h.coord.Run(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device busy")
	test.That(t, h.stops.Load(), test.ShouldEqual, 1)
}

func TestNewCoordinatorNeedsDeps(t *testing.T) {
	_, err := NewCoordinator(Config{}, NewState(Flags{}), Deps{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
