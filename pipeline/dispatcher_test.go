package pipeline

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/sink/filesink"
	"go.viam.com/fusion/spatialmath"
	"go.viam.com/fusion/testutils/inject"
)

// testView is a 2x1 view whose left pixel shows a surface.
func testView(withColors bool) *engine.SceneView {
	view := &engine.SceneView{Shaded: rimage.NewImage(2, 1), Mask: []bool{true, false}}
	view.Shaded.SetXY(0, 0, rimage.NewColor(100, 100, 100))
	view.Shaded.SetXY(1, 0, rimage.NewColor(0, 0, 0))
	if withColors {
		view.Colors = rimage.NewImage(2, 1)
		view.Colors.SetXY(0, 0, rimage.NewColor(200, 0, 0))
		view.Colors.SetXY(1, 0, rimage.NewColor(200, 0, 0))
	}
	return view
}

func solid(c rimage.Color) *rimage.Image {
	img := rimage.NewImage(2, 1)
	img.SetXY(0, 0, c)
	img.SetXY(1, 0, c)
	return img
}

func TestComposite(t *testing.T) {
	sensor := solid(rimage.NewColor(0, 0, 200))

	t.Run("geometry only without registration", func(t *testing.T) {
		view := testView(true)
		out := Composite(view, Flags{ColorIntegration: true, ScenePainting: true}, sensor)
		test.That(t, out, test.ShouldEqual, view.Shaded)
	})

	t.Run("integrated colors", func(t *testing.T) {
		out := Composite(testView(true), Flags{Registration: true, ColorIntegration: true, ScenePainting: true}, sensor)
		test.That(t, out.GetXY(0, 0), test.ShouldResemble, rimage.NewColor(150, 50, 50))
		// Pixels without a surface keep the background.
		test.That(t, out.GetXY(1, 0), test.ShouldResemble, rimage.NewColor(0, 0, 0))
	})

	t.Run("scene painting with the sensor frame", func(t *testing.T) {
		out := Composite(testView(false), Flags{Registration: true, ColorIntegration: true, ScenePainting: true}, sensor)
		test.That(t, out.GetXY(0, 0), test.ShouldResemble, rimage.NewColor(50, 50, 150))
	})

	t.Run("no painting from an independent camera", func(t *testing.T) {
		view := testView(false)
		out := Composite(view, Flags{Registration: true, ScenePainting: true, IndependentCamera: true}, sensor)
		test.That(t, out, test.ShouldEqual, view.Shaded)
	})

	t.Run("no painting without a color frame", func(t *testing.T) {
		view := testView(false)
		test.That(t, Composite(view, Flags{Registration: true, ScenePainting: true}, nil), test.ShouldEqual, view.Shaded)
	})
}

func TestViewModes(t *testing.T) {
	logger := logging.NewTestLogger(t)
	d := NewViewDispatcher(Views{})
	test.That(t, d.Modes().String(), test.ShouldEqual, "none")
	test.That(t, d.AllClosed(), test.ShouldBeFalse)

	d = NewViewDispatcher(Views{
		Scene: filesink.NewScene(filesink.Config{Dir: t.TempDir()}, false, logger),
		Depth: filesink.NewDepth(filesink.Config{Dir: t.TempDir()}, logger),
	})
	test.That(t, d.Modes().Has(SceneView|DepthView), test.ShouldBeTrue)
	test.That(t, d.Modes().Has(CurrentFrameCloudView), test.ShouldBeFalse)
	test.That(t, d.Modes().String(), test.ShouldEqual, "scene|depth")

	test.That(t, d.AllClosed(), test.ShouldBeFalse)
	test.That(t, d.Close(context.Background()), test.ShouldBeNil)
	test.That(t, d.AllClosed(), test.ShouldBeTrue)
}

func TestViewpointAndDispatch(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	tracked := spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	free := spatialmath.NewPoseFromPoint(r3.Vector{Y: 2})

	var rendered []spatialmath.Pose
	eng := &inject.Engine{
		CurrentPoseFunc: func() spatialmath.Pose { return tracked },
		RenderSceneFunc: func(ctx context.Context, viewpoint spatialmath.Pose) (*engine.SceneView, error) {
			rendered = append(rendered, viewpoint)
			return testView(false), nil
		},
		LastFrameCloudFunc: func(ctx context.Context) (pointcloud.PointCloud, error) {
			return pointcloud.New(), nil
		},
	}

	sceneCloud := filesink.NewCloud("scene_cloud", filesink.Config{Dir: t.TempDir()}, logger)
	current := filesink.NewCloud("current_cloud", filesink.Config{Dir: t.TempDir()}, logger)
	var shown int
	scene := &inject.SceneSink{ShowSceneFunc: func(ctx context.Context, img *rimage.Image) error {
		shown++
		return nil
	}}
	d := NewViewDispatcher(Views{Scene: scene, SceneCloud: sceneCloud, CurrentCloud: current})
	test.That(t, d.Modes().Has(SceneView|CurrentFrameCloudView), test.ShouldBeTrue)

	// Bound: the cloud view follows the camera.
	d.SyncViewpoint(eng, Flags{})
	test.That(t, sceneCloud.Viewpoint(), test.ShouldEqual, tracked)
	test.That(t, d.Viewpoint(eng, Flags{}), test.ShouldEqual, tracked)

	// Independent: the user moves the cloud view and the scene is rendered from there.
	sceneCloud.SetViewpoint(free)
	d.SyncViewpoint(eng, Flags{IndependentCamera: true})
	test.That(t, sceneCloud.Viewpoint(), test.ShouldEqual, free)

	test.That(t, d.Dispatch(ctx, eng, Flags{IndependentCamera: true}, nil), test.ShouldBeNil)
	test.That(t, d.Dispatch(ctx, eng, Flags{}, nil), test.ShouldBeNil)
	test.That(t, rendered, test.ShouldResemble, []spatialmath.Pose{free, tracked})
	test.That(t, shown, test.ShouldEqual, 2)
	cloud, _ := current.Contents()
	test.That(t, cloud, test.ShouldNotBeNil)

	test.That(t, d.ClearClouds(ctx), test.ShouldBeNil)
	cloud, _ = current.Contents()
	test.That(t, cloud, test.ShouldBeNil)
}
