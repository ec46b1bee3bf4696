package pipeline

import (
	"context"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/sink"
	"go.viam.com/fusion/spatialmath"
)

// PaintBlendWeight is the weight of color composited onto the shaded scene.
const PaintBlendWeight = 0.5

// ViewMode is a set of render targets.
type ViewMode uint8

// Render targets.
const (
	SceneView ViewMode = 1 << iota
	DepthView
	CurrentFrameCloudView
)

// Has reports whether every target of v is in m.
func (m ViewMode) Has(v ViewMode) bool {
	return m&v == v
}

func (m ViewMode) String() string {
	var names []string
	if m.Has(SceneView) {
		names = append(names, "scene")
	}
	if m.Has(DepthView) {
		names = append(names, "depth")
	}
	if m.Has(CurrentFrameCloudView) {
		names = append(names, "current cloud")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// EngineReader is the part of an engine.Engine that views may read. Nothing in it changes the
// reconstruction.
type EngineReader interface {
	CurrentPose() spatialmath.Pose
	RenderScene(ctx context.Context, viewpoint spatialmath.Pose) (*engine.SceneView, error)
	LastFrameCloud(ctx context.Context) (pointcloud.PointCloud, error)
	VolumeBounds() (r3.Vector, r3.Vector)
}

// Views are the presentation sinks of a session. Any of them may be nil.
type Views struct {
	Scene sink.SceneSink
	Depth sink.DepthSink
	// SceneCloud shows extracted clouds and meshes and the volume bounds. Its viewpoint is the
	// one used in independent camera mode.
	SceneCloud   sink.CloudSink
	CurrentCloud sink.CloudSink
}

func (v Views) all() []sink.Sink {
	var out []sink.Sink
	if v.Scene != nil {
		out = append(out, v.Scene)
	}
	if v.Depth != nil {
		out = append(out, v.Depth)
	}
	if v.SceneCloud != nil {
		out = append(out, v.SceneCloud)
	}
	if v.CurrentCloud != nil {
		out = append(out, v.CurrentCloud)
	}
	return out
}

// ViewDispatcher routes what the engine produced to the enabled views.
type ViewDispatcher struct {
	views Views
	modes ViewMode
}

// NewViewDispatcher returns a dispatcher showing on views. A view mode is enabled when its sink
// is set.
func NewViewDispatcher(views Views) *ViewDispatcher {
	var modes ViewMode
	if views.Scene != nil {
		modes |= SceneView
	}
	if views.Depth != nil {
		modes |= DepthView
	}
	if views.CurrentCloud != nil {
		modes |= CurrentFrameCloudView
	}
	return &ViewDispatcher{views: views, modes: modes}
}

// Modes are the enabled render targets.
func (d *ViewDispatcher) Modes() ViewMode {
	return d.modes
}

// ShowDepth shows a raw depth frame.
func (d *ViewDispatcher) ShowDepth(ctx context.Context, depth *rimage.DepthMap) error {
	if d.views.Depth == nil {
		return nil
	}
	return errors.Wrap(d.views.Depth.ShowDepth(ctx, depth), "depth view")
}

// Viewpoint is the pose the scene is rendered from: the tracked camera, or in independent
// camera mode the viewpoint of the scene cloud view.
func (d *ViewDispatcher) Viewpoint(eng EngineReader, flags Flags) spatialmath.Pose {
	if flags.IndependentCamera && d.views.SceneCloud != nil {
		return d.views.SceneCloud.Viewpoint()
	}
	return eng.CurrentPose()
}

// Dispatch renders the scene and the current frame cloud to their views. color is the frame
// the engine just consumed and may be nil.
func (d *ViewDispatcher) Dispatch(ctx context.Context, eng EngineReader, flags Flags, color *rimage.Image) error {
	if d.views.Scene != nil {
		view, err := eng.RenderScene(ctx, d.Viewpoint(eng, flags))
		if err != nil {
			return err
		}
		if err := d.views.Scene.ShowScene(ctx, Composite(view, flags, color)); err != nil {
			return errors.Wrap(err, "scene view")
		}
	}
	if d.views.CurrentCloud != nil {
		cloud, err := eng.LastFrameCloud(ctx)
		if err != nil {
			return err
		}
		if err := d.views.CurrentCloud.ShowCloud(ctx, cloud); err != nil {
			return errors.Wrap(err, "current frame cloud view")
		}
	}
	return nil
}

// Composite returns the image shown for view. With registration on, integrated colors are
// blended onto the geometry when color integration is on; otherwise the sensor color frame is
// painted on when scene painting is on and the view is rendered from the tracked camera.
// Anything else shows the shaded geometry alone.
func Composite(view *engine.SceneView, flags Flags, color *rimage.Image) *rimage.Image {
	var paint *rimage.Image
	switch {
	case !flags.Registration:
	case flags.ColorIntegration && view.Colors != nil:
		paint = view.Colors
	case flags.ScenePainting && !flags.IndependentCamera && color != nil &&
		color.Width() == view.Width() && color.Height() == view.Height():
		paint = color
	}
	if paint == nil {
		return view.Shaded
	}

	out := view.Shaded.Clone()
	w := view.Width()
	for y := 0; y < view.Height(); y++ {
		for x := 0; x < w; x++ {
			if !view.Mask[y*w+x] {
				continue
			}
			out.SetXY(x, y, out.GetXY(x, y).Blend(paint.GetXY(x, y), PaintBlendWeight))
		}
	}
	return out
}

// SyncViewpoint makes the scene cloud view follow the tracked camera unless the camera is
// independent.
func (d *ViewDispatcher) SyncViewpoint(eng EngineReader, flags Flags) {
	if d.views.SceneCloud == nil || flags.IndependentCamera {
		return
	}
	d.views.SceneCloud.SetViewpoint(eng.CurrentPose())
}

// ShowCloud shows an extracted cloud in the scene cloud view.
func (d *ViewDispatcher) ShowCloud(ctx context.Context, cloud pointcloud.PointCloud) error {
	if d.views.SceneCloud == nil {
		return nil
	}
	return errors.Wrap(d.views.SceneCloud.ShowCloud(ctx, cloud), "scene cloud view")
}

// ShowMesh shows an extracted mesh in the scene cloud view.
func (d *ViewDispatcher) ShowMesh(ctx context.Context, mesh *spatialmath.Mesh) error {
	if d.views.SceneCloud == nil {
		return nil
	}
	return errors.Wrap(d.views.SceneCloud.ShowMesh(ctx, mesh), "scene cloud view")
}

// ShowVolumeBounds draws or hides the reconstruction volume in the scene cloud view.
func (d *ViewDispatcher) ShowVolumeBounds(ctx context.Context, eng EngineReader, visible bool) error {
	if d.views.SceneCloud == nil {
		return nil
	}
	lo, hi := eng.VolumeBounds()
	return errors.Wrap(d.views.SceneCloud.ShowVolumeBounds(ctx, lo, hi, visible), "scene cloud view")
}

// ClearClouds empties the cloud views.
func (d *ViewDispatcher) ClearClouds(ctx context.Context) error {
	var err error
	if d.views.SceneCloud != nil {
		err = multierr.Combine(err, d.views.SceneCloud.Clear(ctx))
	}
	if d.views.CurrentCloud != nil {
		err = multierr.Combine(err, d.views.CurrentCloud.Clear(ctx))
	}
	return err
}

// AllClosed reports whether there are views and the user closed every one of them.
func (d *ViewDispatcher) AllClosed() bool {
	all := d.views.all()
	if len(all) == 0 {
		return false
	}
	for _, s := range all {
		if !s.Closed() {
			return false
		}
	}
	return true
}

// Close closes every view.
func (d *ViewDispatcher) Close(ctx context.Context) error {
	var err error
	for _, s := range d.views.all() {
		err = multierr.Combine(err, errors.Wrapf(s.Close(ctx), "closing %s view", s.Name()))
	}
	return err
}
