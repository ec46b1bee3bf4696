// Package engine defines the dense reconstruction engine the pipeline drives: a stateful step that
// fuses one depth frame at a time into a volume, tracks the camera pose, and exports the result.
package engine

import (
	"context"

	"github.com/golang/geo/r3"

	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/spatialmath"
)

// DefaultMaxColorWeight is the weight cap of the running color average, after which new color
// samples still move the average but with a fixed influence.
const DefaultMaxColorWeight = 2

// ExtractionMode selects how the surface cloud is extracted from the volume.
type ExtractionMode int

// The extraction modes in the order ToggleExtractionMode cycles through them.
const (
	ExtractionGPUConnected6 ExtractionMode = iota
	ExtractionCPUConnected6
	ExtractionCPUConnected26
)

func (m ExtractionMode) String() string {
	switch m {
	case ExtractionGPUConnected6:
		return "GPU, Connected-6"
	case ExtractionCPUConnected6:
		return "CPU, Connected-6"
	case ExtractionCPUConnected26:
		return "CPU, Connected-26"
	default:
		return "unknown"
	}
}

// Next returns the mode that follows m in the toggle cycle.
func (m ExtractionMode) Next() ExtractionMode {
	return (m + 1) % 3
}

// Connectivity is the size of the voxel neighbourhood used to decide what lies on the surface.
func (m ExtractionMode) Connectivity() int {
	if m == ExtractionCPUConnected26 {
		return 26
	}
	return 6
}

// CloudOptions control what is attached to each point of an exported cloud.
type CloudOptions struct {
	WithNormals bool
	// WithColor is ignored if no color has been integrated.
	WithColor bool
}

// SceneView is a scene rendered from a viewpoint. Shaded is the geometry only; Colors, if not
// nil, holds the integrated color of whatever surface each pixel shows.
type SceneView struct {
	Shaded *rimage.Image
	Colors *rimage.Image
	// Mask marks the pixels that show a surface.
	Mask []bool
}

// Width of the rendered view.
func (v *SceneView) Width() int {
	return v.Shaded.Width()
}

// Height of the rendered view.
func (v *SceneView) Height() int {
	return v.Shaded.Height()
}

// Engine is a dense reconstruction engine. It is not re-entrant: callers must not invoke any
// method concurrently with Step.
type Engine interface {
	// Step fuses one frame into the volume. color may be nil. The bool reports whether there is
	// something to render after this frame. A returned error may be classified with Classify.
	Step(ctx context.Context, depth *rimage.DepthMap, color *rimage.Image) (bool, error)

	// CurrentPose is the camera pose estimated by the last successful step.
	CurrentPose() spatialmath.Pose

	// ExportCloud extracts the surface of the volume as a point cloud in world coordinates.
	ExportCloud(ctx context.Context, opts CloudOptions) (pointcloud.PointCloud, error)

	// ExportMesh extracts the surface of the volume as a triangle mesh.
	ExportMesh(ctx context.Context) (*spatialmath.Mesh, error)

	// ExportVolume downloads the fused volume.
	ExportVolume(ctx context.Context) (*Volume, error)

	// RenderScene raycasts the volume from viewpoint.
	RenderScene(ctx context.Context, viewpoint spatialmath.Pose) (*SceneView, error)

	// LastFrameCloud is the most recent frame back-projected into world coordinates.
	LastFrameCloud(ctx context.Context) (pointcloud.PointCloud, error)

	// VolumeBounds returns the corners of the reconstruction volume in world coordinates.
	VolumeBounds() (r3.Vector, r3.Vector)

	// InitColorIntegration starts integrating color with the given running average weight cap.
	InitColorIntegration(maxWeight int) error

	// SetExtractionMode sets how ExportCloud finds the surface.
	SetExtractionMode(mode ExtractionMode)

	// PerformLastScan asks the engine to finish after one final pass. IsFinished reports when
	// that pass has completed.
	PerformLastScan()
	IsFinished() bool

	Close(ctx context.Context) error
}
