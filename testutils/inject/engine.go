package inject

import (
	"context"

	"github.com/golang/geo/r3"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/spatialmath"
)

// Engine is an injected reconstruction engine.
type Engine struct {
	engine.Engine
	StepFunc                 func(ctx context.Context, depth *rimage.DepthMap, color *rimage.Image) (bool, error)
	CurrentPoseFunc          func() spatialmath.Pose
	ExportCloudFunc          func(ctx context.Context, opts engine.CloudOptions) (pointcloud.PointCloud, error)
	ExportMeshFunc           func(ctx context.Context) (*spatialmath.Mesh, error)
	ExportVolumeFunc         func(ctx context.Context) (*engine.Volume, error)
	RenderSceneFunc          func(ctx context.Context, viewpoint spatialmath.Pose) (*engine.SceneView, error)
	LastFrameCloudFunc       func(ctx context.Context) (pointcloud.PointCloud, error)
	VolumeBoundsFunc         func() (r3.Vector, r3.Vector)
	InitColorIntegrationFunc func(maxWeight int) error
	SetExtractionModeFunc    func(mode engine.ExtractionMode)
	PerformLastScanFunc      func()
	IsFinishedFunc           func() bool
	CloseFunc                func(ctx context.Context) error
}

// Step calls the injected Step or the real version.
func (e *Engine) Step(ctx context.Context, depth *rimage.DepthMap, color *rimage.Image) (bool, error) {
	if e.StepFunc == nil {
		return e.Engine.Step(ctx, depth, color)
	}
	return e.StepFunc(ctx, depth, color)
}

// CurrentPose calls the injected CurrentPose or the real version.
func (e *Engine) CurrentPose() spatialmath.Pose {
	if e.CurrentPoseFunc == nil {
		return e.Engine.CurrentPose()
	}
	return e.CurrentPoseFunc()
}

// ExportCloud calls the injected ExportCloud or the real version.
func (e *Engine) ExportCloud(ctx context.Context, opts engine.CloudOptions) (pointcloud.PointCloud, error) {
	if e.ExportCloudFunc == nil {
		return e.Engine.ExportCloud(ctx, opts)
	}
	return e.ExportCloudFunc(ctx, opts)
}

// ExportMesh calls the injected ExportMesh or the real version.
func (e *Engine) ExportMesh(ctx context.Context) (*spatialmath.Mesh, error) {
	if e.ExportMeshFunc == nil {
		return e.Engine.ExportMesh(ctx)
	}
	return e.ExportMeshFunc(ctx)
}

// ExportVolume calls the injected ExportVolume or the real version.
func (e *Engine) ExportVolume(ctx context.Context) (*engine.Volume, error) {
	if e.ExportVolumeFunc == nil {
		return e.Engine.ExportVolume(ctx)
	}
	return e.ExportVolumeFunc(ctx)
}

// RenderScene calls the injected RenderScene or the real version.
func (e *Engine) RenderScene(ctx context.Context, viewpoint spatialmath.Pose) (*engine.SceneView, error) {
	if e.RenderSceneFunc == nil {
		return e.Engine.RenderScene(ctx, viewpoint)
	}
	return e.RenderSceneFunc(ctx, viewpoint)
}

// LastFrameCloud calls the injected LastFrameCloud or the real version.
func (e *Engine) LastFrameCloud(ctx context.Context) (pointcloud.PointCloud, error) {
	if e.LastFrameCloudFunc == nil {
		return e.Engine.LastFrameCloud(ctx)
	}
	return e.LastFrameCloudFunc(ctx)
}

// VolumeBounds calls the injected VolumeBounds or the real version.
func (e *Engine) VolumeBounds() (r3.Vector, r3.Vector) {
	if e.VolumeBoundsFunc == nil {
		return e.Engine.VolumeBounds()
	}
	return e.VolumeBoundsFunc()
}

// InitColorIntegration calls the injected InitColorIntegration or the real version.
func (e *Engine) InitColorIntegration(maxWeight int) error {
	if e.InitColorIntegrationFunc == nil {
		return e.Engine.InitColorIntegration(maxWeight)
	}
	return e.InitColorIntegrationFunc(maxWeight)
}

// SetExtractionMode calls the injected SetExtractionMode or the real version.
func (e *Engine) SetExtractionMode(mode engine.ExtractionMode) {
	if e.SetExtractionModeFunc == nil {
		e.Engine.SetExtractionMode(mode)
		return
	}
	e.SetExtractionModeFunc(mode)
}

// PerformLastScan calls the injected PerformLastScan or the real version.
func (e *Engine) PerformLastScan() {
	if e.PerformLastScanFunc == nil {
		e.Engine.PerformLastScan()
		return
	}
	e.PerformLastScanFunc()
}

// IsFinished calls the injected IsFinished or the real version.
func (e *Engine) IsFinished() bool {
	if e.IsFinishedFunc == nil {
		return e.Engine.IsFinished()
	}
	return e.IsFinishedFunc()
}

// Close calls the injected Close or the real version.
func (e *Engine) Close(ctx context.Context) error {
	if e.CloseFunc == nil {
		if e.Engine == nil {
			return nil
		}
		return e.Engine.Close(ctx)
	}
	return e.CloseFunc(ctx)
}
