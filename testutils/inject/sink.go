package inject

import (
	"context"

	"github.com/golang/geo/r3"

	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/sink"
	"go.viam.com/fusion/spatialmath"
)

// SceneSink is an injected scene view.
type SceneSink struct {
	sink.SceneSink
	NameFunc      func() string
	ClosedFunc    func() bool
	CloseFunc     func(ctx context.Context) error
	ShowSceneFunc func(ctx context.Context, img *rimage.Image) error
}

// Name calls the injected Name or the real version.
func (s *SceneSink) Name() string {
	if s.NameFunc == nil {
		return s.SceneSink.Name()
	}
	return s.NameFunc()
}

// Closed calls the injected Closed or the real version.
func (s *SceneSink) Closed() bool {
	if s.ClosedFunc == nil {
		return s.SceneSink.Closed()
	}
	return s.ClosedFunc()
}

// Close calls the injected Close or the real version.
func (s *SceneSink) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		return s.SceneSink.Close(ctx)
	}
	return s.CloseFunc(ctx)
}

// ShowScene calls the injected ShowScene or the real version.
func (s *SceneSink) ShowScene(ctx context.Context, img *rimage.Image) error {
	if s.ShowSceneFunc == nil {
		return s.SceneSink.ShowScene(ctx, img)
	}
	return s.ShowSceneFunc(ctx, img)
}

// DepthSink is an injected depth view.
type DepthSink struct {
	sink.DepthSink
	NameFunc      func() string
	ClosedFunc    func() bool
	CloseFunc     func(ctx context.Context) error
	ShowDepthFunc func(ctx context.Context, depth *rimage.DepthMap) error
}

// Name calls the injected Name or the real version.
func (s *DepthSink) Name() string {
	if s.NameFunc == nil {
		return s.DepthSink.Name()
	}
	return s.NameFunc()
}

// Closed calls the injected Closed or the real version.
func (s *DepthSink) Closed() bool {
	if s.ClosedFunc == nil {
		return s.DepthSink.Closed()
	}
	return s.ClosedFunc()
}

// Close calls the injected Close or the real version.
func (s *DepthSink) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		return s.DepthSink.Close(ctx)
	}
	return s.CloseFunc(ctx)
}

// ShowDepth calls the injected ShowDepth or the real version.
func (s *DepthSink) ShowDepth(ctx context.Context, depth *rimage.DepthMap) error {
	if s.ShowDepthFunc == nil {
		return s.DepthSink.ShowDepth(ctx, depth)
	}
	return s.ShowDepthFunc(ctx, depth)
}

// CloudSink is an injected cloud view.
type CloudSink struct {
	sink.CloudSink
	NameFunc             func() string
	ClosedFunc           func() bool
	CloseFunc            func(ctx context.Context) error
	ShowCloudFunc        func(ctx context.Context, cloud pointcloud.PointCloud) error
	ShowMeshFunc         func(ctx context.Context, mesh *spatialmath.Mesh) error
	ShowVolumeBoundsFunc func(ctx context.Context, min, max r3.Vector, visible bool) error
	ClearFunc            func(ctx context.Context) error
	ViewpointFunc        func() spatialmath.Pose
	SetViewpointFunc     func(pose spatialmath.Pose)
}

// Name calls the injected Name or the real version.
func (s *CloudSink) Name() string {
	if s.NameFunc == nil {
		return s.CloudSink.Name()
	}
	return s.NameFunc()
}

// Closed calls the injected Closed or the real version.
func (s *CloudSink) Closed() bool {
	if s.ClosedFunc == nil {
		return s.CloudSink.Closed()
	}
	return s.ClosedFunc()
}

// Close calls the injected Close or the real version.
func (s *CloudSink) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		return s.CloudSink.Close(ctx)
	}
	return s.CloseFunc(ctx)
}

// ShowCloud calls the injected ShowCloud or the real version.
func (s *CloudSink) ShowCloud(ctx context.Context, cloud pointcloud.PointCloud) error {
	if s.ShowCloudFunc == nil {
		return s.CloudSink.ShowCloud(ctx, cloud)
	}
	return s.ShowCloudFunc(ctx, cloud)
}

// ShowMesh calls the injected ShowMesh or the real version.
func (s *CloudSink) ShowMesh(ctx context.Context, mesh *spatialmath.Mesh) error {
	if s.ShowMeshFunc == nil {
		return s.CloudSink.ShowMesh(ctx, mesh)
	}
	return s.ShowMeshFunc(ctx, mesh)
}

// ShowVolumeBounds calls the injected ShowVolumeBounds or the real version.
func (s *CloudSink) ShowVolumeBounds(ctx context.Context, min, max r3.Vector, visible bool) error {
	if s.ShowVolumeBoundsFunc == nil {
		return s.CloudSink.ShowVolumeBounds(ctx, min, max, visible)
	}
	return s.ShowVolumeBoundsFunc(ctx, min, max, visible)
}

// Clear calls the injected Clear or the real version.
func (s *CloudSink) Clear(ctx context.Context) error {
	if s.ClearFunc == nil {
		return s.CloudSink.Clear(ctx)
	}
	return s.ClearFunc(ctx)
}

// Viewpoint calls the injected Viewpoint or the real version.
func (s *CloudSink) Viewpoint() spatialmath.Pose {
	if s.ViewpointFunc == nil {
		return s.CloudSink.Viewpoint()
	}
	return s.ViewpointFunc()
}

// SetViewpoint calls the injected SetViewpoint or the real version.
func (s *CloudSink) SetViewpoint(pose spatialmath.Pose) {
	if s.SetViewpointFunc == nil {
		s.CloudSink.SetViewpoint(pose)
		return
	}
	s.SetViewpointFunc(pose)
}

// TextureSink is an injected texture store.
type TextureSink struct {
	sink.TextureSink
	SaveTextureFunc func(ctx context.Context, pose spatialmath.Pose, color *rimage.Image) error
	CloseFunc       func(ctx context.Context) error
}

// SaveTexture calls the injected SaveTexture or the real version.
func (s *TextureSink) SaveTexture(ctx context.Context, pose spatialmath.Pose, color *rimage.Image) error {
	if s.SaveTextureFunc == nil {
		return s.TextureSink.SaveTexture(ctx, pose, color)
	}
	return s.SaveTextureFunc(ctx, pose, color)
}

// Close calls the injected Close or the real version.
func (s *TextureSink) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		if s.TextureSink == nil {
			return nil
		}
		return s.TextureSink.Close(ctx)
	}
	return s.CloseFunc(ctx)
}
