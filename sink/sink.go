// Package sink defines the presentation surfaces the pipeline shows its results on.
//
// A sink may be closed by the user at any time; the pipeline treats every sink being closed as a
// request to end the session.
package sink

import (
	"context"

	"github.com/golang/geo/r3"

	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/spatialmath"
)

// Sink is a presentation surface.
type Sink interface {
	Name() string
	// Closed reports whether the user has closed the sink.
	Closed() bool
	Close(ctx context.Context) error
}

// SceneSink shows the rendered scene.
type SceneSink interface {
	Sink
	ShowScene(ctx context.Context, img *rimage.Image) error
}

// DepthSink shows raw depth frames.
type DepthSink interface {
	Sink
	ShowDepth(ctx context.Context, depth *rimage.DepthMap) error
}

// CloudSink shows clouds and meshes from a viewpoint that the user can move.
type CloudSink interface {
	Sink
	ShowCloud(ctx context.Context, cloud pointcloud.PointCloud) error
	ShowMesh(ctx context.Context, mesh *spatialmath.Mesh) error
	// ShowVolumeBounds draws or hides the box between min and max.
	ShowVolumeBounds(ctx context.Context, min, max r3.Vector, visible bool) error
	Clear(ctx context.Context) error
	Viewpoint() spatialmath.Pose
	SetViewpoint(pose spatialmath.Pose)
}

// TextureSink stores color frames together with the camera pose they were taken from.
type TextureSink interface {
	SaveTexture(ctx context.Context, pose spatialmath.Pose, color *rimage.Image) error
	Close(ctx context.Context) error
}
