package transform

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/fusion/spatialmath"
)

// ProjectedPixel is a world point splatted onto an image plane.
type ProjectedPixel struct {
	X, Y  int
	Depth float64
}

// ProjectWorldPoint moves a world point into the frame of a camera at pose and projects it onto
// the image plane. The second return is false if the point is behind the camera or off the image.
func (params *PinholeCameraIntrinsics) ProjectWorldPoint(pose spatialmath.Pose, pt r3.Vector) (ProjectedPixel, bool) {
	local := spatialmath.TransformPoint(spatialmath.PoseInverse(pose), pt)
	if local.Z <= 0 {
		return ProjectedPixel{}, false
	}
	u, v := params.PointToPixel(local.X, local.Y, local.Z)
	x, y := int(u), int(v)
	if x < 0 || y < 0 || x >= params.Width || y >= params.Height || math.IsNaN(u) || math.IsNaN(v) {
		return ProjectedPixel{}, false
	}
	return ProjectedPixel{X: x, Y: y, Depth: local.Z}, true
}
