// Package spatialmath defines spatial mathematical operations used to describe where the sensor
// is in the reconstruction volume.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid transform: a 6dof position and orientation of a camera in world space.
type Pose interface {
	// Point returns the translation of the pose in meters.
	Point() r3.Vector
	// Orientation returns the unit rotation quaternion of the pose.
	Orientation() quat.Number
}

// NewZeroPose returns a pose at (0,0,0) with the identity orientation.
func NewZeroPose() Pose {
	return newDualQuaternion()
}

// NewPoseFromPoint takes in a cartesian (x,y,z) and stores it as a pose with no rotation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return newDualQuaternionFromPose(quat.Number{Real: 1}, point)
}

// NewPoseFromAxisAngle takes a position, an axis and a rotation about it in radians.
func NewPoseFromAxisAngle(point, axis r3.Vector, theta float64) Pose {
	aa := R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
	return newDualQuaternionFromPose(aa.ToQuat(), point)
}

// Compose takes two poses and returns a pose that is the result of applying b and then a.
func Compose(a, b Pose) Pose {
	result := &dualQuaternion{dualQuaternionFromPose(a).Transformation(dualQuaternionFromPose(b).Number)}

	// Normalization
	if vecLen := 1 / quat.Abs(result.Real); vecLen != 1 {
		result.Real = quat.Scale(vecLen, result.Real)
		result.Dual = quat.Scale(vecLen, result.Dual)
	}
	return result
}

// PoseInverse returns the inverse of a pose.
func PoseInverse(p Pose) Pose {
	dq := dualQuaternionFromPose(p)
	return &dualQuaternion{dualquat.Number{Real: quat.Conj(dq.Real), Dual: quat.Conj(dq.Dual)}}
}

// TransformPoint applies the pose to a point expressed in the pose's local frame.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	rot := p.Orientation()
	rotated := quat.Mul(quat.Mul(rot, quat.Number{Imag: pt.X, Jmag: pt.Y, Kmag: pt.Z}), quat.Conj(rot))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}.Add(p.Point())
}

// PoseAlmostEqual will return a bool describing whether 2 poses are approximately the same.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-6)
}

// PoseAlmostEqualEps compares both the translation and the rotation of two poses with an epsilon.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	if a.Point().Sub(b.Point()).Norm() > epsilon {
		return false
	}
	// q and -q are the same rotation.
	qa, qb := a.Orientation(), b.Orientation()
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	return 1-math.Abs(dot) <= epsilon
}

// PoseToRows returns the top three rows of the homogeneous matrix of the pose, row-major: the
// rotation in columns 0-2 and the translation in column 3.
func PoseToRows(p Pose) [12]float64 {
	rot := rotationMatrix(p.Orientation())
	pt := p.Point()
	return [12]float64{
		rot[0], rot[1], rot[2], pt.X,
		rot[3], rot[4], rot[5], pt.Y,
		rot[6], rot[7], rot[8], pt.Z,
	}
}

// PoseToString formats a pose as translation plus angle axis for logs.
func PoseToString(p Pose) string {
	pt := p.Point()
	aa := QuatToR4AA(p.Orientation())
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f Theta:%.4f RX:%.4f RY:%.4f RZ:%.4f}",
		pt.X, pt.Y, pt.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

func dualQuaternionFromPose(p Pose) *dualQuaternion {
	if q, ok := p.(*dualQuaternion); ok {
		return q
	}
	return newDualQuaternionFromPose(p.Orientation(), p.Point())
}
