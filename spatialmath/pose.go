// Package spatialmath defines poses and the quaternion helpers used by calibration and
// kinematics. Frames are right handed with x forward, y left and z up.
package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a position in meters plus a unit quaternion orientation.
type Pose struct {
	Point       r3.Vector
	Orientation quat.Number
}

// NewPose creates a pose, normalizing the orientation.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	return Pose{Point: point, Orientation: Normalize(orientation)}
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{Orientation: IdentityQuat}
}

// Compose returns the pose of other expressed in the parent frame of p.
func (p Pose) Compose(other Pose) Pose {
	return Pose{
		Point:       p.Point.Add(RotateVector(p.Orientation, other.Point)),
		Orientation: Normalize(quat.Mul(p.Orientation, other.Orientation)),
	}
}

// Invert returns the pose that undoes p.
func (p Pose) Invert() Pose {
	inv := quat.Conj(p.Orientation)
	return Pose{Point: RotateVector(inv, p.Point.Mul(-1)), Orientation: inv}
}

// PoseDelta returns the translation and rotation vector taking from onto to, both in the parent
// frame.
func PoseDelta(from, to Pose) (r3.Vector, r3.Vector) {
	return to.Point.Sub(from.Point), OrientationResidual(to.Orientation, from.Orientation)
}

// PoseAlmostEqual reports whether two poses are within linTol meters and angTol radians.
func PoseAlmostEqual(a, b Pose, linTol, angTol float64) bool {
	return a.Point.Sub(b.Point).Norm() <= linTol && QuatAlmostEqual(a.Orientation, b.Orientation, angTol)
}

func (p Pose) String() string {
	aa := QuatToR3AA(p.Orientation)
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f RX:%.4f RY:%.4f RZ:%.4f}", p.Point.X, p.Point.Y, p.Point.Z, aa.X, aa.Y, aa.Z)
}
