package kinematics

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/teleop/spatialmath"
)

// Default error weights. Position dominates because reaching the hand location matters far more
// to the operator than matching wrist orientation. Both are tunables.
const (
	DefaultPositionWeight    = 100.0
	DefaultOrientationWeight = 1.0
)

// Target is a desired hand pose and how to weigh the two parts of the error. It is built fresh
// each cycle.
type Target struct {
	Pose              spatialmath.Pose
	PositionWeight    float64
	OrientationWeight float64
}

// NewTarget returns a target with the default weights.
func NewTarget(p spatialmath.Pose) Target {
	return Target{Pose: p, PositionWeight: DefaultPositionWeight, OrientationWeight: DefaultOrientationWeight}
}

// residual is the weighted six element error from current to target.
func (t Target) residual(current spatialmath.Pose) [6]float64 {
	lin, ang := spatialmath.PoseDelta(current, t.Pose)
	return [6]float64{
		t.PositionWeight * lin.X, t.PositionWeight * lin.Y, t.PositionWeight * lin.Z,
		t.OrientationWeight * ang.X, t.OrientationWeight * ang.Y, t.OrientationWeight * ang.Z,
	}
}

func norm(v [6]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// WeightedError is the norm of the weighted position and orientation error.
func (t Target) WeightedError(current spatialmath.Pose) float64 {
	return norm(t.residual(current))
}

// PositionError is the unweighted distance in meters.
func (t Target) PositionError(current spatialmath.Pose) float64 {
	return t.Pose.Point.Sub(current.Point).Norm()
}

// OrientationError is the unweighted rotation in radians.
func (t Target) OrientationError(current spatialmath.Pose) float64 {
	return spatialmath.OrientationResidual(t.Pose.Orientation, current.Orientation).Norm()
}

// ClampToReach moves the target position onto a sphere of radius reach around center if it is
// outside of it.
func (t Target) ClampToReach(center r3.Vector, reach float64) Target {
	offset := t.Pose.Point.Sub(center)
	if d := offset.Norm(); d > reach && d > 0 {
		t.Pose.Point = center.Add(offset.Mul(reach / d))
	}
	return t
}
