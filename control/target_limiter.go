package control

import (
	"time"

	"go.viam.com/teleop/spatialmath"
)

// TargetLimiter caps how fast an end-effector target may move, linearly in m/s and angularly in
// rad/s. A zero cap disables that part.
type TargetLimiter struct {
	LinearMax  float64
	AngularMax float64
}

// Limit moves previous toward next by at most the caps times dt.
func (tl TargetLimiter) Limit(previous, next spatialmath.Pose, dt time.Duration) spatialmath.Pose {
	seconds := dt.Seconds()
	if seconds <= 0 {
		return previous
	}
	out := next

	step := next.Point.Sub(previous.Point)
	if maxStep := tl.LinearMax * seconds; tl.LinearMax > 0 && step.Norm() > maxStep {
		out.Point = previous.Point.Add(step.Mul(maxStep / step.Norm()))
	}

	angle := spatialmath.QuatAngle(spatialmath.OrientationBetween(previous.Orientation, next.Orientation))
	if maxAngle := tl.AngularMax * seconds; tl.AngularMax > 0 && angle > maxAngle {
		out.Orientation = spatialmath.Slerp(previous.Orientation, next.Orientation, maxAngle/angle)
	}
	return out
}
