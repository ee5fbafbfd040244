// Package calibration aligns the operator's neutral heading with the robot's zero pose.
package calibration

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/teleop/spatialmath"
	"go.viam.com/teleop/utils"
)

var (
	// ErrNotReady is returned for a frame requested before calibration finished.
	ErrNotReady = errors.New("calibration frame not ready")
	// ErrInsufficientData is returned when a window closes without enough valid samples. The
	// window is retried.
	ErrInsufficientData = errors.New("insufficient calibration data")
)

// Frame maps operator space to robot space. Once Locked it never changes.
type Frame struct {
	// YawOffset is added to operator yaw; it is the negated mean heading seen while calibrating.
	YawOffset float64
	// Reference is the mean operator orientation seen while calibrating.
	Reference  quat.Number
	CapturedAt time.Time
	Samples    int
	Locked     bool
	Overridden bool
}

// ZeroFrame is the unaligned frame used before calibration succeeds.
func ZeroFrame() Frame {
	return Frame{Reference: spatialmath.IdentityQuat}
}

// AlignYaw applies the offset to an operator heading.
func (f Frame) AlignYaw(yaw float64) float64 {
	return utils.WrapAngle(yaw + f.YawOffset)
}

// Rotation is the offset as a rotation about z.
func (f Frame) Rotation() quat.Number {
	return spatialmath.QuatFromAxisAngle(r3.Vector{Z: 1}, f.YawOffset)
}

// AlignPose rotates an operator pose about the vertical axis into robot space.
func (f Frame) AlignPose(p spatialmath.Pose) spatialmath.Pose {
	rot := f.Rotation()
	return spatialmath.NewPose(spatialmath.RotateVector(rot, p.Point), quat.Mul(rot, p.Orientation))
}

// Source provides a calibration frame.
type Source interface {
	Frame() (Frame, error)
}
