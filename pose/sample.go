// Package pose validates the raw tracker stream before it reaches calibration.
package pose

import (
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/teleop/spatialmath"
	"go.viam.com/teleop/utils"
)

// RawPoseSample is one tracker reading. Head trackers leave Position nil; hand and skeleton
// trackers fill it in meters. Samples are values and are never mutated after creation.
type RawPoseSample struct {
	Timestamp   time.Time
	Orientation quat.Number
	Position    *r3.Vector
	Valid       bool
}

// NewOrientationSample builds a sample from a yaw/pitch pair.
func NewOrientationSample(ts time.Time, yaw, pitch float64, valid bool) RawPoseSample {
	return RawPoseSample{
		Timestamp:   ts,
		Orientation: spatialmath.QuatFromYawPitchRoll(yaw, pitch, 0),
		Valid:       valid,
	}
}

// NewPoseSample builds a full 6-DoF sample.
func NewPoseSample(ts time.Time, p spatialmath.Pose, valid bool) RawPoseSample {
	pt := p.Point
	return RawPoseSample{Timestamp: ts, Orientation: p.Orientation, Position: &pt, Valid: valid}
}

// HasPosition reports whether the sample carries a position.
func (s RawPoseSample) HasPosition() bool {
	return s.Position != nil
}

// Pose returns the sample as a pose. A missing position is the origin.
func (s RawPoseSample) Pose() spatialmath.Pose {
	var pt r3.Vector
	if s.Position != nil {
		pt = *s.Position
	}
	return spatialmath.NewPose(pt, s.Orientation)
}

// YawPitch returns the heading and elevation of the orientation.
func (s RawPoseSample) YawPitch() (float64, float64) {
	yaw, pitch, _ := spatialmath.YawPitchRoll(s.Orientation)
	return yaw, pitch
}

func (s RawPoseSample) wellFormed() bool {
	if s.Timestamp.IsZero() || !spatialmath.QuatIsFinite(s.Orientation) {
		return false
	}
	if s.Position != nil && !utils.IsFinite(s.Position.X, s.Position.Y, s.Position.Z) {
		return false
	}
	return true
}
