package torso

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/control"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/spatialmath"
	"go.viam.com/teleop/utils"
)

// Sample is one skeleton reading. Torso carries the torso orientation in the tracker frame.
// Shoulder positions are in the same frame and are nil when the tracker lost them.
type Sample struct {
	Torso         pose.RawPoseSample
	LeftShoulder  *r3.Vector
	RightShoulder *r3.Vector
}

// Timestamp is the torso reading's time.
func (s Sample) Timestamp() time.Time {
	return s.Torso.Timestamp
}

// complete reports whether every part of the skeleton is present.
func (s Sample) complete() bool {
	return s.Torso.Valid && s.LeftShoulder != nil && s.RightShoulder != nil
}

// Twist is a base velocity command. Linear is in m/s and Angular in rad/s, both in the base frame.
type Twist struct {
	Linear  r3.Vector
	Angular r3.Vector
}

// IsZero reports whether the twist commands no motion.
func (t Twist) IsZero() bool {
	return t.Linear == (r3.Vector{}) && t.Angular == (r3.Vector{})
}

// Joystick turns torso samples into twists relative to a calibrated reference.
type Joystick struct {
	cfg            Config
	x, y, rotation control.Deadband
}

// NewJoystick validates cfg and returns a joystick.
func NewJoystick(cfg Config) (*Joystick, error) {
	if err := cfg.Validate("torso"); err != nil {
		return nil, err
	}
	x, y, rotation := cfg.deadbands()
	return &Joystick{cfg: cfg, x: x, y: y, rotation: rotation}, nil
}

// Twist returns the velocity for s in frame. An incomplete sample gives a zero twist.
func (j *Joystick) Twist(frame calibration.Frame, s Sample) Twist {
	if !s.complete() {
		return Twist{}
	}
	toJoystick := quat.Conj(frame.Reference)

	up := spatialmath.RotateVector(quat.Mul(toJoystick, s.Torso.Orientation), r3.Vector{Z: 1})
	shoulders := spatialmath.RotateVector(toJoystick, s.LeftShoulder.Sub(*s.RightShoulder))
	theta := utils.WrapAngle(math.Atan2(shoulders.Y, shoulders.X) - math.Pi/2)

	return Twist{
		Linear: r3.Vector{
			X: j.cfg.VelocityXMax * j.x.Apply(up.X),
			Y: j.cfg.VelocityYMax * j.y.Apply(up.Y),
		},
		Angular: r3.Vector{Z: j.cfg.VelocityAngularMax * j.rotation.Apply(theta)},
	}
}
