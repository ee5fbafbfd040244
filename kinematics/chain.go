// Package kinematics computes arm forward kinematics and single-step inverse kinematics
// updates toward a moving end-effector target.
package kinematics

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/spatialmath"
)

// ArmGeometry holds the link lengths of one arm in meters.
type ArmGeometry struct {
	// Shoulder is the shoulder joint center relative to the torso origin.
	Shoulder r3.Vector
	// UpperArm is the shoulder to elbow length along the upper arm.
	UpperArm float64
	// ElbowOffsetY is the sideways offset of the elbow from the upper arm axis.
	ElbowOffsetY float64
	// LowerArm is the elbow to hand length.
	LowerArm float64
}

// LeftArmGeometry is the left arm of the humanoid. The right arm mirrors it in y.
var LeftArmGeometry = ArmGeometry{
	Shoulder:     r3.Vector{X: 0, Y: 0.098, Z: 0.1},
	UpperArm:     0.105,
	ElbowOffsetY: 0.015,
	LowerArm:     0.1137,
}

// Mirror reflects the geometry across the sagittal plane.
func (g ArmGeometry) Mirror() ArmGeometry {
	g.Shoulder.Y = -g.Shoulder.Y
	g.ElbowOffsetY = -g.ElbowOffsetY
	return g
}

// Reach is the longest distance from the shoulder the hand can be.
func (g ArmGeometry) Reach() float64 {
	return r3.Vector{X: g.UpperArm, Y: g.ElbowOffsetY}.Norm() + g.LowerArm
}

var (
	axisX = r3.Vector{X: 1}
	axisY = r3.Vector{Y: 1}
	axisZ = r3.Vector{Z: 1}
)

// Chain is the four joint arm chain: shoulder pitch, shoulder roll, elbow yaw, elbow roll.
// Chains are immutable and safe for concurrent use.
type Chain struct {
	limb     joints.Limb
	geometry ArmGeometry
}

// NewChain returns the chain for an arm with the given geometry.
func NewChain(limb joints.Limb, geometry ArmGeometry) (*Chain, error) {
	if !limb.IsArm() {
		return nil, errors.Errorf("limb %q has no kinematic chain", limb)
	}
	if geometry.UpperArm <= 0 || geometry.LowerArm <= 0 {
		return nil, errors.New("arm link lengths must be positive")
	}
	return &Chain{limb: limb, geometry: geometry}, nil
}

// NewArmChain returns the humanoid chain for the left or right arm.
func NewArmChain(limb joints.Limb) (*Chain, error) {
	geometry := LeftArmGeometry
	if limb == joints.RightArm {
		geometry = geometry.Mirror()
	}
	return NewChain(limb, geometry)
}

// DoF is the number of joints in the chain.
func (c *Chain) DoF() int {
	return 4
}

// Limb returns the arm the chain models.
func (c *Chain) Limb() joints.Limb {
	return c.limb
}

// Geometry returns the link lengths.
func (c *Chain) Geometry() ArmGeometry {
	return c.geometry
}

// Transform returns the hand pose in the torso frame for the given joint angles.
func (c *Chain) Transform(angles []float64) (spatialmath.Pose, error) {
	if len(angles) != c.DoF() {
		return spatialmath.Pose{}, errors.Errorf("expected %d joint angles, got %d", c.DoF(), len(angles))
	}
	g := c.geometry
	rot := func(axis r3.Vector, theta float64) spatialmath.Pose {
		return spatialmath.Pose{Orientation: spatialmath.QuatFromAxisAngle(axis, theta)}
	}
	trans := func(v r3.Vector) spatialmath.Pose {
		return spatialmath.Pose{Point: v, Orientation: spatialmath.IdentityQuat}
	}

	p := trans(g.Shoulder)
	p = p.Compose(rot(axisY, angles[0]))
	p = p.Compose(rot(axisZ, angles[1]))
	p = p.Compose(trans(r3.Vector{X: g.UpperArm, Y: g.ElbowOffsetY}))
	p = p.Compose(rot(axisX, angles[2]))
	p = p.Compose(rot(axisZ, angles[3]))
	p = p.Compose(trans(r3.Vector{X: g.LowerArm}))
	return p, nil
}
