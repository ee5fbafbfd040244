package teleop

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/control"
	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/kinematics"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/spatialmath"
)

var errNoPosition = errors.New("hand sample has no position")

// mapper turns an aligned operator sample into proposed joint angles for one limb.
type mapper interface {
	propose(s pose.RawPoseSample, frame calibration.Frame, current []float64, dt time.Duration) ([]float64, error)
}

// headMapper drives head yaw and pitch directly from the operator's heading.
type headMapper struct{}

func (headMapper) propose(s pose.RawPoseSample, frame calibration.Frame, _ []float64, _ time.Duration) ([]float64, error) {
	yaw, pitch := s.YawPitch()
	return []float64{frame.AlignYaw(yaw), pitch}, nil
}

// armMapper builds an IK target from the hand pose and takes one solver step toward it. The
// hand position is relative to the operator's shoulder.
type armMapper struct {
	chain          *kinematics.Chain
	solver         kinematics.Solver
	ratio          float64
	posWeight      float64
	orientWeight   float64
	targetLimiter  control.TargetLimiter
	previousTarget *spatialmath.Pose
}

func newArmMapper(cfg LoopConfig, group joints.Group) (*armMapper, error) {
	chain, err := kinematics.NewArmChain(group.Limb)
	if err != nil {
		return nil, err
	}
	solver, err := kinematics.NewSolver(cfg.Solver, chain, group, cfg.SolverConfig)
	if err != nil {
		return nil, err
	}
	return &armMapper{
		chain:         chain,
		solver:        solver,
		ratio:         cfg.ArmRatio,
		posWeight:     cfg.PositionWeight,
		orientWeight:  cfg.OrientationWeight,
		targetLimiter: cfg.TargetLimits,
	}, nil
}

func (m *armMapper) desired(s pose.RawPoseSample, frame calibration.Frame) kinematics.Target {
	aligned := frame.AlignPose(s.Pose())
	shoulder := m.chain.Geometry().Shoulder
	aligned.Point = shoulder.Add(aligned.Point.Mul(m.ratio))
	target := kinematics.Target{Pose: aligned, PositionWeight: m.posWeight, OrientationWeight: m.orientWeight}
	return target.ClampToReach(shoulder, m.chain.Geometry().Reach())
}

func (m *armMapper) propose(s pose.RawPoseSample, frame calibration.Frame, current []float64, dt time.Duration) ([]float64, error) {
	if !s.HasPosition() {
		return nil, errNoPosition
	}
	target := m.desired(s, frame)
	if m.previousTarget == nil {
		start, err := m.chain.Transform(current)
		if err != nil {
			return nil, err
		}
		m.previousTarget = &start
	}
	target.Pose = m.targetLimiter.Limit(*m.previousTarget, target.Pose, dt)
	m.previousTarget = &target.Pose

	res, err := m.solver.Solve(current, target)
	if err != nil {
		return nil, err
	}
	return res.Angles, nil
}
