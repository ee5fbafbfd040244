package kinematics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/utils"
)

// ErrSingular is returned when the Jacobian is degenerate at the current configuration. Callers
// hold the previous angles for the cycle.
var ErrSingular = errors.New("kinematic singularity")

// SolverKind names an update strategy.
type SolverKind string

// Supported strategies.
const (
	DampedLeastSquares SolverKind = "dls"
	JacobianTranspose  SolverKind = "jacobian_transpose"
)

const (
	jacobianStep = 1e-6
	// minConditionRatio is the smallest accepted ratio of smallest to largest singular value.
	minConditionRatio = 1e-9
)

// SolverConfig tunes a single update step.
type SolverConfig struct {
	// StepSize scales every update. 1 takes the full linearized step.
	StepSize float64
	// Damping is lambda of the damped least squares update.
	Damping float64
	// MaxJointStep caps how far any joint may move in one call, in radians.
	MaxJointStep float64
}

// DefaultSolverConfig returns the tuning used when nothing is configured.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{StepSize: 0.5, Damping: 0.05, MaxJointStep: 0.25}
}

// Result is the outcome of one step.
type Result struct {
	Angles []float64
	// InitialError and FinalError are the weighted error norms before and after the step.
	InitialError float64
	FinalError   float64
}

// Solver takes one bounded step from current toward target. It never iterates to convergence;
// calling it once per control cycle lets the arm follow a moving target smoothly.
type Solver interface {
	Solve(current []float64, target Target) (Result, error)
}

// NewSolver builds the named strategy for an arm chain and its joint group.
func NewSolver(kind SolverKind, chain *Chain, group joints.Group, cfg SolverConfig) (Solver, error) {
	if group.Len() != chain.DoF() {
		return nil, errors.Errorf("joint group %q has %d joints, chain needs %d", group.Limb, group.Len(), chain.DoF())
	}
	if cfg.StepSize <= 0 || cfg.StepSize > 1 {
		return nil, errors.Errorf("ik step size must be in (0, 1], got %v", cfg.StepSize)
	}
	if cfg.MaxJointStep <= 0 {
		return nil, errors.Errorf("ik max joint step must be positive, got %v", cfg.MaxJointStep)
	}
	base := stepper{chain: chain, group: group, cfg: cfg}
	switch kind {
	case DampedLeastSquares, "":
		if cfg.Damping < 0 {
			return nil, errors.Errorf("ik damping must not be negative, got %v", cfg.Damping)
		}
		return &dlsSolver{base}, nil
	case JacobianTranspose:
		return &transposeSolver{base}, nil
	default:
		return nil, errors.Errorf("unknown ik solver %q", kind)
	}
}

// stepper holds what both strategies share.
type stepper struct {
	chain *Chain
	group joints.Group
	cfg   SolverConfig
}

// linearize returns the weighted residual at q and its Jacobian with respect to q, estimated by
// forward differences.
func (s *stepper) linearize(q []float64, target Target) (*mat.VecDense, *mat.Dense, error) {
	pose, err := s.chain.Transform(q)
	if err != nil {
		return nil, nil, err
	}
	r0 := target.residual(pose)
	n := len(q)
	jac := mat.NewDense(6, n, nil)
	perturbed := make([]float64, n)
	for j := 0; j < n; j++ {
		copy(perturbed, q)
		perturbed[j] += jacobianStep
		p, err := s.chain.Transform(perturbed)
		if err != nil {
			return nil, nil, err
		}
		r := target.residual(p)
		for i := 0; i < 6; i++ {
			jac.Set(i, j, (r[i]-r0[i])/jacobianStep)
		}
	}
	return mat.NewVecDense(6, r0[:]), jac, nil
}

func checkConditioning(jac *mat.Dense) error {
	if !utils.IsFinite(jac.RawMatrix().Data...) {
		return errors.Wrap(ErrSingular, "jacobian is not finite")
	}
	var svd mat.SVD
	if !svd.Factorize(jac, mat.SVDNone) {
		return errors.Wrap(ErrSingular, "svd did not converge")
	}
	values := svd.Values(nil)
	maxSV, minSV := values[0], values[len(values)-1]
	if maxSV == 0 || minSV/maxSV < minConditionRatio {
		return errors.Wrapf(ErrSingular, "condition ratio %g", minSV/maxSV)
	}
	return nil
}

// apply scales dq, caps it, clamps the result into joint limits and reports the new error.
func (s *stepper) apply(q []float64, dq *mat.VecDense, target Target, initial float64) (Result, error) {
	next := make([]float64, len(q))
	var largest float64
	for i := range q {
		largest = math.Max(largest, math.Abs(s.cfg.StepSize*dq.AtVec(i)))
	}
	scale := s.cfg.StepSize
	if largest > s.cfg.MaxJointStep {
		scale *= s.cfg.MaxJointStep / largest
	}
	for i := range q {
		next[i] = q[i] + scale*dq.AtVec(i)
	}
	if !utils.IsFinite(next...) {
		return Result{}, errors.Wrap(ErrSingular, "update is not finite")
	}
	next = s.group.Clamp(next)
	pose, err := s.chain.Transform(next)
	if err != nil {
		return Result{}, err
	}
	return Result{Angles: next, InitialError: initial, FinalError: target.WeightedError(pose)}, nil
}

func (s *stepper) prepare(current []float64, target Target) (*mat.VecDense, *mat.Dense, error) {
	if len(current) != s.chain.DoF() {
		return nil, nil, errors.Errorf("expected %d joint angles, got %d", s.chain.DoF(), len(current))
	}
	r, jac, err := s.linearize(current, target)
	if err != nil {
		return nil, nil, err
	}
	if !utils.IsFinite(r.RawVector().Data...) {
		return nil, nil, errors.Wrap(ErrSingular, "residual is not finite")
	}
	if err := checkConditioning(jac); err != nil {
		return nil, nil, err
	}
	return r, jac, nil
}

// dlsSolver solves (JᵀJ + λ²I) dq = -Jᵀr.
type dlsSolver struct {
	stepper
}

func (s *dlsSolver) Solve(current []float64, target Target) (Result, error) {
	r, jac, err := s.prepare(current, target)
	if err != nil {
		return Result{}, err
	}
	n := len(current)
	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)
	lambda2 := s.cfg.Damping * s.cfg.Damping
	for i := 0; i < n; i++ {
		jtj.Set(i, i, jtj.At(i, i)+lambda2)
	}
	var rhs mat.VecDense
	rhs.MulVec(jac.T(), r)
	rhs.ScaleVec(-1, &rhs)

	var dq mat.VecDense
	if err := dq.SolveVec(&jtj, &rhs); err != nil {
		return Result{}, errors.Wrap(ErrSingular, err.Error())
	}
	return s.apply(current, &dq, target, mat.Norm(r, 2))
}

// transposeSolver steps along -Jᵀr with the step length that minimizes the linearized error.
type transposeSolver struct {
	stepper
}

func (s *transposeSolver) Solve(current []float64, target Target) (Result, error) {
	r, jac, err := s.prepare(current, target)
	if err != nil {
		return Result{}, err
	}
	initial := mat.Norm(r, 2)
	var grad mat.VecDense
	grad.MulVec(jac.T(), r)
	var jGrad mat.VecDense
	jGrad.MulVec(jac, &grad)

	denom := mat.Dot(&jGrad, &jGrad)
	if denom == 0 {
		next := make([]float64, len(current))
		copy(next, current)
		return Result{Angles: next, InitialError: initial, FinalError: initial}, nil
	}
	alpha := mat.Dot(r, &jGrad) / denom
	grad.ScaleVec(-alpha, &grad)
	return s.apply(current, &grad, target, initial)
}
