package teleop

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/control"
	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/kinematics"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
)

// LoopConfig configures one limb loop. Session fills in Limb for each loop it builds.
type LoopConfig struct {
	Limb joints.Limb
	// Period is the fixed control cycle.
	Period time.Duration
	// SpeedFraction scales each joint's rated velocity into its command velocity cap.
	SpeedFraction float64
	// ActuationTimeout bounds each send to the actuator.
	ActuationTimeout time.Duration

	Filter      pose.FilterConfig
	Calibration calibration.Config

	// ArmRatio scales operator hand displacement to robot hand displacement.
	ArmRatio          float64
	PositionWeight    float64
	OrientationWeight float64
	Solver            kinematics.SolverKind
	SolverConfig      kinematics.SolverConfig
	TargetLimits      control.TargetLimiter
}

// DefaultLoopConfig returns the defaults used when a value is not configured.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Period:            time.Second / 30,
		SpeedFraction:     0.2,
		ActuationTimeout:  100 * time.Millisecond,
		Filter:            pose.DefaultFilterConfig(),
		Calibration:       calibration.Config{Window: time.Second, MinSamples: 1},
		ArmRatio:          1.0,
		PositionWeight:    kinematics.DefaultPositionWeight,
		OrientationWeight: kinematics.DefaultOrientationWeight,
		Solver:            kinematics.DampedLeastSquares,
		SolverConfig:      kinematics.DefaultSolverConfig(),
		TargetLimits:      control.TargetLimiter{LinearMax: 0.3, AngularMax: 0.4},
	}
}

// Validate returns an error describing the first unusable value.
func (cfg LoopConfig) Validate() error {
	if !cfg.Limb.Valid() {
		return errors.Errorf("unknown limb %q", cfg.Limb)
	}
	if cfg.Period <= 0 {
		return errors.Errorf("period must be positive, got %v", cfg.Period)
	}
	if cfg.SpeedFraction <= 0 || cfg.SpeedFraction > 1 {
		return errors.Errorf("speed_fraction must be in (0, 1], got %v", cfg.SpeedFraction)
	}
	if cfg.ActuationTimeout <= 0 {
		return errors.Errorf("actuation timeout must be positive, got %v", cfg.ActuationTimeout)
	}
	if cfg.Filter.StaleTimeout <= 0 {
		return errors.Errorf("stale timeout must be positive, got %v", cfg.Filter.StaleTimeout)
	}
	if cfg.Calibration.YawOffset == nil && cfg.Calibration.Window <= 0 {
		return errors.Errorf("calibration time must be positive, got %v", cfg.Calibration.Window)
	}
	if cfg.Limb.IsArm() {
		if cfg.ArmRatio <= 0 {
			return errors.Errorf("arm_ratio must be positive, got %v", cfg.ArmRatio)
		}
		if cfg.PositionWeight < 0 || cfg.OrientationWeight < 0 || cfg.PositionWeight+cfg.OrientationWeight == 0 {
			return errors.New("ik weights must be non-negative and not both zero")
		}
	}
	return nil
}

type loopOptions struct {
	clock     clock.Clock
	frames    calibration.Source
	publish   *calibration.Latch
	listener  Listener
	reportErr func(error)
	sessionID string
}

// LoopOption configures a LimbLoop.
type LoopOption func(*loopOptions)

// WithClock sets the clock driving the loop. Tests pass a mock.
func WithClock(clk clock.Clock) LoopOption {
	return func(o *loopOptions) { o.clock = clk }
}

// WithFrameSource makes the loop use a frame calibrated elsewhere instead of calibrating itself.
func WithFrameSource(src calibration.Source) LoopOption {
	return func(o *loopOptions) { o.frames = src }
}

// WithPublishedFrame publishes the loop's calibrated frame to latch once it locks.
func WithPublishedFrame(latch *calibration.Latch) LoopOption {
	return func(o *loopOptions) { o.publish = latch }
}

// WithListener registers a listener for state changes and commands.
func WithListener(l Listener) LoopOption {
	return func(o *loopOptions) { o.listener = l }
}

// WithErrorReporter receives errors that are reported upward, such as actuation failures.
func WithErrorReporter(f func(error)) LoopOption {
	return func(o *loopOptions) { o.reportErr = f }
}

// WithSessionID stamps commands with the given session id.
func WithSessionID(id string) LoopOption {
	return func(o *loopOptions) { o.sessionID = id }
}

func newLoopOptions(opts []LoopOption) loopOptions {
	o := loopOptions{clock: clock.New(), reportErr: func(error) {}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	return o
}

func loggerOrBlank(logger logging.Logger, name string) logging.Logger {
	if logger == nil {
		return logging.NewBlankLogger(name)
	}
	return logger
}
