// Package torso drives a mobile base by treating the operator's torso as a joystick. Leaning
// the torso moves the base and turning the shoulders rotates it.
package torso

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/teleop/control"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/utils"
)

// Config configures the torso joystick.
type Config struct {
	Period           time.Duration
	CalibrationTime  time.Duration
	ActuationTimeout time.Duration
	Filter           pose.FilterConfig

	// DeadbandX and DeadbandY apply to the horizontal components of the torso's up axis.
	DeadbandX float64
	DeadbandY float64
	// DeadbandAngle applies to the shoulder line angle in radians.
	DeadbandAngle float64

	// MaxTilt is the lean that saturates linear velocity.
	MaxTilt float64
	// MaxRotation is the shoulder turn that saturates angular velocity.
	MaxRotation float64

	VelocityXMax       float64
	VelocityYMax       float64
	VelocityAngularMax float64
}

// DefaultConfig returns the defaults used when a value is not configured.
func DefaultConfig() Config {
	return Config{
		Period:             time.Second / 30,
		CalibrationTime:    3 * time.Second,
		ActuationTimeout:   100 * time.Millisecond,
		Filter:             pose.DefaultFilterConfig(),
		DeadbandX:          0.2,
		DeadbandY:          0.2,
		DeadbandAngle:      math.Pi / 8,
		MaxTilt:            math.Pi / 8,
		MaxRotation:        math.Pi / 4,
		VelocityXMax:       0.2,
		VelocityYMax:       0.2,
		VelocityAngularMax: math.Pi / 4,
	}
}

func (cfg Config) deadbands() (x, y, angle control.Deadband) {
	saturation := math.Cos(math.Pi/2 - cfg.MaxTilt)
	return control.Deadband{Band: cfg.DeadbandX, Saturation: saturation},
		control.Deadband{Band: cfg.DeadbandY, Saturation: saturation},
		control.Deadband{Band: cfg.DeadbandAngle, Saturation: cfg.MaxRotation}
}

// Validate checks the config. Every problem is reported, each wrapped so it matches
// utils.ErrConfigInvalid.
func (cfg Config) Validate(path string) error {
	var errs error
	add := func(err error) {
		if err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
		}
	}

	if cfg.Period <= 0 {
		add(errors.Errorf("period must be positive, got %v", cfg.Period))
	}
	if cfg.CalibrationTime <= 0 {
		add(errors.Errorf("calibration_time must be positive, got %v", cfg.CalibrationTime))
	}
	if cfg.ActuationTimeout <= 0 {
		add(errors.Errorf("actuation timeout must be positive, got %v", cfg.ActuationTimeout))
	}
	if cfg.Filter.StaleTimeout <= 0 {
		add(errors.Errorf("stale timeout must be positive, got %v", cfg.Filter.StaleTimeout))
	}
	if cfg.MaxTilt <= 0 || cfg.MaxTilt > math.Pi/2 {
		add(errors.Errorf("max tilt must be in (0, pi/2], got %v", cfg.MaxTilt))
	}

	x, y, angle := cfg.deadbands()
	add(errors.Wrap(x.Validate(), "deadband_x"))
	add(errors.Wrap(y.Validate(), "deadband_y"))
	add(errors.Wrap(angle.Validate(), "deadband_angle"))

	for name, v := range map[string]float64{
		"velocity_x_max":       cfg.VelocityXMax,
		"velocity_y_max":       cfg.VelocityYMax,
		"velocity_angular_max": cfg.VelocityAngularMax,
	} {
		if v < 0 || !utils.IsFinite(v) {
			add(errors.Errorf("%s must be a non-negative number, got %v", name, v))
		}
	}
	return errs
}
