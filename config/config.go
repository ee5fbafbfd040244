// Package config defines the teleoperation configuration file and converts it into the settings
// of each component.
package config

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/teleop/calibration"
	"go.viam.com/teleop/control"
	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/kinematics"
	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/pose"
	"go.viam.com/teleop/teleop"
	"go.viam.com/teleop/torso"
	"go.viam.com/teleop/transport/mqttbridge"
	"go.viam.com/teleop/utils"
)

// Config is the whole configuration file. Durations are in seconds and angles in radians.
type Config struct {
	Limbs       []string `json:"limbs" jsonschema:"enum=head,enum=left_arm,enum=right_arm"`
	FrequencyHz float64  `json:"frequency_hz"`

	SpeedFraction         float64  `json:"speed_fraction"`
	CalibrationTime       float64  `json:"calibration_time"`
	MinCalibrationSamples int      `json:"min_calibration_samples"`
	YawOffset             *float64 `json:"yaw_offset,omitempty"`

	ArmRatio           float64 `json:"arm_ratio"`
	VelocityLinearMax  float64 `json:"velocity_linear_max"`
	VelocityAngularMax float64 `json:"velocity_angular_max"`
	PositionWeight     float64 `json:"position_weight"`
	OrientationWeight  float64 `json:"orientation_weight"`

	StaleTimeout     float64 `json:"stale_timeout"`
	ActuationTimeout float64 `json:"actuation_timeout"`
	MaxLinearRate    float64 `json:"max_linear_rate"`
	MaxAngularRate   float64 `json:"max_angular_rate"`

	IKSolver       string  `json:"ik_solver" jsonschema:"enum=dls,enum=jacobian_transpose"`
	IKStepSize     float64 `json:"ik_step_size"`
	IKDamping      float64 `json:"ik_damping"`
	IKMaxJointStep float64 `json:"ik_max_joint_step"`

	// JointLimits replaces the built in joint table when set.
	JointLimits []joints.JointSpec `json:"joint_limits,omitempty"`

	Torso       *TorsoConfig                  `json:"torso,omitempty"`
	MQTT        *MQTTConfig                   `json:"mqtt,omitempty"`
	MonitorAddr string                        `json:"monitor_addr,omitempty"`
	CapturePath string                        `json:"capture_path,omitempty"`
	LogFile     string                        `json:"log_file,omitempty"`
	LogLevels   []logging.LoggerPatternConfig `json:"log_levels,omitempty"`

	// ConfigFilePath is where the config was read from, if anywhere.
	ConfigFilePath string `json:"-"`
}

// TorsoConfig enables the torso joystick.
type TorsoConfig struct {
	CalibrationTime    float64 `json:"calibration_time"`
	DeadbandX          float64 `json:"deadband_x"`
	DeadbandY          float64 `json:"deadband_y"`
	DeadbandAngle      float64 `json:"deadband_angle"`
	VelocityXMax       float64 `json:"velocity_x_max"`
	VelocityYMax       float64 `json:"velocity_y_max"`
	VelocityAngularMax float64 `json:"velocity_angular_max"`
}

// MQTTConfig selects the broker used for tracking input and command output.
type MQTTConfig struct {
	Broker         string  `json:"broker"`
	ClientID       string  `json:"client_id"`
	Username       string  `json:"username,omitempty"`
	Password       string  `json:"password,omitempty"`
	TopicPrefix    string  `json:"topic_prefix"`
	QoS            int     `json:"qos"`
	ConnectTimeout float64 `json:"connect_timeout"`
}

// Default returns the configuration used for every unset key.
func Default() Config {
	loop := teleop.DefaultLoopConfig()
	return Config{
		Limbs:                 lo.Map(joints.Limbs, func(l joints.Limb, _ int) string { return string(l) }),
		FrequencyHz:           30,
		SpeedFraction:         loop.SpeedFraction,
		CalibrationTime:       loop.Calibration.Window.Seconds(),
		MinCalibrationSamples: loop.Calibration.MinSamples,
		ArmRatio:              loop.ArmRatio,
		VelocityLinearMax:     loop.TargetLimits.LinearMax,
		VelocityAngularMax:    loop.TargetLimits.AngularMax,
		PositionWeight:        loop.PositionWeight,
		OrientationWeight:     loop.OrientationWeight,
		StaleTimeout:          loop.Filter.StaleTimeout.Seconds(),
		ActuationTimeout:      loop.ActuationTimeout.Seconds(),
		MaxLinearRate:         loop.Filter.MaxLinearRate,
		MaxAngularRate:        loop.Filter.MaxAngularRate,
		IKSolver:              string(loop.Solver),
		IKStepSize:            loop.SolverConfig.StepSize,
		IKDamping:             loop.SolverConfig.Damping,
		IKMaxJointStep:        loop.SolverConfig.MaxJointStep,
	}
}

// DefaultTorso returns the torso section used when the section is present but keys are unset.
func DefaultTorso() TorsoConfig {
	t := torso.DefaultConfig()
	return TorsoConfig{
		CalibrationTime:    t.CalibrationTime.Seconds(),
		DeadbandX:          t.DeadbandX,
		DeadbandY:          t.DeadbandY,
		DeadbandAngle:      t.DeadbandAngle,
		VelocityXMax:       t.VelocityXMax,
		VelocityYMax:       t.VelocityYMax,
		VelocityAngularMax: t.VelocityAngularMax,
	}
}

// DefaultMQTT returns the mqtt section used when the section is present but keys are unset.
func DefaultMQTT() MQTTConfig {
	m := mqttbridge.DefaultConfig()
	return MQTTConfig{
		Broker:         m.Broker,
		ClientID:       m.ClientID,
		TopicPrefix:    m.TopicPrefix,
		QoS:            int(m.QoS),
		ConnectTimeout: m.ConnectTimeout.Seconds(),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate reports every invalid value. All returned errors match utils.ErrConfigInvalid.
func (c *Config) Validate(path string) error {
	var errs error
	fail := func(field string, err error) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path+"."+field, err))
	}
	positive := func(field string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			fail(field, errors.Errorf("must be a positive number, got %v", v))
		}
	}

	if len(c.Limbs) == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "limbs"))
	}
	for _, name := range c.Limbs {
		if !joints.Limb(name).Valid() {
			fail("limbs", errors.Errorf("unknown limb %q", name))
		}
	}
	if dups := lo.FindDuplicates(c.Limbs); len(dups) > 0 {
		fail("limbs", errors.Errorf("listed more than once: %v", dups))
	}

	positive("frequency_hz", c.FrequencyHz)
	if !(c.SpeedFraction > 0 && c.SpeedFraction <= 1) {
		fail("speed_fraction", errors.Errorf("must be in (0, 1], got %v", c.SpeedFraction))
	}
	if c.YawOffset == nil {
		positive("calibration_time", c.CalibrationTime)
	} else if !utils.IsFinite(*c.YawOffset) {
		fail("yaw_offset", errors.New("must be a finite number"))
	}
	if c.MinCalibrationSamples < 1 {
		fail("min_calibration_samples", errors.Errorf("must be at least 1, got %d", c.MinCalibrationSamples))
	}
	positive("arm_ratio", c.ArmRatio)
	positive("velocity_linear_max", c.VelocityLinearMax)
	positive("velocity_angular_max", c.VelocityAngularMax)
	if c.PositionWeight < 0 || c.OrientationWeight < 0 || c.PositionWeight+c.OrientationWeight == 0 {
		fail("position_weight", errors.New("weights must be non-negative and not both zero"))
	}
	positive("stale_timeout", c.StaleTimeout)
	positive("actuation_timeout", c.ActuationTimeout)
	positive("max_linear_rate", c.MaxLinearRate)
	positive("max_angular_rate", c.MaxAngularRate)

	switch kinematics.SolverKind(c.IKSolver) {
	case kinematics.DampedLeastSquares, kinematics.JacobianTranspose:
	default:
		fail("ik_solver", errors.Errorf("unknown solver %q", c.IKSolver))
	}
	positive("ik_step_size", c.IKStepSize)
	positive("ik_max_joint_step", c.IKMaxJointStep)
	if c.IKDamping < 0 {
		fail("ik_damping", errors.Errorf("must not be negative, got %v", c.IKDamping))
	}

	if len(c.JointLimits) > 0 {
		if _, err := joints.NewTable(c.JointLimits); err != nil {
			fail("joint_limits", err)
		}
	}
	if c.Torso != nil {
		errs = multierr.Append(errs, c.TorsoSettings().Validate(path+".torso"))
	}
	if c.MQTT != nil {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			fail("mqtt.qos", errors.Errorf("must be 0, 1 or 2, got %d", c.MQTT.QoS))
		} else {
			errs = multierr.Append(errs, c.MQTTSettings().Validate(path+".mqtt"))
		}
	}
	for i, lpc := range c.LogLevels {
		if !logging.ValidatePattern(lpc.Pattern) {
			fail("log_levels", errors.Errorf("entry %d: invalid pattern %q", i, lpc.Pattern))
		}
		if _, err := logging.LevelFromString(lpc.Level); err != nil {
			fail("log_levels", errors.Wrapf(err, "entry %d", i))
		}
	}
	return errs
}

// Period is the control cycle.
func (c *Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.FrequencyHz)
}

// JointTable returns the configured joint table, or the built in one.
func (c *Config) JointTable() (*joints.Table, error) {
	if len(c.JointLimits) == 0 {
		return joints.HumanoidTable(), nil
	}
	return joints.NewTable(c.JointLimits)
}

// SessionConfig converts the file into limb loop settings.
func (c *Config) SessionConfig() teleop.SessionConfig {
	loop := teleop.DefaultLoopConfig()
	loop.Period = c.Period()
	loop.SpeedFraction = c.SpeedFraction
	loop.ActuationTimeout = seconds(c.ActuationTimeout)
	loop.Filter = pose.FilterConfig{
		MaxLinearRate:  c.MaxLinearRate,
		MaxAngularRate: c.MaxAngularRate,
		StaleTimeout:   seconds(c.StaleTimeout),
	}
	loop.Calibration = calibration.Config{
		Window:     seconds(c.CalibrationTime),
		MinSamples: c.MinCalibrationSamples,
		YawOffset:  c.YawOffset,
	}
	loop.ArmRatio = c.ArmRatio
	loop.PositionWeight = c.PositionWeight
	loop.OrientationWeight = c.OrientationWeight
	loop.Solver = kinematics.SolverKind(c.IKSolver)
	loop.SolverConfig = kinematics.SolverConfig{
		StepSize:     c.IKStepSize,
		Damping:      c.IKDamping,
		MaxJointStep: c.IKMaxJointStep,
	}
	loop.TargetLimits = control.TargetLimiter{LinearMax: c.VelocityLinearMax, AngularMax: c.VelocityAngularMax}

	return teleop.SessionConfig{
		Limbs: lo.Map(c.Limbs, func(name string, _ int) joints.Limb { return joints.Limb(name) }),
		Loop:  loop,
	}
}

// TorsoSettings converts the torso section. It uses defaults if the section is absent.
func (c *Config) TorsoSettings() torso.Config {
	section := DefaultTorso()
	if c.Torso != nil {
		section = *c.Torso
	}
	out := torso.DefaultConfig()
	out.Period = c.Period()
	out.ActuationTimeout = seconds(c.ActuationTimeout)
	out.Filter = pose.FilterConfig{
		MaxLinearRate:  c.MaxLinearRate,
		MaxAngularRate: c.MaxAngularRate,
		StaleTimeout:   seconds(c.StaleTimeout),
	}
	out.CalibrationTime = seconds(section.CalibrationTime)
	out.DeadbandX = section.DeadbandX
	out.DeadbandY = section.DeadbandY
	out.DeadbandAngle = section.DeadbandAngle
	out.VelocityXMax = section.VelocityXMax
	out.VelocityYMax = section.VelocityYMax
	out.VelocityAngularMax = section.VelocityAngularMax
	return out
}

// MQTTSettings converts the mqtt section. It uses defaults if the section is absent.
func (c *Config) MQTTSettings() mqttbridge.Config {
	section := DefaultMQTT()
	if c.MQTT != nil {
		section = *c.MQTT
	}
	return mqttbridge.Config{
		Broker:         section.Broker,
		ClientID:       section.ClientID,
		Username:       section.Username,
		Password:       section.Password,
		TopicPrefix:    section.TopicPrefix,
		QoS:            byte(section.QoS),
		ConnectTimeout: seconds(section.ConnectTimeout),
	}
}
