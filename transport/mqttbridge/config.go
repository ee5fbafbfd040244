// Package mqttbridge connects the teleoperation core to an MQTT broker. Tracker samples arrive on
// per-limb topics and joint commands and base velocities leave on their own topics.
package mqttbridge

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/teleop/joints"
	"go.viam.com/teleop/utils"
)

// DefaultTopicPrefix roots every topic when none is configured.
const DefaultTopicPrefix = "teleop"

// Config describes the broker connection and topic layout.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// DefaultConfig returns a config for a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       "teleop",
		TopicPrefix:    DefaultTopicPrefix,
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate checks the config.
func (cfg Config) Validate(path string) error {
	var errs error
	if cfg.Broker == "" {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "broker"))
	}
	if cfg.ClientID == "" {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "client_id"))
	}
	if cfg.QoS > 2 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("qos must be 0, 1 or 2, got %d", cfg.QoS)))
	}
	if cfg.ConnectTimeout <= 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			errors.Errorf("connect timeout must be positive, got %v", cfg.ConnectTimeout)))
	}
	return errs
}

func (cfg Config) prefix() string {
	if cfg.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return cfg.TopicPrefix
}

// TrackerTopic carries samples for limb.
func (cfg Config) TrackerTopic(limb joints.Limb) string {
	return fmt.Sprintf("%s/tracker/%s", cfg.prefix(), limb)
}

// SkeletonTopic carries torso and shoulder samples.
func (cfg Config) SkeletonTopic() string {
	return cfg.prefix() + "/tracker/torso"
}

// CommandTopic carries joint commands for limb.
func (cfg Config) CommandTopic(limb joints.Limb) string {
	return fmt.Sprintf("%s/command/%s", cfg.prefix(), limb)
}

// VelocityTopic carries base twists.
func (cfg Config) VelocityTopic() string {
	return cfg.prefix() + "/cmd_vel"
}

// CalibrateTopic requests a torso recalibration. Any payload triggers it.
func (cfg Config) CalibrateTopic() string {
	return cfg.prefix() + "/calibrate"
}
