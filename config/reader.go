package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/teleop/logging"
	"go.viam.com/teleop/utils"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	cfg, err := FromMap(attributes)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", originalPath, "limbs", cfg.Limbs)
	return cfg, nil
}

// FromMap decodes attributes over the defaults without validating the result. Unknown keys are
// an error.
func FromMap(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	if _, ok := attributes["torso"]; ok {
		torso := DefaultTorso()
		cfg.Torso = &torso
	}
	if _, ok := attributes["mqtt"]; ok {
		mqtt := DefaultMQTT()
		cfg.MQTT = &mqtt
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, utils.NewConfigValidationError("config", err)
	}
	return &cfg, nil
}
