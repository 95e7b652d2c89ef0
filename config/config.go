// Package config defines the robot's JSON configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/control"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/subsystems/amp"
	"github.com/team3128/robot/subsystems/shooter"
)

// DefaultFrequency is the control loop rate, in Hz.
const DefaultFrequency = 50.0

// TesterConfig controls which self-tests are registered.
type TesterConfig struct {
	// CurrentTests enables the per-motor current draw tests.
	CurrentTests bool `json:"current_tests"`
}

// DashboardConfig configures the dashboard server.
type DashboardConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `json:"addr,omitempty"`
}

// Config is the whole robot.
type Config struct {
	ConfigFilePath string `json:"-"`

	Frequency float64         `json:"frequency"`
	Motors    []motor.Config  `json:"motors"`
	Amp       amp.Config      `json:"amp"`
	Shooter   shooter.Config  `json:"shooter"`
	Tester    TesterConfig    `json:"tester"`
	Dashboard DashboardConfig `json:"dashboard"`
}

// Default returns the competition configuration with every motor simulated.
func Default() *Config {
	ampCfg := amp.DefaultConfig()
	shooterCfg := shooter.DefaultConfig()
	return &Config{
		Frequency: DefaultFrequency,
		Motors: []motor.Config{
			{Name: ampCfg.Wrist, Model: "fake", Attributes: map[string]interface{}{"gravity_volts": ampCfg.PID.KG}},
			{Name: ampCfg.Roller, Model: "fake"},
			{Name: shooterCfg.Left, Model: "fake"},
			{Name: shooterCfg.Right, Model: "fake"},
		},
		Amp:     ampCfg,
		Shooter: shooterCfg,
	}
}

// Validate checks every section and returns all problems found.
func (c *Config) Validate() error {
	var err error
	if c.Frequency <= 0 || c.Frequency > control.MaxFrequency {
		err = multierr.Append(err, goutils.NewConfigValidationError("frequency",
			errors.Errorf("must be in (0, %v]", control.MaxFrequency)))
	}
	names := map[string]bool{}
	for i := range c.Motors {
		path := fmt.Sprintf("motors.%d", i)
		if mErr := c.Motors[i].Validate(path); mErr != nil {
			err = multierr.Append(err, mErr)
			continue
		}
		if names[c.Motors[i].Name] {
			err = multierr.Append(err, goutils.NewConfigValidationError(path,
				errors.Errorf("duplicate motor name %q", c.Motors[i].Name)))
		}
		names[c.Motors[i].Name] = true
	}
	err = multierr.Append(err, c.Amp.Validate("amp"))
	err = multierr.Append(err, c.Shooter.Validate("shooter"))

	for _, ref := range []struct{ path, name string }{
		{"amp.wrist", c.Amp.Wrist},
		{"amp.roller", c.Amp.Roller},
		{"shooter.left", c.Shooter.Left},
		{"shooter.right", c.Shooter.Right},
	} {
		if ref.name != "" && !names[ref.name] {
			err = multierr.Append(err, goutils.NewConfigValidationError(ref.path,
				errors.Errorf("no motor named %q", ref.name)))
		}
	}
	return err
}

// Read reads a config from the given file, substituting ${ENV} references first.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from r. Fields absent from the JSON keep their defaults; a motors
// list, when present, replaces the default one entirely.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Default()
	defaultMotors := cfg.Motors
	cfg.Motors = nil
	cfg.ConfigFilePath = originalPath
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	if len(cfg.Motors) == 0 {
		cfg.Motors = defaultMotors
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	logger.Debugw("config loaded", "path", originalPath, "motors", len(cfg.Motors))
	return cfg, nil
}
