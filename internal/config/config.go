// Package config loads the optional mcip-tool configuration file.
//
// Every setting has a built-in default matching the router's standard
// socket paths and timing, so the file is only needed to deviate from
// them. The file is YAML; keys absent from it keep their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insys-icom/mcip-tool/internal/command"
	"github.com/insys-icom/mcip-tool/internal/output"
	"github.com/insys-icom/mcip-tool/internal/session"
	"github.com/insys-icom/mcip-tool/internal/telegram"
	"github.com/insys-icom/mcip-tool/internal/transport"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "MCIP_TOOL_CONFIG"

// Config is the complete tool configuration.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	CLI     CLIConfig     `yaml:"cli"`
	Layouts LayoutsConfig `yaml:"layouts"`
	Log     LogConfig     `yaml:"log"`
	Output  OutputConfig  `yaml:"output"`
}

// BusConfig configures the message bus connection.
type BusConfig struct {
	Socket      string          `yaml:"socket"`
	PollTimeout time.Duration   `yaml:"poll_timeout"`
	Reconnect   session.Backoff `yaml:"reconnect"`
}

// CLIConfig configures the control-plane connection.
type CLIConfig struct {
	Socket  string        `yaml:"socket"`
	Timeout time.Duration `yaml:"timeout"`
}

// LayoutsConfig holds the offset convention of each consumer.
type LayoutsConfig struct {
	Generic telegram.Layout `yaml:"generic"`
	Event   telegram.Layout `yaml:"event"`
	SMS     telegram.Layout `yaml:"sms"`
}

// LogConfig configures diagnostics on stderr.
type LogConfig struct {
	Level string `yaml:"level"`
}

// OutputConfig selects how telegrams are printed.
type OutputConfig struct {
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Socket:      transport.DefaultBusSocket,
			PollTimeout: session.DefaultPollTimeout,
			Reconnect:   session.DefaultBackoff,
		},
		CLI: CLIConfig{
			Socket:  command.DefaultSocket,
			Timeout: command.DefaultTimeout,
		},
		Layouts: LayoutsConfig{
			Generic: telegram.GenericLayout,
			Event:   telegram.EventLayout,
			SMS:     telegram.SMSLayout,
		},
		Log:    LogConfig{Level: "warn"},
		Output: OutputConfig{Format: output.Text.String()},
	}
}

// Load reads the file at path, or at $MCIP_TOOL_CONFIG when path is empty.
// With neither set it returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates the file at path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Bus.Socket == "" {
		errs = append(errs, errors.New("bus.socket is required"))
	}
	if c.Bus.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bus.poll_timeout must be positive, got %v", c.Bus.PollTimeout))
	}
	r := c.Bus.Reconnect
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		errs = append(errs, errors.New("bus.reconnect delays must not be negative"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("bus.reconnect.multiplier must be at least 1, got %v", r.Multiplier))
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("bus.reconnect.max_attempts must not be negative, got %d", r.MaxAttempts))
	}
	if c.CLI.Socket == "" {
		errs = append(errs, errors.New("cli.socket is required"))
	}
	if c.CLI.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("cli.timeout must be positive, got %v", c.CLI.Timeout))
	}
	for _, l := range []telegram.Layout{c.Layouts.Generic, c.Layouts.Event, c.Layouts.SMS} {
		if err := l.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, fmt.Errorf("output.format: %w", err))
	}

	return errors.Join(errs...)
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
