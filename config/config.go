// Package config loads the process-wide configuration knobs read once at
// module init (§6): the EMI reserved-bits workaround flag, the process
// communicator's response timeout, the default message priority, and the
// serial link's port settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxlink/address"
)

// Config is the root configuration structure.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Process ProcessConfig `yaml:"process"`
	CEMI    CEMIConfig    `yaml:"cemi"`
	Logging LoggingConfig `yaml:"logging"`
}

// SerialConfig holds the FT1.2 link's port settings (§6).
type SerialConfig struct {
	// Port is a platform-specific serial device identifier (e.g.
	// "/dev/ttyUSB0", `\\.\COM3`).
	Port string `yaml:"port"`
	// BaudRate is one of 9600, 19200 (default), 38400, 57600, 115200.
	BaudRate int `yaml:"baud_rate"`
}

// ProcessConfig holds the process communicator's knobs (§6).
type ProcessConfig struct {
	// ResponseTimeoutMS is the readFromGroup response wait budget, in
	// milliseconds. Default 5000; must be > 0.
	ResponseTimeoutMS int `yaml:"response_timeout_ms"`
	// Priority is the default send priority: "system", "urgent", "normal",
	// or "low". Default "low".
	Priority string `yaml:"priority"`
	// UseGoDiagnostics enables Group Object Diagnostics routing for secured
	// writes when a group key is present (§6).
	UseGoDiagnostics bool `yaml:"use_go_diagnostics"`
}

// CEMIConfig holds the cEMI/EMI codec's process-wide flags (§6, §9).
type CEMIConfig struct {
	// SetReservedEMICtrlBits forces reserved EMI1/2 control bits 0xB0 on, a
	// workaround for non-conforming USB sticks.
	SetReservedEMICtrlBits bool `yaml:"set_reserved_emi_ctrl_bits"`
}

// LoggingConfig selects the logger's output (mirrors knxlog.Config so
// callers can load one YAML document for both).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

var supportedBaudRates = map[int]bool{
	9600: true, 19200: true, 38400: true, 57600: true, 115200: true,
}

// ResponseTimeout returns ProcessConfig.ResponseTimeoutMS as a Duration.
func (c ProcessConfig) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMS) * time.Millisecond
}

// PriorityValue resolves Priority to its address.Priority encoding.
func (c ProcessConfig) PriorityValue() (address.Priority, error) {
	switch c.Priority {
	case "system":
		return address.PrioritySystem, nil
	case "urgent":
		return address.PriorityUrgent, nil
	case "normal":
		return address.PriorityNormal, nil
	case "low", "":
		return address.PriorityLow, nil
	default:
		return 0, fmt.Errorf("%w: unknown priority %q", ErrInvalidConfig, c.Priority)
	}
}

// Default returns a Config with the defaults named in §6.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{BaudRate: 19200},
		Process: ProcessConfig{
			ResponseTimeoutMS: 5000,
			Priority:          "low",
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load reads configuration from a YAML file over the defaults and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against the constraints in §6 and §8.
func (c *Config) Validate() error {
	if c.Process.ResponseTimeoutMS <= 0 {
		return fmt.Errorf("%w: process.response_timeout_ms must be > 0", ErrInvalidConfig)
	}
	if _, err := c.Process.PriorityValue(); err != nil {
		return err
	}
	if c.Serial.BaudRate != 0 && !supportedBaudRates[c.Serial.BaudRate] {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidConfig, c.Serial.BaudRate)
	}
	return nil
}
