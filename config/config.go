// Package config loads and validates the daemon configuration from a
// YAML file and watches it for live changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abcdqfr/rtl433-ha/coordinator"
	"github.com/abcdqfr/rtl433-ha/errors"
	"github.com/abcdqfr/rtl433-ha/supervisor"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the full daemon configuration.
type Config struct {
	// DeviceID is the SDR device index.
	DeviceID int `yaml:"device_id"`

	// Frequency is the tuning frequency with unit suffix, e.g. "433.92M".
	Frequency string `yaml:"frequency"`

	// Gain is the tuner gain, 0-50 or "auto".
	Gain string `yaml:"gain"`

	// ProtocolFilter restricts decoding to these protocol numbers.
	// Empty means the default protocol set.
	ProtocolFilter []int `yaml:"protocol_filter"`

	// DeviceTimeoutSeconds is how long a quiet device stays available.
	DeviceTimeoutSeconds int `yaml:"device_timeout"`

	// SweepIntervalSeconds is the availability sweep cadence.
	SweepIntervalSeconds int `yaml:"sweep_interval"`

	// DecoderPath overrides the rtl_433 binary location.
	DecoderPath string `yaml:"decoder_path"`

	Restart RestartConfig `yaml:"restart"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sinks   SinksConfig   `yaml:"sinks"`
}

// RestartConfig tunes the decoder restart backoff.
type RestartConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig controls the metrics/health HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// SinksConfig holds the optional outbound event publishers.
type SinksConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
	NATS NATSConfig `yaml:"nats"`
}

// MQTTConfig configures the MQTT change-event sink.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// NATSConfig configures the NATS change-event sink.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Name          string `yaml:"name"`
}

// Default returns the configuration used when fields are absent.
func Default() *Config {
	return &Config{
		DeviceID:             0,
		Frequency:            "433.92M",
		Gain:                 "auto",
		DeviceTimeoutSeconds: 3600,
		SweepIntervalSeconds: 60,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9433,
			Path:    "/metrics",
		},
		Sinks: SinksConfig{
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				ClientID:    "rtl433d",
				TopicPrefix: "rtl433",
			},
			NATS: NATSConfig{
				URL:           "nats://localhost:4222",
				SubjectPrefix: "rtl433.events",
				Name:          "rtl433d",
			},
		},
	}
}

// Load reads and validates a YAML config file. Absent fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "Load", "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Command().Validate(); err != nil {
		return err
	}
	if c.DeviceTimeoutSeconds < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative device_timeout %d", c.DeviceTimeoutSeconds),
			"config", "Validate", "device timeout validation")
	}
	if c.SweepIntervalSeconds < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative sweep_interval %d", c.SweepIntervalSeconds),
			"config", "Validate", "sweep interval validation")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown log level %q", c.Log.Level),
			"config", "Validate", "log level validation")
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown log format %q", c.Log.Format),
			"config", "Validate", "log format validation")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(fmt.Errorf("invalid metrics port %d", c.Metrics.Port),
			"config", "Validate", "metrics port validation")
	}
	if c.Sinks.MQTT.Enabled && c.Sinks.MQTT.Broker == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "mqtt broker validation")
	}
	if c.Sinks.NATS.Enabled && c.Sinks.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "nats url validation")
	}
	return nil
}

// Command builds the decoder command line from the configuration.
func (c *Config) Command() supervisor.Command {
	return supervisor.Command{
		Path:      c.DecoderPath,
		Device:    c.DeviceID,
		Frequency: c.Frequency,
		Gain:      c.Gain,
		Protocols: c.ProtocolFilter,
	}
}

// Settings builds the coordinator settings from the configuration.
func (c *Config) Settings() coordinator.Settings {
	return coordinator.Settings{
		Command:       c.Command(),
		DeviceTimeout: time.Duration(c.DeviceTimeoutSeconds) * time.Second,
		SweepInterval: time.Duration(c.SweepIntervalSeconds) * time.Second,
		Restart: coordinator.RestartPolicy{
			MaxAttempts:  c.Restart.MaxAttempts,
			InitialDelay: time.Duration(c.Restart.InitialDelay),
			MaxDelay:     time.Duration(c.Restart.MaxDelay),
		},
	}
}
