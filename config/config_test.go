package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abcdqfr/rtl433-ha/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtl433d.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.DeviceID)
	assert.Equal(t, "433.92M", cfg.Frequency)
	assert.Equal(t, "auto", cfg.Gain)
	assert.Equal(t, 3600, cfg.DeviceTimeoutSeconds)
	assert.Equal(t, 60, cfg.SweepIntervalSeconds)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 9433, cfg.Metrics.Port)
	assert.False(t, cfg.Sinks.MQTT.Enabled)
	assert.False(t, cfg.Sinks.NATS.Enabled)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
device_id: 1
frequency: "868M"
gain: "28"
protocol_filter: [1, 20, 73]
device_timeout: 120
sweep_interval: 15
decoder_path: /usr/local/bin/rtl_433
restart:
  max_attempts: 5
  initial_delay: 2s
  max_delay: 30s
log:
  level: debug
  format: text
metrics:
  enabled: true
  port: 9999
  path: /metrics
sinks:
  mqtt:
    enabled: true
    broker: tcp://broker:1883
    topic_prefix: home/rtl433
    qos: 1
    retain: true
  nats:
    enabled: true
    url: nats://nats:4222
`))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.DeviceID)
	assert.Equal(t, []int{1, 20, 73}, cfg.ProtocolFilter)
	assert.Equal(t, 5, cfg.Restart.MaxAttempts)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Restart.InitialDelay))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Restart.MaxDelay))
	assert.True(t, cfg.Sinks.MQTT.Enabled)
	assert.Equal(t, byte(1), cfg.Sinks.MQTT.QoS)

	settings := cfg.Settings()
	assert.Equal(t, 120*time.Second, settings.DeviceTimeout)
	assert.Equal(t, 15*time.Second, settings.SweepInterval)
	assert.Equal(t, "/usr/local/bin/rtl_433", settings.Command.Path)
	assert.Equal(t, "868M", settings.Command.Frequency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/rtl433d.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "frequency: [unclosed\n"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative device id", func(c *Config) { c.DeviceID = -2 }},
		{"empty frequency", func(c *Config) { c.Frequency = "" }},
		{"bad gain", func(c *Config) { c.Gain = "very loud" }},
		{"gain above range", func(c *Config) { c.Gain = "51" }},
		{"negative timeout", func(c *Config) { c.DeviceTimeoutSeconds = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = -1 }},
		{"mqtt enabled without broker", func(c *Config) {
			c.Sinks.MQTT.Enabled = true
			c.Sinks.MQTT.Broker = ""
		}},
		{"nats enabled without url", func(c *Config) {
			c.Sinks.NATS.Enabled = true
			c.Sinks.NATS.URL = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestDuration_Unmarshal(t *testing.T) {
	cfg, err := Load(writeConfig(t, "restart:\n  initial_delay: 1m30s\n"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, time.Duration(cfg.Restart.InitialDelay))

	_, err = Load(writeConfig(t, "restart:\n  initial_delay: ninety\n"))
	require.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "device_id: 0\n")

	changed := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) error {
		select {
		case changed <- cfg:
		default:
		}
		return nil
	}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// give the watcher a moment to arm before rewriting
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("device_id: 3\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 3, cfg.DeviceID)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatcher_IgnoresInvalidEdit(t *testing.T) {
	path := writeConfig(t, "device_id: 0\n")

	changed := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) error {
		changed <- cfg
		return nil
	}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("device_id: -5\n"), 0o644))

	select {
	case cfg := <-changed:
		t.Fatalf("invalid config should not have been applied: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
