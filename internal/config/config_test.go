package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/picarctl/internal/config"
	"codeberg.org/mutker/picarctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "picarctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func load(t *testing.T, opts ...config.Option) (*config.Config, error) {
	t.Helper()
	// Keep the host's /etc file and variables out of the test.
	t.Setenv("PICARCTL_CONFIG", "")
	return config.Load(append([]config.Option{config.WithArgs([]string{})}, opts...)...)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[control]
power = 35
line_follow = true
line_threshold = 300
edge_guard = true
edge_threshold = 120
line_lost = "stop"
tick_interval = "5ms"

[evade]
power = 30
duration = "750ms"

[motors]
left_front_reverse = true
right_rear_reverse = true

[grayscale]
channels = ["A0", "A1", "A2"]

[mqtt]
enabled = true
client_id = "car7"

[metrics]
enabled = true
db_path = "/tmp/picar.db"
`)

	cfg, err := load(t, config.WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 35, cfg.Control.Power)
	assert.True(t, cfg.Control.LineFollow)
	assert.Equal(t, 300, cfg.Control.LineThreshold)
	assert.True(t, cfg.Control.EdgeGuard)
	assert.Equal(t, 120, cfg.Control.EdgeThreshold)
	assert.Equal(t, "stop", cfg.Control.LineLost)
	assert.Equal(t, 5*time.Millisecond, cfg.Control.TickInterval)
	assert.Equal(t, 30, cfg.Evade.Power)
	assert.Equal(t, 750*time.Millisecond, cfg.Evade.Duration)
	assert.True(t, cfg.Motors.LeftFrontReverse)
	assert.False(t, cfg.Motors.RightFrontReverse)
	assert.True(t, cfg.Motors.RightRearReverse)
	assert.Equal(t, []string{"A0", "A1", "A2"}, cfg.Grayscale.Channels)
	assert.Equal(t, "picar/car7/command", cfg.MQTT.CommandTopic)
	assert.Equal(t, "picar/car7/telemetry", cfg.MQTT.TelemetryTopic)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/tmp/picar.db", cfg.Metrics.DBPath)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, config.WithEnvPrefix("PICARCTL_TEST_DEFAULTS"))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, 50, cfg.Control.Power)
	assert.Equal(t, 400, cfg.Control.LineThreshold)
	assert.Equal(t, 110, cfg.Control.EdgeThreshold)
	assert.Equal(t, "forward", cfg.Control.LineLost)
	assert.Equal(t, 50*time.Millisecond, cfg.Control.TickBudget)
	assert.Equal(t, 20, cfg.Evade.Power)
	assert.Equal(t, 500*time.Millisecond, cfg.Evade.Duration)
	assert.Equal(t, 10*time.Millisecond, cfg.Telemetry.Interval)
	assert.Equal(t, []string{"A5", "A6", "A7"}, cfg.Grayscale.Channels)
	assert.Equal(t, []int{0x14, 0x15}, cfg.Grayscale.Addresses)
	assert.Equal(t, 0x14, cfg.Motors.Address)
	assert.Equal(t, "GPIO5", cfg.Reset.Pin)
	assert.Equal(t, ":8765", cfg.Server.ControlAddr)
	assert.Equal(t, ":8766", cfg.Server.TelemetryAddr)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "picar/picarctl/command", cfg.MQTT.CommandTopic)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[control]\npower = 35\n")
	t.Setenv("PICARCTL_CONTROL_POWER", "70")

	cfg, err := load(t, config.WithConfigFile(path))
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Control.Power)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PICARCTL_CONTROL_POWER", "70")

	cfg, err := load(t, config.WithArgs([]string{"--power", "90", "--log-level", "debug", "--line-follow"}))
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Control.Power)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Control.LineFollow)
}

func TestConfigFileFromEnv(t *testing.T) {
	path := writeConfig(t, "[control]\nedge_threshold = 222\n")

	cfg, err := config.Load(config.WithArgs([]string{}), config.WithEnvPrefix("PICARTEST"))
	require.NoError(t, err)
	assert.Equal(t, 110, cfg.Control.EdgeThreshold)

	t.Setenv("PICARTEST_CONFIG", path)
	cfg, err = config.Load(config.WithArgs([]string{}), config.WithEnvPrefix("PICARTEST"))
	require.NoError(t, err)
	assert.Equal(t, 222, cfg.Control.EdgeThreshold)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, "This is not a valid TOML file\n")

	_, err := load(t, config.WithConfigFile(path))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := load(t, config.WithConfigFile(filepath.Join(t.TempDir(), "absent.toml")))
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `log_level = "invalid"`)

	_, err := load(t, config.WithConfigFile(path))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"power", "[control]\npower = 101"},
		{"negative threshold", "[control]\nline_threshold = -1"},
		{"line lost policy", "[control]\nline_lost = \"spin\""},
		{"evade power", "[evade]\npower = -5"},
		{"channels", "[grayscale]\nchannels = [\"A0\", \"A1\"]"},
		{"address", "[grayscale]\naddresses = [0x80]"},
		{"qos", "[mqtt]\nqos = 3"},
		{"telemetry interval", "[telemetry]\ninterval = \"0s\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, config.WithConfigFile(writeConfig(t, tt.content)))
			assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestHelpFlag(t *testing.T) {
	_, err := load(t, config.WithArgs([]string{"--help"}))
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLogLevel(t *testing.T) {
	assert.True(t, config.LogLevelWarning.IsValid())
	assert.False(t, config.LogLevel("trace").IsValid())
	assert.Equal(t, "info", config.LogLevelInfo.String())
}
