// Package config loads picarctl settings from defaults, a TOML file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	DefaultConfigPath = "/etc/picarctl.toml"
	defaultEnvPrefix  = "PICARCTL"

	maxPower     = 100
	maxThreshold = 0xFFFF
)

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	PIDDir      string            `mapstructure:"pid_dir"`
	Control     ControlConfig     `mapstructure:"control"`
	Evade       EvadeConfig       `mapstructure:"evade"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Motors      MotorsConfig      `mapstructure:"motors"`
	I2C         I2CConfig         `mapstructure:"i2c"`
	Grayscale   GrayscaleConfig   `mapstructure:"grayscale"`
	Reset       ResetConfig       `mapstructure:"reset"`
	Speed       SpeedConfig       `mapstructure:"speed"`
	Server      ServerConfig      `mapstructure:"server"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ControlConfig struct {
	Power         int           `mapstructure:"power"`
	LineFollow    bool          `mapstructure:"line_follow"`
	LineThreshold int           `mapstructure:"line_threshold"`
	EdgeGuard     bool          `mapstructure:"edge_guard"`
	EdgeThreshold int           `mapstructure:"edge_threshold"`
	LineLost      string        `mapstructure:"line_lost"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	TickBudget    time.Duration `mapstructure:"tick_budget"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
}

type EvadeConfig struct {
	Power    int           `mapstructure:"power"`
	Duration time.Duration `mapstructure:"duration"`
}

type TelemetryConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	GrayscaleReport bool          `mapstructure:"grayscale_report"`
	Diagnostics     bool          `mapstructure:"diagnostics"`
}

type DiagnosticsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Disk     string        `mapstructure:"disk"`
}

type MotorsConfig struct {
	Address           int  `mapstructure:"address"`
	LeftFrontReverse  bool `mapstructure:"left_front_reverse"`
	RightFrontReverse bool `mapstructure:"right_front_reverse"`
	LeftRearReverse   bool `mapstructure:"left_rear_reverse"`
	RightRearReverse  bool `mapstructure:"right_rear_reverse"`
}

type I2CConfig struct {
	Bus string `mapstructure:"bus"`
}

type GrayscaleConfig struct {
	Channels  []string `mapstructure:"channels"`
	Addresses []int    `mapstructure:"addresses"`
}

type ResetConfig struct {
	Pin string `mapstructure:"pin"`
}

type SpeedConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	LeftRearPin   string        `mapstructure:"left_rear_pin"`
	RightRearPin  string        `mapstructure:"right_rear_pin"`
	Window        time.Duration `mapstructure:"window"`
	Slots         int           `mapstructure:"slots"`
	WheelDiameter float64       `mapstructure:"wheel_diameter"`
}

type ServerConfig struct {
	ControlAddr   string        `mapstructure:"control_addr"`
	TelemetryAddr string        `mapstructure:"telemetry_addr"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	CommandTopic   string        `mapstructure:"command_topic"`
	TelemetryTopic string        `mapstructure:"telemetry_topic"`
	QoS            int           `mapstructure:"qos"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DBPath         string        `mapstructure:"db_path"`
	BackupDir      string        `mapstructure:"backup_dir"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

var defaults = map[string]any{
	"log_level": DefaultLogLevel,
	"pid_dir":   "",

	"control.power":          50,
	"control.line_follow":    false,
	"control.line_threshold": 400,
	"control.edge_guard":     false,
	"control.edge_threshold": 110,
	"control.line_lost":      "forward",
	"control.tick_interval":  time.Duration(0),
	"control.tick_budget":    50 * time.Millisecond,
	"control.error_backoff":  10 * time.Millisecond,

	"evade.power":    20,
	"evade.duration": 500 * time.Millisecond,

	"telemetry.interval":         10 * time.Millisecond,
	"telemetry.grayscale_report": false,
	"telemetry.diagnostics":      false,

	"diagnostics.interval": time.Second,
	"diagnostics.disk":     "/",

	"motors.address":             0x14,
	"motors.left_front_reverse":  false,
	"motors.right_front_reverse": false,
	"motors.left_rear_reverse":   false,
	"motors.right_rear_reverse":  false,

	"i2c.bus": "",

	"grayscale.channels":  []string{"A5", "A6", "A7"},
	"grayscale.addresses": []int{0x14, 0x15},

	"reset.pin": "GPIO5",

	"speed.enabled":        true,
	"speed.left_rear_pin":  "GPIO25",
	"speed.right_rear_pin": "GPIO4",
	"speed.window":         500 * time.Millisecond,
	"speed.slots":          20,
	"speed.wheel_diameter": 6.6,

	"server.control_addr":   ":8765",
	"server.telemetry_addr": ":8766",
	"server.write_timeout":  time.Second,

	"mqtt.enabled":         false,
	"mqtt.broker":          "tcp://localhost:1883",
	"mqtt.client_id":       "picarctl",
	"mqtt.username":        "",
	"mqtt.password":        "",
	"mqtt.command_topic":   "",
	"mqtt.telemetry_topic": "",
	"mqtt.qos":             0,
	"mqtt.timeout":         time.Second,

	"metrics.enabled":         false,
	"metrics.db_path":         "/var/lib/picarctl/telemetry.db",
	"metrics.backup_dir":      "/var/lib/picarctl/backups",
	"metrics.batch_size":      50,
	"metrics.batch_timeout":   5 * time.Second,
	"metrics.sample_interval": time.Second,
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":      "log_level",
	"power":          "control.power",
	"line-follow":    "control.line_follow",
	"edge-guard":     "control.edge_guard",
	"control-addr":   "server.control_addr",
	"telemetry-addr": "server.telemetry_addr",
	"i2c-bus":        "i2c.bus",
	"mqtt":           "mqtt.enabled",
	"mqtt-broker":    "mqtt.broker",
	"metrics":        "metrics.enabled",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("picarctl", pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Int("power", 50, "Default drive power (0-100)")
	fs.Bool("line-follow", false, "Enable line following at startup")
	fs.Bool("edge-guard", false, "Enable the edge guard at startup")
	fs.String("control-addr", ":8765", "Listen address of the command websocket")
	fs.String("telemetry-addr", ":8766", "Listen address of the telemetry websocket")
	fs.String("i2c-bus", "", "I2C bus name (first available when empty)")
	fs.Bool("mqtt", false, "Mirror commands and telemetry over MQTT")
	fs.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	fs.Bool("metrics", false, "Record telemetry history to sqlite")

	return fs
}

// Load reads the configuration. The file is taken from WithConfigFile, the
// --config flag, the <PREFIX>_CONFIG variable or DefaultConfigPath, in that
// order; only an explicitly named file has to exist.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if o.args == nil {
		o.args = os.Args[1:]
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o *options) error {
	errFactory := errors.New()

	path, explicit := o.configPath, o.configPath != ""
	if !explicit {
		path, _ = fs.GetString("config")
		explicit = path != ""
	}
	if !explicit {
		path = os.Getenv(o.envPrefix + "_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultConfigPath
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.WithData(errors.ErrReadConfig, struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}

	return nil
}

func (c *Config) applyDerived() {
	if c.MQTT.CommandTopic == "" {
		c.MQTT.CommandTopic = "picar/" + c.MQTT.ClientID + "/command"
	}
	if c.MQTT.TelemetryTopic == "" {
		c.MQTT.TelemetryTopic = "picar/" + c.MQTT.ClientID + "/telemetry"
	}
}

// Validate checks ranges that the components would otherwise reject late.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	invalid := func(field string, value any) error {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value any
		}{
			Field: field,
			Value: value,
		})
	}

	switch {
	case c.Control.Power < 0 || c.Control.Power > maxPower:
		return invalid("control.power", c.Control.Power)
	case c.Control.LineThreshold < 0 || c.Control.LineThreshold > maxThreshold:
		return invalid("control.line_threshold", c.Control.LineThreshold)
	case c.Control.EdgeThreshold < 0 || c.Control.EdgeThreshold > maxThreshold:
		return invalid("control.edge_threshold", c.Control.EdgeThreshold)
	case c.Control.LineLost != "forward" && c.Control.LineLost != "stop":
		return invalid("control.line_lost", c.Control.LineLost)
	case c.Control.TickInterval < 0 || c.Control.TickBudget < 0 || c.Control.ErrorBackoff < 0:
		return invalid("control.tick_*", c.Control)
	case c.Evade.Power < 0 || c.Evade.Power > maxPower:
		return invalid("evade.power", c.Evade.Power)
	case c.Evade.Duration < 0:
		return invalid("evade.duration", c.Evade.Duration)
	case c.Telemetry.Interval <= 0:
		return invalid("telemetry.interval", c.Telemetry.Interval)
	case len(c.Grayscale.Channels) != 3:
		return invalid("grayscale.channels", c.Grayscale.Channels)
	case len(c.Grayscale.Addresses) == 0:
		return invalid("grayscale.addresses", c.Grayscale.Addresses)
	case c.MQTT.QoS < 0 || c.MQTT.QoS > 2:
		return invalid("mqtt.qos", c.MQTT.QoS)
	}

	for _, addr := range append([]int{c.Motors.Address}, c.Grayscale.Addresses...) {
		if addr <= 0 || addr > 0x7F {
			return invalid("i2c address", addr)
		}
	}

	return nil
}
