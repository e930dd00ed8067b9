package config

import (
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/pdctl/internal/autopause"
	"codeberg.org/mutker/pdctl/internal/capture"
	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/export"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const (
	DefaultEnvPrefix  = "PDCTL"
	DefaultConfigName = "pdctl"
	DefaultLogLevel   = "info"

	DefaultMonitorInterval = 5 * time.Second
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Device    device.Selector `mapstructure:"device"`
	Replay    ReplayConfig    `mapstructure:"replay"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	AutoPause AutoPauseConfig `mapstructure:"autopause"`
	Export    ExportConfig    `mapstructure:"export"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// ReplayConfig configures the capture file driver
type ReplayConfig struct {
	File  string  `mapstructure:"file"`
	Speed float64 `mapstructure:"speed"`
	Loop  bool    `mapstructure:"loop"`
}

type CaptureConfig struct {
	QueueSize           int           `mapstructure:"queue_size"`
	ProtocolCap         int           `mapstructure:"protocol_cap"`
	MeasurementCap      int           `mapstructure:"measurement_cap"`
	DrainInterval       time.Duration `mapstructure:"drain_interval"`
	BatchInterval       time.Duration `mapstructure:"batch_interval"`
	MeasurementInterval time.Duration `mapstructure:"measurement_interval"`
	GracePeriod         time.Duration `mapstructure:"grace_period"`
	Autostart           bool          `mapstructure:"autostart"`
}

type AutoPauseConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Metric           string  `mapstructure:"metric"`
	VoltageThreshold float64 `mapstructure:"voltage_threshold"`
	CurrentThreshold float64 `mapstructure:"current_threshold"`
	DelaySeconds     float64 `mapstructure:"delay_seconds"`
}

type ExportConfig struct {
	OnExit string `mapstructure:"on_exit"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	def := capture.DefaultConfig()

	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("device.path", "")
	v.SetDefault("device.vid", 0)
	v.SetDefault("device.pid", 0)

	v.SetDefault("replay.file", "")
	v.SetDefault("replay.speed", 1.0)
	v.SetDefault("replay.loop", false)

	v.SetDefault("capture.queue_size", def.QueueSize)
	v.SetDefault("capture.protocol_cap", store.DefaultProtocolCap)
	v.SetDefault("capture.measurement_cap", store.DefaultMeasurementCap)
	v.SetDefault("capture.drain_interval", def.DrainInterval)
	v.SetDefault("capture.batch_interval", def.BatchInterval)
	v.SetDefault("capture.measurement_interval", def.MeasurementInterval)
	v.SetDefault("capture.grace_period", def.GracePeriod)
	v.SetDefault("capture.autostart", false)

	v.SetDefault("autopause.enabled", false)
	v.SetDefault("autopause.metric", string(telemetry.MetricVoltage))
	v.SetDefault("autopause.voltage_threshold", capture.DefaultVoltageThreshold)
	v.SetDefault("autopause.current_threshold", capture.DefaultCurrentThreshold)
	v.SetDefault("autopause.delay_seconds", 0.0)

	v.SetDefault("export.on_exit", "")
	v.SetDefault("http.listen", "")
	v.SetDefault("monitor.interval", DefaultMonitorInterval)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(DefaultConfigName, pflag.ContinueOnError)

	fs.String("config", "", "Path to configuration file")
	fs.String("log-level", "", "Log level (debug, info, warning, error)")
	fs.String("device-path", "", "Device path to open")
	fs.Uint16("vid", 0, "USB vendor id of the device")
	fs.Uint16("pid", 0, "USB product id of the device")
	fs.String("replay", "", "Capture file to play back")
	fs.Float64("replay-speed", 1.0, "Playback speed factor, 0 for as fast as possible")
	fs.Bool("replay-loop", false, "Restart playback at end of file")
	fs.Bool("autostart", false, "Connect and start capturing on launch")
	fs.String("listen", "", "Address of the HTTP control surface")
	fs.String("export-on-exit", "", "Write a snapshot to this file on shutdown (.csv or .db)")

	return fs
}

var flagKeys = map[string]string{
	"log-level":      "log_level",
	"device-path":    "device.path",
	"vid":            "device.vid",
	"pid":            "device.pid",
	"replay":         "replay.file",
	"replay-speed":   "replay.speed",
	"replay-loop":    "replay.loop",
	"autostart":      "capture.autostart",
	"listen":         "http.listen",
	"export-on-exit": "export.on_exit",
}

// Load reads configuration from flags, environment and the TOML file, in
// that order of precedence, and validates it.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet && len(os.Args) > 1 {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/pdctl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field and reports all violations at once
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	var errs []ValidationError
	check := func(ok bool, field string, value interface{}, reason string) {
		if !ok {
			errs = append(errs, validationError{field: field, value: value, reason: reason})
		}
	}

	check(c.Capture.QueueSize > 0, "capture.queue_size", c.Capture.QueueSize, "must be positive")
	check(c.Capture.ProtocolCap > 0, "capture.protocol_cap", c.Capture.ProtocolCap, "must be positive")
	check(c.Capture.MeasurementCap > 0, "capture.measurement_cap", c.Capture.MeasurementCap, "must be positive")
	check(c.Capture.DrainInterval > 0, "capture.drain_interval", c.Capture.DrainInterval, "must be positive")
	check(c.Capture.BatchInterval > 0, "capture.batch_interval", c.Capture.BatchInterval, "must be positive")
	check(c.Capture.MeasurementInterval > 0, "capture.measurement_interval", c.Capture.MeasurementInterval, "must be positive")
	check(c.Capture.GracePeriod > 0, "capture.grace_period", c.Capture.GracePeriod, "must be positive")
	check(autopause.InRange(c.Replay.Speed, 0, math.MaxFloat64), "replay.speed", c.Replay.Speed, "must not be negative")
	check(c.Monitor.Interval >= 0, "monitor.interval", c.Monitor.Interval, "must not be negative")

	metric, err := telemetry.ParseMetric(c.AutoPause.Metric)
	check(err == nil && metric != telemetry.MetricPower, "autopause.metric", c.AutoPause.Metric, "must be voltage or current")
	check(autopause.InRange(c.AutoPause.VoltageThreshold, 0, autopause.MaxVoltageThreshold),
		"autopause.voltage_threshold", c.AutoPause.VoltageThreshold, "must be between 0 and 20")
	check(autopause.InRange(c.AutoPause.CurrentThreshold, 0, autopause.MaxCurrentThreshold),
		"autopause.current_threshold", c.AutoPause.CurrentThreshold, "must be between 0 and 5")
	check(autopause.InRange(c.AutoPause.DelaySeconds, 0, autopause.MaxDelay.Seconds()),
		"autopause.delay_seconds", c.AutoPause.DelaySeconds, "must be between 0 and 10")

	if c.Export.OnExit != "" {
		_, err := export.FormatFor(c.Export.OnExit)
		check(err == nil, "export.on_exit", c.Export.OnExit, "must end in .csv or .db")
	}

	if len(errs) == 0 {
		return nil
	}

	return errFactory.WithData(errors.ErrConfigValidationFailed, errs)
}

// AutoPauseSettings converts the file representation into controller
// settings.
func (c *Config) AutoPauseSettings() (autopause.Config, error) {
	metric, err := telemetry.ParseMetric(c.AutoPause.Metric)
	if err != nil {
		return autopause.Config{}, errors.New().Wrap(errors.ErrConfigValidationFailed, err)
	}

	if !autopause.InRange(c.AutoPause.DelaySeconds, 0, autopause.MaxDelay.Seconds()) {
		fe := autopause.FieldError{Field: "delay_seconds", Value: c.AutoPause.DelaySeconds, Reason: "must be between 0 and 10"}
		return autopause.Config{}, errors.New().Wrap(errors.ErrConfigValidationFailed, fe).WithData(fe)
	}

	ap := autopause.Config{
		Enabled:          c.AutoPause.Enabled,
		Metric:           metric,
		VoltageThreshold: c.AutoPause.VoltageThreshold,
		CurrentThreshold: c.AutoPause.CurrentThreshold,
		Delay:            time.Duration(c.AutoPause.DelaySeconds * float64(time.Second)),
	}

	return ap, ap.Validate()
}

// CaptureSettings builds the capture session configuration
func (c *Config) CaptureSettings() (capture.Config, error) {
	ap, err := c.AutoPauseSettings()
	if err != nil {
		return capture.Config{}, err
	}

	return capture.Config{
		QueueSize: c.Capture.QueueSize,
		Store: store.Config{
			ProtocolCap:    c.Capture.ProtocolCap,
			MeasurementCap: c.Capture.MeasurementCap,
		},
		DrainInterval:       c.Capture.DrainInterval,
		BatchInterval:       c.Capture.BatchInterval,
		MeasurementInterval: c.Capture.MeasurementInterval,
		GracePeriod:         c.Capture.GracePeriod,
		AutoPause:           ap,
	}, nil
}
