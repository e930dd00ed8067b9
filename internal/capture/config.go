package capture

import (
	"time"

	"codeberg.org/mutker/pdctl/internal/autopause"
	"codeberg.org/mutker/pdctl/internal/ingest"
	"codeberg.org/mutker/pdctl/internal/queue"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const (
	DefaultDrainInterval = 50 * time.Millisecond
	DefaultBatchInterval = 200 * time.Millisecond
	DefaultGracePeriod   = 2 * time.Second

	DefaultVoltageThreshold = 5.0
	DefaultCurrentThreshold = 0.1
)

type Config struct {
	QueueSize           int
	Store               store.Config
	DrainInterval       time.Duration
	BatchInterval       time.Duration
	MeasurementInterval time.Duration
	GracePeriod         time.Duration
	AutoPause           autopause.Config
}

func DefaultConfig() Config {
	return Config{
		QueueSize:           queue.DefaultCapacity,
		Store:               store.DefaultConfig(),
		DrainInterval:       DefaultDrainInterval,
		BatchInterval:       DefaultBatchInterval,
		MeasurementInterval: ingest.DefaultMinInterval,
		GracePeriod:         DefaultGracePeriod,
		AutoPause: autopause.Config{
			Metric:           telemetry.MetricVoltage,
			VoltageThreshold: DefaultVoltageThreshold,
			CurrentThreshold: DefaultCurrentThreshold,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = def.DrainInterval
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = def.BatchInterval
	}
	if c.MeasurementInterval <= 0 {
		c.MeasurementInterval = def.MeasurementInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = def.GracePeriod
	}
	if c.AutoPause.Metric == "" {
		c.AutoPause.Metric = def.AutoPause.Metric
	}

	return c
}
