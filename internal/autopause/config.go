package autopause

import (
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const (
	MaxVoltageThreshold = 20.0
	MaxCurrentThreshold = 5.0
	MaxDelay            = 10 * time.Second
)

// Config keeps a threshold per metric so switching the metric does not lose
// the other one.
type Config struct {
	Enabled          bool
	Metric           telemetry.Metric
	VoltageThreshold float64
	CurrentThreshold float64
	Delay            time.Duration
}

// Threshold returns the threshold of the selected metric
func (c Config) Threshold() float64 {
	if c.Metric == telemetry.MetricCurrent {
		return c.CurrentThreshold
	}
	return c.VoltageThreshold
}

// FieldError names the configuration field that failed validation
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.Field, e.Value, e.Reason)
}

// InRange reports whether v is a finite number within [lo, hi]
func InRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}

// Validate checks metric and ranges: voltage [0,20] V, current [0,5] A,
// delay [0,10] s. Both thresholds are checked whichever metric is active.
func (c Config) Validate() error {
	errFactory := errors.New()
	fail := func(field string, value any, reason string) error {
		fe := FieldError{Field: field, Value: value, Reason: reason}
		return errFactory.Wrap(errors.ErrConfigValidationFailed, fe).WithData(fe)
	}

	switch c.Metric {
	case telemetry.MetricVoltage, telemetry.MetricCurrent:
	default:
		return fail("metric", c.Metric, "must be voltage or current")
	}

	if !InRange(c.VoltageThreshold, 0, MaxVoltageThreshold) {
		return fail("voltage_threshold", c.VoltageThreshold, fmt.Sprintf("must be between 0 and %g V", MaxVoltageThreshold))
	}

	if !InRange(c.CurrentThreshold, 0, MaxCurrentThreshold) {
		return fail("current_threshold", c.CurrentThreshold, fmt.Sprintf("must be between 0 and %g A", MaxCurrentThreshold))
	}

	if c.Delay < 0 || c.Delay > MaxDelay {
		return fail("delay_seconds", c.Delay.Seconds(), "must be between 0 and 10")
	}

	return nil
}
