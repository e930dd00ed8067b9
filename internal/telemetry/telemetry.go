// Package telemetry holds the values that cross the ingestion boundary.
package telemetry

import (
	"fmt"
	"math"
	"strings"
	"time"

	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/errors"
)

// Payload is one item on the transport queue. Exactly one of Packet, Sample
// or Err carries data.
type Payload struct {
	Timestamp  string
	CapturedAt time.Time
	Packet     device.Node
	Sample     *Sample
	Err        error
}

func (p Payload) IsError() bool {
	return p.Err != nil
}

func (p Payload) IsMeasurement() bool {
	return p.Err == nil && p.Sample != nil
}

func (p Payload) IsProtocol() bool {
	return p.Err == nil && p.Sample == nil && p.Packet != nil
}

// Sample is an electrical measurement. Absent readings are nil.
type Sample struct {
	Voltage *float64
	Current *float64
	Power   *float64
}

// NewSample builds a sample, storing current as an absolute value and
// deriving power when both readings are present.
func NewSample(voltage, current *float64) Sample {
	s := Sample{Voltage: voltage}

	if current != nil {
		c := math.Abs(*current)
		s.Current = &c
	}

	if s.Voltage != nil && s.Current != nil {
		p := math.Abs(*s.Voltage * *s.Current)
		s.Power = &p
	}

	return s
}

// IsEmpty reports whether the sample carries no reading at all
func (s Sample) IsEmpty() bool {
	return s.Voltage == nil && s.Current == nil && s.Power == nil
}

// Get returns the reading for metric
func (s Sample) Get(m Metric) (float64, bool) {
	var v *float64

	switch m {
	case MetricVoltage:
		v = s.Voltage
	case MetricCurrent:
		v = s.Current
	case MetricPower:
		v = s.Power
	}

	if v == nil {
		return 0, false
	}

	return *v, true
}

// Metric names a measured quantity
type Metric string

const (
	MetricVoltage Metric = "voltage"
	MetricCurrent Metric = "current"
	MetricPower   Metric = "power"
)

// ParseMetric accepts "voltage"/"v" and "current"/"i"/"a" in any case.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voltage", "v":
		return MetricVoltage, nil
	case "current", "i", "a":
		return MetricCurrent, nil
	case "power", "p", "w":
		return MetricPower, nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidArgument, fmt.Sprintf("unknown metric %q", s))
	}
}

// Unit returns the SI unit symbol of m
func (m Metric) Unit() string {
	switch m {
	case MetricVoltage:
		return "V"
	case MetricCurrent:
		return "A"
	case MetricPower:
		return "W"
	default:
		return ""
	}
}

// Float returns a pointer to v, for building samples
func Float(v float64) *float64 {
	return &v
}
