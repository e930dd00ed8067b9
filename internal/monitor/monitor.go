// Package monitor samples the resource usage of the running process.
package monitor

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/metrics"
)

const DefaultInterval = 5 * time.Second

// Usage is one resource sample
type Usage struct {
	RSS        uint64
	CPUPercent float64
}

// Collector returns the current usage of the process
type Collector func(ctx context.Context) (Usage, error)

type Monitor struct {
	interval time.Duration
	collect  Collector
	log      logger.Logger
	last     Usage
}

type Option func(*Monitor)

// WithCollector replaces the gopsutil collector
func WithCollector(c Collector) Option {
	return func(m *Monitor) {
		m.collect = c
	}
}

func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		m.log = l
	}
}

func New(interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{
		interval: interval,
		log:      logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.collect == nil {
		m.collect = processCollector(int32(os.Getpid()))
	}

	return m
}

func processCollector(pid int32) Collector {
	var proc *process.Process

	return func(ctx context.Context) (Usage, error) {
		if proc == nil {
			p, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				return Usage{}, err
			}
			proc = p
		}

		mem, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return Usage{}, err
		}

		cpu, err := proc.PercentWithContext(ctx, 0)
		if err != nil {
			return Usage{}, err
		}

		return Usage{RSS: mem.RSS, CPUPercent: cpu}, nil
	}
}

// Run samples at the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample collects once and publishes the result. Collection failures are
// logged and leave the gauges untouched.
func (m *Monitor) Sample(ctx context.Context) {
	u, err := m.collect(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("process usage collection failed")
		return
	}

	m.last = u
	metrics.ProcessRSS.Set(float64(u.RSS))
	metrics.ProcessCPU.Set(u.CPUPercent)

	m.log.Debug().
		Uint64("rss_bytes", u.RSS).
		Float64("cpu_percent", u.CPUPercent).
		Msg("process usage")
}

// Last returns the most recent successful sample
func (m *Monitor) Last() Usage {
	return m.last
}
