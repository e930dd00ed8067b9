// Package autopause pauses a running capture when a measured value stays
// below a threshold.
package autopause

import (
	"math"
	"sync/atomic"

	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/metrics"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

type State uint8

const (
	StateIdle State = iota
	StatePending
)

func (s State) String() string {
	if s == StatePending {
		return "pending"
	}
	return "idle"
}

// Pauser is invoked when the controller triggers. It must be idempotent.
type Pauser func(reason string)

type Option func(*Controller)

func WithClock(c Clock) Option {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

// Controller is driven from the consumer goroutine; only the timer callback
// runs elsewhere and it just records the fired generation.
type Controller struct {
	cfg    Config
	clock  Clock
	pause  Pauser
	state  State
	timer  Timer
	gen    uint64
	last   *float64
	fired  atomic.Uint64
	notify chan struct{}
}

func New(cfg Config, pause Pauser, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		clock:  realClock{},
		pause:  pause,
		notify: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) State() State {
	return c.state
}

// SetConfig replaces the configuration. Any pending delay is cancelled.
func (c *Controller) SetConfig(cfg Config) {
	c.Cancel()
	c.cfg = cfg
	c.last = nil
}

// Observe feeds one measurement taken while capturing.
func (c *Controller) Observe(s telemetry.Sample) {
	if !c.cfg.Enabled {
		return
	}

	value, ok := s.Get(c.cfg.Metric)
	if !ok || math.IsNaN(value) {
		c.last = nil
		c.Cancel()
		return
	}
	c.last = &value

	if value >= c.cfg.Threshold() {
		c.Cancel()
		return
	}

	if c.cfg.Delay <= 0 {
		c.trigger(value)
		return
	}

	if c.state == StatePending {
		return
	}

	c.gen++
	gen := c.gen
	c.state = StatePending
	c.timer = c.clock.AfterFunc(c.cfg.Delay, func() {
		c.fired.Store(gen)
		select {
		case c.notify <- struct{}{}:
		default:
		}
	})

	logger.Debug().
		Str("metric", string(c.cfg.Metric)).
		Float64("value", value).
		Float64("threshold", c.cfg.Threshold()).
		Dur("delay", c.cfg.Delay).
		Msg("Auto-pause delay started")
}

// Expired signals that a delay timer fired. The receiver must call
// HandleExpiry from the consumer goroutine.
func (c *Controller) Expired() <-chan struct{} {
	return c.notify
}

// HandleExpiry triggers a pause if the fired timer is still the current one
// and the latest observed value is still below the threshold.
func (c *Controller) HandleExpiry() {
	if c.state != StatePending || c.fired.Load() != c.gen {
		return
	}

	c.state = StateIdle
	c.timer = nil

	if !c.cfg.Enabled || c.last == nil || *c.last >= c.cfg.Threshold() {
		logger.Debug().Msg("Auto-pause delay expired after recovery")
		return
	}

	c.trigger(*c.last)
}

// Cancel stops a pending delay and returns to Idle
func (c *Controller) Cancel() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StatePending {
		// invalidate a callback that already fired
		c.gen++
	}
	c.state = StateIdle
}

func (c *Controller) trigger(value float64) {
	c.Cancel()
	metrics.AutoPauseTriggers.Inc()

	logger.Info().
		Str("metric", string(c.cfg.Metric)).
		Float64("value", value).
		Float64("threshold", c.cfg.Threshold()).
		Msg("Auto-pause triggered")

	if c.pause != nil {
		c.pause("autopause")
	}
}
