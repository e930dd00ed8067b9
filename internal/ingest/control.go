package ingest

import "sync/atomic"

// Control carries the flags shared between a worker and its owner. A new
// Control is created for every connection.
type Control struct {
	stop   atomic.Bool
	paused atomic.Bool
}

func NewControl(paused bool) *Control {
	c := &Control{}
	c.paused.Store(paused)
	return c
}

func (c *Control) Stop() {
	c.stop.Store(true)
}

func (c *Control) Stopped() bool {
	return c.stop.Load()
}

func (c *Control) SetPaused(paused bool) {
	c.paused.Store(paused)
}

func (c *Control) Paused() bool {
	return c.paused.Load()
}
