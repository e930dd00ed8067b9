// Package ingest runs the producer loop that reads packets from a device and
// hands them to the transport queue.
package ingest

import (
	"sync"
	"time"

	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/metrics"
	"codeberg.org/mutker/pdctl/internal/queue"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const (
	DefaultMinInterval = 200 * time.Millisecond
	DefaultRetryDelay  = 10 * time.Millisecond

	timestampLayout = "15:04:05.000"
)

type Option func(*Worker)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// WithMinInterval sets the minimum spacing between emitted measurements
func WithMinInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.minInterval = d
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(w *Worker) {
		w.retryDelay = d
	}
}

// Worker owns one device handle for the lifetime of a connection.
type Worker struct {
	driver device.Driver
	sel    device.Selector
	out    *queue.Queue[telemetry.Payload]
	ctl    *Control

	now         func() time.Time
	minInterval time.Duration
	retryDelay  time.Duration

	mu        sync.Mutex
	dev       device.Device
	aborted   bool
	closeOnce sync.Once
	done      chan struct{}

	lastSent time.Time
	sent     bool
}

func NewWorker(drv device.Driver, sel device.Selector, out *queue.Queue[telemetry.Payload], ctl *Control, opts ...Option) *Worker {
	w := &Worker{
		driver:      drv,
		sel:         sel,
		out:         out,
		ctl:         ctl,
		now:         time.Now,
		minInterval: DefaultMinInterval,
		retryDelay:  DefaultRetryDelay,
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start runs the worker on its own goroutine
func (w *Worker) Start() {
	go w.Run()
}

// Done is closed once Run has returned and the device is closed.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run opens the device and reads until stopped or disconnected.
func (w *Worker) Run() {
	defer close(w.done)

	dev, err := device.Open(w.driver, w.sel)
	if err != nil {
		w.emitError(err)
		return
	}

	if !w.attach(dev) {
		return
	}
	defer w.closeDevice()

	logger.Debug().Msg("Ingestion worker started")

	for !w.ctl.Stopped() {
		if !w.step(dev) {
			return
		}
	}

	logger.Debug().Msg("Ingestion worker stopped")
}

// Abort closes the device from outside the worker, unblocking a pending
// read. Safe to call at any time and more than once.
func (w *Worker) Abort() {
	w.mu.Lock()
	w.aborted = true
	attached := w.dev != nil
	w.mu.Unlock()

	if attached {
		w.closeDevice()
	}
}

func (w *Worker) attach(dev device.Device) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.aborted {
		if err := dev.Close(); err != nil {
			logger.Debug().Err(err).Msg("Failed to close device")
		}
		return false
	}
	w.dev = dev

	return true
}

func (w *Worker) closeDevice() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		dev := w.dev
		w.mu.Unlock()

		if err := dev.Close(); err != nil {
			logger.Debug().Err(err).Msg("Failed to close device")
		}
	})
}

// step performs one read/decode cycle. It returns false when the worker
// must exit.
func (w *Worker) step(dev device.Device) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TransientErrors.Inc()
			logger.Debug().
				Str("error_code", string(errors.ErrTransientReadError)).
				Interface("panic", r).
				Msg("Decoder failed, retrying")
			time.Sleep(w.retryDelay)
			cont = true
		}
	}()

	if err := dev.Read(); err != nil {
		if device.IsTransport(err) {
			if !w.ctl.Stopped() {
				w.emitError(errors.New().Wrap(errors.ErrDeviceDisconnected, err))
			}
			return false
		}

		metrics.TransientErrors.Inc()
		logger.Debug().
			Err(err).
			Str("error_code", string(errors.ErrTransientReadError)).
			Msg("Read failed, retrying")
		time.Sleep(w.retryDelay)

		return true
	}

	decoded, ok := dev.Decode()
	if !ok || decoded.Packet == nil {
		return true
	}

	metrics.PacketsRead.Inc()
	w.dispatch(decoded)

	return true
}

func (w *Worker) dispatch(decoded device.Decoded) {
	now := w.now()
	payload := telemetry.Payload{
		Timestamp:  decoded.Timestamp,
		CapturedAt: now,
	}
	if payload.Timestamp == "" {
		payload.Timestamp = now.Format(timestampLayout)
	}

	pkt := decoded.Packet

	if pkt.Field() == device.TagPD {
		if w.ctl.Paused() {
			metrics.PacketsDiscarded.WithLabelValues(metrics.ReasonPaused).Inc()
			return
		}

		payload.Packet = pkt
		if w.out.TryPush(payload) {
			metrics.ProtocolEnqueued.Inc()
		}
		return
	}

	sample, ok := readSample(pkt)
	if !ok {
		return
	}

	if w.ctl.Paused() {
		metrics.PacketsDiscarded.WithLabelValues(metrics.ReasonPaused).Inc()
		return
	}

	if w.sent && now.Sub(w.lastSent) < w.minInterval {
		metrics.PacketsDiscarded.WithLabelValues(metrics.ReasonRateLimited).Inc()
		return
	}

	w.lastSent = now
	w.sent = true

	payload.Sample = &sample
	if w.out.TryPush(payload) {
		metrics.MeasurementsEmitted.Inc()
	}
}

func (w *Worker) emitError(err error) {
	errFactory := errors.New()

	appErr, ok := err.(errors.Error)
	if !ok {
		appErr = errFactory.Wrap(errors.ErrDeviceOpenFailed, err)
	}
	logger.ErrorWithCode(appErr).Msg("Ingestion worker exiting")

	w.out.TryPush(telemetry.Payload{
		Timestamp:  w.now().Format(timestampLayout),
		CapturedAt: w.now(),
		Err:        appErr,
	})
}

func readSample(pkt device.Node) (telemetry.Sample, bool) {
	var voltage, current *float64

	if v, ok := device.ValueAt(pkt, device.FieldVBus).AsFloat(); ok {
		voltage = telemetry.Float(v)
	}
	if c, ok := device.ValueAt(pkt, device.FieldCurrent).AsFloat(); ok {
		current = telemetry.Float(c)
	}

	if voltage == nil && current == nil {
		return telemetry.Sample{}, false
	}

	return telemetry.NewSample(voltage, current), true
}
