// Package capture owns a capture session: the device connection, the
// consumer loop and the records it produces.
package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"codeberg.org/mutker/pdctl/internal/autopause"
	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/ingest"
	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/metrics"
	"codeberg.org/mutker/pdctl/internal/pd"
	"codeberg.org/mutker/pdctl/internal/queue"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

// abortWait bounds how long Disconnect waits after closing a stuck handle
const abortWait = 250 * time.Millisecond

type Option func(*Session)

// WithClock replaces time.Now for capture start and relative times
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithWorkerOptions passes options to every ingestion worker
func WithWorkerOptions(opts ...ingest.Option) Option {
	return func(s *Session) {
		s.workerOpts = append(s.workerOpts, opts...)
	}
}

func WithAutoPauseClock(c autopause.Clock) Option {
	return func(s *Session) {
		s.autoOpts = append(s.autoOpts, autopause.WithClock(c))
	}
}

type command struct {
	fn    func(*Session) error
	reply chan error
}

type pendingItem struct {
	payload telemetry.Payload
	class   pd.Class
	index   uint64
}

// Session is driven by Run. Everything except Exec and Status must be
// called from the Run goroutine, which Exec arranges.
type Session struct {
	cfg    Config
	driver device.Driver

	now        func() time.Time
	workerOpts []ingest.Option
	autoOpts   []autopause.Option

	commands chan command
	done     chan struct{}
	status   atomic.Pointer[Status]

	state  State
	id     string
	q      *queue.Queue[telemetry.Payload]
	ctl    *ingest.Control
	worker *ingest.Worker

	store   *store.Store
	auto    *autopause.Controller
	pending []pendingItem

	protoSeq     uint64
	measSeq      uint64
	captureStart time.Time
	started      bool
	lastErr      errors.Error
}

func New(cfg Config, drv device.Driver, opts ...Option) *Session {
	cfg = cfg.withDefaults()

	s := &Session{
		cfg:      cfg,
		driver:   drv,
		now:      time.Now,
		commands: make(chan command),
		done:     make(chan struct{}),
		store:    store.New(cfg.Store),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.auto = autopause.New(cfg.AutoPause, s.pause, s.autoOpts...)
	s.publish()

	return s
}

// Run is the consumer loop. It returns when ctx is cancelled, after
// disconnecting.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	drain := time.NewTicker(s.cfg.DrainInterval)
	defer drain.Stop()
	batch := time.NewTicker(s.cfg.BatchInterval)
	defer batch.Stop()

	logger.Debug().
		Dur("drain_interval", s.cfg.DrainInterval).
		Dur("batch_interval", s.cfg.BatchInterval).
		Msg("Capture session running")

	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return nil
		case <-drain.C:
			s.drain()
		case <-batch.C:
			s.applyBatch()
		case <-s.auto.Expired():
			s.auto.HandleExpiry()
			s.publish()
		case cmd := <-s.commands:
			err := cmd.fn(s)
			s.publish()
			cmd.reply <- err
		}
	}
}

// Exec runs fn inside the consumer loop and returns its error.
func (s *Session) Exec(ctx context.Context, fn func(*Session) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}

	select {
	case s.commands <- cmd:
	case <-s.done:
		return errors.New().New(errors.ErrSessionClosed)
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}
}

// Status returns the last published snapshot. Safe from any goroutine.
func (s *Session) Status() Status {
	return *s.status.Load()
}

func (s *Session) Connect(ctx context.Context, sel device.Selector) error {
	return s.Exec(ctx, func(s *Session) error { return s.connect(sel) })
}

func (s *Session) Disconnect(ctx context.Context) error {
	return s.Exec(ctx, func(s *Session) error {
		if !s.state.Connected() {
			return errors.New().New(errors.ErrNotConnected)
		}
		s.disconnect()
		return nil
	})
}

func (s *Session) Start(ctx context.Context) error {
	return s.Exec(ctx, func(s *Session) error { return s.start() })
}

func (s *Session) Pause(ctx context.Context, reason string) error {
	return s.Exec(ctx, func(s *Session) error {
		if !s.state.Connected() {
			return errors.New().New(errors.ErrNotConnected)
		}
		s.pause(reason)
		return nil
	})
}

func (s *Session) Toggle(ctx context.Context) error {
	return s.Exec(ctx, func(s *Session) error { return s.toggle() })
}

func (s *Session) Clear(ctx context.Context) error {
	return s.Exec(ctx, func(s *Session) error {
		s.clear()
		return nil
	})
}

// SetAutoPause validates cfg and applies it. Nothing changes on error.
func (s *Session) SetAutoPause(ctx context.Context, cfg autopause.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.Exec(ctx, func(s *Session) error {
		s.auto.SetConfig(cfg)
		logger.Info().
			Bool("enabled", cfg.Enabled).
			Str("metric", string(cfg.Metric)).
			Float64("voltage_threshold", cfg.VoltageThreshold).
			Float64("current_threshold", cfg.CurrentThreshold).
			Dur("delay", cfg.Delay).
			Msg("Auto-pause configuration updated")
		return nil
	})
}

// Records returns copies of all retained protocol and measurement records,
// including anything still pending.
func (s *Session) Records(ctx context.Context) (protocol, measurement []store.Record, err error) {
	err = s.Exec(ctx, func(s *Session) error {
		s.applyBatch()
		protocol = s.store.Protocol.All()
		measurement = s.store.Measurement.All()
		return nil
	})

	return protocol, measurement, err
}

// Load replaces all records, e.g. with imported ones. Sequence counters move
// past the highest loaded index.
func (s *Session) Load(ctx context.Context, records []store.Record) error {
	return s.Exec(ctx, func(s *Session) error {
		s.pending = nil
		s.store.Replace(records)
		s.protoSeq, s.measSeq = s.store.MaxIndex()
		s.updateGauges()

		logger.Info().Int("records", len(records)).Msg("Records loaded")
		return nil
	})
}

func (s *Session) connect(sel device.Selector) error {
	if s.state.Connected() {
		return errors.New().New(errors.ErrAlreadyConnected)
	}

	s.q = queue.New[telemetry.Payload](s.cfg.QueueSize,
		queue.WithDropHook[telemetry.Payload](metrics.QueueDropped.Inc))
	s.ctl = ingest.NewControl(true)
	s.id = uuid.NewString()
	s.lastErr = nil

	opts := append([]ingest.Option{ingest.WithMinInterval(s.cfg.MeasurementInterval)}, s.workerOpts...)
	s.worker = ingest.NewWorker(s.driver, sel, s.q, s.ctl, opts...)
	s.worker.Start()
	s.state = StateIdle

	logger.Info().
		Str("session_id", s.id).
		Str("path", sel.Path).
		Msg("Connecting to device")

	return nil
}

// disconnect stops the worker, waiting up to the grace period before
// closing the handle from here.
func (s *Session) disconnect() {
	if !s.state.Connected() {
		return
	}

	s.ctl.Stop()
	s.ctl.SetPaused(true)
	s.auto.Cancel()

	select {
	case <-s.worker.Done():
	case <-time.After(s.cfg.GracePeriod):
		logger.ErrorWithCode(errors.New().New(errors.ErrWorkerStopTimeout)).
			Str("session_id", s.id).
			Dur("grace_period", s.cfg.GracePeriod).
			Msg("Worker did not stop in time, closing device")
		s.worker.Abort()

		select {
		case <-s.worker.Done():
		case <-time.After(abortWait):
			logger.Warn().Str("session_id", s.id).Msg("Worker still blocked after device close")
		}
	}

	s.applyBatch()

	if n := s.q.Discard(); n > 0 {
		logger.Debug().Int("discarded", n).Msg("Discarded queued payloads")
	}

	logger.Info().Str("session_id", s.id).Msg("Device disconnected")

	s.state = StateDisconnected
	s.worker = nil
	s.ctl = nil
	s.q = nil
	metrics.QueueDepth.Set(0)
}

func (s *Session) start() error {
	switch s.state {
	case StateDisconnected:
		return errors.New().New(errors.ErrNotConnected)
	case StateRunning:
		return nil
	}

	if !s.started {
		s.captureStart = s.now()
		s.started = true
	}

	s.state = StateRunning
	s.ctl.SetPaused(false)
	logger.Info().Str("session_id", s.id).Msg("Capture started")

	return nil
}

// pause is idempotent and also serves as the auto-pause trigger
func (s *Session) pause(reason string) {
	if s.state != StateRunning {
		return
	}

	s.state = StatePaused
	s.ctl.SetPaused(true)
	s.auto.Cancel()

	logger.Info().Str("session_id", s.id).Str("reason", reason).Msg("Capture paused")
}

func (s *Session) toggle() error {
	switch s.state {
	case StateDisconnected:
		return errors.New().New(errors.ErrNotConnected)
	case StateRunning:
		s.pause("operator")
		return nil
	default:
		return s.start()
	}
}

func (s *Session) clear() {
	s.store.Clear()
	s.pending = nil
	s.protoSeq = 0
	s.measSeq = 0
	s.started = false

	if s.state == StateRunning {
		s.captureStart = s.now()
		s.started = true
	}

	s.updateGauges()
	logger.Info().Msg("Records cleared")
}

// fail tears the connection down after a terminal worker error
func (s *Session) fail(err error) {
	appErr, ok := err.(errors.Error)
	if !ok {
		appErr = errors.New().Wrap(errors.ErrDeviceDisconnected, err)
	}

	logger.ErrorWithCode(appErr).Str("session_id", s.id).Msg("Device connection lost")
	s.disconnect()
	s.lastErr = appErr
}

func (s *Session) drain() {
	if s.q == nil {
		return
	}

	q := s.q
	q.Drain(s.accept)

	if s.state.Connected() {
		metrics.QueueDepth.Set(float64(q.Len()))

		select {
		case <-s.worker.Done():
			if q.Len() == 0 {
				s.fail(errors.New().WithMessage(errors.ErrDeviceDisconnected, "Ingestion worker exited"))
			}
		default:
		}
	}
}

func (s *Session) accept(p telemetry.Payload) {
	if !s.state.Connected() {
		return
	}

	if p.IsError() {
		s.fail(p.Err)
		return
	}

	if s.state != StateRunning {
		metrics.PacketsDiscarded.WithLabelValues(metrics.ReasonPaused).Inc()
		return
	}

	if p.IsMeasurement() {
		s.measSeq++
		s.pending = append(s.pending, pendingItem{payload: p, class: pd.ClassMeasurement, index: s.measSeq})
		s.auto.Observe(*p.Sample)
		return
	}

	class := pd.Classify(p.Packet)
	if !class.IsProtocol() {
		metrics.PacketsDiscarded.WithLabelValues(metrics.ReasonUnclassified).Inc()
		return
	}

	item := pendingItem{payload: p, class: class}
	if class.Has(pd.ClassPDO) || class.Has(pd.ClassRDO) {
		s.protoSeq++
		item.index = s.protoSeq
	}
	s.pending = append(s.pending, item)
}

func (s *Session) applyBatch() {
	if len(s.pending) == 0 {
		s.publish()
		return
	}

	begin := time.Now()
	records := make([]store.Record, 0, len(s.pending))

	for _, it := range s.pending {
		base := store.Record{
			Index:        it.index,
			Timestamp:    it.payload.Timestamp,
			RelativeTime: s.relative(it.payload.CapturedAt),
		}

		if it.class.Has(pd.ClassMeasurement) && it.payload.Sample != nil {
			sample := *it.payload.Sample
			base.Kind = store.KindMeasurement
			base.Sample = &sample
			records = append(records, base)
			continue
		}

		pkt := it.payload.Packet

		switch {
		case it.class.Has(pd.ClassPDO):
			entries := pd.ParsePDOs(pkt)
			s.store.SetCurrentPDOs(entries)
			if summary := pd.JoinSummaries(entries); summary != "" {
				base.Kind = store.KindPDO
				base.Summary = summary
				base.PDOs = entries
				records = append(records, base)
			}
		case it.class.Has(pd.ClassRDO):
			info := pd.ParseRDO(pkt)
			if info.Valid() {
				base.Kind = store.KindRDO
				base.Summary = info.Summary
				base.RDO = &info
				records = append(records, base)
			}
		}

		if it.class.Has(pd.ClassCable) {
			s.store.SetCable(pd.ParseCable(pkt))
		}
	}

	s.pending = s.pending[:0]
	s.store.Add(records...)

	metrics.BatchDuration.Observe(time.Since(begin).Seconds())
	s.updateGauges()
	s.publish()
}

func (s *Session) relative(at time.Time) float64 {
	if !s.started || at.IsZero() {
		return 0
	}

	return max(at.Sub(s.captureStart).Seconds(), 0)
}

func (s *Session) updateGauges() {
	stats := s.store.Stats()
	metrics.RecordsVisible.WithLabelValues("protocol").Set(float64(stats.ProtocolVisible))
	metrics.RecordsVisible.WithLabelValues("measurement").Set(float64(stats.MeasurementVisible))
	metrics.RecordsTotal.WithLabelValues("protocol").Set(float64(stats.ProtocolTotal))
	metrics.RecordsTotal.WithLabelValues("measurement").Set(float64(stats.MeasurementTotal))
}

func (s *Session) publish() {
	ap := s.auto.Config()
	st := &Status{
		SessionID:   s.id,
		State:       s.state.String(),
		Records:     s.store.Stats(),
		CurrentPDOs: s.store.CurrentPDOs(),
		Cable:       s.store.Cable(),
		AutoPause: AutoPauseStatus{
			Enabled:          ap.Enabled,
			Metric:           string(ap.Metric),
			Threshold:        ap.Threshold(),
			VoltageThreshold: ap.VoltageThreshold,
			CurrentThreshold: ap.CurrentThreshold,
			DelaySeconds:     ap.Delay.Seconds(),
			State:            s.auto.State().String(),
		},
		UpdatedAt: s.now(),
	}

	if s.q != nil {
		st.QueueDepth = s.q.Len()
		st.QueueDropped = s.q.Dropped()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		st.LastErrorCode = string(s.lastErr.Code())
	}

	s.status.Store(st)
}
