package capture_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/pdctl/internal/autopause"
	"codeberg.org/mutker/pdctl/internal/capture"
	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type feedDevice struct {
	feed   chan device.Node
	closed chan struct{}
	once   sync.Once
	cur    device.Node
}

func newFeedDevice() *feedDevice {
	return &feedDevice{feed: make(chan device.Node, 64), closed: make(chan struct{})}
}

func (d *feedDevice) Read() error {
	select {
	case n, ok := <-d.feed:
		if !ok {
			return fmt.Errorf("unplugged: %w", device.ErrTransport)
		}
		d.cur = n
		return nil
	case <-d.closed:
		return fmt.Errorf("closed: %w", device.ErrTransport)
	}
}

func (d *feedDevice) Decode() (device.Decoded, bool) {
	return device.Decoded{Timestamp: "12:00:00.000", Packet: d.cur}, d.cur != nil
}

func (d *feedDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

type feedDriver struct {
	dev *feedDevice
}

func (feedDriver) OpenPath(string) (device.Device, error) {
	return nil, stderrors.New("no path")
}

func (feedDriver) OpenID(uint16, uint16) (device.Device, error) {
	return nil, stderrors.New("no id")
}

func (f feedDriver) OpenDefault() (device.Device, error) {
	if f.dev == nil {
		return nil, stderrors.New("nothing attached")
	}
	return f.dev, nil
}

func meter(v float64) device.Node {
	return device.NewNode("meter", device.Value{}).
		WithValue(device.FieldVBus, device.Number(v)).
		WithValue(device.FieldCurrent, device.Number(0.5))
}

func pdPacket(msgType string, objects ...device.Node) *device.StaticNode {
	hdr := device.NewNode(device.FieldMessageHeader, device.Value{}).
		WithValue(device.FieldMessageType, device.Text(msgType))
	return device.NewNode(device.TagPD, device.Value{}).
		With(device.FieldMessageHeader, hdr).
		WithValue(device.FieldDataObjects, device.List(objects...))
}

func sourceCaps() device.Node {
	fixed5 := device.NewNode("Fixed Supply", device.Value{})
	fixed5.PDOText = "Fixed: 5.00V 3.00A"
	fixed5.Bits = "00000000000000011001000100101100"
	fixed9 := device.NewNode("Fixed Supply", device.Value{})
	fixed9.PDOText = "Fixed: 9.00V 3.00A"
	fixed9.Bits = "00000000000000101101000100101100"
	return pdPacket("Source_Capabilities", fixed5, fixed9, device.NewNode("PDO", device.Text("Empty PDO")))
}

func request() device.Node {
	rdo := device.NewNode("RDO", device.Value{}).
		WithValue(device.FieldObjectPosition, device.Number(2))
	rdo.RDOText = "Fixed RDO: Pos 2, 3.00A"
	rdo.Bits = "00100000000001001011000100101100"
	return pdPacket("Request", rdo)
}

func cableIdentity() device.Node {
	hdr := device.NewNode("VDM Header", device.Value{}).
		WithValue("VDM Type", device.Text("Structured")).
		WithValue("Command", device.Text("Discover Identity")).
		WithValue("Command Type", device.Text("ACK"))
	pkt := pdPacket("Vendor_Defined", hdr)
	pkt.WithValue(device.FieldSOP, device.Text("SOP'"))
	return pkt
}

func newSession(t *testing.T, drv device.Driver, mutate ...func(*capture.Config)) *capture.Session {
	t.Helper()

	cfg := capture.DefaultConfig()
	cfg.MeasurementInterval = time.Nanosecond
	cfg.GracePeriod = 200 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}

	s := capture.New(cfg, drv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return s
}

func connectAndStart(t *testing.T, s *capture.Session) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, device.Selector{}))
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, "running", s.Status().State)
}

func TestSessionProtocolRecords(t *testing.T) {
	dev := newFeedDevice()
	s := newSession(t, feedDriver{dev: dev})
	connectAndStart(t, s)

	dev.feed <- sourceCaps()
	dev.feed <- pdPacket("Accept")
	dev.feed <- request()
	dev.feed <- cableIdentity()

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.Records.ProtocolTotal == 2 && len(st.Cable) > 0
	}, waitFor, tick)

	st := s.Status()
	assert.Len(t, st.CurrentPDOs, 2)
	assert.Empty(t, st.LastError)

	protocol, measurement, err := s.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, measurement)
	require.Len(t, protocol, 2)

	assert.Equal(t, store.KindPDO, protocol[0].Kind)
	assert.Equal(t, "Fixed: 5.00V 3.00A | Fixed: 9.00V 3.00A", protocol[0].Summary)
	assert.Equal(t, store.KindRDO, protocol[1].Kind)
	require.NotNil(t, protocol[1].RDO)
	assert.Equal(t, "Position: 2", protocol[1].RDO.ObjectPosition)
	assert.Less(t, protocol[0].Index, protocol[1].Index)
	assert.GreaterOrEqual(t, protocol[0].RelativeTime, 0.0)
}

func TestSessionAutoPauseScenario(t *testing.T) {
	dev := newFeedDevice()
	s := newSession(t, feedDriver{dev: dev})
	connectAndStart(t, s)

	require.NoError(t, s.SetAutoPause(context.Background(), autopause.Config{
		Enabled:          true,
		Metric:           telemetry.MetricVoltage,
		VoltageThreshold: 5.0,
	}))

	dev.feed <- meter(5.2)
	require.Eventually(t, func() bool {
		return s.Status().Records.MeasurementTotal == 1
	}, waitFor, tick)
	assert.Equal(t, "running", s.Status().State)

	dev.feed <- meter(4.8)
	require.Eventually(t, func() bool {
		return s.Status().State == "paused"
	}, waitFor, tick)
	assert.True(t, s.Status().AutoPause.Enabled)
}

func TestSessionPausedDropsPackets(t *testing.T) {
	dev := newFeedDevice()
	s := newSession(t, feedDriver{dev: dev})
	require.NoError(t, s.Connect(context.Background(), device.Selector{}))

	dev.feed <- sourceCaps()
	dev.feed <- meter(5.0)

	require.Eventually(t, func() bool { return len(dev.feed) == 0 }, waitFor, tick)
	time.Sleep(300 * time.Millisecond)

	st := s.Status()
	assert.Equal(t, "idle", st.State)
	assert.Zero(t, st.Records.ProtocolTotal)
	assert.Zero(t, st.Records.MeasurementTotal)
}

func TestSessionDeviceLoss(t *testing.T) {
	dev := newFeedDevice()
	s := newSession(t, feedDriver{dev: dev})
	connectAndStart(t, s)

	dev.feed <- meter(5.0)
	close(dev.feed)

	require.Eventually(t, func() bool {
		return s.Status().State == "disconnected"
	}, waitFor, tick)

	st := s.Status()
	assert.Equal(t, string(errors.ErrDeviceDisconnected), st.LastErrorCode)
	assert.Equal(t, 1, st.Records.MeasurementTotal, "records drained before the loss are kept")

	err := s.Toggle(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrNotConnected))
}

func TestSessionOpenFailure(t *testing.T) {
	s := newSession(t, feedDriver{})
	require.NoError(t, s.Connect(context.Background(), device.Selector{Path: "/dev/hidraw7"}))

	require.Eventually(t, func() bool {
		return s.Status().LastErrorCode == string(errors.ErrDeviceOpenFailed)
	}, waitFor, tick)
	assert.Equal(t, "disconnected", s.Status().State)
}

func TestSessionConnectTwice(t *testing.T) {
	s := newSession(t, feedDriver{dev: newFeedDevice()})
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, device.Selector{}))
	err := s.Connect(ctx, device.Selector{})
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyConnected))

	require.NoError(t, s.Disconnect(ctx))
	assert.Equal(t, "disconnected", s.Status().State)
	assert.Empty(t, s.Status().LastError)
}

func TestSessionClearAndLoad(t *testing.T) {
	dev := newFeedDevice()
	s := newSession(t, feedDriver{dev: dev})
	connectAndStart(t, s)
	ctx := context.Background()

	dev.feed <- request()
	require.Eventually(t, func() bool { return s.Status().Records.ProtocolTotal == 1 }, waitFor, tick)

	require.NoError(t, s.Clear(ctx))
	assert.Zero(t, s.Status().Records.ProtocolTotal)

	dev.feed <- request()
	require.Eventually(t, func() bool { return s.Status().Records.ProtocolTotal == 1 }, waitFor, tick)
	protocol, _, err := s.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), protocol[0].Index, "clear restarts numbering")

	require.NoError(t, s.Load(ctx, []store.Record{
		{Index: 7, Kind: store.KindRDO, Summary: "Fixed RDO: Pos 1, 1.00A"},
		{Index: 3, Kind: store.KindMeasurement},
	}))

	dev.feed <- request()
	require.Eventually(t, func() bool { return s.Status().Records.ProtocolTotal == 2 }, waitFor, tick)
	protocol, _, err = s.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), protocol[1].Index)
}

func TestSessionPauseIsIdempotent(t *testing.T) {
	s := newSession(t, feedDriver{dev: newFeedDevice()})
	connectAndStart(t, s)
	ctx := context.Background()

	require.NoError(t, s.Pause(ctx, "test"))
	require.NoError(t, s.Pause(ctx, "test"))
	assert.Equal(t, "paused", s.Status().State)

	require.NoError(t, s.Toggle(ctx))
	assert.Equal(t, "running", s.Status().State)
}

func TestSessionRejectsInvalidAutoPause(t *testing.T) {
	s := newSession(t, feedDriver{})

	err := s.SetAutoPause(context.Background(), autopause.Config{
		Enabled:          true,
		Metric:           telemetry.MetricCurrent,
		CurrentThreshold: 7,
	})
	assert.True(t, errors.HasCode(err, errors.ErrConfigValidationFailed))
	assert.False(t, s.Status().AutoPause.Enabled)

	err = s.SetAutoPause(context.Background(), autopause.Config{
		Enabled:          true,
		Metric:           telemetry.MetricVoltage,
		VoltageThreshold: 5,
		CurrentThreshold: 99,
	})
	assert.True(t, errors.HasCode(err, errors.ErrConfigValidationFailed))
	assert.False(t, s.Status().AutoPause.Enabled)
}

func TestSessionKeepsBothThresholds(t *testing.T) {
	s := newSession(t, feedDriver{})

	require.NoError(t, s.SetAutoPause(context.Background(), autopause.Config{
		Metric:           telemetry.MetricCurrent,
		VoltageThreshold: 9,
		CurrentThreshold: 0.25,
	}))

	ap := s.Status().AutoPause
	assert.Equal(t, "current", ap.Metric)
	assert.InDelta(t, 0.25, ap.Threshold, 1e-9)
	assert.InDelta(t, 9, ap.VoltageThreshold, 1e-9)
	assert.InDelta(t, 0.25, ap.CurrentThreshold, 1e-9)
}

func TestSessionClosed(t *testing.T) {
	s := capture.New(capture.DefaultConfig(), feedDriver{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	err := s.Start(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrSessionClosed))
}
