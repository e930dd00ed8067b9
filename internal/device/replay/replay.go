// Package replay implements a device.Driver that plays back decoded packets
// recorded as JSON lines. It stands in for a live HID decoder during
// offline analysis and tests.
package replay

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/pdctl/internal/device"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/logger"
)

const maxLineSize = 1 << 20

// Config controls playback
type Config struct {
	// DefaultPath is opened by OpenDefault
	DefaultPath string
	// Speed scales recorded delays; 0 plays back as fast as possible
	Speed float64
	// Loop restarts from the beginning at end of file instead of reporting a disconnect
	Loop bool
}

type Driver struct {
	cfg Config
}

var _ device.Driver = (*Driver)(nil)

func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

func (d *Driver) OpenPath(path string) (device.Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", path).Bool("loop", d.cfg.Loop).Msg("Replaying capture")

	return newDevice(f, d.cfg), nil
}

func (*Driver) OpenID(vendorID, productID uint16) (device.Device, error) {
	return nil, errors.New().WithData(device.ErrUnsupported,
		fmt.Sprintf("replay driver cannot open 0x%04X:0x%04X", vendorID, productID))
}

func (d *Driver) OpenDefault() (device.Device, error) {
	if d.cfg.DefaultPath == "" {
		return nil, errors.New().WithData(device.ErrUnsupported, "no default capture configured")
	}

	return d.OpenPath(d.cfg.DefaultPath)
}

// Device plays back one capture file
type Device struct {
	cfg     Config
	file    *os.File
	scanner *bufio.Scanner
	current device.Decoded
	valid   bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newDevice(f *os.File, cfg Config) *Device {
	return &Device{
		cfg:     cfg,
		file:    f,
		scanner: newScanner(f),
		closed:  make(chan struct{}),
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return s
}

// Read advances to the next recorded packet, sleeping for its recorded delay.
func (d *Device) Read() error {
	d.valid = false

	select {
	case <-d.closed:
		return fmt.Errorf("%w: handle closed", device.ErrTransport)
	default:
	}

	line, err := d.nextLine()
	if err != nil {
		return err
	}

	rec, err := parseRecord(line)
	if err != nil {
		return err
	}

	if err := d.wait(rec.DelayMS); err != nil {
		return err
	}

	if rec.Packet == nil {
		return nil
	}

	pkt, err := rec.Packet.toNode()
	if err != nil {
		return fmt.Errorf("decode packet: %w", err)
	}

	d.current = device.Decoded{Timestamp: rec.Timestamp, Packet: pkt}
	d.valid = true

	return nil
}

func (d *Device) nextLine() ([]byte, error) {
	for {
		if d.scanner.Scan() {
			line := d.scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			return line, nil
		}

		if err := d.scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", device.ErrTransport, err)
		}

		if !d.cfg.Loop {
			return nil, fmt.Errorf("%w: %v", device.ErrTransport, io.EOF)
		}

		if _, err := d.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: %v", device.ErrTransport, err)
		}
		d.scanner = newScanner(d.file)
	}
}

func (d *Device) wait(delayMS int) error {
	if d.cfg.Speed <= 0 || delayMS <= 0 {
		return nil
	}

	delay := time.Duration(float64(delayMS) * float64(time.Millisecond) / d.cfg.Speed)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-d.closed:
		return fmt.Errorf("%w: handle closed", device.ErrTransport)
	}
}

func (d *Device) Decode() (device.Decoded, bool) {
	if !d.valid {
		return device.Decoded{}, false
	}

	return d.current, true
}

// Close is safe to call concurrently with Read and more than once.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		err = d.file.Close()
	})

	return err
}
