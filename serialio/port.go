package serialio

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/relaylab/serialterm/settings"
)

// devicePort is the subset of go.bug.st/serial.Port the buffered transport
// needs. Narrowed so tests can script a fake device without a pty.
type devicePort interface {
	io.ReadWriteCloser
	Drain() error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Port adapts a raw serial device into the Transport contract. A single
// background goroutine drains the OS receive buffer into an internal one, so
// BytesAvailable and ReadLine behave like a line-buffered half-duplex device
// regardless of how the OS driver chunks reads.
type Port struct {
	dev devicePort

	mu      sync.Mutex
	buf     []byte
	readErr error
	closed  bool

	// dataCh is signalled (capacity 1) whenever the reader appends bytes
	// or records an error.
	dataCh chan struct{}
}

func newPort(dev devicePort) *Port {
	p := &Port{
		dev:    dev,
		dataCh: make(chan struct{}, 1),
	}
	go p.reader()
	return p
}

// reader is the only goroutine touching the raw device's Read side.
func (p *Port) reader() {
	chunk := make([]byte, 512)
	for {
		n, err := p.dev.Read(chunk)

		p.mu.Lock()
		if n > 0 {
			p.buf = append(p.buf, chunk[:n]...)
		}
		if err != nil {
			p.readErr = err
		}
		closed := p.closed
		p.mu.Unlock()

		if n > 0 || err != nil {
			p.signal()
		}
		if err != nil || closed {
			return
		}
	}
}

func (p *Port) signal() {
	select {
	case p.dataCh <- struct{}{}:
	default:
	}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return p.dev.Write(b)
}

func (p *Port) Flush() error {
	return p.dev.Drain()
}

func (p *Port) BytesAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// ReadLine pops everything up to and including the first LF. When the
// timeout expires without a full line, the bytes buffered so far are
// returned instead, matching the behavior of a blocking readline on a
// timeout-configured serial port.
func (p *Port) ReadLine(timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		if i := bytes.IndexByte(p.buf, '\n'); i >= 0 {
			line := make([]byte, i+1)
			copy(line, p.buf)
			p.buf = p.buf[i+1:]
			p.mu.Unlock()
			return line, nil
		}
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()
			return nil, fmt.Errorf("read line: %w", err)
		}
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		p.mu.Unlock()

		select {
		case <-p.dataCh:
		case <-deadline.C:
			p.mu.Lock()
			line := make([]byte, len(p.buf))
			copy(line, p.buf)
			p.buf = p.buf[:0]
			p.mu.Unlock()
			return line, nil
		}
	}
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	p.buf = p.buf[:0]
	p.mu.Unlock()
	return p.dev.ResetInputBuffer()
}

func (p *Port) ResetOutputBuffer() error {
	return p.dev.ResetOutputBuffer()
}

func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	err := p.dev.Close()
	p.signal()
	return err
}

// SerialOpener opens a physical serial port via go.bug.st/serial using the
// persisted device settings.
type SerialOpener struct{}

func (SerialOpener) Open(cfg settings.Settings) (Transport, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial port name is required")
	}

	mode, err := modeFor(cfg)
	if err != nil {
		return nil, err
	}

	dev, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := dev.SetReadTimeout(cfg.ReadTimeout()); err != nil {
		dev.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
	}

	return newPort(dev), nil
}

func modeFor(cfg settings.Settings) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baudrate,
		DataBits: cfg.Bytesize,
	}

	switch strings.ToUpper(cfg.Parity) {
	case "N", "":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}

	switch cfg.Stopbits {
	case 1, 0:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %v", cfg.Stopbits)
	}

	return mode, nil
}
