package serialio

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/relaylab/serialterm/settings"
)

// fakeDevice simulates a blocking serial device using channels, in the same
// spirit as a real port: reads block until the device produces bytes.
type fakeDevice struct {
	mu       sync.Mutex
	readChan chan []byte
	written  [][]byte
	closed   bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{readChan: make(chan []byte, 16)}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	data, ok := <-d.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, append([]byte(nil), p...))
	return len(p), nil
}

func (d *fakeDevice) Drain() error             { return nil }
func (d *fakeDevice) ResetInputBuffer() error  { return nil }
func (d *fakeDevice) ResetOutputBuffer() error { return nil }

func (d *fakeDevice) SetReadTimeout(t time.Duration) error { return nil }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.readChan)
	return nil
}

// emit queues device output for the reader goroutine.
func (d *fakeDevice) emit(data string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.readChan <- []byte(data)
	}
}

func TestPortReadLineFraming(t *testing.T) {
	dev := newFakeDevice()
	port := newPort(dev)
	defer port.Close()

	dev.emit("AT\r\nOK\r\n")

	line, err := port.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "AT\r\n" {
		t.Errorf("first line = %q, want %q", line, "AT\r\n")
	}

	// The rest of the chunk must already be buffered.
	if got := port.BytesAvailable(); got != len("OK\r\n") {
		t.Errorf("BytesAvailable = %d, want %d", got, len("OK\r\n"))
	}

	line, err = port.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "OK\r\n" {
		t.Errorf("second line = %q, want %q", line, "OK\r\n")
	}
}

func TestPortReadLineAcrossChunks(t *testing.T) {
	dev := newFakeDevice()
	port := newPort(dev)
	defer port.Close()

	dev.emit("+CWJ")
	dev.emit("AP:1\r\n")

	line, err := port.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "+CWJAP:1\r\n" {
		t.Errorf("line = %q, want %q", line, "+CWJAP:1\r\n")
	}
}

func TestPortReadLineTimeoutReturnsPartial(t *testing.T) {
	dev := newFakeDevice()
	port := newPort(dev)
	defer port.Close()

	dev.emit("partial")

	// Let the reader pick the chunk up before the deadline starts mattering.
	for i := 0; i < 100 && port.BytesAvailable() == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	line, err := port.ReadLine(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(line) != "partial" {
		t.Errorf("line = %q, want %q", line, "partial")
	}
	if got := port.BytesAvailable(); got != 0 {
		t.Errorf("BytesAvailable after timeout drain = %d, want 0", got)
	}
}

func TestPortResetInputBuffer(t *testing.T) {
	dev := newFakeDevice()
	port := newPort(dev)
	defer port.Close()

	dev.emit("stale data\r\n")
	for i := 0; i < 100 && port.BytesAvailable() == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	if err := port.ResetInputBuffer(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := port.BytesAvailable(); got != 0 {
		t.Errorf("BytesAvailable after reset = %d, want 0", got)
	}
}

func TestPortReadAfterClose(t *testing.T) {
	dev := newFakeDevice()
	port := newPort(dev)

	if err := port.Close(); err != nil {
		t.Fatalf("unexpected error from Close(): %v", err)
	}
	if _, err := port.ReadLine(50 * time.Millisecond); err == nil {
		t.Error("expected error reading from closed port")
	}
	if err := port.Close(); err != ErrClosed {
		t.Errorf("expected ErrClosed on double close, got: %v", err)
	}
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		name     string
		parity   string
		stopbits float64
		err      bool
	}{
		{name: "Defaults", parity: "N", stopbits: 1},
		{name: "Even parity two stop bits", parity: "E", stopbits: 2},
		{name: "Lower-case parity", parity: "o", stopbits: 1.5},
		{name: "Unknown parity", parity: "X", stopbits: 1, err: true},
		{name: "Unknown stop bits", parity: "N", stopbits: 3, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := settings.Defaults()
			cfg.Parity = tt.parity
			cfg.Stopbits = tt.stopbits

			_, err := modeFor(cfg)
			if tt.err && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.err && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
