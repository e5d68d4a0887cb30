// Package serialio owns the physical serial connection: the byte-level
// transport primitives the session layer drives, and the connection
// lifecycle that opens, closes and flushes the single process-wide port.
package serialio

import (
	"errors"
	"time"

	"github.com/relaylab/serialterm/settings"
)

//go:generate mockgen -source=transport.go -destination=mock_transport.go -package=serialio

var (
	// ErrNotConnected is returned when an operation requires an open
	// transport and none exists.
	ErrNotConnected = errors.New("not connected to serial device")

	// ErrAlreadyConnected is returned by Connect when a transport is
	// already open.
	ErrAlreadyConnected = errors.New("already connected to serial device")

	// ErrClosed is returned by transport operations after Close.
	ErrClosed = errors.New("transport closed")
)

// Transport is an established, line-buffered byte stream to a serial device.
//
// A Transport is assumed to be already connected and ready for use. Typical
// implementations wrap a physical serial port; tests use scripted fakes or
// generated mocks.
type Transport interface {
	// Write sends raw bytes to the device.
	Write(p []byte) (int, error)
	// Flush blocks until all written bytes have been transmitted.
	Flush() error
	// BytesAvailable reports how many received bytes are buffered and
	// ready to read without blocking.
	BytesAvailable() int
	// ReadLine reads one line including its terminator. If no full line
	// arrives before the timeout, whatever bytes are buffered are
	// returned (possibly none).
	ReadLine(timeout time.Duration) ([]byte, error)
	// ResetInputBuffer discards all received-but-unread bytes.
	ResetInputBuffer() error
	// ResetOutputBuffer discards all written-but-untransmitted bytes.
	ResetOutputBuffer() error
	// Close releases the device.
	Close() error
}

// Opener creates a Transport from persisted device settings.
//
// Opener abstracts how the connection is made (physical port, emulator,
// test double) and is only consulted by the connection lifecycle.
type Opener interface {
	Open(cfg settings.Settings) (Transport, error)
}
