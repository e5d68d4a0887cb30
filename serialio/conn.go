package serialio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaylab/serialterm/settings"
)

// Conn is the connection lifecycle for the single process-wide Transport.
// It owns the open transport; the session layer holds a non-owning reference
// through Acquire and never outlives it.
//
// Disconnect closes the port immediately. An in-flight session observes a
// transport error on its next read or write and terminates with an error
// snapshot; it is not preempted.
type Conn struct {
	mu        sync.Mutex
	opener    Opener
	transport Transport
	logger    *slog.Logger
}

// NewConn creates a lifecycle manager that opens transports via the given
// Opener.
func NewConn(opener Opener, logger *slog.Logger) *Conn {
	return &Conn{opener: opener, logger: logger}
}

// Connect opens the transport using the given settings and resets both
// device buffers. Returns ErrAlreadyConnected if a transport is open.
func (c *Conn) Connect(cfg settings.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return ErrAlreadyConnected
	}

	transport, err := c.opener.Open(cfg)
	if err != nil {
		return fmt.Errorf("open serial device: %w", err)
	}

	// Start from a clean slate; the device may have emitted unsolicited
	// output while disconnected.
	if err := transport.ResetInputBuffer(); err != nil {
		transport.Close()
		return fmt.Errorf("reset input buffer: %w", err)
	}
	if err := transport.ResetOutputBuffer(); err != nil {
		transport.Close()
		return fmt.Errorf("reset output buffer: %w", err)
	}

	c.transport = transport
	c.logger.Info("Connected to serial device", "port", cfg.Port, "baudrate", cfg.Baudrate)
	return nil
}

// Disconnect closes the transport. Returns ErrNotConnected if none is open.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return ErrNotConnected
	}

	err := c.transport.Close()
	c.transport = nil
	if err != nil {
		return fmt.Errorf("close serial device: %w", err)
	}
	c.logger.Info("Disconnected from serial device")
	return nil
}

// Flush discards both device buffers. Returns ErrNotConnected if no
// transport is open.
func (c *Conn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return ErrNotConnected
	}
	if err := c.transport.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	if err := c.transport.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("reset output buffer: %w", err)
	}
	return nil
}

// Acquire returns the open transport, or ErrNotConnected.
func (c *Conn) Acquire() (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return nil, ErrNotConnected
	}
	return c.transport, nil
}

// Connected reports whether a transport is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}
