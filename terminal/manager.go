package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relaylab/serialterm/at"
	"github.com/relaylab/serialterm/serialio"
	"github.com/relaylab/serialterm/settings"
)

var (
	// ErrNoProvider is returned when a Manager is constructed without a
	// transport provider.
	ErrNoProvider = errors.New("no transport provider configured")

	// ErrNoSink is returned when a Manager is constructed without a
	// snapshot sink.
	ErrNoSink = errors.New("no snapshot sink configured")

	// ErrNoSettings is returned when a Manager is constructed without a
	// settings source.
	ErrNoSettings = errors.New("no settings source configured")
)

// notConnectedLine is the user-visible rendering of a session that could not
// acquire a transport.
const notConnectedLine = "Not connected to serial device"

// TransportProvider hands out the shared transport. The session manager
// holds a non-owning reference: the connection lifecycle may close the
// transport underneath it, in which case the in-flight session terminates
// with an error snapshot on its next transport operation.
type TransportProvider interface {
	Acquire() (serialio.Transport, error)
}

// ManagerConfig configures a session Manager.
type ManagerConfig struct {
	// Provider hands out the shared transport (required).
	Provider TransportProvider
	// Sink receives every snapshot the manager emits (required).
	Sink SnapshotSink
	// Settings yields the current device settings; consulted once per
	// session for decoding and the base read timeout (required).
	Settings func() settings.Settings
	// Clock defaults to the system wall clock.
	Clock Clock
	// Tuning defaults are applied per field.
	Tuning Tuning
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// request is one queued command execution.
type request struct {
	channelID string
	command   string
}

// Manager serializes command execution against the single shared transport.
// Commands from any number of channels are admitted through a FIFO queue and
// executed one at a time; no two sessions ever interleave their transport
// I/O. Each session runs the adaptive read loop and emits incremental,
// periodic and terminal snapshots to the configured sink.
type Manager struct {
	provider TransportProvider
	sink     SnapshotSink
	settings func() settings.Settings
	clock    Clock
	tuning   Tuning
	logger   *slog.Logger

	requests chan *request
}

// NewManager creates a session manager. Run must be called before submitted
// commands are executed.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Sink == nil {
		return nil, ErrNoSink
	}
	if cfg.Settings == nil {
		return nil, ErrNoSettings
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Tuning.setDefaults()

	return &Manager{
		provider: cfg.Provider,
		sink:     cfg.Sink,
		settings: cfg.Settings,
		clock:    cfg.Clock,
		tuning:   cfg.Tuning,
		logger:   cfg.Logger,
		requests: make(chan *request, cfg.Tuning.QueueDepth),
	}, nil
}

// Submit queues a command for execution on behalf of a channel. Admission is
// FIFO; a command arriving while a session is active is served after the
// current session completes, never rejected as busy. Submit blocks only when
// the admission queue is full.
func (m *Manager) Submit(ctx context.Context, channelID, command string) error {
	req := &request{channelID: channelID, command: command}
	select {
	case m.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the manager's event loop. It executes queued sessions one at a
// time until the context is cancelled. It must be called exactly once; it is
// the only goroutine that touches the transport.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.requests:
			m.runSession(ctx, req)
		}
	}
}

// runSession executes one command/response exchange: write the command,
// discard its echo, then drive the adaptive read loop until a completion
// indicator settles, the timeout budget expires, or the transport fails.
func (m *Manager) runSession(ctx context.Context, req *request) {
	logger := m.logger.With("channel", req.channelID, "command", req.command)

	transport, err := m.provider.Acquire()
	if err != nil {
		logger.Debug("Command dropped, transport not connected")
		m.emit(req.channelID, Snapshot{Lines: []string{notConnectedLine}, Terminal: true})
		return
	}

	cfg := m.settings()
	decoding := cfg.Decoding()
	readTimeout := cfg.ReadTimeout()

	if _, err := transport.Write([]byte(req.command + at.CRLF)); err != nil {
		m.fail(logger, req.channelID, err)
		return
	}
	if err := transport.Flush(); err != nil {
		m.fail(logger, req.channelID, err)
		return
	}

	// The device echoes the command; read and discard exactly one line so
	// it never pollutes the response buffer.
	if _, err := transport.ReadLine(readTimeout); err != nil {
		m.fail(logger, req.channelID, err)
		return
	}

	timeout := at.TimeoutFor(strings.ToUpper(req.command))
	start := m.clock.Now()
	logger.Debug("Command sent, waiting for response", "timeout", timeout)

	m.emit(req.channelID, Snapshot{
		Lines: []string{fmt.Sprintf("Processing command (timeout: %ds)...", int(timeout/time.Second))},
	})

	if err := m.clock.Sleep(ctx, m.tuning.Settle); err != nil {
		m.fail(logger, req.channelID, err)
		return
	}

	var (
		lines     []string
		lastRead  = m.clock.Now()
		lastPulse = start
		idle      int
		completed bool
	)

	for m.clock.Now().Sub(start) < timeout {
		now := m.clock.Now()

		// Long-running commands must show liveness even when the device
		// produces no new output.
		if now.Sub(lastPulse) >= m.tuning.PeriodicUpdate {
			elapsed := int(now.Sub(start) / time.Second)
			status := append(
				[]string{fmt.Sprintf("Command running for %ds...", elapsed)},
				tail(lines, BufferLines)...,
			)
			m.emit(req.channelID, Snapshot{Lines: status, Elapsed: elapsed})
			lastPulse = now
		}

		if transport.BytesAvailable() > 0 {
			idle = 0
			for transport.BytesAvailable() > 0 {
				raw, err := transport.ReadLine(readTimeout)
				if err != nil {
					m.fail(logger, req.channelID, err)
					return
				}

				text, decodeErr := decoding.Decode(raw)
				if decodeErr != nil {
					// Recovered locally: keep the payload as hex
					// rather than dropping the line.
					logger.Debug("Decode fallback", "error", decodeErr)
					lines = append(lines, at.HexDump(raw))
					m.emitIncremental(req.channelID, lines, start)
					continue
				}

				text = strings.TrimSpace(text)
				if text == "" || text == req.command {
					// Blank or stray echo, not output.
					continue
				}

				lines = append(lines, text)
				m.emitIncremental(req.channelID, lines, start)

				if at.IsCompletionIndicator(text) {
					// A completion indicator wins over any bytes
					// still buffered in this pass.
					logger.Debug("Completion indicator seen", "status", text)
					completed = true
					break
				}
			}
			lastRead = m.clock.Now()
		} else {
			if err := m.clock.Sleep(ctx, m.tuning.PollInterval); err != nil {
				m.fail(logger, req.channelID, err)
				return
			}
			idle++
			now = m.clock.Now()

			if idle > m.tuning.IdleIterations && now.Sub(lastRead) > m.tuning.IdleExit {
				if completed {
					// Debounced: the indicator appeared and the
					// line has stayed quiet since.
					break
				}
				if now.Sub(lastRead) > m.tuning.IdleReset {
					// Slow devices pause mid-output; keep waiting
					// up to the full budget.
					idle = 0
				}
			}
		}
	}

	elapsed := int(m.clock.Now().Sub(start) / time.Second)
	m.emit(req.channelID, Snapshot{Lines: lines, Elapsed: elapsed, Terminal: true})
	logger.Debug("Session finished", "lines", len(lines), "completed", completed, "elapsed", elapsed)
}

// fail terminates a session with a single error snapshot. Sessions are never
// retried; the user must resubmit.
func (m *Manager) fail(logger *slog.Logger, channelID string, err error) {
	logger.Error("Serial communication error", "error", err)
	m.emit(channelID, Snapshot{
		Lines:    []string{fmt.Sprintf("Error: %v", err)},
		Terminal: true,
	})
}

func (m *Manager) emitIncremental(channelID string, lines []string, start time.Time) {
	m.emit(channelID, Snapshot{
		Lines:   tail(lines, BufferLines),
		Elapsed: int(m.clock.Now().Sub(start) / time.Second),
	})
}

func (m *Manager) emit(channelID string, snap Snapshot) {
	m.sink.OnSnapshot(channelID, snap)
}
