package terminal_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaylab/serialterm/serialio"
	"github.com/relaylab/serialterm/settings"
	"github.com/relaylab/serialterm/terminal"
)

// fakeClock advances virtual time on every sleep so the adaptive read loop
// runs deterministically without real delays.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// eventLog records the global interleaving of transport writes and terminal
// snapshots across sessions.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) index(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e == event {
			return i
		}
	}
	return -1
}

// scriptedTransport simulates a half-duplex device: every write queues the
// device's scripted output (echo included), reads drain it line by line.
// holdPolls hides the queued output from BytesAvailable for that many calls,
// simulating a device that pauses mid-response.
type scriptedTransport struct {
	mu        sync.Mutex
	pending   [][]byte
	onWrite   func(wire string) [][]byte
	writeErr  error
	holdPolls int
	events    *eventLog
}

func (t *scriptedTransport) Write(p []byte) (int, error) {
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	wire := strings.TrimSpace(string(p))
	if t.events != nil {
		t.events.add("write:" + wire)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.onWrite != nil {
		t.pending = append(t.pending, t.onWrite(string(p))...)
	}
	return len(p), nil
}

func (t *scriptedTransport) Flush() error { return nil }

func (t *scriptedTransport) BytesAvailable() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holdPolls > 0 {
		t.holdPolls--
		return 0
	}
	n := 0
	for _, line := range t.pending {
		n += len(line)
	}
	return n
}

func (t *scriptedTransport) ReadLine(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil, nil
	}
	line := t.pending[0]
	t.pending = t.pending[1:]
	return line, nil
}

func (t *scriptedTransport) ResetInputBuffer() error  { return nil }
func (t *scriptedTransport) ResetOutputBuffer() error { return nil }
func (t *scriptedTransport) Close() error             { return nil }

type fakeProvider struct {
	transport serialio.Transport
	err       error
}

func (p *fakeProvider) Acquire() (serialio.Transport, error) {
	return p.transport, p.err
}

// recordingSink captures every snapshot and signals terminal ones.
type recordingSink struct {
	mu        sync.Mutex
	snaps     map[string][]terminal.Snapshot
	events    *eventLog
	terminals chan terminal.Snapshot
}

func newRecordingSink(events *eventLog) *recordingSink {
	return &recordingSink{
		snaps:     make(map[string][]terminal.Snapshot),
		events:    events,
		terminals: make(chan terminal.Snapshot, 8),
	}
}

func (s *recordingSink) OnSnapshot(channelID string, snap terminal.Snapshot) {
	s.mu.Lock()
	s.snaps[channelID] = append(s.snaps[channelID], snap)
	s.mu.Unlock()
	if snap.Terminal {
		if s.events != nil {
			s.events.add("terminal:" + channelID)
		}
		s.terminals <- snap
	}
}

func (s *recordingSink) forChannel(channelID string) []terminal.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]terminal.Snapshot(nil), s.snaps[channelID]...)
}

func (s *recordingSink) waitTerminal(t *testing.T) terminal.Snapshot {
	t.Helper()
	select {
	case snap := <-s.terminals:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal snapshot")
		return terminal.Snapshot{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startManager(t *testing.T, provider terminal.TransportProvider, sink terminal.SnapshotSink, cfg settings.Settings) (*terminal.Manager, context.Context) {
	t.Helper()
	manager, err := terminal.NewManager(terminal.ManagerConfig{
		Provider: provider,
		Sink:     sink,
		Settings: func() settings.Settings { return cfg },
		Clock:    newFakeClock(),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("unexpected error from NewManager(): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go manager.Run(ctx)
	return manager, ctx
}

func TestSessionCollectsResponse(t *testing.T) {
	command := `AT+CWJAP="ssid","pass"`

	events := &eventLog{}
	transport := &scriptedTransport{
		events: events,
		onWrite: func(wire string) [][]byte {
			// Echo, a stray second echo, the data line, the indicator.
			return [][]byte{
				[]byte(wire),
				[]byte(wire),
				[]byte("+CWJAP:1\r\n"),
				[]byte("OK\r\n"),
			}
		},
	}
	sink := newRecordingSink(events)
	manager, ctx := startManager(t, &fakeProvider{transport: transport}, sink, settings.Defaults())

	if err := manager.Submit(ctx, "chan-1", command); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}

	final := sink.waitTerminal(t)
	if !final.Terminal {
		t.Error("expected terminal snapshot")
	}
	want := []string{"+CWJAP:1", "OK"}
	if len(final.Lines) != len(want) || final.Lines[0] != want[0] || final.Lines[1] != want[1] {
		t.Errorf("terminal lines = %v, want %v", final.Lines, want)
	}
	if final.Elapsed >= 45 {
		t.Errorf("session took the full timeout budget: %ds", final.Elapsed)
	}

	terminals := 0
	for _, snap := range sink.forChannel("chan-1") {
		if snap.Terminal {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal snapshot count = %d, want 1", terminals)
	}
}

func TestSingleFlightSerialization(t *testing.T) {
	events := &eventLog{}
	transport := &scriptedTransport{
		events: events,
		onWrite: func(wire string) [][]byte {
			return [][]byte{[]byte(wire), []byte("OK\r\n")}
		},
	}
	sink := newRecordingSink(events)
	manager, ctx := startManager(t, &fakeProvider{transport: transport}, sink, settings.Defaults())

	if err := manager.Submit(ctx, "chan-a", "AT"); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}
	if err := manager.Submit(ctx, "chan-b", "AT+GMR"); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}

	sink.waitTerminal(t)
	sink.waitTerminal(t)

	firstDone := events.index("terminal:chan-a")
	secondWrite := events.index("write:AT+GMR")
	if firstDone < 0 || secondWrite < 0 {
		t.Fatalf("missing events: terminal=%d write=%d", firstDone, secondWrite)
	}
	if secondWrite < firstDone {
		t.Errorf("second command wrote to the transport before the first session finished (write at %d, terminal at %d)", secondWrite, firstDone)
	}
}

func TestDecodeFallbackToHex(t *testing.T) {
	transport := &scriptedTransport{
		onWrite: func(wire string) [][]byte {
			return [][]byte{
				[]byte(wire),
				{0xff, 0xfe, 0x0d, 0x0a},
				[]byte("OK\r\n"),
			}
		},
	}
	sink := newRecordingSink(nil)

	cfg := settings.Defaults()
	cfg.EncodingErrors = "strict"
	manager, ctx := startManager(t, &fakeProvider{transport: transport}, sink, cfg)

	if err := manager.Submit(ctx, "chan-1", "AT+GMR"); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}

	final := sink.waitTerminal(t)
	if len(final.Lines) != 2 {
		t.Fatalf("terminal lines = %v, want 2 lines", final.Lines)
	}
	if final.Lines[0] != "Raw hex data: ff fe 0d 0a" {
		t.Errorf("hex fallback line = %q, want %q", final.Lines[0], "Raw hex data: ff fe 0d 0a")
	}
	if final.Lines[1] != "OK" {
		t.Errorf("last line = %q, want OK", final.Lines[1])
	}
}

func TestNotConnected(t *testing.T) {
	sink := newRecordingSink(nil)
	manager, ctx := startManager(t, &fakeProvider{err: serialio.ErrNotConnected}, sink, settings.Defaults())

	if err := manager.Submit(ctx, "chan-1", "AT"); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}

	final := sink.waitTerminal(t)
	if len(final.Lines) != 1 || final.Lines[0] != "Not connected to serial device" {
		t.Errorf("terminal lines = %v, want the not-connected line", final.Lines)
	}
	if got := sink.forChannel("chan-1"); len(got) != 1 {
		t.Errorf("snapshot count = %d, want 1", len(got))
	}
}

func TestTransportErrorAbortsSession(t *testing.T) {
	transport := &scriptedTransport{writeErr: errors.New("input/output error")}
	sink := newRecordingSink(nil)
	manager, ctx := startManager(t, &fakeProvider{transport: transport}, sink, settings.Defaults())

	if err := manager.Submit(ctx, "chan-1", "AT"); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}

	final := sink.waitTerminal(t)
	if len(final.Lines) != 1 || final.Lines[0] != "Error: input/output error" {
		t.Errorf("terminal lines = %v, want a single error line", final.Lines)
	}
}

func TestIdleResetCollectsLateOutput(t *testing.T) {
	// The device goes silent past the idle-reset grace window, then
	// resumes. The session must keep waiting and still collect the output.
	transport := &scriptedTransport{
		holdPolls: 70, // 7s of virtual silence at the 100ms poll interval
		onWrite: func(wire string) [][]byte {
			return [][]byte{
				[]byte(wire),
				[]byte("+LATE:1\r\n"),
				[]byte("OK\r\n"),
			}
		},
	}
	sink := newRecordingSink(nil)
	manager, ctx := startManager(t, &fakeProvider{transport: transport}, sink, settings.Defaults())

	if err := manager.Submit(ctx, "chan-1", "AT"); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}

	final := sink.waitTerminal(t)
	want := []string{"+LATE:1", "OK"}
	if len(final.Lines) != len(want) || final.Lines[0] != want[0] || final.Lines[1] != want[1] {
		t.Errorf("terminal lines = %v, want %v", final.Lines, want)
	}
	if final.Elapsed < 7 {
		t.Errorf("session ended after %ds, before the device resumed", final.Elapsed)
	}
	if final.Elapsed >= 15 {
		t.Errorf("session ran the full timeout budget (%ds) despite completing", final.Elapsed)
	}
}

func TestPeriodicStatusSnapshots(t *testing.T) {
	transport := &scriptedTransport{
		onWrite: func(wire string) [][]byte {
			// Echo only; the device never answers.
			return [][]byte{[]byte(wire)}
		},
	}
	sink := newRecordingSink(nil)
	manager, ctx := startManager(t, &fakeProvider{transport: transport}, sink, settings.Defaults())

	if err := manager.Submit(ctx, "chan-1", "AT"); err != nil {
		t.Fatalf("unexpected error from Submit(): %v", err)
	}

	final := sink.waitTerminal(t)
	if len(final.Lines) != 0 {
		t.Errorf("terminal lines = %v, want none", final.Lines)
	}
	if final.Elapsed < 15 {
		t.Errorf("session ended after %ds, want the full 15s budget", final.Elapsed)
	}

	pulses := 0
	for _, snap := range sink.forChannel("chan-1") {
		if !snap.Terminal && len(snap.Lines) > 0 && strings.HasPrefix(snap.Lines[0], "Command running for ") {
			pulses++
		}
	}
	if pulses < 2 {
		t.Errorf("periodic status snapshots = %d, want at least 2", pulses)
	}
}
