package terminal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrNoMessenger is returned when a Registry is constructed without a
// Messenger.
var ErrNoMessenger = errors.New("no messenger configured")

// waitingPlaceholder is the initial content of a live terminal message.
const waitingPlaceholder = "Waiting for output..."

// RegistryConfig configures a sink Registry.
type RegistryConfig struct {
	// Messenger is the chat platform boundary (required).
	Messenger Messenger
	// Clock defaults to the system wall clock.
	Clock Clock
	// Throttle is the post-edit delay for live sinks; defaults to the
	// Tuning default.
	Throttle time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Registry tracks which channels are in plain terminal mode, which hold a
// live terminal, and dispatches snapshots to each with independent diffing
// and rate limiting. A channel may hold zero, one, or both registrations;
// they observe every snapshot independently and one failing never blocks
// the other.
type Registry struct {
	messenger Messenger
	clock     Clock
	throttle  time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	plain map[string]*plainSink
	live  map[string]*liveSink
}

// NewRegistry creates a sink registry delivering through the given
// messenger.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Messenger == nil {
		return nil, ErrNoMessenger
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Throttle == 0 {
		t := Tuning{}
		t.setDefaults()
		cfg.Throttle = t.LiveThrottle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Registry{
		messenger: cfg.Messenger,
		clock:     cfg.Clock,
		throttle:  cfg.Throttle,
		logger:    cfg.Logger,
		plain:     make(map[string]*plainSink),
		live:      make(map[string]*liveSink),
	}, nil
}

// RegisterPlain enables plain terminal mode for a channel: one message per
// completed session, delivered by a per-channel worker so consecutive
// sessions' outputs arrive in generation order.
func (r *Registry) RegisterPlain(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plain[channelID]; ok {
		return
	}
	sink := &plainSink{
		channelID: channelID,
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	r.plain[channelID] = sink
	go r.runPlain(sink)
}

// UnregisterPlain disables plain terminal mode for a channel. Queued but
// undelivered snapshots are discarded.
func (r *Registry) UnregisterPlain(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sink, ok := r.plain[channelID]; ok {
		delete(r.plain, channelID)
		close(sink.stop)
	}
}

// PlainActive reports whether a channel is in plain terminal mode.
func (r *Registry) PlainActive(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.plain[channelID]
	return ok
}

// LiveActive reports whether a channel holds a live terminal.
func (r *Registry) LiveActive(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[channelID]
	return ok
}

// Active reports whether a channel holds any terminal registration.
func (r *Registry) Active(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, plain := r.plain[channelID]
	_, live := r.live[channelID]
	return plain || live
}

// RegisterLive enables live terminal mode for a channel. It posts the
// placeholder message that subsequent snapshots re-render in place and
// returns its identity.
func (r *Registry) RegisterLive(ctx context.Context, channelID string) (MessageID, error) {
	r.mu.Lock()
	if sink, ok := r.live[channelID]; ok {
		r.mu.Unlock()
		return sink.messageID, nil
	}
	r.mu.Unlock()

	id, err := r.messenger.SendMessage(ctx, channelID, fence(waitingPlaceholder))
	if err != nil {
		return "", err
	}

	sink := &liveSink{
		channelID:    channelID,
		messageID:    id,
		notify:       make(chan struct{}, 1),
		stop:         make(chan struct{}),
		lastRendered: waitingPlaceholder,
	}

	r.mu.Lock()
	r.live[channelID] = sink
	r.mu.Unlock()

	go r.runLive(sink)
	return id, nil
}

// UnregisterLive disables live terminal mode for a channel and deletes its
// message. A message already deleted out-of-band is not an error.
func (r *Registry) UnregisterLive(ctx context.Context, channelID string) error {
	sink := r.dropLive(channelID)
	if sink == nil {
		return nil
	}
	err := r.messenger.DeleteMessage(ctx, channelID, sink.messageID)
	if err != nil && !errors.Is(err, ErrMessageNotFound) {
		return err
	}
	return nil
}

// dropLive removes a channel's live registration and stops its worker.
func (r *Registry) dropLive(channelID string) *liveSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink, ok := r.live[channelID]
	if !ok {
		return nil
	}
	delete(r.live, channelID)
	close(sink.stop)
	return sink
}

// OnSnapshot dispatches a snapshot to the channel's registered sinks. It
// never blocks: plain delivery goes through a per-channel FIFO drained by
// the sink's worker, live delivery through a latest-wins mailbox drained by
// its own worker.
func (r *Registry) OnSnapshot(channelID string, snap Snapshot) {
	r.mu.Lock()
	plain := r.plain[channelID]
	live := r.live[channelID]
	r.mu.Unlock()

	if plain != nil && snap.Terminal && len(snap.Lines) > 0 {
		plain.enqueue(snap)
	}
	if live != nil {
		live.offer(snap)
	}
}

// plainSink is the per-channel plain terminal state: a FIFO decoupling the
// session read loop from messenger I/O while preserving the generation order
// of consecutive sessions' outputs.
type plainSink struct {
	channelID string

	mu     sync.Mutex
	queue  []Snapshot
	notify chan struct{}
	stop   chan struct{}
}

func (s *plainSink) enqueue(snap Snapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *plainSink) dequeue() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Snapshot{}, false
	}
	snap := s.queue[0]
	s.queue = s.queue[1:]
	return snap, true
}

// runPlain drains a plain sink's queue in order until the sink is
// unregistered.
func (r *Registry) runPlain(sink *plainSink) {
	for {
		select {
		case <-sink.stop:
			return
		case <-sink.notify:
		}
		for {
			snap, ok := sink.dequeue()
			if !ok {
				break
			}
			r.sendPlain(sink.channelID, snap)
		}
	}
}

func (r *Registry) sendPlain(channelID string, snap Snapshot) {
	text := fence(strings.Join(snap.Lines, "\n"))
	if _, err := r.messenger.SendMessage(context.Background(), channelID, text); err != nil {
		r.logger.Warn("Failed to send terminal output", "channel", channelID, "error", err)
	}
}

// liveSink is the per-channel live terminal state: the message it re-renders
// and a latest-wins mailbox decoupling the session read loop from messenger
// I/O. Snapshots are cumulative, so coalescing intermediate ones under load
// loses nothing.
type liveSink struct {
	channelID string
	messageID MessageID

	mu      sync.Mutex
	pending *Snapshot
	notify  chan struct{}
	stop    chan struct{}

	// lastRendered is only touched by the sink's worker.
	lastRendered string
}

func (s *liveSink) offer(snap Snapshot) {
	s.mu.Lock()
	s.pending = &snap
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *liveSink) take() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.pending
	s.pending = nil
	return snap
}

// runLive drains a live sink's mailbox until the sink is unregistered.
func (r *Registry) runLive(sink *liveSink) {
	ctx := context.Background()
	for {
		select {
		case <-sink.stop:
			return
		case <-sink.notify:
		}
		snap := sink.take()
		if snap == nil {
			continue
		}
		if gone := r.renderLive(ctx, sink, *snap); gone {
			return
		}
	}
}

// renderLive pushes one snapshot to the live message. It reports true when
// the sink unregistered itself because the message no longer exists.
func (r *Registry) renderLive(ctx context.Context, sink *liveSink, snap Snapshot) bool {
	content := strings.Join(tail(snap.Lines, BufferLines), "\n")
	if content == "" || content == sink.lastRendered {
		return false
	}

	// The message may have been deleted out-of-band; check before editing
	// and diff against what the platform actually shows.
	current, err := r.messenger.FetchMessage(ctx, sink.channelID, sink.messageID)
	if errors.Is(err, ErrMessageNotFound) {
		r.logger.Info("Live terminal message gone, unregistering", "channel", sink.channelID)
		r.dropLive(sink.channelID)
		return true
	}
	if err != nil {
		r.logger.Warn("Failed to fetch live terminal message", "channel", sink.channelID, "error", err)
		return false
	}

	if current != fence(content) {
		if err := r.messenger.EditMessage(ctx, sink.channelID, sink.messageID, fence(content)); err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				r.dropLive(sink.channelID)
				return true
			}
			r.logger.Warn("Failed to update live terminal", "channel", sink.channelID, "error", err)
			return false
		}
	}
	sink.lastRendered = content

	// The message-edit interface is rate limited; pace the next render.
	// Cancellation here only cuts the pause short.
	_ = r.clock.Sleep(ctx, r.throttle)
	return false
}

func fence(content string) string {
	return "```\n" + content + "\n```"
}
