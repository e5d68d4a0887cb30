package terminal

import (
	"time"
)

// Tuning holds the heuristic timing constants of the session read loop and
// the live sink. The relative ordering matters (the indicator-then-debounce
// exit must win over raw idleness); the magnitudes are tunable.
type Tuning struct {
	// Settle is how long to wait after sending a command before polling,
	// giving the device time to start producing output.
	Settle time.Duration
	// PollInterval is the sleep between empty-buffer polls.
	PollInterval time.Duration
	// IdleIterations is how many consecutive empty polls must pass before
	// the idle-exit windows are consulted.
	IdleIterations int
	// IdleExit is the continuous-idle window after which a session whose
	// completion indicator has been seen may end.
	IdleExit time.Duration
	// IdleReset is the grace window after which, absent a completion
	// indicator, the idle counter resets and waiting continues up to the
	// full timeout budget.
	IdleReset time.Duration
	// PeriodicUpdate is the interval between liveness status snapshots
	// for long-running commands.
	PeriodicUpdate time.Duration
	// LiveThrottle is the delay after a successful live-terminal edit
	// before the next render for that channel.
	LiveThrottle time.Duration
	// QueueDepth is the admission queue capacity of the session manager.
	QueueDepth int
}

func (t *Tuning) setDefaults() {
	if t.Settle == 0 {
		t.Settle = 500 * time.Millisecond
	}
	if t.PollInterval == 0 {
		t.PollInterval = 100 * time.Millisecond
	}
	if t.IdleIterations == 0 {
		t.IdleIterations = 20
	}
	if t.IdleExit == 0 {
		t.IdleExit = 2 * time.Second
	}
	if t.IdleReset == 0 {
		t.IdleReset = 5 * time.Second
	}
	if t.PeriodicUpdate == 0 {
		t.PeriodicUpdate = 5 * time.Second
	}
	if t.LiveThrottle == 0 {
		t.LiveThrottle = 100 * time.Millisecond
	}
	if t.QueueDepth == 0 {
		t.QueueDepth = 16
	}
}
