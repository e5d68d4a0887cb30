// Package terminal turns the half-duplex, line-buffered serial transport
// into a reliable request/response exchange and fans the results out to
// chat channels. It contains the session manager (single-flight command
// execution with adaptive completion detection) and the sink registry
// (plain and live terminal delivery with diffing and rate limiting).
package terminal

// BufferLines is the size of the rolling window shown in incremental and
// live-terminal views.
const BufferLines = 20

// Snapshot is an immutable view of a session's accumulated response lines at
// one point in time. Intermediate and periodic snapshots carry the last
// BufferLines lines; the terminal snapshot carries the full accumulation.
type Snapshot struct {
	// Lines is the ordered response line sequence.
	Lines []string
	// Elapsed is whole seconds since the session's timeout budget started.
	Elapsed int
	// Terminal marks the final snapshot of a session.
	Terminal bool
}

// SnapshotSink receives every snapshot a session produces. Implementations
// must not block: the session read loop calls OnSnapshot inline and its
// timing must not depend on sink I/O.
type SnapshotSink interface {
	OnSnapshot(channelID string, snap Snapshot)
}

// tail returns the last n elements of lines, sharing the backing array.
func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
