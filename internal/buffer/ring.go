// Package buffer holds the bounded in-memory tail of agent output.
package buffer

import "sync"

const (
	// DefaultHighWater is the append count that triggers compaction.
	DefaultHighWater = 600
	// DefaultLowWater is the line count kept after compaction.
	DefaultLowWater = 400
)

// Ring is a bounded line buffer. Appends are O(1) amortized: once the buffer
// grows past the high-water mark it is compacted down to the low-water mark,
// discarding the oldest lines. Only the tail is ever read back.
type Ring struct {
	mu        sync.Mutex
	lines     []string
	highWater int
	lowWater  int
}

// New creates a Ring with the given watermarks. Non-positive or inverted
// values fall back to the defaults.
func New(highWater, lowWater int) *Ring {
	if highWater <= 0 || lowWater <= 0 || lowWater >= highWater {
		highWater = DefaultHighWater
		lowWater = DefaultLowWater
	}
	return &Ring{
		lines:     make([]string, 0, lowWater),
		highWater: highWater,
		lowWater:  lowWater,
	}
}

// Append adds one line, compacting if the buffer exceeds the high-water mark.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, line)
	if len(r.lines) > r.highWater {
		keep := r.lines[len(r.lines)-r.lowWater:]
		compacted := make([]string, len(keep), r.lowWater+r.lowWater/2)
		copy(compacted, keep)
		r.lines = compacted
	}
}

// Tail returns up to n most recent lines in arrival order.
func (r *Ring) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || len(r.lines) == 0 {
		return nil
	}
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// Len returns the current number of buffered lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

// Reset discards all buffered lines. Called at the start of each burst.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = r.lines[:0]
}
