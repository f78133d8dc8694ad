package protector

import "time"

// RecencyGuard remembers when each door last received an authoritative status
// frame. Synthesized events for a door inside the window are suppressed.
//
// It is owned by the receive loop and is not safe for concurrent use.
type RecencyGuard struct {
	window time.Duration
	last   map[int]time.Time
}

// NewRecencyGuard creates a guard with the given window.
func NewRecencyGuard(window time.Duration) *RecencyGuard {
	return &RecencyGuard{window: window, last: make(map[int]time.Time)}
}

// MarkReal records an authoritative status for doorID at t.
func (g *RecencyGuard) MarkReal(doorID int, t time.Time) {
	g.last[doorID] = t
}

// Recent reports whether an authoritative status for doorID arrived within
// the window before t.
func (g *RecencyGuard) Recent(doorID int, t time.Time) bool {
	ts, ok := g.last[doorID]
	if !ok {
		return false
	}
	return t.Sub(ts) <= g.window
}

// Reset forgets every door.
func (g *RecencyGuard) Reset() {
	clear(g.last)
}
