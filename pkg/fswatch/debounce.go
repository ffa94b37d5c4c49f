package fswatch

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDebounceWindow is the minimum time between two change signals when
// no window is configured.
const DefaultDebounceWindow = 2 * time.Second

// DebounceGate forwards the first event after its window reopens, and drops
// every other event. The window is measured from the last forwarded event,
// not the last received one, so a steady stream of events spaced closer than
// the window produces a single signal.
type DebounceGate struct {
	clock  clockwork.Clock
	window time.Duration

	mu          sync.Mutex
	lastFiredAt time.Time
	fired       bool
}

// NewDebounceGate creates a gate with the given window. A zero window lets
// every event through.
func NewDebounceGate(window time.Duration, clock clockwork.Clock) *DebounceGate {
	if window < 0 {
		window = 0
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DebounceGate{clock: clock, window: window}
}

// Allow reports whether an event arriving now should be forwarded. If it
// returns true, the window restarts.
func (g *DebounceGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if g.fired && now.Sub(g.lastFiredAt) < g.window {
		return false
	}

	g.fired = true
	g.lastFiredAt = now
	return true
}

// Window returns the configured window.
func (g *DebounceGate) Window() time.Duration {
	return g.window
}
