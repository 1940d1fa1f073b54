package relay

import "sync"

// Guard enforces the single-flight invariant: at most one generation in
// flight process-wide, across all users and channels. Messages arriving
// while busy are dropped outright, not queued.
type Guard struct {
	mu   sync.Mutex
	busy bool
}

// TryAcquire moves the guard to busy and reports whether it succeeded.
// A false return means another generation is already in flight.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return false
	}

	g.busy = true
	return true
}

// Release returns the guard to idle. Safe to call on every exit path;
// releasing an idle guard is a no-op.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.busy = false
}

// Busy reports the current state.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.busy
}
