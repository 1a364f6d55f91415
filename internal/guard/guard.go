// Package guard provides per-asset mutual exclusion. It is the only mechanism
// keeping two overlapping sell attempts, or a sell overlapping a graduation
// claim, from both passing their checks and spending the same balance.
package guard

import "sync"

// Guard is a set of asset keys currently being acted upon.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// New returns an empty guard.
func New() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// TryAcquire marks key as in-flight. It returns false when the key is already
// held; it never blocks.
func (g *Guard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.active[key]; held {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

// Release clears key. Every acquire must be paired with a release on all exit
// paths, including error returns.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}

// Held reports whether key is currently acquired.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.active[key]
	return held
}
