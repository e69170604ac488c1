package hub

import "sync"

// WriteGuard provides per-key mutual exclusion for in-flight writes and
// deletes. Acquisition is non-blocking: a second writer to the same key is
// rejected immediately rather than queued, bounding worst-case latency and
// avoiding silent write reordering. Callers needing serialization retry.
//
// The held-set insert happens atomically under the mutex, so the invariant
// holds under real parallelism, not just cooperative scheduling.
type WriteGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewWriteGuard creates an empty guard.
func NewWriteGuard() *WriteGuard {
	return &WriteGuard{held: make(map[string]struct{})}
}

// TryAcquire attempts to mark key as held. On success it returns an
// idempotent release function the caller must invoke (typically deferred)
// once the protected operation completes, success or failure. When the key
// is already held it returns ok == false without blocking.
func (g *WriteGuard) TryAcquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.held[key]; exists {
		return nil, false
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true
}

// OpenCount returns the number of currently held keys. It must return to
// zero once all in-flight operations complete.
func (g *WriteGuard) OpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}
