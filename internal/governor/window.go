// Package governor enforces the two submission gates: the per-unit pending
// ceiling and the sliding per-caller rate window. Both are cheap checks run
// before any crypto or write work.
package governor

import (
	"context"
	"sync"
	"time"
)

// Window admits or refuses one event for a caller key against a sliding time
// window. Implementations must be safe for concurrent use; a race that
// double-admits one borderline event is acceptable.
type Window interface {
	// Admit records the event when under the limit. When over, it returns
	// allowed=false and the time until the oldest counted event leaves the
	// window.
	Admit(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// MemoryWindow is the in-process sliding window. State is lost on restart,
// which is an accepted precision loss.
type MemoryWindow struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	buckets   map[string][]time.Time
	lastSweep time.Time
}

func NewMemoryWindow(limit int, window time.Duration) *MemoryWindow {
	return &MemoryWindow{
		limit:   limit,
		window:  window,
		buckets: make(map[string][]time.Time),
	}
}

func (w *MemoryWindow) Admit(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.maybeSweep(now)
	timestamps := w.evict(key, now)
	if len(timestamps) >= w.limit {
		retryAfter := timestamps[0].Add(w.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	w.buckets[key] = append(timestamps, now)
	return true, 0, nil
}

// TrackedKeys reports how many caller keys currently hold state.
func (w *MemoryWindow) TrackedKeys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buckets)
}

// maybeSweep drops keys whose events have all left the window, so callers
// that never return do not accumulate forever. Eviction in Admit only touches
// the requested key; this walks the whole map, at most once per window.
// Caller holds the lock.
func (w *MemoryWindow) maybeSweep(now time.Time) {
	if now.Sub(w.lastSweep) < w.window {
		return
	}
	w.lastSweep = now
	cutoff := now.Add(-w.window)
	for key, timestamps := range w.buckets {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(w.buckets, key)
		}
	}
}

// evict drops timestamps that left the window. Caller holds the lock.
func (w *MemoryWindow) evict(key string, now time.Time) []time.Time {
	timestamps := w.buckets[key]
	cutoff := now.Add(-w.window)
	i := 0
	for ; i < len(timestamps); i++ {
		if timestamps[i].After(cutoff) {
			break
		}
	}
	timestamps = timestamps[i:]
	if len(timestamps) == 0 {
		delete(w.buckets, key)
	} else {
		w.buckets[key] = timestamps
	}
	return timestamps
}
