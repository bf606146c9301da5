package admission

import (
	"sync"
	"time"
)

// slidingWindow is a sliding log of admission timestamps for one class.
// Timestamps live in a ring buffer sized to the limit, so it never grows.
type slidingWindow struct {
	mu     sync.Mutex
	class  Class
	limit  int
	size   time.Duration
	stamps []time.Time
	head   int
	count  int
}

func newSlidingWindow(class Class, limit int, size time.Duration) *slidingWindow {
	return &slidingWindow{
		class:  class,
		limit:  limit,
		size:   size,
		stamps: make([]time.Time, limit),
	}
}

// take evicts expired entries, then records now if capacity remains.
// The whole check-and-record runs under the class lock.
func (w *slidingWindow) take(now time.Time) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)

	if w.count >= w.limit {
		retry := w.stamps[w.head].Add(w.size).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{
			Allowed:    false,
			Reason:     ReasonRateLimited,
			Class:      w.class,
			Limit:      w.limit,
			RetryAfter: retry,
		}
	}

	// callers may race on reading the clock; never record behind the newest entry
	// so the ring stays ordered oldest to newest
	if w.count > 0 {
		if newest := w.stamps[(w.head+w.count-1)%w.limit]; now.Before(newest) {
			now = newest
		}
	}
	w.stamps[(w.head+w.count)%w.limit] = now
	w.count++

	return Decision{
		Allowed:   true,
		Class:     w.class,
		Limit:     w.limit,
		Remaining: w.limit - w.count,
	}
}

// evict drops timestamps older than now-size. The interval [now-size, now] is inclusive.
func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.size)
	for w.count > 0 && w.stamps[w.head].Before(cutoff) {
		w.stamps[w.head] = time.Time{}
		w.head = (w.head + 1) % w.limit
		w.count--
	}
}

// State is a point-in-time view of one class window.
type State struct {
	Class       Class
	WindowStart time.Time
	Count       int
	Limit       int
}

func (w *slidingWindow) state(now time.Time) State {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	st := State{Class: w.class, Count: w.count, Limit: w.limit}
	if w.count > 0 {
		st.WindowStart = w.stamps[w.head]
	}
	return st
}
