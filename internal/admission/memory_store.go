package admission

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownClass is returned for a class that has no configured window.
var ErrUnknownClass = errors.New("admission: unknown class")

// Store records admissions against per-class windows.
type Store interface {
	Take(ctx context.Context, class Class, now time.Time) (Decision, error)
}

// MemoryStore keeps one window per class in process memory.
// The class map is built once and never written afterwards, so lookups need no lock;
// each window carries its own mutex.
type MemoryStore struct {
	windows map[Class]*slidingWindow
}

// NewMemoryStore builds windows for every class in the policy.
func NewMemoryStore(policy Policy) (*MemoryStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	windows := make(map[Class]*slidingWindow, len(policy.Limits))
	for class, limit := range policy.Limits {
		windows[class] = newSlidingWindow(class, limit, policy.Window)
	}
	return &MemoryStore{windows: windows}, nil
}

// Take implements Store.
func (s *MemoryStore) Take(ctx context.Context, class Class, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	w, ok := s.windows[class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return w.take(now), nil
}

// Snapshot returns the state of every known class window at now.
func (s *MemoryStore) Snapshot(now time.Time) []State {
	out := make([]State, 0, len(s.windows))
	for _, class := range Classes {
		if w, ok := s.windows[class]; ok {
			out = append(out, w.state(now))
		}
	}
	return out
}
