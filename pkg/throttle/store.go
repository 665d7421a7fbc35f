package throttle

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one consumption attempt. Exhaustion is not an
// error: a refused consumption is reported as Allowed=false, never as a
// non-nil error.
type Result struct {
	// Allowed indicates whether the request may proceed
	Allowed bool

	// Remaining is the number of points left in the current window
	Remaining int

	// RetryAfter is how long until the window resets or, when the key is
	// blocked, until the block lifts
	RetryAfter time.Duration

	// Hits is the number of points consumed in the current window
	Hits int
}

// CounterStore is a keyed, windowed admission counter: each Consume spends
// one point for the key and reports whether the request may proceed.
// Implementations must be safe for concurrent use.
type CounterStore interface {
	Consume(ctx context.Context, key string) (*Result, error)

	// Policy returns the policy the store enforces.
	Policy() Policy
}

// counterEntry is the per-key state. Owned exclusively by the store that
// created it; all access goes through Consume.
type counterEntry struct {
	hits         int
	windowStart  time.Time
	blockedUntil time.Time
}

// MemoryStore implements CounterStore with an in-process map. It performs no
// I/O and never suspends; a single mutex serializes the
// read-increment-write sequence so hits never under- or over-count under
// concurrent access.
type MemoryStore struct {
	policy  Policy
	mu      sync.Mutex
	entries map[string]*counterEntry
	now     func() time.Time
}

var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory counter store enforcing the given
// policy.
func NewMemoryStore(policy Policy) (*MemoryStore, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &MemoryStore{
		policy:  policy,
		entries: make(map[string]*counterEntry),
		now:     time.Now,
	}, nil
}

// Policy returns the policy the store enforces.
func (s *MemoryStore) Policy() Policy {
	return s.policy
}

// Consume spends one point for key. The context is accepted for interface
// symmetry with remote stores; the in-memory store never blocks on it.
func (s *MemoryStore) Consume(_ context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok {
		e = &counterEntry{windowStart: now}
		s.entries[key] = e
	}

	// An active block refuses without touching the counter.
	if !e.blockedUntil.IsZero() && now.Before(e.blockedUntil) {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: e.blockedUntil.Sub(now),
			Hits:       e.hits,
		}, nil
	}

	// Window rollover: hits must not leak across unrelated windows.
	if now.Sub(e.windowStart) >= s.policy.Window {
		e.windowStart = now
		e.hits = 0
		e.blockedUntil = time.Time{}
	}

	e.hits++
	if e.hits <= s.policy.Points {
		return &Result{
			Allowed:    true,
			Remaining:  s.policy.Points - e.hits,
			RetryAfter: e.windowStart.Add(s.policy.Window).Sub(now),
			Hits:       e.hits,
		}, nil
	}

	// Quota exceeded on this call: enter the cool-down.
	e.blockedUntil = now.Add(s.policy.Block)
	return &Result{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: s.policy.Block,
		Hits:       e.hits,
	}, nil
}

// Count returns the number of tracked keys.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops entries whose window and block have both elapsed, and returns
// how many were removed. An entry with an active block is never dropped, so
// eviction cannot be used to dodge a cool-down.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if now.Sub(e.windowStart) >= s.policy.Window && !now.Before(e.blockedUntil) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartBackgroundSweep starts a goroutine that sweeps expired entries every
// interval. Call the returned function to stop it.
func (s *MemoryStore) StartBackgroundSweep(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
