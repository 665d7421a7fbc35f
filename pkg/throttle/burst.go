package throttle

import (
	"context"
	"fmt"
	"time"
)

// BurstGuard composes two counter stores so a request must pass both: a
// short high-ceiling burst store and the endpoint class's nominal sustained
// store. The two stores never share per-key state.
type BurstGuard struct {
	burst     CounterStore
	sustained CounterStore
}

var _ CounterStore = (*BurstGuard)(nil)

// NewBurstGuard composes a burst store and a sustained store.
func NewBurstGuard(burst, sustained CounterStore) (*BurstGuard, error) {
	if burst == nil || sustained == nil {
		return nil, fmt.Errorf("%w: burst guard requires both stores", ErrInvalidConfig)
	}
	return &BurstGuard{burst: burst, sustained: sustained}, nil
}

// Policy returns the sustained store's policy, which is the class's nominal
// quota surfaced to callers.
func (g *BurstGuard) Policy() Policy {
	return g.sustained.Policy()
}

// Consume spends one point from both stores for the same key. Both consumes
// always run, even when the first has already refused: a key blocked on one
// counter keeps burning points on the other, so the two never drift apart
// under repeated refused attempts, and burst quota is not sitting fresh the
// moment a sustained block lifts.
//
// A refusal reports the maximum RetryAfter of the two gates; an allowance
// reports the minimum Remaining.
func (g *BurstGuard) Consume(ctx context.Context, key string) (*Result, error) {
	br, berr := g.burst.Consume(ctx, key)
	sr, serr := g.sustained.Consume(ctx, key)
	if berr != nil {
		return nil, berr
	}
	if serr != nil {
		return nil, serr
	}

	if !br.Allowed || !sr.Allowed {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: maxDuration(br.RetryAfter, sr.RetryAfter),
			Hits:       sr.Hits,
		}, nil
	}

	remaining := br.Remaining
	if sr.Remaining < remaining {
		remaining = sr.Remaining
	}
	return &Result{
		Allowed:    true,
		Remaining:  remaining,
		RetryAfter: sr.RetryAfter,
		Hits:       sr.Hits,
	}, nil
}

// StartBackgroundSweep starts sweeps on whichever underlying stores support
// them and returns a function stopping both.
func (g *BurstGuard) StartBackgroundSweep(interval time.Duration) func() {
	stops := make([]func(), 0, 2)
	for _, s := range []CounterStore{g.burst, g.sustained} {
		if sw, ok := s.(interface {
			StartBackgroundSweep(time.Duration) func()
		}); ok {
			stops = append(stops, sw.StartBackgroundSweep(interval))
		}
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
