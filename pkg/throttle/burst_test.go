package throttle

import (
	"testing"
	"time"
)

func newTestGuard(t *testing.T, burst, sustained Policy) (*BurstGuard, *MemoryStore, *MemoryStore) {
	t.Helper()
	burstStore, err := NewMemoryStore(burst)
	if err != nil {
		t.Fatalf("NewMemoryStore(burst) failed: %v", err)
	}
	sustainedStore, err := NewMemoryStore(sustained)
	if err != nil {
		t.Fatalf("NewMemoryStore(sustained) failed: %v", err)
	}
	guard, err := NewBurstGuard(burstStore, sustainedStore)
	if err != nil {
		t.Fatalf("NewBurstGuard() failed: %v", err)
	}
	return guard, burstStore, sustainedStore
}

func TestNewBurstGuard_NilStores(t *testing.T) {
	store, err := NewMemoryStore(Policy{Points: 1, Window: time.Second})
	if err != nil {
		t.Fatalf("NewMemoryStore() failed: %v", err)
	}
	if _, err := NewBurstGuard(nil, store); err == nil {
		t.Error("NewBurstGuard(nil, store) expected error")
	}
	if _, err := NewBurstGuard(store, nil); err == nil {
		t.Error("NewBurstGuard(store, nil) expected error")
	}
}

func TestBurstGuard_SustainedBinds(t *testing.T) {
	// The burst counter alone would allow two requests; the sustained
	// counter must bind after one.
	guard, _, _ := newTestGuard(t,
		Policy{Points: 2, Window: time.Second},
		Policy{Points: 1, Window: time.Minute, Block: time.Minute},
	)

	res := mustConsume(t, guard, "k")
	if !res.Allowed {
		t.Fatal("first consumption refused")
	}

	res = mustConsume(t, guard, "k")
	if res.Allowed {
		t.Fatal("second consumption must be bound by the sustained counter")
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("RetryAfter = %v, want the sustained block (1m)", res.RetryAfter)
	}

	res = mustConsume(t, guard, "k")
	if res.Allowed {
		t.Fatal("third consumption within the burst window must still fail")
	}
}

func TestBurstGuard_BurstBinds(t *testing.T) {
	// Points reversed: the burst counter is the binding constraint.
	guard, _, _ := newTestGuard(t,
		Policy{Points: 1, Window: time.Minute, Block: time.Minute},
		Policy{Points: 2, Window: time.Minute, Block: time.Minute},
	)

	if res := mustConsume(t, guard, "k"); !res.Allowed {
		t.Fatal("first consumption refused")
	}
	if res := mustConsume(t, guard, "k"); res.Allowed {
		t.Fatal("second consumption must be bound by the burst counter")
	}
}

func TestBurstGuard_RemainingIsMin(t *testing.T) {
	guard, _, _ := newTestGuard(t,
		Policy{Points: 10, Window: time.Second},
		Policy{Points: 3, Window: time.Minute, Block: time.Minute},
	)

	res := mustConsume(t, guard, "k")
	if !res.Allowed {
		t.Fatal("first consumption refused")
	}
	if res.Remaining != 2 {
		t.Errorf("Remaining = %d, want min(9, 2) = 2", res.Remaining)
	}
}

func TestBurstGuard_CountersNeverDrift(t *testing.T) {
	// A key blocked on the sustained store keeps burning burst points on
	// every retry.
	guard, burstStore, _ := newTestGuard(t,
		Policy{Points: 5, Window: time.Minute},
		Policy{Points: 1, Window: time.Minute, Block: time.Minute},
	)

	mustConsume(t, guard, "k") // burst hits 1
	mustConsume(t, guard, "k") // refused by sustained, burst hits 2
	mustConsume(t, guard, "k") // refused by sustained, burst hits 3

	res := mustConsume(t, burstStore, "k")
	if res.Hits != 4 {
		t.Errorf("burst Hits = %d, want 4 (refused attempts must still consume)", res.Hits)
	}
}

func TestBurstGuard_KeyIndependence(t *testing.T) {
	guard, _, _ := newTestGuard(t,
		Policy{Points: 5, Window: time.Second},
		Policy{Points: 1, Window: time.Minute, Block: time.Minute},
	)

	mustConsume(t, guard, "a")
	if res := mustConsume(t, guard, "a"); res.Allowed {
		t.Fatal("expected key a to be exhausted")
	}
	if res := mustConsume(t, guard, "b"); !res.Allowed {
		t.Fatal("exhausting a must not affect b")
	}
}

func TestBurstGuard_PolicyIsSustained(t *testing.T) {
	sustained := Policy{Points: 3, Window: time.Minute, Block: time.Minute}
	guard, _, _ := newTestGuard(t, Policy{Points: 10, Window: time.Second}, sustained)

	if guard.Policy() != sustained {
		t.Errorf("Policy() = %+v, want the sustained policy %+v", guard.Policy(), sustained)
	}
}
