package metrics

import (
	"sync"
	"testing"
)

func TestRecordDecision(t *testing.T) {
	m := New()

	m.RecordDecision("token", true)
	m.RecordDecision("token", true)
	m.RecordDecision("token", false)
	m.RecordDecision("registration", false)

	snap := m.GetSnapshot()
	if snap.Total != 4 {
		t.Errorf("Total = %d, want 4", snap.Total)
	}
	if snap.Allowed != 2 {
		t.Errorf("Allowed = %d, want 2", snap.Allowed)
	}
	if snap.Blocked != 2 {
		t.Errorf("Blocked = %d, want 2", snap.Blocked)
	}
	if len(snap.Classes) != 2 {
		t.Fatalf("Classes = %d, want 2", len(snap.Classes))
	}

	// Sorted by total decisions descending.
	if snap.Classes[0].Class != "token" {
		t.Errorf("top class = %q, want token", snap.Classes[0].Class)
	}
	if snap.Classes[0].Total != 3 || snap.Classes[0].Allowed != 2 || snap.Classes[0].Blocked != 1 {
		t.Errorf("token stats = %+v, want 3/2/1", snap.Classes[0])
	}
	if snap.Classes[0].FirstDecision.IsZero() || snap.Classes[0].LastDecision.IsZero() {
		t.Error("decision timestamps not recorded")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m := New()
	m.RecordDecision("token", true)

	snap := m.GetSnapshot()
	snap.Classes[0].Total = 999

	if m.GetSnapshot().Classes[0].Total != 1 {
		t.Error("mutating a snapshot leaked into the tracker")
	}
}

func TestRecordDecision_Concurrent(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(allowed bool) {
			defer wg.Done()
			m.RecordDecision("general", allowed)
		}(i%2 == 0)
	}
	wg.Wait()

	snap := m.GetSnapshot()
	if snap.Total != 50 {
		t.Errorf("Total = %d, want 50", snap.Total)
	}
	if snap.Allowed != 25 || snap.Blocked != 25 {
		t.Errorf("Allowed/Blocked = %d/%d, want 25/25", snap.Allowed, snap.Blocked)
	}
}
