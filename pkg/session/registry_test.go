package session

import (
	"sync"
	"testing"
	"time"
)

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry(10, 0)
	a := r.GetOrCreate("discord:1:2")
	b := r.GetOrCreate("discord:1:2")
	if a != b {
		t.Error("expected the same session for the same key")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 session, got %d", r.Len())
	}
}

func TestRegistryConcurrentCreate(t *testing.T) {
	r := NewRegistry(10, 0)
	var wg sync.WaitGroup
	results := make([]*ChannelSession, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()
	for i := 1; i < 50; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate returned different sessions")
		}
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry(10, 0)
	s := r.GetOrCreate("k")
	s.EnsureSystemTurn("sys")
	s.Append(userText("hello"))

	if !r.Reset("k") {
		t.Fatal("Reset returned false for a live session")
	}
	if len(s.Turns()) != 1 {
		t.Errorf("expected history reset to system turn, got %d turns", len(s.Turns()))
	}
	if r.Reset("unknown") {
		t.Error("Reset should return false for an unknown key")
	}
}

func TestRegistryResetAll(t *testing.T) {
	r := NewRegistry(10, 0)
	r.GetOrCreate("a")
	r.GetOrCreate("b")
	if n := r.ResetAll(); n != 2 {
		t.Errorf("ResetAll returned %d, want 2", n)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry after ResetAll, got %d", r.Len())
	}
}

func TestSweepIdle(t *testing.T) {
	r := NewRegistry(10, 0)
	stale := r.GetOrCreate("stale")
	stale.lastActiveAt = time.Now().Add(-3 * time.Hour)
	fresh := r.GetOrCreate("fresh")
	fresh.lastActiveAt = time.Now()

	evicted := r.SweepIdle(2*time.Hour, time.Now())
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, ok := r.Get("stale"); ok {
		t.Error("stale session should be gone")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("fresh session should remain")
	}
}

func TestSweepIdleDisabled(t *testing.T) {
	r := NewRegistry(10, 0)
	s := r.GetOrCreate("k")
	s.lastActiveAt = time.Now().Add(-100 * time.Hour)
	if n := r.SweepIdle(0, time.Now()); n != 0 {
		t.Errorf("zero TTL should disable sweeping, evicted %d", n)
	}
}

// Appends race the sweeper and the ops API in real deployments; run with
// -race to verify the session lock covers both sides.
func TestConcurrentAppendSweepAndSnapshot(t *testing.T) {
	r := NewRegistry(10, 0)
	s := r.GetOrCreate("busy")
	s.EnsureSystemTurn("sys")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.Append(userText("turn"))
			if i%100 == 0 {
				r.Reset("busy")
			}
		}
	}()
	for i := 0; i < 500; i++ {
		r.Snapshots()
		r.SweepIdle(time.Hour, time.Now())
		s.TotalEstimatedTokens()
	}
	<-done

	turns := s.Turns()
	if len(turns) == 0 || turns[0].Role != RoleSystem {
		t.Fatal("system turn lost under concurrent access")
	}
}
