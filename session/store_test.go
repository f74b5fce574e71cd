package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenStartsAtZeroThenAdvances(t *testing.T) {
	s := NewStore(Config{})

	first := s.Open("alice")
	if first.Version != 0 {
		t.Fatalf("first login version = %d, want 0", first.Version)
	}
	second := s.Open("alice")
	if second.Version != 1 {
		t.Fatalf("second login version = %d, want 1", second.Version)
	}
}

func TestCompareAndIncrement(t *testing.T) {
	s := NewStore(Config{})
	s.Open("bob")

	got, err := s.CompareAndIncrement("bob", 0)
	if err != nil {
		t.Fatalf("CompareAndIncrement: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}

	stale, err := s.CompareAndIncrement("bob", 0)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if stale.Version != 1 {
		t.Fatalf("mismatch must not roll the version, got %d", stale.Version)
	}

	if _, err := s.CompareAndIncrement("nobody", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCompareAndIncrementSingleWinner(t *testing.T) {
	s := NewStore(Config{Shards: 4})
	s.Open("carol")

	const workers = 32
	var (
		wins     atomic.Int32
		mismatch atomic.Int32
		wg       sync.WaitGroup
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.CompareAndIncrement("carol", 0)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrVersionMismatch):
				mismatch.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || mismatch.Load() != workers-1 {
		t.Fatalf("wins=%d mismatches=%d", wins.Load(), mismatch.Load())
	}
	if cur, _ := s.Current("carol"); cur.Version != 1 {
		t.Fatalf("version = %d, want 1", cur.Version)
	}
}

func TestRevokeIsIdempotentForOutstandingTokens(t *testing.T) {
	s := NewStore(Config{})
	issued := s.Open("dave").Version

	if _, ok := s.Revoke("dave"); !ok {
		t.Fatal("Revoke reported no session")
	}
	if _, ok := s.Revoke("dave"); !ok {
		t.Fatal("second Revoke reported no session")
	}
	if _, err := s.CompareAndIncrement("dave", issued); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("revoked version accepted: %v", err)
	}
	if _, ok := s.Revoke("ghost"); ok {
		t.Fatal("Revoke of unknown subject should report false")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestCleanupRemovesIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := NewStore(Config{Now: clock})
	s.Open("old")

	mu.Lock()
	now = now.Add(48 * time.Hour)
	mu.Unlock()
	s.Open("fresh")

	if removed := s.Cleanup(24 * time.Hour); removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if _, ok := s.Current("old"); ok {
		t.Fatal("idle session survived cleanup")
	}
	if _, ok := s.Current("fresh"); !ok {
		t.Fatal("fresh session removed")
	}
}

func TestSweptSubjectNeverRepeatsAVersion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := NewStore(Config{Now: clock})
	s.Open("carol")
	s.Revoke("carol")
	s.Revoke("carol")

	mu.Lock()
	now = now.Add(48 * time.Hour)
	mu.Unlock()
	if removed := s.Cleanup(24 * time.Hour); removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}

	again := s.Open("carol")
	if again.Version <= 2 {
		t.Fatalf("version after sweep = %d, want above 2", again.Version)
	}
	for v := uint64(0); v <= 2; v++ {
		if _, err := s.CompareAndIncrement("carol", v); !errors.Is(err, ErrVersionMismatch) {
			t.Fatalf("version %d accepted after sweep: %v", v, err)
		}
	}
	if other := s.Open("dave"); other.Version != again.Version {
		t.Fatalf("new subject starts at %d, want floor %d", other.Version, again.Version)
	}
}

func TestOpenRecordsSupersededVersion(t *testing.T) {
	s := NewStore(Config{})
	first := s.Open("erin")
	if first.SupersededByLogin(0) {
		t.Fatal("fresh session reports a superseded version")
	}
	if _, err := s.CompareAndIncrement("erin", 0); err != nil {
		t.Fatalf("CompareAndIncrement: %v", err)
	}

	second := s.Open("erin")
	if !second.SupersededByLogin(1) {
		t.Fatal("version 1 should be marked superseded by login")
	}
	if second.SupersededByLogin(0) {
		t.Fatal("version 0 was consumed by a refresh, not superseded")
	}

	stale, err := s.CompareAndIncrement("erin", 1)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if !stale.SupersededByLogin(1) {
		t.Fatal("mismatch snapshot lost the superseded marker")
	}
}
