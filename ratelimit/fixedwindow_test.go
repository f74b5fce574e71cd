package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newWindow(t *testing.T, clock *testClock, mutate func(*Config)) *FixedWindow {
	t.Helper()
	cfg := Config{Name: "test", Limit: 3, Window: time.Second, Now: clock.Now}
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewFixedWindow(cfg, nil)
	if err != nil {
		t.Fatalf("NewFixedWindow: %v", err)
	}
	return f
}

func TestFixedWindowLimitScenario(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	f := newWindow(t, clock, nil)

	for want := uint32(2); ; want-- {
		d := f.Check(ctx, "ip:1.2.3.4")
		if !d.Allowed() || d.Remaining() != want {
			t.Fatalf("expected allowed with %d remaining, got %+v", want, d)
		}
		if want == 0 {
			break
		}
	}

	clock.Advance(250 * time.Millisecond)
	d := f.Check(ctx, "ip:1.2.3.4")
	if d.Allowed() {
		t.Fatal("fourth request in window should be blocked")
	}
	if d.RetryAfter() != 750*time.Millisecond {
		t.Fatalf("RetryAfter = %v, want 750ms", d.RetryAfter())
	}
	if d.RetryAfterSeconds() != 1 {
		t.Fatalf("RetryAfterSeconds = %d, want 1", d.RetryAfterSeconds())
	}

	clock.Advance(750 * time.Millisecond)
	d = f.Check(ctx, "ip:1.2.3.4")
	if !d.Allowed() || d.Remaining() != 2 {
		t.Fatalf("next window should reset the count, got %+v", d)
	}
}

func TestFixedWindowBlockedRequestsAreNotCounted(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	f := newWindow(t, clock, func(c *Config) { c.Limit = 1 })

	f.Check(ctx, "k")
	for i := 0; i < 10; i++ {
		if f.Check(ctx, "k").Allowed() {
			t.Fatal("expected blocked")
		}
	}
	clock.Advance(time.Second)
	if !f.Check(ctx, "k").Allowed() {
		t.Fatal("blocked attempts carried over into the next window")
	}
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newWindow(t, newTestClock(), func(c *Config) { c.Limit = 1 })

	if !f.Check(ctx, "a").Allowed() || !f.Check(ctx, "b").Allowed() {
		t.Fatal("first request per key should be allowed")
	}
	if f.TrackedLen() != 2 {
		t.Fatalf("TrackedLen = %d, want 2", f.TrackedLen())
	}
}

func TestFixedWindowPeekDoesNotCount(t *testing.T) {
	ctx := context.Background()
	f := newWindow(t, newTestClock(), nil)

	for i := 0; i < 5; i++ {
		if d := f.Peek(ctx, "k"); !d.Allowed() || d.Remaining() != 3 {
			t.Fatalf("Peek on unknown key = %+v", d)
		}
	}
	f.Check(ctx, "k")
	if d := f.Peek(ctx, "k"); d.Remaining() != 2 {
		t.Fatalf("Peek after one check: remaining = %d, want 2", d.Remaining())
	}
	if f.TrackedLen() != 1 {
		t.Fatalf("Peek must not track keys, TrackedLen = %d", f.TrackedLen())
	}
}

func TestFixedWindowClear(t *testing.T) {
	ctx := context.Background()
	f := newWindow(t, newTestClock(), func(c *Config) { c.Limit = 1 })

	f.Check(ctx, "k")
	f.Clear(ctx, "k")
	f.Clear(ctx, "k")
	if f.TrackedLen() != 0 {
		t.Fatalf("TrackedLen after clear = %d", f.TrackedLen())
	}
	if !f.Check(ctx, "k").Allowed() {
		t.Fatal("cleared key should start fresh")
	}
}

func TestFixedWindowMaxTrackedEvictsOldest(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	f := newWindow(t, clock, func(c *Config) {
		c.MaxTracked = 2
		c.Shards = 1
	})

	f.Check(ctx, "a")
	clock.Advance(10 * time.Millisecond)
	f.Check(ctx, "b")
	clock.Advance(10 * time.Millisecond)
	f.Check(ctx, "c")

	if f.TrackedLen() != 2 {
		t.Fatalf("TrackedLen = %d, want 2", f.TrackedLen())
	}
	if d := f.Peek(ctx, "b"); d.Remaining() != 2 {
		t.Fatalf("b should survive eviction, remaining = %d", d.Remaining())
	}
	if d := f.Peek(ctx, "a"); d.Remaining() != 3 {
		t.Fatalf("a should have been evicted, remaining = %d", d.Remaining())
	}
}

func TestFixedWindowMaxTrackedBoundHolds(t *testing.T) {
	ctx := context.Background()
	f := newWindow(t, newTestClock(), func(c *Config) { c.MaxTracked = 16 })

	for i := 0; i < 1000; i++ {
		f.Check(ctx, fmt.Sprintf("key-%d", i))
	}
	if n := f.TrackedLen(); n > 16 {
		t.Fatalf("TrackedLen = %d exceeds MaxTracked", n)
	}
}

func TestFixedWindowSweepDropsIdleKeys(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	f := newWindow(t, clock, func(c *Config) { c.IdleWindows = 2 })

	f.Check(ctx, "idle")
	clock.Advance(2 * time.Second)
	f.Check(ctx, "fresh")
	if n := f.Sweep(); n != 0 {
		t.Fatalf("Sweep removed %d keys at exactly the idle bound", n)
	}

	clock.Advance(time.Second)
	if n := f.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d keys, want 1", n)
	}
	if f.TrackedLen() != 1 {
		t.Fatalf("TrackedLen = %d, want 1", f.TrackedLen())
	}
}

func TestFixedWindowConcurrentChecks(t *testing.T) {
	ctx := context.Background()
	f := newWindow(t, newTestClock(), func(c *Config) { c.Limit = 50 })

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Check(ctx, "shared").Allowed() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 50 {
		t.Fatalf("allowed = %d, want exactly 50", allowed.Load())
	}
}

func TestFixedWindowStartClose(t *testing.T) {
	f := newWindow(t, newTestClock(), nil)
	f.Start(context.Background())
	f.Start(context.Background())
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	unstarted := newWindow(t, newTestClock(), nil)
	if err := unstarted.Close(); err != nil {
		t.Fatalf("Close without Start: %v", err)
	}
}

func TestNewFixedWindowRejectsInvalidConfig(t *testing.T) {
	if _, err := NewFixedWindow(Config{Window: time.Second}, nil); err == nil {
		t.Fatal("expected zero limit to be rejected")
	}
	if _, err := NewFixedWindow(Config{Limit: 1}, nil); err == nil {
		t.Fatal("expected zero window to be rejected")
	}
}

func TestDecisionZeroValueIsBlocked(t *testing.T) {
	var d Decision
	if d.Allowed() {
		t.Fatal("zero Decision should not allow")
	}
	if Block(-time.Second).RetryAfter() != 0 {
		t.Fatal("negative retry should clamp to zero")
	}
	if Allow(3).RetryAfterSeconds() != 0 {
		t.Fatal("allowed decisions carry no retry hint")
	}
}

func BenchmarkFixedWindowCheck(b *testing.B) {
	fw, err := NewFixedWindow(Config{Name: "bench", Limit: 1 << 30, Window: time.Minute}, nil)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = IPKey(fmt.Sprintf("10.0.%d.%d", i>>8, i&255))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fw.Check(ctx, keys[i&1023])
	}
}
