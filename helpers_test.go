package cmsauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/cmsauth/internal/audit"
	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/role"
	"github.com/MrEthical07/cmsauth/userstore"
)

const testPassword = "Correct-Horse-9"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
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

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.CleanupIntervalSecs = 0
	cfg.Audit.DropIfFull = false
	return cfg
}

type fixture struct {
	svc   *Service
	keys  *keys.Manager
	users *userstore.Memory
	clock *testClock
	sink  *audit.ChannelSink
}

func newFixture(t testing.TB, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	clock := newTestClock()
	mgr, err := keys.Open(context.Background(), keys.Config{Store: keys.NewMemoryStore(), Now: clock.Now})
	if err != nil {
		t.Fatalf("keys.Open: %v", err)
	}
	users := userstore.NewMemory()
	sink := audit.NewChannelSink(256)

	svc, err := New().
		WithConfig(cfg).
		WithKeys(mgr).
		WithUserStore(users).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	return &fixture{svc: svc, keys: mgr, users: users, clock: clock, sink: sink}
}

func (f *fixture) register(t testing.TB, username string) AuthResponse {
	t.Helper()
	resp, err := f.svc.Register(context.Background(), Registration{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return resp
}

func (f *fixture) seedUser(t *testing.T, username string, r role.Role) userstore.User {
	t.Helper()
	hash, err := f.svc.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u, err := f.users.Create(context.Background(), userstore.NewUser{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         r,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

// waitForEvent drains the sink until an event of type want arrives.
func (f *fixture) waitForEvent(t *testing.T, want audit.Type) audit.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-f.sink.Events():
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s audit event", want)
			return audit.Event{}
		}
	}
}
