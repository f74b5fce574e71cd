package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/userstore"
)

const loadPassword = "Load-Test-Pass-1"

type userState struct {
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address for the limiter phase; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	cfg := cmsauth.DefaultConfig()
	cfg.Password.Memory = 16 * 1024
	cfg.Password.Time = 1
	cfg.Security.EnableLoginRateLimiting = false
	cfg.Audit.Enabled = false

	mgr, err := keys.Open(ctx, keys.Config{Store: keys.NewMemoryStore()})
	if err != nil {
		fail("open keys", err)
	}
	svc, err := cmsauth.New().WithConfig(cfg).WithKeys(mgr).WithUserStore(userstore.NewMemory()).Build()
	if err != nil {
		fail("build service", err)
	}
	defer svc.Close()

	states := make([]userState, *users)
	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	for i := range states {
		resp, err := svc.Register(ctx, cmsauth.Registration{Username: fmt.Sprintf("load%d", i), Password: loadPassword})
		if err != nil {
			fail("register", err)
		}
		states[i].access = resp.Tokens.AccessToken.Token
		states[i].refresh = resp.Tokens.RefreshToken.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		_, err := svc.Verify(ctx, states[r.Intn(len(states))].access)
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		resp, err := svc.Refresh(ctx, st.refresh)
		if err != nil {
			return err
		}
		st.access = resp.Tokens.AccessToken.Token
		st.refresh = resp.Tokens.RefreshToken.Token
		return nil
	})

	limiter, cleanup := redisLimiter(*redisAddr)
	defer cleanup()
	limiterStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand, _ int) error {
		limiter.Check(ctx, ratelimit.IPKey(fmt.Sprintf("10.0.%d.%d", r.Intn(4), r.Intn(256))))
		return nil
	})

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	printStats("redis limiter", limiterStats)
	fmt.Printf("sessions=%d\n", svc.SessionCount())
}

func redisLimiter(addr string) (ratelimit.Limiter, func()) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fail("start miniredis", err)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	l, err := ratelimit.NewRedisFixedWindow(client, "loadtest:", ratelimit.Config{Name: "ip", Limit: 1 << 20, Window: time.Minute}, nil)
	if err != nil {
		fail("redis limiter", err)
	}
	return l, func() {
		_ = client.Close()
		cleanup()
	}
}

func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
