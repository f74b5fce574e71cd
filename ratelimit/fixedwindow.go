package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth/internal/logging"
)

type counter struct {
	start    time.Time
	count    uint32
	lastSeen time.Time
}

type shard struct {
	mu sync.Mutex
	m  map[string]*counter
}

// FixedWindow is an in-memory fixed-window limiter. It is safe for
// concurrent use; shards are locked independently.
type FixedWindow struct {
	cfg      Config
	logger   *zap.Logger
	shards   []shard
	mask     uint64
	perShard int
	tracked  atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewFixedWindow validates cfg and returns a limiter. When MaxTracked is set
// the shard count is reduced so that each shard holds at least one key, and
// each shard evicts its least recently seen key once full.
func NewFixedWindow(cfg Config, logger *zap.Logger) (*FixedWindow, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.MaxTracked > 0 {
		for cfg.Shards > 1 && cfg.Shards > cfg.MaxTracked {
			cfg.Shards >>= 1
		}
	}

	f := &FixedWindow{
		cfg:    cfg,
		logger: logging.OrNop(logger).With(logging.Limiter(cfg.Name)),
		shards: make([]shard, cfg.Shards),
		mask:   uint64(cfg.Shards - 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.MaxTracked > 0 {
		f.perShard = cfg.MaxTracked / cfg.Shards
	}
	for i := range f.shards {
		f.shards[i].m = make(map[string]*counter)
	}
	return f, nil
}

func (f *FixedWindow) Name() string { return f.cfg.Name }

func (f *FixedWindow) shardFor(key string) *shard {
	return &f.shards[xxhash.Sum64String(key)&f.mask]
}

// Check implements [Limiter].
func (f *FixedWindow) Check(_ context.Context, key string) Decision {
	now := f.cfg.Now()
	start := windowStart(now, f.cfg.Window)
	s := f.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.m[key]
	if !ok {
		if f.perShard > 0 && len(s.m) >= f.perShard {
			f.evictOldestLocked(s)
		}
		c = &counter{start: start}
		s.m[key] = c
		f.tracked.Add(1)
	} else if !c.start.Equal(start) {
		c.start = start
		c.count = 0
	}
	c.lastSeen = now

	if c.count >= f.cfg.Limit {
		return Block(start.Add(f.cfg.Window).Sub(now))
	}
	c.count++
	return Allow(f.cfg.Limit - c.count)
}

// Peek implements [Inspector].
func (f *FixedWindow) Peek(_ context.Context, key string) Decision {
	now := f.cfg.Now()
	start := windowStart(now, f.cfg.Window)
	s := f.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.m[key]
	if !ok || !c.start.Equal(start) {
		return Allow(f.cfg.Limit)
	}
	if c.count >= f.cfg.Limit {
		return Block(start.Add(f.cfg.Window).Sub(now))
	}
	return Allow(f.cfg.Limit - c.count)
}

// Clear implements [Limiter].
func (f *FixedWindow) Clear(_ context.Context, key string) {
	s := f.shardFor(key)
	s.mu.Lock()
	if _, ok := s.m[key]; ok {
		delete(s.m, key)
		f.tracked.Add(-1)
	}
	s.mu.Unlock()
}

// TrackedLen implements [Limiter].
func (f *FixedWindow) TrackedLen() int {
	return int(f.tracked.Load())
}

func (f *FixedWindow) evictOldestLocked(s *shard) {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, c := range s.m {
		if !found || c.lastSeen.Before(oldest) {
			oldestKey, oldest, found = k, c.lastSeen, true
		}
	}
	if found {
		delete(s.m, oldestKey)
		f.tracked.Add(-1)
		f.logger.Debug("evicted rate limit key", logging.LimitKey(oldestKey))
	}
}

// Sweep drops keys unused for more than IdleWindows windows and returns how
// many were removed. Shards are locked one at a time.
func (f *FixedWindow) Sweep() int {
	cutoff := f.cfg.Now().Add(-time.Duration(f.cfg.IdleWindows) * f.cfg.Window)
	removed := 0
	for i := range f.shards {
		s := &f.shards[i]
		s.mu.Lock()
		for k, c := range s.m {
			if c.lastSeen.Before(cutoff) {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		f.tracked.Add(int64(-removed))
		f.logger.Debug("swept idle rate limit keys", zap.Int("removed", removed))
	}
	return removed
}

// Start runs Sweep once per window until ctx is done or Close is called.
// Calling Start more than once has no effect.
func (f *FixedWindow) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		go f.sweepLoop(ctx)
	})
}

func (f *FixedWindow) sweepLoop(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			f.Sweep()
		}
	}
}

// Close stops the sweeper started by Start and waits for it to exit.
func (f *FixedWindow) Close() error {
	f.stopOnce.Do(func() { close(f.stop) })
	started := true
	f.startOnce.Do(func() { started = false })
	if started {
		<-f.done
	}
	return nil
}
