package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

var (
	// ErrNotFound is returned for subjects with no session.
	ErrNotFound = errors.New("session not found")
	// ErrVersionMismatch is returned when the presented version is not current.
	ErrVersionMismatch = errors.New("session version mismatch")
)

// Session is a snapshot of one subject's refresh state.
type Session struct {
	Subject       string
	Version       uint64
	CreatedAt     time.Time
	LastRotatedAt time.Time
	// Superseded is the version a later login replaced while it was still
	// current. Only meaningful when HasSuperseded is set.
	Superseded    uint64
	HasSuperseded bool
}

// SupersededByLogin reports whether version v stopped matching because the
// subject logged in again, rather than because it was already refreshed.
func (s Session) SupersededByLogin(v uint64) bool {
	return s.HasSuperseded && s.Superseded == v
}

// Config configures a Store.
type Config struct {
	// Shards is rounded up to at least 1. Zero means 64.
	Shards int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is an in-memory, sharded session table. It is safe for concurrent use.
type Store struct {
	shards []shard
	now    func() time.Time
	// floor is one past the highest version ever dropped by Cleanup. New
	// sessions start there so a swept subject never reissues an old version.
	floor atomic.Uint64
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore builds an empty Store.
func NewStore(cfg Config) *Store {
	n := cfg.Shards
	if n <= 0 {
		n = defaultShards
	}
	s := &Store{shards: make([]shard, n), now: cfg.Now}
	if s.now == nil {
		s.now = time.Now
	}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*Session)
	}
	return s
}

func (s *Store) shardFor(subject string) *shard {
	return &s.shards[xxhash.Sum64String(subject)%uint64(len(s.shards))]
}

// Open starts a login session: a new subject begins at version 0 (or above
// any version Cleanup has dropped), an existing one (active or revoked)
// advances by one so earlier refresh tokens stop matching.
func (s *Store) Open(subject string) Session {
	sh := s.shardFor(subject)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[subject]
	if !ok {
		sess = &Session{Subject: subject, Version: s.floor.Load(), CreatedAt: now, LastRotatedAt: now}
		sh.sessions[subject] = sess
		return *sess
	}
	sess.Superseded = sess.Version
	sess.HasSuperseded = true
	sess.Version++
	sess.LastRotatedAt = now
	return *sess
}

// Current returns the subject's session.
func (s *Store) Current(subject string) (Session, bool) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.sessions[subject]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// CompareAndIncrement advances the version if and only if it equals expected.
// On mismatch the stored version is left as is.
func (s *Store) CompareAndIncrement(subject string, expected uint64) (Session, error) {
	sh := s.shardFor(subject)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[subject]
	if !ok {
		return Session{}, ErrNotFound
	}
	if sess.Version != expected {
		return *sess, fmt.Errorf("%w: presented %d, current %d", ErrVersionMismatch, expected, sess.Version)
	}
	sess.Version++
	sess.LastRotatedAt = now
	return *sess, nil
}

// Revoke advances the version unconditionally. It reports false when the
// subject never had a session, in which case there is nothing to revoke.
func (s *Store) Revoke(subject string) (Session, bool) {
	sh := s.shardFor(subject)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[subject]
	if !ok {
		return Session{}, false
	}
	sess.Version++
	sess.LastRotatedAt = now
	return *sess, true
}

// Len returns the number of tracked subjects.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Cleanup drops sessions whose last rotation is older than idle and returns
// how many were removed. The version floor is raised past every dropped
// version before the shard lock is released, so a later Open of the same
// subject starts above any refresh token it was ever issued.
func (s *Store) Cleanup(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for subject, sess := range sh.sessions {
			if sess.LastRotatedAt.Before(cutoff) {
				s.raiseFloor(sess.Version + 1)
				delete(sh.sessions, subject)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Store) raiseFloor(v uint64) {
	for {
		cur := s.floor.Load()
		if v <= cur || s.floor.CompareAndSwap(cur, v) {
			return
		}
	}
}
