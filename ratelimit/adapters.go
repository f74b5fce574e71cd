package ratelimit

import (
	"context"
	"strings"
)

// InspectingLimiter is a [Limiter] that also supports non-counting reads.
// Both [FixedWindow] and [RedisFixedWindow] satisfy it.
type InspectingLimiter interface {
	Limiter
	Inspector
}

func IPKey(ip string) string { return "ip:" + ip }

// LoginKey normalizes identifier so that case and surrounding space variants
// share one budget.
func LoginKey(identifier string) string {
	return "login:" + strings.ToLower(strings.TrimSpace(identifier))
}

func APIKeyFailureKey(lookupHash string) string { return "apikey_fail:" + lookupHash }

// IPLimiter limits requests per client address.
type IPLimiter struct {
	limiter Limiter
}

func NewIPLimiter(l Limiter) *IPLimiter {
	return &IPLimiter{limiter: l}
}

// Allow counts one request from ip. A nil IPLimiter allows everything.
func (l *IPLimiter) Allow(ctx context.Context, ip string) Decision {
	if l == nil || l.limiter == nil {
		return Allow(0)
	}
	return l.limiter.Check(ctx, IPKey(ip))
}

func (l *IPLimiter) TrackedLen() int {
	if l == nil || l.limiter == nil {
		return 0
	}
	return l.limiter.TrackedLen()
}

// APIKeyFailureLimiter counts failed API key verifications per key lookup
// hash. Only failures are counted: callers consult Blocked before verifying,
// call RecordFailure when verification fails and Reset when it succeeds.
// A nil or disabled limiter never blocks.
type APIKeyFailureLimiter struct {
	limiter  InspectingLimiter
	disabled bool
}

func NewAPIKeyFailureLimiter(l InspectingLimiter, disabled bool) *APIKeyFailureLimiter {
	return &APIKeyFailureLimiter{limiter: l, disabled: disabled}
}

func (l *APIKeyFailureLimiter) active() bool {
	return l != nil && l.limiter != nil && !l.disabled
}

// Blocked reports, without counting, whether lookupHash has exhausted its
// failure budget.
func (l *APIKeyFailureLimiter) Blocked(ctx context.Context, lookupHash string) Decision {
	if !l.active() {
		return Allow(0)
	}
	return l.limiter.Peek(ctx, APIKeyFailureKey(lookupHash))
}

// RecordFailure counts one failure. The returned decision is blocked when the
// failure could not be counted because the budget was already spent.
func (l *APIKeyFailureLimiter) RecordFailure(ctx context.Context, lookupHash string) Decision {
	if !l.active() {
		return Allow(0)
	}
	return l.limiter.Check(ctx, APIKeyFailureKey(lookupHash))
}

func (l *APIKeyFailureLimiter) Reset(ctx context.Context, lookupHash string) {
	if !l.active() {
		return
	}
	l.limiter.Clear(ctx, APIKeyFailureKey(lookupHash))
}

func (l *APIKeyFailureLimiter) TrackedLen() int {
	if !l.active() {
		return 0
	}
	return l.limiter.TrackedLen()
}
