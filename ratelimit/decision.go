package ratelimit

import "time"

// Decision is the outcome of a limiter check. The zero value is a blocked
// decision with no retry hint.
type Decision struct {
	allowed    bool
	remaining  uint32
	retryAfter time.Duration
}

// Allow returns an allowing decision with remaining requests left in the window.
func Allow(remaining uint32) Decision {
	return Decision{allowed: true, remaining: remaining}
}

// Block returns a blocking decision. Negative retryAfter is clamped to zero.
func Block(retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{retryAfter: retryAfter}
}

func (d Decision) Allowed() bool { return d.allowed }

// Remaining is zero for blocked decisions.
func (d Decision) Remaining() uint32 { return d.remaining }

// RetryAfter is zero for allowed decisions.
func (d Decision) RetryAfter() time.Duration { return d.retryAfter }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, with a minimum of
// one for blocked decisions. It suits the Retry-After HTTP header.
func (d Decision) RetryAfterSeconds() int {
	if d.allowed {
		return 0
	}
	secs := int((d.retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
