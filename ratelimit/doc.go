// Package ratelimit provides fixed-window request limiting behind a single
// [Limiter] interface.
//
// [FixedWindow] keeps counters in process memory across independently locked
// shards. [RedisFixedWindow] keeps them in Redis so several instances share
// one budget. Both return a [Decision] value and never an error: a backend
// failure on the Redis path fails open and is logged.
//
// Adapters such as [IPLimiter] and [APIKeyFailureLimiter] only compose keys
// and decide when to count; the counting itself lives in the limiter.
package ratelimit
