// Package session holds the per-subject refresh session state used for
// rotation and revocation decisions.
//
// A session is a version counter. Every refresh token embeds the version it
// was minted against; a refresh succeeds only if that version is still
// current, and success advances it. Logout advances it unconditionally, so
// revocation needs no deny-list and storage never grows with token count.
//
// # Concurrency
//
// Subjects are spread over independently locked shards. All version changes
// for one subject happen under that subject's shard lock, which makes
// [Store.CompareAndIncrement] a single atomic step: of two racing callers with
// the same expected version exactly one wins.
//
// # What this package must NOT do
//
//   - Parse or verify tokens.
//   - Persist anything; state is process-lifetime only.
package session
