// Package role defines the closed role vocabulary used by cmsauth authorization
// checks and the partial order between roles.
//
// # Ordering
//
// [SuperAdmin] satisfies every requirement. Every other role satisfies its own
// requirement and the lower requirements it explicitly declares; there is no
// implicit transitivity and no string comparison.
//
// # What this package must NOT do
//
//   - Know about tokens, sessions, or users.
//   - Accept roles that are not part of the closed set.
package role
