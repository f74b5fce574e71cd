// Package userstore keeps accounts and API keys behind the [Store]
// interface. [Memory] serves tests and the demo server; [Postgres] is the
// pgx-backed implementation used in production.
//
// API keys are never stored in the clear. Each key has a deterministic
// blake3 lookup hash for indexed retrieval and an argon2id secret hash that
// is verified by the caller.
package userstore
