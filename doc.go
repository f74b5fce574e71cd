// Package cmsauth authenticates CMS users with short-lived signed access
// tokens and single-use refresh tokens.
//
// [Service] is the public surface. It is assembled by [Builder] from a key
// manager, a user store and optional rate limiters, and is safe for
// concurrent use once built.
//
// Tokens are Ed25519-signed and carry the signing key version, so keys can
// rotate without invalidating tokens already issued. Each subject has one
// session version; a refresh token is accepted only while its version is
// current, and accepting it advances the version. Logging out advances it as
// well, which revokes every outstanding refresh token for the subject.
//
// Errors returned by Service methods match the sentinels in this package
// under errors.Is, including those re-exported from token, keys, password
// and userstore.
package cmsauth
