// Package token signs and verifies cmsauth capability tokens.
//
// Tokens are compact JWS values signed with Ed25519 (alg EdDSA). The signing
// key version travels in the protected "kid" header so verification selects
// the right public key directly from the key manifest.
//
// # Verification order
//
//  1. Structure and algorithm.
//  2. Key version lookup ([ErrUnknownKeyVersion] when the version is not in the manifest).
//  3. Signature ([ErrInvalidSignature]).
//  4. Claims: expiry ([ErrExpired]), issuer, audience, kind, role.
//
// Claims are never inspected before the signature has been verified. Expiry
// has second resolution: a token is expired from the instant expires_at is
// reached, extended by Config.Leeway when one is set.
//
// # What this package must NOT do
//
//   - Decide whether a role may perform an operation.
//   - Consult session state; refresh version checks belong to the caller.
package token
