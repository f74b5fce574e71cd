// Package keys owns the Ed25519 signing key lifecycle for cmsauth: generation,
// promotion of a version to current, retention pruning, and persistence of the
// public key manifest.
//
// # Concurrency
//
// Readers ([Manager.Signer], [Manager.VerificationKey], [Manager.Manifest]) load
// an immutable snapshot through an atomic pointer and never block. Writers
// serialize on a mutex, persist through [Store] first, and publish a new
// snapshot only after persistence succeeded. A failed write leaves the visible
// state untouched.
//
// # Versions
//
// Versions start at 1 and are never reused: the manifest records the highest
// version ever minted, so pruning cannot cause a number to be handed out twice.
//
// # What this package must NOT do
//
//   - Sign or parse tokens (see package token).
//   - Expose private key material through [Manifest].
package keys
