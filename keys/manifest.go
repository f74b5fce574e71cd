package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/zeebo/blake3"
)

// KeyPair is a full signing key. It never leaves the Manager except as the
// result of [Manager.GenerateNewKey].
type KeyPair struct {
	Version    uint32
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	CreatedAt  time.Time
}

// PublicKey is the verification half of a KeyPair as recorded in the manifest.
type PublicKey struct {
	Version     uint32            `json:"version"`
	Key         ed25519.PublicKey `json:"public_key"`
	CreatedAt   time.Time         `json:"created_at"`
	Fingerprint string            `json:"fingerprint"`
}

// Manifest is the durable description of the key set: every public key still
// accepted for verification plus the current signing version.
type Manifest struct {
	Current       uint32      `json:"current_version"`
	LatestVersion uint32      `json:"latest_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Keys          []PublicKey `json:"keys"`
}

// Fingerprint returns a short, stable identifier for a public key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := blake3.Sum256(pub)
	return hex.EncodeToString(sum[:16])
}

// Lookup returns the entry for version.
func (m Manifest) Lookup(version uint32) (PublicKey, bool) {
	for _, k := range m.Keys {
		if k.Version == version {
			return k, true
		}
	}
	return PublicKey{}, false
}

// Versions lists the manifest versions in ascending order.
func (m Manifest) Versions() []uint32 {
	out := make([]uint32, 0, len(m.Keys))
	for _, k := range m.Keys {
		out = append(out, k.Version)
	}
	return out
}

// Clone returns a deep copy; callers may mutate the result freely.
func (m Manifest) Clone() Manifest {
	out := m
	out.Keys = make([]PublicKey, len(m.Keys))
	for i, k := range m.Keys {
		out.Keys[i] = k
		out.Keys[i].Key = slices.Clone(k.Key)
	}
	return out
}

// Validate checks the structural invariants of a loaded manifest.
func (m Manifest) Validate() error {
	if len(m.Keys) == 0 {
		return fmt.Errorf("%w: no keys", ErrInvalidManifest)
	}
	var prev uint32
	for i, k := range m.Keys {
		if i > 0 && k.Version <= prev {
			return fmt.Errorf("%w: versions not strictly increasing at %d", ErrInvalidManifest, k.Version)
		}
		if k.Version == 0 || k.Version > m.LatestVersion {
			return fmt.Errorf("%w: version %d outside 1..%d", ErrInvalidManifest, k.Version, m.LatestVersion)
		}
		if len(k.Key) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: version %d has %d byte public key", ErrInvalidManifest, k.Version, len(k.Key))
		}
		prev = k.Version
	}
	if _, ok := m.Lookup(m.Current); !ok {
		return fmt.Errorf("%w: current version %d missing", ErrInvalidManifest, m.Current)
	}
	return nil
}

func publicEntry(kp KeyPair) PublicKey {
	return PublicKey{
		Version:     kp.Version,
		Key:         slices.Clone(kp.PublicKey),
		CreatedAt:   kp.CreatedAt,
		Fingerprint: Fingerprint(kp.PublicKey),
	}
}
