package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/cmsauth/internal/logging"
	"go.uber.org/zap"
)

// Config wires a Manager to its dependencies.
type Config struct {
	Store  Store
	Logger *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Manager owns the signing keys. See the package documentation for its
// concurrency contract.
type Manager struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
	rand  io.Reader

	mu      sync.Mutex
	private map[uint32]ed25519.PrivateKey

	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	manifest  Manifest
	byVersion map[uint32]ed25519.PublicKey
	signer    ed25519.PrivateKey
}

func newSnapshot(m Manifest, signer ed25519.PrivateKey) *snapshot {
	s := &snapshot{
		manifest:  m,
		byVersion: make(map[uint32]ed25519.PublicKey, len(m.Keys)),
		signer:    signer,
	}
	for _, k := range m.Keys {
		s.byVersion[k.Version] = k.Key
	}
	return s
}

// Open loads the manifest from cfg.Store, bootstrapping version 1 as current
// when the store is empty.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("keys: store is required")
	}
	m := &Manager{
		store:   cfg.Store,
		log:     logging.OrNop(cfg.Logger),
		now:     cfg.Now,
		rand:    cfg.Rand,
		private: make(map[uint32]ed25519.PrivateKey),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.rand == nil {
		m.rand = rand.Reader
	}

	manifest, err := cfg.Store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoManifest):
		if err := m.bootstrap(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case err != nil:
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	signer, err := cfg.Store.LoadPrivateKey(ctx, manifest.Current)
	if err != nil {
		return nil, fmt.Errorf("load current private key v%d: %w", manifest.Current, err)
	}
	if err := checkPair(manifest, manifest.Current, signer); err != nil {
		return nil, err
	}
	m.private[manifest.Current] = signer
	m.snap.Store(newSnapshot(manifest, signer))
	m.log.Info("key manifest loaded",
		logging.KeyVersion(manifest.Current),
		zap.Int("keys", len(manifest.Keys)))
	return m, nil
}

func (m *Manager) bootstrap(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kp, err := m.newKeyPair(1)
	if err != nil {
		return err
	}
	manifest := Manifest{
		Current:       kp.Version,
		LatestVersion: kp.Version,
		GeneratedAt:   kp.CreatedAt,
		Keys:          []PublicKey{publicEntry(kp)},
	}
	if err := m.persist(ctx, manifest, &kp); err != nil {
		return err
	}
	m.private[kp.Version] = kp.PrivateKey
	m.snap.Store(newSnapshot(manifest, kp.PrivateKey))
	m.log.Info("key manifest bootstrapped", logging.KeyVersion(kp.Version))
	return nil
}

// GenerateNewKey mints the next version and records it in the manifest. The
// new key is accepted for verification but does not sign until promoted.
func (m *Manager) GenerateNewKey(ctx context.Context) (KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	if cur == nil {
		return KeyPair{}, ErrNotOpen
	}

	kp, err := m.newKeyPair(cur.manifest.LatestVersion + 1)
	if err != nil {
		return KeyPair{}, err
	}
	next := cur.manifest.Clone()
	next.Keys = append(next.Keys, publicEntry(kp))
	next.LatestVersion = kp.Version
	next.GeneratedAt = kp.CreatedAt

	if err := m.persist(ctx, next, &kp); err != nil {
		return KeyPair{}, err
	}
	m.private[kp.Version] = kp.PrivateKey
	m.snap.Store(newSnapshot(next, cur.signer))
	m.log.Info("signing key generated", logging.KeyVersion(kp.Version))
	return kp, nil
}

// Promote makes version the signing key. The previous current key remains
// valid for verification.
func (m *Manager) Promote(ctx context.Context, version uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	if cur == nil {
		return ErrNotOpen
	}
	if _, ok := cur.manifest.Lookup(version); !ok {
		return fmt.Errorf("%w: v%d", ErrKeyNotFound, version)
	}
	if cur.manifest.Current == version {
		return nil
	}

	signer, ok := m.private[version]
	if !ok {
		loaded, err := m.store.LoadPrivateKey(ctx, version)
		if err != nil {
			return fmt.Errorf("%w: load private key v%d: %v", ErrPersist, version, err)
		}
		if err := checkPair(cur.manifest, version, loaded); err != nil {
			return err
		}
		signer = loaded
	}

	next := cur.manifest.Clone()
	next.Current = version
	next.GeneratedAt = m.now().UTC()
	if err := m.persist(ctx, next, nil); err != nil {
		return err
	}
	m.private[version] = signer
	m.snap.Store(newSnapshot(next, signer))
	m.log.Info("signing key promoted",
		logging.KeyVersion(version),
		zap.Uint32("previous_version", cur.manifest.Current))
	return nil
}

// Rotate generates a new key and promotes it in one call.
func (m *Manager) Rotate(ctx context.Context) (KeyPair, error) {
	kp, err := m.GenerateNewKey(ctx)
	if err != nil {
		return KeyPair{}, err
	}
	if err := m.Promote(ctx, kp.Version); err != nil {
		return KeyPair{}, err
	}
	return kp, nil
}

// Prune removes versions beyond the newest retainCount that are at least
// minAge old. The current version is never removed. It returns the removed
// versions in ascending order.
func (m *Manager) Prune(ctx context.Context, retainCount int, minAge time.Duration) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	if cur == nil {
		return nil, ErrNotOpen
	}
	pruned := selectPrunable(cur.manifest, m.now(), retainCount, minAge)
	if len(pruned) == 0 {
		return nil, nil
	}

	next := cur.manifest.Clone()
	kept := next.Keys[:0]
	for _, k := range next.Keys {
		if !containsVersion(pruned, k.Version) {
			kept = append(kept, k)
		}
	}
	next.Keys = kept
	next.GeneratedAt = m.now().UTC()

	if err := m.persist(ctx, next, nil); err != nil {
		return nil, err
	}
	m.snap.Store(newSnapshot(next, cur.signer))

	for _, v := range pruned {
		delete(m.private, v)
		if err := m.store.DeletePrivateKey(ctx, v); err != nil {
			m.log.Warn("pruned key material not removed", logging.KeyVersion(v), zap.Error(err))
		}
	}
	m.log.Info("signing keys pruned", zap.Uint32s("versions", pruned))
	return pruned, nil
}

// Manifest returns a copy of the current manifest.
func (m *Manager) Manifest() Manifest {
	s := m.snap.Load()
	if s == nil {
		return Manifest{}
	}
	return s.manifest.Clone()
}

// Signer returns the current version and its private key.
func (m *Manager) Signer() (uint32, ed25519.PrivateKey, error) {
	s := m.snap.Load()
	if s == nil || s.signer == nil {
		return 0, nil, ErrNotOpen
	}
	return s.manifest.Current, s.signer, nil
}

// VerificationKey returns the public key for version if it is still in the
// manifest.
func (m *Manager) VerificationKey(version uint32) (ed25519.PublicKey, bool) {
	s := m.snap.Load()
	if s == nil {
		return nil, false
	}
	pub, ok := s.byVersion[version]
	return pub, ok
}

// persist writes the private key (when kp is set) and then the manifest. If
// the manifest write fails the freshly written private key is removed again.
func (m *Manager) persist(ctx context.Context, next Manifest, kp *KeyPair) error {
	if kp != nil {
		if err := m.store.SavePrivateKey(ctx, kp.Version, kp.PrivateKey); err != nil {
			return fmt.Errorf("%w: private key v%d: %v", ErrPersist, kp.Version, err)
		}
	}
	if err := m.store.SaveManifest(ctx, next); err != nil {
		if kp != nil {
			if derr := m.store.DeletePrivateKey(ctx, kp.Version); derr != nil {
				m.log.Warn("orphaned private key after failed manifest write",
					logging.KeyVersion(kp.Version), zap.Error(derr))
			}
		}
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (m *Manager) newKeyPair(version uint32) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(m.rand)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return KeyPair{
		Version:    version,
		PrivateKey: priv,
		PublicKey:  pub,
		CreatedAt:  m.now().UTC(),
	}, nil
}

func checkPair(manifest Manifest, version uint32, priv ed25519.PrivateKey) error {
	entry, ok := manifest.Lookup(version)
	if !ok {
		return fmt.Errorf("%w: v%d", ErrKeyNotFound, version)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: private key v%d has %d bytes", ErrInvalidManifest, version, len(priv))
	}
	pub, _ := priv.Public().(ed25519.PublicKey)
	if !pub.Equal(entry.Key) {
		return fmt.Errorf("%w: private key v%d does not match manifest", ErrInvalidManifest, version)
	}
	return nil
}

func containsVersion(vs []uint32, v uint32) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
