package keys

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"slices"
	"sync"
)

// Store persists the manifest and the private half of each key.
//
// Load returns ErrNoManifest when nothing was ever saved. Implementations must
// be safe for concurrent use, although the Manager only calls them while
// holding its writer lock.
type Store interface {
	Load(ctx context.Context) (Manifest, error)
	SaveManifest(ctx context.Context, m Manifest) error
	SavePrivateKey(ctx context.Context, version uint32, key ed25519.PrivateKey) error
	LoadPrivateKey(ctx context.Context, version uint32) (ed25519.PrivateKey, error)
	DeletePrivateKey(ctx context.Context, version uint32) error
}

// MemoryStore keeps everything in process memory. Useful for tests and for
// deployments that provision keys externally on every start.
type MemoryStore struct {
	mu       sync.RWMutex
	manifest *Manifest
	private  map[uint32]ed25519.PrivateKey
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{private: make(map[uint32]ed25519.PrivateKey)}
}

func (s *MemoryStore) Load(context.Context) (Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		return Manifest{}, ErrNoManifest
	}
	return s.manifest.Clone(), nil
}

func (s *MemoryStore) SaveManifest(_ context.Context, m Manifest) error {
	c := m.Clone()
	s.mu.Lock()
	s.manifest = &c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SavePrivateKey(_ context.Context, version uint32, key ed25519.PrivateKey) error {
	s.mu.Lock()
	s.private[version] = slices.Clone(key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadPrivateKey(_ context.Context, version uint32) (ed25519.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.private[version]
	if !ok {
		return nil, fmt.Errorf("%w: private key v%d", ErrKeyNotFound, version)
	}
	return slices.Clone(key), nil
}

func (s *MemoryStore) DeletePrivateKey(_ context.Context, version uint32) error {
	s.mu.Lock()
	delete(s.private, version)
	s.mu.Unlock()
	return nil
}
