package userstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/cmsauth/role"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	now        func() time.Time
	users      map[string]User
	byUsername map[string]string
	byEmail    map[string]string
	keys       map[string]APIKey
	keyByID    map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		now:        time.Now,
		users:      make(map[string]User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		keys:       make(map[string]APIKey),
		keyByID:    make(map[string]string),
	}
}

func (m *Memory) ByIdentifier(_ context.Context, identifier string) (User, error) {
	key := normalize(identifier)
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[key]
	if !ok {
		id, ok = m.byEmail[key]
	}
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) ByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) Create(_ context.Context, in NewUser) (User, error) {
	username, email := normalize(in.Username), normalize(in.Email)
	if username == "" {
		return User{}, fmt.Errorf("userstore: username is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[username]; ok {
		return User{}, fmt.Errorf("%w: username %q", ErrExists, username)
	}
	if _, ok := m.byEmail[username]; ok {
		return User{}, fmt.Errorf("%w: username %q", ErrExists, username)
	}
	if email != "" {
		if _, ok := m.byEmail[email]; ok {
			return User{}, fmt.Errorf("%w: email", ErrExists)
		}
		if _, ok := m.byUsername[email]; ok {
			return User{}, fmt.Errorf("%w: email", ErrExists)
		}
	}

	u := User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		CreatedAt:    m.now().UTC(),
	}
	m.users[u.ID] = u
	m.byUsername[username] = u.ID
	if email != "" {
		m.byEmail[email] = u.ID
	}
	return u, nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *Memory) SetRole(_ context.Context, id string, r role.Role) error {
	if !r.Valid() {
		return fmt.Errorf("userstore: %w", role.ErrUnknownRole)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = r
	m.users[id] = u
	return nil
}

func (m *Memory) TouchLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = at
	m.users[id] = u
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, k APIKey) (APIKey, error) {
	if k.LookupHash == "" || k.SecretHash == "" {
		return APIKey{}, fmt.Errorf("userstore: api key hashes are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[k.UserID]; !ok {
		return APIKey{}, ErrNotFound
	}
	if _, ok := m.keys[k.LookupHash]; ok {
		return APIKey{}, fmt.Errorf("%w: api key", ErrExists)
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = m.now().UTC()
	}
	k.Permissions = append([]string(nil), k.Permissions...)
	m.keys[k.LookupHash] = k
	m.keyByID[k.ID] = k.LookupHash
	return k, nil
}

func (m *Memory) APIKeyByLookupHash(_ context.Context, lookupHash string) (APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[lookupHash]
	if !ok {
		return APIKey{}, ErrNotFound
	}
	k.Permissions = append([]string(nil), k.Permissions...)
	return k, nil
}

func (m *Memory) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.keyByID[id]
	if !ok {
		return ErrNotFound
	}
	k := m.keys[h]
	k.LastUsedAt = at
	m.keys[h] = k
	return nil
}
