package credentials

import (
	"context"
	"errors"
	"sync"

	"github.com/terminly/terminly/internal/provider"
)

// ErrNotFound is returned when no credential exists for a
// (location, provider) pair.
var ErrNotFound = errors.New("credential not found")

// Store persists credentials keyed by location and provider.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, locationID string, kind provider.Kind) (*Credential, error)
	Put(ctx context.Context, locationID string, cred *Credential) error
	Delete(ctx context.Context, locationID string, kind provider.Kind) error
}

func credentialKey(locationID string, kind provider.Kind) string {
	return locationID + "/" + string(kind)
}

// MemoryStore is an in-memory Store for single-process deployments and
// tests. Entries are copied on the way in and out.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

// Get returns the credential for a (location, provider) pair.
func (s *MemoryStore) Get(_ context.Context, locationID string, kind provider.Kind) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[credentialKey(locationID, kind)]
	if !ok {
		return nil, ErrNotFound
	}
	return cred.clone(), nil
}

// Put stores a credential, replacing any existing one for the same pair.
func (s *MemoryStore) Put(_ context.Context, locationID string, cred *Credential) error {
	if cred == nil {
		return errors.New("credential must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[credentialKey(locationID, cred.Provider)] = cred.clone()
	return nil
}

// Delete removes a credential. Deleting a missing credential is not an
// error so disconnect stays idempotent.
func (s *MemoryStore) Delete(_ context.Context, locationID string, kind provider.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, credentialKey(locationID, kind))
	return nil
}
