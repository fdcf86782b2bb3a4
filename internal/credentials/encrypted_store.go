package credentials

import (
	"context"
	"fmt"

	"github.com/terminly/terminly/internal/provider"
)

// EncryptedStore wraps a Store and encrypts token fields before they
// reach the inner store. Everything except AccessToken and RefreshToken
// is stored as-is.
type EncryptedStore struct {
	inner Store
	enc   *TokenEncryption
}

// NewEncryptedStore wraps inner with at-rest token encryption.
func NewEncryptedStore(inner Store, enc *TokenEncryption) *EncryptedStore {
	return &EncryptedStore{inner: inner, enc: enc}
}

// Get retrieves and decrypts a credential.
func (s *EncryptedStore) Get(ctx context.Context, locationID string, kind provider.Kind) (*Credential, error) {
	cred, err := s.inner.Get(ctx, locationID, kind)
	if err != nil {
		return nil, err
	}

	access, err := s.enc.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.enc.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	cred.AccessToken = access
	cred.RefreshToken = refresh
	return cred, nil
}

// Put encrypts token fields and stores the credential.
func (s *EncryptedStore) Put(ctx context.Context, locationID string, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("credential must not be nil")
	}

	access, err := s.enc.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.enc.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	sealed := cred.clone()
	sealed.AccessToken = access
	sealed.RefreshToken = refresh
	return s.inner.Put(ctx, locationID, sealed)
}

// Delete removes a credential from the inner store.
func (s *EncryptedStore) Delete(ctx context.Context, locationID string, kind provider.Kind) error {
	return s.inner.Delete(ctx, locationID, kind)
}
