package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminly/terminly/internal/provider"
)

func TestTokenEncryptionRoundTrip(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)

	enc, err := NewTokenEncryption(key)
	require.NoError(t, err)
	assert.True(t, enc.Enabled())

	plaintext := "ya29.a0AfH6SMB-example-access-token"

	sealed, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestTokenEncryptionUniqueNonce(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	enc, err := NewTokenEncryption(key)
	require.NoError(t, err)

	a, err := enc.Encrypt("same-token")
	require.NoError(t, err)
	b, err := enc.Encrypt("same-token")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each encryption must use a fresh nonce")
}

func TestTokenEncryptionRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	enc, err := NewTokenEncryption(key)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("secret-token")
	require.NoError(t, err)

	// Corrupt the last character of the base64 payload.
	tampered := sealed[:len(sealed)-2] + "A="
	if tampered == sealed {
		tampered = sealed[:len(sealed)-2] + "B="
	}

	_, err = enc.Decrypt(tampered)
	assert.Error(t, err)
}

func TestTokenEncryptionDisabled(t *testing.T) {
	enc, err := NewTokenEncryption(nil)
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	sealed, err := enc.Encrypt("plaintext-token")
	require.NoError(t, err)
	assert.Equal(t, "plaintext-token", sealed)
}

func TestTokenEncryptionKeySize(t *testing.T) {
	_, err := NewTokenEncryption(make([]byte, 16))
	assert.Error(t, err)
}

func TestEncryptionKeyFromBase64(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)

	decoded, err := EncryptionKeyFromBase64(EncryptionKeyToBase64(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	t.Run("empty disables encryption", func(t *testing.T) {
		decoded, err := EncryptionKeyFromBase64("")
		require.NoError(t, err)
		assert.Nil(t, decoded)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := EncryptionKeyFromBase64("c2hvcnQ=")
		assert.Error(t, err)
	})
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	enc, err := NewTokenEncryption(key)
	require.NoError(t, err)

	inner := NewMemoryStore()
	store := NewEncryptedStore(inner, enc)

	cred := &Credential{
		Provider:     provider.Google,
		AccessToken:  "access-plain",
		RefreshToken: "refresh-plain",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Put(context.Background(), "loc-1", cred))

	// The inner store must only ever see ciphertext.
	raw, err := inner.Get(context.Background(), "loc-1", provider.Google)
	require.NoError(t, err)
	assert.NotEqual(t, "access-plain", raw.AccessToken)
	assert.NotEqual(t, "refresh-plain", raw.RefreshToken)

	got, err := store.Get(context.Background(), "loc-1", provider.Google)
	require.NoError(t, err)
	assert.Equal(t, "access-plain", got.AccessToken)
	assert.Equal(t, "refresh-plain", got.RefreshToken)

	require.NoError(t, store.Delete(context.Background(), "loc-1", provider.Google))
	_, err = store.Get(context.Background(), "loc-1", provider.Google)
	assert.ErrorIs(t, err, ErrNotFound)
}
