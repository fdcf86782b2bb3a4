package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// TokenEncryption encrypts token material at rest with AES-256-GCM.
// GCM gives authenticated encryption, so a tampered ciphertext fails to
// decrypt instead of yielding garbage tokens.
type TokenEncryption struct {
	// key is the AES-256 encryption key (32 bytes)
	key []byte

	// enabled indicates if encryption is active
	enabled bool
}

// NewTokenEncryption creates a new token encryption instance.
// If key is nil or empty, encryption is disabled and tokens pass through
// unencrypted; this is only acceptable for local development.
func NewTokenEncryption(key []byte) (*TokenEncryption, error) {
	if len(key) == 0 {
		return &TokenEncryption{enabled: false}, nil
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}

	return &TokenEncryption{key: key, enabled: true}, nil
}

// Enabled reports whether tokens are actually encrypted at rest.
func (e *TokenEncryption) Enabled() bool {
	return e.enabled
}

// Encrypt encrypts data using AES-256-GCM.
// Returns base64-encoded: nonce || ciphertext || tag.
// If encryption is disabled, returns data unchanged.
func (e *TokenEncryption) Encrypt(plaintext string) (string, error) {
	if !e.enabled {
		return plaintext, nil
	}
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	// Nonce must be unique for each encryption with the same key.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts data encrypted with Encrypt.
// Expects base64-encoded: nonce || ciphertext || tag.
// If encryption is disabled, returns data unchanged.
func (e *TokenEncryption) Decrypt(encoded string) (string, error) {
	if !e.enabled {
		return encoded, nil
	}
	if encoded == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// GenerateEncryptionKey generates a secure 32-byte encryption key.
// Call once and store the key securely; it must be persistent across
// restarts or stored tokens become unreadable.
func GenerateEncryptionKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// EncryptionKeyFromBase64 converts a base64-encoded key to bytes.
// Useful for loading keys from environment variables or config files.
func EncryptionKeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil // No key - encryption disabled
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d bytes", len(key))
	}
	return key, nil
}

// EncryptionKeyToBase64 converts a key to base64 for storage.
func EncryptionKeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
