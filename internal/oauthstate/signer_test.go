package oauthstate

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminly/terminly/internal/provider"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)
	return signer
}

func TestSignerRoundTrip(t *testing.T) {
	signer := newTestSigner(t)

	tests := []struct {
		name       string
		locationID string
		kind       provider.Kind
	}{
		{name: "google", locationID: "loc-123", kind: provider.Google},
		{name: "outlook", locationID: "loc-456", kind: provider.Outlook},
		{name: "uuid location", locationID: "8b6f1c2e-0b1a-4b7e-9d3f-2a5c8e1f4a6b", kind: provider.Google},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := signer.Create(tt.locationID, tt.kind)
			require.NoError(t, err)

			payload, err := signer.Verify(state)
			require.NoError(t, err)
			assert.Equal(t, tt.locationID, payload.LocationID)
			assert.Equal(t, tt.kind, payload.Provider)
			assert.Len(t, payload.Nonce, 32) // 16 bytes hex-encoded
		})
	}
}

func TestSignerRejectsEmptyLocation(t *testing.T) {
	signer := newTestSigner(t)

	_, err := signer.Create("", provider.Google)
	require.Error(t, err)
}

func TestSignerRejectsUnknownProvider(t *testing.T) {
	signer := newTestSigner(t)

	_, err := signer.Create("loc-123", provider.Kind("caldav"))
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestVerifyTamperSensitivity(t *testing.T) {
	signer := newTestSigner(t)

	state, err := signer.Create("loc-123", provider.Google)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(state)
	require.NoError(t, err)

	// Flip one bit in every byte position; every mutation must be rejected.
	for i := range decoded {
		mutated := make([]byte, len(decoded))
		copy(mutated, decoded)
		mutated[i] ^= 0x01

		_, err := signer.Verify(base64.StdEncoding.EncodeToString(mutated))
		if err == nil {
			t.Fatalf("bit flip at byte %d was accepted", i)
		}
		if !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrMalformedState) {
			t.Fatalf("bit flip at byte %d: unexpected error %v", i, err)
		}
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	signer := newTestSigner(t)
	other, err := NewSigner("another-secret")
	require.NoError(t, err)

	state, err := signer.Create("loc-123", provider.Google)
	require.NoError(t, err)

	_, err = other.Verify(state)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyExpiry(t *testing.T) {
	signer := newTestSigner(t)

	issued := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issued }

	state, err := signer.Create("loc-123", provider.Google)
	require.NoError(t, err)

	// Just inside the TTL.
	signer.now = func() time.Time { return issued.Add(TTL - time.Second) }
	_, err = signer.Verify(state)
	require.NoError(t, err)

	// One second past the TTL.
	signer.now = func() time.Time { return issued.Add(TTL + time.Second) }
	_, err = signer.Verify(state)
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestVerifyClockSkew(t *testing.T) {
	signer := newTestSigner(t)

	issued := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issued }

	state, err := signer.Create("loc-123", provider.Google)
	require.NoError(t, err)

	// 30s of future drift is tolerated.
	signer.now = func() time.Time { return issued.Add(-30 * time.Second) }
	_, err = signer.Verify(state)
	require.NoError(t, err)

	// Beyond the tolerated skew.
	signer.now = func() time.Time { return issued.Add(-2 * time.Minute) }
	_, err = signer.Verify(state)
	assert.ErrorIs(t, err, ErrClockSkew)
}

func TestVerifyMalformedInputs(t *testing.T) {
	signer := newTestSigner(t)

	tests := []struct {
		name  string
		state string
	}{
		{name: "empty", state: ""},
		{name: "not base64", state: "%%%"},
		{name: "not json", state: base64.StdEncoding.EncodeToString([]byte("hello"))},
		{name: "missing signature", state: base64.StdEncoding.EncodeToString([]byte(`{"payload":{"ts":1}}`))},
		{name: "missing payload", state: base64.StdEncoding.EncodeToString([]byte(`{"signature":"abcd"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Verify(tt.state)
			assert.ErrorIs(t, err, ErrMalformedState)
		})
	}
}

func TestDeriveKey(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	t.Run("base64 secret used directly", func(t *testing.T) {
		key := deriveKey(base64.StdEncoding.EncodeToString(raw))
		assert.Equal(t, raw, key)
	})

	t.Run("text secret is hashed", func(t *testing.T) {
		sum := sha256.Sum256([]byte("short"))
		assert.Equal(t, sum[:], deriveKey("short"))
	})

	t.Run("same secret yields same key", func(t *testing.T) {
		assert.Equal(t, deriveKey("secret-a"), deriveKey("secret-a"))
		assert.NotEqual(t, deriveKey("secret-a"), deriveKey("secret-b"))
	})
}
