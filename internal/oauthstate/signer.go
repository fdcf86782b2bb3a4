package oauthstate

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/terminly/terminly/internal/provider"
)

const (
	// TTL is how long a signed state remains valid after issuance.
	TTL = 10 * time.Minute

	// maxFutureSkew tolerates small clock drift between issuer and verifier.
	maxFutureSkew = time.Minute

	// nonceSize is the random nonce length in bytes (hex-encoded on the wire).
	nonceSize = 16

	// keySize is the HMAC-SHA256 key length in bytes.
	keySize = 32
)

// Verification failure modes. Create/Verify never return raw crypto errors.
var (
	ErrMalformedState   = errors.New("malformed oauth state")
	ErrInvalidSignature = errors.New("invalid oauth state signature")
	ErrStateExpired     = errors.New("oauth state expired")
	ErrClockSkew        = errors.New("oauth state issued in the future")
	ErrInvalidProvider  = errors.New("oauth state carries an invalid provider")
)

// Payload is the request context carried through the OAuth redirect.
// It lives only inside the signed token and is never persisted.
type Payload struct {
	IssuedAt   int64         `json:"ts"` // unix milliseconds
	Nonce      string        `json:"nonce"`
	LocationID string        `json:"locationId"`
	Provider   provider.Kind `json:"provider"`
}

// signedState is the wire envelope: base64(JSON{payload, signature}).
type signedState struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Signer creates and verifies self-contained, tamper-evident, time-limited
// OAuth state tokens. No server-side session state is involved; replay is
// bounded by the TTL.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner creates a Signer from a configured secret. The secret may be
// given as base64, hex, or arbitrary text; text secrets are stretched to a
// 32-byte key via SHA-256 so short secrets never feed the HMAC directly.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("state signing secret must not be empty")
	}
	return &Signer{
		key: deriveKey(secret),
		now: time.Now,
	}, nil
}

// deriveKey produces the 32-byte HMAC key from a configured secret.
func deriveKey(secret string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil && len(decoded) >= keySize {
		return decoded[:keySize]
	}
	if decoded, err := hex.DecodeString(secret); err == nil && len(decoded) >= keySize {
		return decoded[:keySize]
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Create issues a signed state for the given location and provider.
func (s *Signer) Create(locationID string, kind provider.Kind) (string, error) {
	if locationID == "" {
		return "", errors.New("locationId is required")
	}
	if _, err := provider.ParseKind(string(kind)); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, kind)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	payload := Payload{
		IssuedAt:   s.now().UnixMilli(),
		Nonce:      hex.EncodeToString(nonce),
		LocationID: locationID,
		Provider:   kind,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode state payload: %w", err)
	}

	envelope, err := json.Marshal(signedState{
		Payload:   payloadJSON,
		Signature: hex.EncodeToString(s.sign(payloadJSON)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Verify checks a signed state and returns its payload. The signature is
// checked before anything in the payload is trusted.
func (s *Signer) Verify(state string) (*Payload, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: empty state", ErrMalformedState)
	}

	decoded, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	var envelope signedState
	if err := json.Unmarshal(decoded, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if len(envelope.Payload) == 0 || envelope.Signature == "" {
		return nil, fmt.Errorf("%w: missing payload or signature", ErrMalformedState)
	}

	signature, err := hex.DecodeString(envelope.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex", ErrMalformedState)
	}
	if !hmac.Equal(signature, s.sign(envelope.Payload)) {
		return nil, ErrInvalidSignature
	}

	var payload Payload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if payload.LocationID == "" || payload.Nonce == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedState)
	}

	age := s.now().Sub(time.UnixMilli(payload.IssuedAt))
	if age > TTL {
		return nil, fmt.Errorf("%w: %s old (max %s)", ErrStateExpired, age.Round(time.Second), TTL)
	}
	if age < -maxFutureSkew {
		return nil, fmt.Errorf("%w: issued %s ahead", ErrClockSkew, (-age).Round(time.Second))
	}

	if _, err := provider.ParseKind(string(payload.Provider)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, payload.Provider)
	}

	return &payload, nil
}

// sign computes the HMAC-SHA256 of the canonical payload encoding.
func (s *Signer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
