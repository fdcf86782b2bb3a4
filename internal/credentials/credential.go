package credentials

import (
	"time"

	"github.com/terminly/terminly/internal/provider"
)

// Credential is the stored OAuth material for one (location, provider)
// connection. Token fields are encrypted at rest by the EncryptedStore
// wrapper; in memory they are plaintext.
type Credential struct {
	Provider     provider.Kind `json:"provider"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	Expiry       time.Time     `json:"expiry"`
	ConnectedAt  time.Time     `json:"connectedAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// clone returns a copy so callers can never mutate stored state through
// a returned pointer.
func (c *Credential) clone() *Credential {
	if c == nil {
		return nil
	}
	dup := *c
	return &dup
}
