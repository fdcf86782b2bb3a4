package provider

import (
	"errors"
	"fmt"
)

// Kind identifies a supported calendar provider.
type Kind string

const (
	// Google is the Google Calendar provider.
	Google Kind = "google"

	// Outlook is the Microsoft Outlook/365 provider (Microsoft Graph).
	Outlook Kind = "outlook"
)

// ErrInvalidKind indicates an unrecognized provider name.
var ErrInvalidKind = errors.New("invalid calendar provider")

// ParseKind parses a provider name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Google, Outlook:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Kinds returns all supported provider kinds in lookup order.
func Kinds() []Kind {
	return []Kind{Google, Outlook}
}

// String returns the wire name of the provider.
func (k Kind) String() string {
	return string(k)
}
