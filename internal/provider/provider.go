package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every outbound provider API call.
const DefaultTimeout = 10 * time.Second

// BusyInterval is a period during which the connected calendar is occupied.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Event represents the input for creating or updating a calendar event
type Event struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

// EventResult represents a created or updated calendar event
type EventResult struct {
	ID    string
	Link  string
	Start time.Time
	End   time.Time
}

// Client is the calendar-provider port. Implementations translate these
// operations to the provider's OAuth and calendar APIs.
type Client interface {
	// Kind returns the provider this client talks to.
	Kind() Kind

	// AuthCodeURL builds the user-facing authorization URL carrying the
	// given signed state. The URL must request offline access so that the
	// code exchange yields a refresh token.
	AuthCodeURL(state, redirectURI string) string

	// Exchange trades an authorization code for an initial token set.
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)

	// Refresh obtains a new access token for the given refresh token.
	// The returned token may carry a rotated refresh token.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// FreeBusy returns the busy intervals of the connected calendar
	// within [start, end).
	FreeBusy(ctx context.Context, accessToken string, start, end time.Time) ([]BusyInterval, error)

	// CreateEvent creates an event on the connected calendar.
	CreateEvent(ctx context.Context, accessToken string, event Event) (*EventResult, error)

	// UpdateEvent replaces the core fields of an existing event.
	UpdateEvent(ctx context.Context, accessToken, eventID string, event Event) (*EventResult, error)

	// DeleteEvent removes an event from the connected calendar.
	DeleteEvent(ctx context.Context, accessToken, eventID string) error
}

// APIError represents a failed provider API call.
type APIError struct {
	Kind       Kind
	Op         string // freebusy, create, update, delete, refresh, exchange
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Kind, e.Op, e.StatusCode, e.Message)
}

// NewAPIError creates a new APIError.
func NewAPIError(kind Kind, op string, status int, message string) *APIError {
	return &APIError{Kind: kind, Op: op, StatusCode: status, Message: message}
}

// IsAuthError reports whether err is a provider API error caused by an
// expired or revoked access token (HTTP 401).
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}

// Registry maps provider kinds to their clients.
type Registry map[Kind]Client

// Get returns the client for the given kind.
func (r Registry) Get(kind Kind) (Client, error) {
	client, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return client, nil
}
