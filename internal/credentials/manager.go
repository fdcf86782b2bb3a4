package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/logging"
	"github.com/terminly/terminly/internal/provider"
)

const (
	// refreshSkew is how long before expiry a token is treated as stale.
	refreshSkew = time.Minute

	// refreshTimeout bounds a refresh running on a detached context.
	refreshTimeout = 10 * time.Second

	// refreshRetryDelay is the pause before the single transport-error retry.
	refreshRetryDelay = 500 * time.Millisecond
)

// Token lifecycle failure modes.
var (
	ErrNotConnected        = errors.New("calendar not connected")
	ErrRefreshTokenMissing = errors.New("refresh token missing")
	ErrReauthRequired      = errors.New("calendar reconnect required")
)

// refreshCall tracks one in-flight refresh so concurrent callers share
// its outcome instead of issuing duplicate upstream requests.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Manager owns the credential lifecycle: storing tokens after the OAuth
// callback, handing out valid access tokens, refreshing them single-flight
// per (location, provider), and disconnecting.
type Manager struct {
	store     Store
	providers provider.Registry
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]*refreshCall
}

// NewManager creates a credential manager. metrics may be nil.
func NewManager(store Store, providers provider.Registry, logger *slog.Logger, metrics *instrumentation.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		providers: providers,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		inflight:  make(map[string]*refreshCall),
	}
}

// StoreInitialToken persists the token obtained from the OAuth code
// exchange. A refresh token must be present, either in the new token or
// carried over from an existing connection, because access tokens alone
// cannot sustain a long-lived integration.
func (m *Manager) StoreInitialToken(ctx context.Context, locationID string, kind provider.Kind, token *oauth2.Token) error {
	if locationID == "" {
		return errors.New("locationId is required")
	}
	if token == nil || token.AccessToken == "" {
		return errors.New("access token is required")
	}

	refreshToken := token.RefreshToken
	connectedAt := m.now()
	if existing, err := m.store.Get(ctx, locationID, kind); err == nil {
		// Re-connect without a new refresh token keeps the old one.
		if refreshToken == "" {
			refreshToken = existing.RefreshToken
		}
		connectedAt = existing.ConnectedAt
	}
	if refreshToken == "" {
		return fmt.Errorf("%w: %s returned no refresh token", ErrRefreshTokenMissing, kind)
	}

	cred := &Credential{
		Provider:     kind,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		Expiry:       token.Expiry,
		ConnectedAt:  connectedAt,
		UpdatedAt:    m.now(),
	}
	if err := m.store.Put(ctx, locationID, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	m.logger.Info("calendar connected",
		logging.Location(locationID),
		logging.Provider(string(kind)))
	return nil
}

// GetValidAccessToken returns an access token that is valid for at least
// the refresh skew. A stale token triggers a refresh; concurrent callers
// for the same (location, provider) share a single upstream request.
func (m *Manager) GetValidAccessToken(ctx context.Context, locationID string, kind provider.Kind) (string, error) {
	cred, err := m.get(ctx, locationID, kind)
	if err != nil {
		return "", err
	}
	if m.fresh(cred) {
		return cred.AccessToken, nil
	}
	return m.refreshShared(ctx, locationID, kind, false)
}

// ForceRefresh refreshes the stored token regardless of its recorded
// expiry. Used when a provider rejects a token the store still considers
// valid.
func (m *Manager) ForceRefresh(ctx context.Context, locationID string, kind provider.Kind) (string, error) {
	if _, err := m.get(ctx, locationID, kind); err != nil {
		return "", err
	}
	return m.refreshShared(ctx, locationID, kind, true)
}

// Disconnect removes the stored credential. Disconnecting a location that
// was never connected is a no-op.
func (m *Manager) Disconnect(ctx context.Context, locationID string, kind provider.Kind) error {
	if err := m.store.Delete(ctx, locationID, kind); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	m.logger.Info("calendar disconnected",
		logging.Location(locationID),
		logging.Provider(string(kind)))
	return nil
}

// ConnectedProvider resolves which provider a location is connected to,
// checking providers in their canonical order. Returns ErrNotConnected
// when no credential exists at all.
func (m *Manager) ConnectedProvider(ctx context.Context, locationID string) (provider.Kind, error) {
	for _, kind := range provider.Kinds() {
		if _, err := m.store.Get(ctx, locationID, kind); err == nil {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: location %s", ErrNotConnected, locationID)
}

// Connections returns every provider the location has stored credentials
// for, in canonical order.
func (m *Manager) Connections(ctx context.Context, locationID string) ([]provider.Kind, error) {
	var kinds []provider.Kind
	for _, kind := range provider.Kinds() {
		if _, err := m.store.Get(ctx, locationID, kind); err == nil {
			kinds = append(kinds, kind)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return kinds, nil
}

func (m *Manager) get(ctx context.Context, locationID string, kind provider.Kind) (*Credential, error) {
	cred, err := m.store.Get(ctx, locationID, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s for location %s", ErrNotConnected, kind, locationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

// fresh reports whether the token is still comfortably inside its
// lifetime. Tokens without a recorded expiry never count as fresh.
func (m *Manager) fresh(cred *Credential) bool {
	if cred.Expiry.IsZero() {
		return false
	}
	return m.now().Before(cred.Expiry.Add(-refreshSkew))
}

// refreshShared deduplicates concurrent refreshes per (location, provider).
// The refresh itself runs on a detached context so one caller going away
// does not cancel the request everyone else is waiting on.
func (m *Manager) refreshShared(ctx context.Context, locationID string, kind provider.Kind, force bool) (string, error) {
	key := credentialKey(locationID, kind)

	m.mu.Lock()
	if call, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight[key] = call
	m.mu.Unlock()

	go func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		call.token, call.err = m.refresh(rctx, locationID, kind, force)

		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
		close(call.done)
	}()

	select {
	case <-call.done:
		return call.token, call.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, locationID string, kind provider.Kind, force bool) (string, error) {
	cred, err := m.get(ctx, locationID, kind)
	if err != nil {
		return "", err
	}

	// A refresh that finished while we queued for the lock already
	// produced a fresh token.
	if !force && m.fresh(cred) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		m.recordRefresh(ctx, kind, "reauth_required")
		return "", fmt.Errorf("%w: no refresh token stored", ErrReauthRequired)
	}

	client, err := m.providers.Get(kind)
	if err != nil {
		return "", err
	}

	logger := m.logger.With(
		logging.Location(locationID),
		logging.Provider(string(kind)))

	token, err := m.refreshWithRetry(ctx, client, cred.RefreshToken, logger)
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			// The grant itself is dead. Stored credentials stay untouched
			// so the connection state remains inspectable.
			m.recordRefresh(ctx, kind, "reauth_required")
			logger.Warn("token refresh rejected, reconnect required", logging.Err(err))
			return "", fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		// The retry budget is spent. The caller cannot do anything but
		// send the location back through the connect flow.
		m.recordRefresh(ctx, kind, "failure")
		logger.Error("token refresh failed, reconnect required", logging.Err(err))
		return "", fmt.Errorf("%w: refresh failed after retry: %v", ErrReauthRequired, err)
	}

	cred.AccessToken = token.AccessToken
	cred.Expiry = token.Expiry
	if token.RefreshToken != "" {
		// Some providers rotate refresh tokens on use.
		cred.RefreshToken = token.RefreshToken
	}
	cred.UpdatedAt = m.now()

	if err := m.store.Put(ctx, locationID, cred); err != nil {
		m.recordRefresh(ctx, kind, "failure")
		return "", fmt.Errorf("failed to store refreshed credential: %w", err)
	}

	m.recordRefresh(ctx, kind, "success")
	logger.Debug("token refreshed",
		slog.Time("expiry", token.Expiry))
	return token.AccessToken, nil
}

// refreshWithRetry retries exactly once, and only on transport errors.
// OAuth endpoint rejections carry an HTTP status and are never retried.
func (m *Manager) refreshWithRetry(ctx context.Context, client provider.Client, refreshToken string, logger *slog.Logger) (*oauth2.Token, error) {
	token, err := client.Refresh(ctx, refreshToken)
	if err == nil {
		return token, nil
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return nil, err
	}

	logger.Debug("token refresh transport error, retrying once", logging.Err(err))
	select {
	case <-time.After(refreshRetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return client.Refresh(ctx, refreshToken)
}

func (m *Manager) recordRefresh(ctx context.Context, kind provider.Kind, result string) {
	if m.metrics != nil {
		m.metrics.RecordOAuthTokenRefresh(ctx, string(kind), result)
	}
}
