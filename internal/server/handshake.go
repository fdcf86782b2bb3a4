package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/terminly/terminly/internal/credentials"
	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/logging"
	"github.com/terminly/terminly/internal/oauthstate"
	"github.com/terminly/terminly/internal/provider"
)

// ConnectHandler serves the OAuth handshake endpoints that connect a
// location's calendar:
//
//	GET    /calendar/{provider}/auth-url?locationId=...
//	GET    /calendar/{provider}/callback?code=...&state=...
//	DELETE /calendar/{provider}?locationId=...
//
// The callback renders a small HTML page that posts the outcome to the
// opening frontend window and closes itself.
type ConnectHandler struct {
	signer      *oauthstate.Signer
	tokens      *credentials.Manager
	providers   provider.Registry
	baseURL     string
	frontendURL string
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// NewConnectHandler creates the handshake handler. baseURL is the public
// URL this server is reachable at; frontendURL is the allowed origin for
// the callback's postMessage. metrics may be nil.
func NewConnectHandler(signer *oauthstate.Signer, tokens *credentials.Manager, providers provider.Registry, baseURL, frontendURL string, logger *slog.Logger, metrics *instrumentation.Metrics) *ConnectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectHandler{
		signer:      signer,
		tokens:      tokens,
		providers:   providers,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		frontendURL: frontendURL,
		logger:      logger,
		metrics:     metrics,
	}
}

// Register mounts the handshake routes on mux.
func (h *ConnectHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /calendar/{provider}/auth-url", h.handleAuthURL)
	mux.HandleFunc("GET /calendar/{provider}/callback", h.handleCallback)
	mux.HandleFunc("DELETE /calendar/{provider}", h.handleDisconnect)
}

func (h *ConnectHandler) redirectURI(kind provider.Kind) string {
	return fmt.Sprintf("%s/calendar/%s/callback", h.baseURL, kind)
}

// handleAuthURL issues a signed state and builds the provider's consent
// URL for the frontend to open.
func (h *ConnectHandler) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	kind, client, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	locationID := r.URL.Query().Get("locationId")
	if locationID == "" {
		h.writeError(w, http.StatusBadRequest, "locationId is required")
		return
	}

	state, err := h.signer.Create(locationID, kind)
	if err != nil {
		h.logger.Error("failed to create oauth state", logging.Err(err))
		h.writeError(w, http.StatusInternalServerError, "failed to create state")
		return
	}

	redirectURI := h.redirectURI(kind)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"authUrl":     client.AuthCodeURL(state, redirectURI),
		"state":       state,
		"redirectUri": redirectURI,
	})
}

// handleCallback completes the handshake: verify the state, exchange the
// code, store the credential, notify the frontend.
func (h *ConnectHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	kind, client, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	start := time.Now()
	logger := logging.WithOperation(h.logger, "oauth.callback").With(
		logging.Provider(string(kind)))

	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		// The user denied consent or the provider failed upstream.
		logger.Warn("provider returned oauth error", slog.String("oauth_error", errCode))
		h.recordAuth(r, kind, logging.StatusError)
		h.renderResult(w, connectResult{Provider: string(kind), Error: errCode})
		return
	}

	payload, err := h.signer.Verify(query.Get("state"))
	if err != nil {
		logger.Warn("oauth state rejected", logging.Err(err))
		h.recordAuth(r, kind, logging.StatusError)
		h.renderResult(w, connectResult{Provider: string(kind), Error: stateErrorCode(err)})
		return
	}
	if payload.Provider != kind {
		logger.Warn("oauth state provider mismatch",
			slog.String("state_provider", string(payload.Provider)))
		h.recordAuth(r, kind, logging.StatusError)
		h.renderResult(w, connectResult{Provider: string(kind), Error: "invalid_state"})
		return
	}

	code := query.Get("code")
	if code == "" {
		h.recordAuth(r, kind, logging.StatusError)
		h.renderResult(w, connectResult{Provider: string(kind), Error: "missing_code"})
		return
	}

	token, err := client.Exchange(r.Context(), code, h.redirectURI(kind))
	if err != nil {
		logger.Error("code exchange failed", logging.Err(err), logging.Location(payload.LocationID))
		h.recordAuth(r, kind, logging.StatusError)
		h.renderResult(w, connectResult{Provider: string(kind), Error: "exchange_failed"})
		return
	}

	if err := h.tokens.StoreInitialToken(r.Context(), payload.LocationID, kind, token); err != nil {
		logger.Error("failed to store credential", logging.Err(err), logging.Location(payload.LocationID))
		h.recordAuth(r, kind, logging.StatusError)
		code := "store_failed"
		if errors.Is(err, credentials.ErrRefreshTokenMissing) {
			code = "refresh_token_missing"
		}
		h.renderResult(w, connectResult{Provider: string(kind), Error: code})
		return
	}

	logger.Info("calendar connected",
		logging.Location(payload.LocationID),
		slog.Duration("duration", time.Since(start)))
	h.recordAuth(r, kind, logging.StatusSuccess)
	h.renderResult(w, connectResult{Provider: string(kind), LocationID: payload.LocationID, Success: true})
}

// handleDisconnect removes the stored credential. Always 204, also for
// locations that were never connected.
func (h *ConnectHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	kind, _, ok := h.resolveProvider(w, r)
	if !ok {
		return
	}

	locationID := r.URL.Query().Get("locationId")
	if locationID == "" {
		h.writeError(w, http.StatusBadRequest, "locationId is required")
		return
	}

	if err := h.tokens.Disconnect(r.Context(), locationID, kind); err != nil {
		h.logger.Error("disconnect failed", logging.Err(err),
			logging.Location(locationID), logging.Provider(string(kind)))
		h.writeError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectHandler) resolveProvider(w http.ResponseWriter, r *http.Request) (provider.Kind, provider.Client, bool) {
	kind, err := provider.ParseKind(r.PathValue("provider"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "unknown provider")
		return "", nil, false
	}
	client, err := h.providers.Get(kind)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "provider not configured")
		return "", nil, false
	}
	return kind, client, true
}

func (h *ConnectHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *ConnectHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *ConnectHandler) recordAuth(r *http.Request, kind provider.Kind, result string) {
	if h.metrics != nil {
		h.metrics.RecordOAuthAuth(r.Context(), string(kind), result)
	}
}

// stateErrorCode maps state verification failures to stable codes the
// frontend can act on.
func stateErrorCode(err error) string {
	switch {
	case errors.Is(err, oauthstate.ErrStateExpired):
		return "state_expired"
	case errors.Is(err, oauthstate.ErrClockSkew):
		return "state_expired"
	case errors.Is(err, oauthstate.ErrInvalidSignature):
		return "invalid_state"
	case errors.Is(err, oauthstate.ErrInvalidProvider):
		return "invalid_state"
	default:
		return "invalid_state"
	}
}

// connectResult is what the callback page posts to the opener.
type connectResult struct {
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	LocationID string `json:"locationId,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>Calendar Connection</title></head>
<body>
<p>{{if .Result.Success}}Calendar connected. You can close this window.{{else}}Calendar connection failed. You can close this window and try again.{{end}}</p>
<script>
  (function() {
    var payload = {{.ResultJSON}};
    if (window.opener) {
      window.opener.postMessage(payload, {{.Origin}});
    }
    window.close();
  })();
</script>
</body>
</html>
`))

func (h *ConnectHandler) renderResult(w http.ResponseWriter, result connectResult) {
	result.Type = "calendar-connect"

	resultJSON, err := json.Marshal(result)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	origin := "*"
	if h.frontendURL != "" {
		if u, err := url.Parse(h.frontendURL); err == nil && u.Scheme != "" {
			origin = u.Scheme + "://" + u.Host
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)

	_ = callbackPage.Execute(w, map[string]any{
		"Result":     result,
		"ResultJSON": template.JS(resultJSON),
		"Origin":     origin,
	})
}
