package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/terminly/terminly/internal/credentials"
	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/oauthstate"
	"github.com/terminly/terminly/internal/provider"
	"github.com/terminly/terminly/internal/scheduler"
	"github.com/terminly/terminly/internal/server"
	"github.com/terminly/terminly/internal/tools/booking_tools"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// serveConfig collects the resolved settings for the serve command after
// flags and environment variables have been merged.
type serveConfig struct {
	Transport        string
	Debug            bool
	HTTPAddr         string
	HTTPAddrSet      bool
	BaseURL          string
	FrontendURL      string
	DisableStreaming bool

	GoogleClientID      string
	GoogleClientSecret  string
	OutlookClientID     string
	OutlookClientSecret string

	StateSecret   string
	EncryptionKey []byte

	TimeZone string

	Metrics MetricsConfig
}

func newServeCmd() *cobra.Command {
	var (
		debugMode           bool
		transport           string
		httpAddr            string
		baseURL             string
		frontendURL         string
		disableStreaming    bool
		googleClientID      string
		googleClientSecret  string
		outlookClientID     string
		outlookClientSecret string
		stateSecret         string
		encryptionKey       string
		timezone            string
		metricsEnabled      bool
		metricsAddr         string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP booking server",
		Long: `Start the Model Context Protocol (MCP) server that provides calendar
booking tools for AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport

HTTP transport additionally serves the calendar connect handshake
(/calendar/{provider}/auth-url and /calendar/{provider}/callback) that
locations use to connect their Google or Outlook calendars.

Provider Credentials:
  --google-client-id and --google-client-secret
    OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars
  --outlook-client-id and --outlook-client-secret
    OR OUTLOOK_CLIENT_ID and OUTLOOK_CLIENT_SECRET env vars
  At least one provider must be configured for booking tools to work.

Secrets:
  --state-secret or OAUTH_STATE_SECRET signs the OAuth handshake state
  (required for HTTP transport; falls back to TOKEN_ENCRYPTION_KEY).
  --token-encryption-key or TOKEN_ENCRYPTION_KEY (32 bytes, base64)
  encrypts stored tokens at rest. Generate one with: terminly keygen`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := serveConfig{
				Transport:           transport,
				Debug:               debugMode,
				HTTPAddr:            httpAddr,
				HTTPAddrSet:         cmd.Flags().Changed("http-addr"),
				BaseURL:             stringFromEnv(baseURL, "MCP_BASE_URL"),
				FrontendURL:         stringFromEnv(frontendURL, "FRONTEND_URL"),
				DisableStreaming:    disableStreaming,
				GoogleClientID:      stringFromEnv(googleClientID, "GOOGLE_CLIENT_ID"),
				GoogleClientSecret:  stringFromEnv(googleClientSecret, "GOOGLE_CLIENT_SECRET"),
				OutlookClientID:     stringFromEnv(outlookClientID, "OUTLOOK_CLIENT_ID"),
				OutlookClientSecret: stringFromEnv(outlookClientSecret, "OUTLOOK_CLIENT_SECRET"),
				TimeZone:            stringFromEnv(timezone, "DEFAULT_TIMEZONE"),
				Metrics: MetricsConfig{
					Enabled: boolFromEnv(metricsEnabled, cmd.Flags().Changed("metrics-enabled"), "METRICS_ENABLED"),
					Addr:    stringFromEnv(metricsAddr, "METRICS_ADDR"),
				},
			}
			if cfg.TimeZone == "" {
				cfg.TimeZone = "Europe/Zurich"
			}
			if cfg.Metrics.Addr == "" {
				cfg.Metrics.Addr = server.DefaultMetricsAddr
			}

			// The state secret may share key material with the token
			// encryption key when no dedicated secret is configured.
			encodedKey := stringFromEnv(encryptionKey, "TOKEN_ENCRYPTION_KEY")
			cfg.StateSecret = stringFromEnv(stateSecret, "OAUTH_STATE_SECRET")
			if cfg.StateSecret == "" {
				cfg.StateSecret = encodedKey
			}

			key, err := credentials.EncryptionKeyFromBase64(encodedKey)
			if err != nil {
				return fmt.Errorf("invalid token encryption key: %w", err)
			}
			cfg.EncryptionKey = key

			return runServe(cfg)
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public base URL for the OAuth handshake (HTTP transport only). Required for deployed instances. Can also use MCP_BASE_URL env var. Example: https://booking.example.com")
	cmd.Flags().StringVar(&frontendURL, "frontend-url", "", "Frontend origin allowed to receive the connect callback's postMessage. Can also use FRONTEND_URL env var.")
	cmd.Flags().BoolVar(&disableStreaming, "disable-streaming", false, "Disable streaming for HTTP transport (for compatibility with certain clients)")
	cmd.Flags().StringVar(&googleClientID, "google-client-id", "", "Google OAuth Client ID. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&googleClientSecret, "google-client-secret", "", "Google OAuth Client Secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	cmd.Flags().StringVar(&outlookClientID, "outlook-client-id", "", "Microsoft OAuth Application (client) ID. Can also use OUTLOOK_CLIENT_ID env var.")
	cmd.Flags().StringVar(&outlookClientSecret, "outlook-client-secret", "", "Microsoft OAuth client secret. Can also use OUTLOOK_CLIENT_SECRET env var.")
	cmd.Flags().StringVar(&stateSecret, "state-secret", "", "Secret used to sign OAuth handshake state tokens. Can also use OAUTH_STATE_SECRET env var. Falls back to the token encryption key.")
	cmd.Flags().StringVar(&encryptionKey, "token-encryption-key", "", "AES-256 key for token storage at rest (32 bytes, base64 encoded). Can also use TOKEN_ENCRYPTION_KEY env var. Generate with: terminly keygen")
	cmd.Flags().StringVar(&timezone, "timezone", "", "Default IANA timezone for slot generation (default: Europe/Zurich). Can also use DEFAULT_TIMEZONE env var.")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics server address (default: :9090). Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(cfg serveConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	setupLogging(cfg.Debug)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	instrProvider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := instrProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("instrumentation shutdown failed", "error", err)
		}
	}()

	var metrics *instrumentation.Metrics
	if instrProvider.Enabled() {
		metrics = instrProvider.Metrics()
	}

	// Start metrics server if enabled and not in stdio mode
	var metricsServer *server.MetricsServer
	if cfg.Transport != "stdio" && cfg.Metrics.Enabled && instrProvider.Enabled() {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: instrProvider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use ready channel to confirm metrics server started successfully
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
			slog.Info("metrics server started", "addr", metricsServer.Addr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
	}

	// Token storage: encrypted at rest when a key is configured.
	encryption, err := credentials.NewTokenEncryption(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token encryption: %w", err)
	}
	if !encryption.Enabled() && cfg.Transport != "stdio" {
		slog.Warn("token encryption is disabled; set TOKEN_ENCRYPTION_KEY for production deployments")
	}
	store := credentials.NewEncryptedStore(credentials.NewMemoryStore(), encryption)

	registry := buildProviderRegistry(cfg)
	if len(registry) == 0 {
		slog.Warn("no calendar providers configured; booking tools will reject all requests")
	}

	tokens := credentials.NewManager(store, registry, slog.Default(), metrics)

	defaultTZ, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.TimeZone, err)
	}

	sched := scheduler.New(tokens, registry, defaultTZ, slog.Default(), metrics)

	// The signer is only exercised by the HTTP handshake endpoints, but a
	// configured secret is honored on stdio too so both transports share
	// one configuration surface.
	var signer *oauthstate.Signer
	if cfg.StateSecret != "" {
		signer, err = oauthstate.NewSigner(cfg.StateSecret)
		if err != nil {
			return fmt.Errorf("failed to create state signer: %w", err)
		}
	} else if cfg.Transport != "stdio" {
		return fmt.Errorf("a state secret is required for the %s transport: set --state-secret, OAUTH_STATE_SECRET, or TOKEN_ENCRYPTION_KEY", cfg.Transport)
	}

	serverContext, err := server.NewServerContext(shutdownCtx, signer, tokens, sched, registry)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}

	// Set metrics and audit logger on server context for tool instrumentation
	if instrProvider.Enabled() {
		serverContext.SetMetrics(metrics)
		serverContext.SetAuditLogger(instrumentation.NewAuditLoggerWithConfig(nil, instrConfig.AuditLogging))
	}
	defer func() {
		// Shutdown metrics server first
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}
		if err := serverContext.Shutdown(); err != nil {
			slog.Error("server context shutdown failed", "error", err)
		}
	}()

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("terminly", version,
		mcpserver.WithToolCapabilities(true),
	)

	if err := booking_tools.RegisterBookingTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register booking tools: %w", err)
	}

	switch cfg.Transport {
	case "stdio":
		// With stdio the MCP protocol owns stdout, but locations still
		// need the connect handshake; serve it on a side listener when
		// an address was explicitly configured.
		if signer != nil && cfg.HTTPAddrSet {
			go runHandshakeListener(shutdownCtx, serverContext, cfg, metrics)
		}
		return runStdioServer(mcpSrv)
	case "streamable-http":
		return runStreamableHTTPServer(shutdownCtx, mcpSrv, serverContext, cfg, metrics)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", cfg.Transport)
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runStreamableHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, serverContext *server.ServerContext, cfg serveConfig, metrics *instrumentation.Metrics) error {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		// Fall back to auto-detection for local development
		baseURL = fmt.Sprintf("http://%s", cfg.HTTPAddr)
		if cfg.HTTPAddr[0] == ':' {
			baseURL = fmt.Sprintf("http://localhost%s", cfg.HTTPAddr)
		}
		slog.Info("no base URL configured, using auto-detected", "base_url", baseURL)
		slog.Info("for deployed instances, set --base-url flag or MCP_BASE_URL env var")
	} else {
		slog.Info("using configured base URL", "base_url", baseURL)
	}

	connectHandler := server.NewConnectHandler(
		serverContext.Signer(),
		serverContext.Tokens(),
		serverContext.Providers(),
		baseURL,
		cfg.FrontendURL,
		slog.Default(),
		metrics,
	)

	healthChecker := server.NewHealthChecker(serverContext)

	httpServer, err := server.NewHTTPServer(mcpSrv, server.HTTPServerConfig{
		BaseURL:          baseURL,
		DisableStreaming: cfg.DisableStreaming,
		Connect:          connectHandler,
		Health:           healthChecker,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	if metrics != nil {
		httpServer.SetMetrics(metrics)
	}

	fmt.Printf("Streamable HTTP server starting on %s\n", cfg.HTTPAddr)
	fmt.Printf("  MCP endpoint: /mcp\n")
	fmt.Printf("  Connect endpoints: /calendar/{provider}/auth-url, /calendar/{provider}/callback\n")
	fmt.Printf("  Health endpoints: /healthz, /readyz\n")
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics endpoint: %s/metrics\n", cfg.Metrics.Addr)
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("Shutdown signal received, stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		fmt.Println("HTTP server stopped normally")
	}

	fmt.Println("HTTP server gracefully stopped")
	return nil
}

// runHandshakeListener serves only the connect handshake and health probes.
// Used with the stdio transport so locations can connect calendars while
// the MCP protocol runs over stdout.
func runHandshakeListener(ctx context.Context, serverContext *server.ServerContext, cfg serveConfig, metrics *instrumentation.Metrics) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s", cfg.HTTPAddr)
		if cfg.HTTPAddr[0] == ':' {
			baseURL = fmt.Sprintf("http://localhost%s", cfg.HTTPAddr)
		}
	}

	connectHandler := server.NewConnectHandler(
		serverContext.Signer(),
		serverContext.Tokens(),
		serverContext.Providers(),
		baseURL,
		cfg.FrontendURL,
		slog.Default(),
		metrics,
	)
	healthChecker := server.NewHealthChecker(serverContext)

	mux := http.NewServeMux()
	connectHandler.Register(mux)
	healthChecker.RegisterHealthEndpoints(mux)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("handshake listener started", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("handshake listener failed", "error", err)
	}
}

// buildProviderRegistry creates clients for every provider with configured
// credentials.
func buildProviderRegistry(cfg serveConfig) provider.Registry {
	registry := provider.Registry{}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		registry[provider.Google] = provider.NewGoogleClient(cfg.GoogleClientID, cfg.GoogleClientSecret)
	}
	if cfg.OutlookClientID != "" && cfg.OutlookClientSecret != "" {
		registry[provider.Outlook] = provider.NewOutlookClient(cfg.OutlookClientID, cfg.OutlookClientSecret)
	}
	return registry
}

// setupLogging routes logs to stderr so the stdio transport keeps stdout
// clean for the MCP protocol.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// boolFromEnv returns value when the flag was set explicitly, otherwise the
// environment variable parsed as a bool when present. Unparseable values
// keep the flag default.
func boolFromEnv(value bool, explicit bool, envKey string) bool {
	if explicit {
		return value
	}
	if v := os.Getenv(envKey); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return value
}

// stringFromEnv returns value when non-empty, otherwise the first non-empty
// environment variable among envKeys.
func stringFromEnv(value string, envKeys ...string) string {
	if value != "" {
		return value
	}
	for _, key := range envKeys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
