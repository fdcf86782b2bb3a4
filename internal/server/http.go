package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/terminly/terminly/internal/instrumentation"
)

// HTTPServerConfig holds the configuration for the public HTTP listener.
type HTTPServerConfig struct {
	// BaseURL is the public URL this server is reachable at. HTTP is only
	// accepted for loopback addresses.
	BaseURL string

	// DisableStreaming disables streaming on the MCP endpoint for clients
	// that cannot handle chunked responses.
	DisableStreaming bool

	// Connect serves the calendar connect handshake routes. Optional.
	Connect *ConnectHandler

	// Health serves the Kubernetes probe endpoints. Optional.
	Health *HealthChecker
}

// HTTPServer is the public HTTP surface: the MCP endpoint on /mcp, the
// calendar connect handshake under /calendar/, and the health probes.
// Prometheus metrics are served separately by MetricsServer.
type HTTPServer struct {
	mcpServer        *mcpserver.MCPServer
	connect          *ConnectHandler
	health           *HealthChecker
	metrics          *instrumentation.Metrics
	httpServer       *http.Server
	disableStreaming bool
	baseURL          string
}

// NewHTTPServer creates the public HTTP server for the given MCP server.
func NewHTTPServer(mcpServer *mcpserver.MCPServer, config HTTPServerConfig) (*HTTPServer, error) {
	if err := validateHTTPSRequirement(config.BaseURL); err != nil {
		return nil, err
	}

	return &HTTPServer{
		mcpServer:        mcpServer,
		connect:          config.Connect,
		health:           config.Health,
		disableStreaming: config.DisableStreaming,
		baseURL:          config.BaseURL,
	}, nil
}

// SetMetrics enables HTTP request metrics. Must be called before Start.
func (s *HTTPServer) SetMetrics(metrics *instrumentation.Metrics) {
	s.metrics = metrics
}

// Start starts the HTTP server in a blocking manner.
func (s *HTTPServer) Start(addr string) error {
	mux := http.NewServeMux()

	var streamable http.Handler
	if s.disableStreaming {
		streamable = mcpserver.NewStreamableHTTPServer(s.mcpServer,
			mcpserver.WithEndpointPath("/mcp"),
			mcpserver.WithDisableStreaming(true),
		)
	} else {
		streamable = mcpserver.NewStreamableHTTPServer(s.mcpServer,
			mcpserver.WithEndpointPath("/mcp"),
		)
	}
	mux.Handle("/mcp", streamable)

	if s.connect != nil {
		s.connect.Register(mux)
	}
	if s.health != nil {
		s.health.RegisterHealthEndpoints(mux)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.instrumentationMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// instrumentationMiddleware records request counts and latencies. The
// route set is fixed, so the path label stays low-cardinality.
func (s *HTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// responseWriter captures the status code for instrumentation.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// validateHTTPSRequirement ensures the public base URL uses HTTPS.
// HTTP is allowed only for loopback addresses during development.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("HTTPS is required for production (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
