package server

import (
	"context"
	"sync"

	"github.com/terminly/terminly/internal/credentials"
	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/oauthstate"
	"github.com/terminly/terminly/internal/provider"
	"github.com/terminly/terminly/internal/scheduler"
)

// ServerContext holds the shared dependencies of the MCP server and the
// OAuth handshake endpoints.
type ServerContext struct {
	ctx       context.Context
	cancel    context.CancelFunc
	signer    *oauthstate.Signer
	tokens    *credentials.Manager
	scheduler *scheduler.Scheduler
	providers provider.Registry

	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context.
func NewServerContext(ctx context.Context, signer *oauthstate.Signer, tokens *credentials.Manager, sched *scheduler.Scheduler, providers provider.Registry) (*ServerContext, error) {
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		signer:    signer,
		tokens:    tokens,
		scheduler: sched,
		providers: providers,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Signer returns the OAuth state signer.
func (sc *ServerContext) Signer() *oauthstate.Signer {
	return sc.signer
}

// Tokens returns the credential manager.
func (sc *ServerContext) Tokens() *credentials.Manager {
	return sc.tokens
}

// Scheduler returns the booking orchestrator.
func (sc *ServerContext) Scheduler() *scheduler.Scheduler {
	return sc.scheduler
}

// Providers returns the calendar provider registry.
func (sc *ServerContext) Providers() provider.Registry {
	return sc.providers
}

// SetMetrics sets the metrics recorder for tool instrumentation.
func (sc *ServerContext) SetMetrics(metrics *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = metrics
}

// Metrics returns the metrics recorder, or nil if instrumentation is not configured.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetAuditLogger sets the audit logger for tool invocations.
func (sc *ServerContext) SetAuditLogger(auditLogger *instrumentation.AuditLogger) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.auditLogger = auditLogger
}

// AuditLogger returns the audit logger, or nil if not configured.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
