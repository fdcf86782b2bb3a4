package common

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/trace"

	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/server"
)

// InstrumentedToolHandler wraps a tool handler with tracing, metrics and
// audit logging. Every invocation runs inside a tool span so provider API
// spans started further down nest under it.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my_tool", sc, handler))
func InstrumentedToolHandler(
	toolName string,
	sc *server.ServerContext,
	handler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error),
) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		// Get metrics and audit logger (may be nil if not configured)
		metrics := sc.Metrics()
		auditLogger := sc.AuditLogger()

		// If no instrumentation configured, just call the handler
		if metrics == nil && auditLogger == nil {
			result, err := handler(ctx, request)
			finishToolSpan(span, result, err)
			return result, err
		}

		// Start timing and create invocation record
		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName).
			WithSpanContext(ctx)

		// Extract location from request arguments
		args := request.GetArguments()
		location := GetLocationFromArgs(args)
		if location != "" {
			invocation.WithLocation(location)
		}

		// Call the actual handler
		result, err := handler(ctx, request)
		duration := time.Since(start)
		finishToolSpan(span, result, err)

		// Determine status
		status := instrumentation.StatusSuccess
		if err != nil || (result != nil && result.IsError) {
			status = instrumentation.StatusError
			if err != nil {
				invocation.CompleteWithError(err)
			} else {
				invocation.Complete(false, nil)
			}
		} else {
			invocation.CompleteSuccess()
		}

		// Record metrics
		if metrics != nil {
			metrics.RecordToolInvocation(ctx, toolName, status, duration)
		}

		// Log audit
		if auditLogger != nil {
			auditLogger.LogToolInvocation(invocation)
		}

		return result, err
	}
}

// InstrumentedToolHandlerWithProvider is like InstrumentedToolHandler but also
// records the calendar provider and operation type for more detailed audit
// trails. The provider is resolved from the location's stored connection at
// call time, since a tool does not know which calendar a location uses until
// the request arrives.
//
// This handler records:
// - MCP tool invocation metrics (mcp_tool_invocations_total, mcp_tool_duration_seconds),
//   with the location label when detailed labels are enabled
// - provider and operation on the audit record
//
// Provider API operation metrics are recorded at the orchestrator level where
// the actual API call happens, so they are not duplicated here.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandlerWithProvider("my_tool", "freebusy", sc, handler))
func InstrumentedToolHandlerWithProvider(
	toolName string,
	operation string,
	sc *server.ServerContext,
	handler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error),
) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		// Get metrics and audit logger (may be nil if not configured)
		metrics := sc.Metrics()
		auditLogger := sc.AuditLogger()

		// If no instrumentation configured, just call the handler
		if metrics == nil && auditLogger == nil {
			result, err := handler(ctx, request)
			finishToolSpan(span, result, err)
			return result, err
		}

		// Start timing and create invocation record
		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName).
			WithSpanContext(ctx)

		// Extract location from request arguments and resolve which
		// provider it is connected to
		args := request.GetArguments()
		location := GetLocationFromArgs(args)
		providerName := ""
		if location != "" {
			invocation.WithLocation(location)
			if tokens := sc.Tokens(); tokens != nil {
				if kind, err := tokens.ConnectedProvider(ctx, location); err == nil {
					providerName = string(kind)
				}
			}
		}
		invocation.WithProvider(providerName, operation)

		// Call the actual handler
		result, err := handler(ctx, request)
		duration := time.Since(start)
		finishToolSpan(span, result, err)

		// Determine status
		status := instrumentation.StatusSuccess
		if err != nil || (result != nil && result.IsError) {
			status = instrumentation.StatusError
			if err != nil {
				invocation.CompleteWithError(err)
			} else {
				invocation.Complete(false, nil)
			}
		} else {
			invocation.CompleteSuccess()
		}

		// Record metrics
		if metrics != nil {
			metrics.RecordToolInvocationWithLocation(ctx, toolName, status, location, duration)
		}

		// Log audit
		if auditLogger != nil {
			auditLogger.LogToolInvocation(invocation)
		}

		return result, err
	}
}

// finishToolSpan sets the span status from the handler outcome. Tool-level
// failures are reported through result.IsError rather than a Go error, so
// both paths count.
func finishToolSpan(span trace.Span, result *mcp.CallToolResult, err error) {
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return
	}
	if result != nil && result.IsError {
		instrumentation.SetSpanError(span, errors.New("tool reported an error result"))
		return
	}
	instrumentation.SetSpanSuccess(span)
}
