package booking_tools

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/terminly/terminly/internal/credentials"
	"github.com/terminly/terminly/internal/scheduler"
	"github.com/terminly/terminly/internal/server"
)

// RegisterBookingTools registers all booking-related tools with the MCP server
func RegisterBookingTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if err := RegisterAvailabilityTools(s, sc); err != nil {
		return fmt.Errorf("failed to register availability tools: %w", err)
	}

	if err := RegisterAppointmentTools(s, sc); err != nil {
		return fmt.Errorf("failed to register appointment tools: %w", err)
	}

	if err := RegisterConnectionTools(s, sc); err != nil {
		return fmt.Errorf("failed to register connection tools: %w", err)
	}

	return nil
}

// toolError maps orchestrator errors to tool error results. Connection
// problems get an actionable message; everything else is prefixed with
// the failed operation.
func toolError(op string, err error) *mcp.CallToolResult {
	switch {
	case scheduler.IsValidationError(err):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, credentials.ErrNotConnected):
		return mcp.NewToolResultError("No calendar is connected for this location. Connect a Google or Outlook calendar first via the calendar connect flow.")
	case errors.Is(err, credentials.ErrReauthRequired):
		return mcp.NewToolResultError("Calendar authorization has expired or been revoked. The location needs to reconnect its calendar.")
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", op, err))
	}
}

// getStringArg returns the named string argument, or "" when absent.
func getStringArg(args map[string]interface{}, key string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return ""
}
