package booking_tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/terminly/terminly/internal/server"
	"github.com/terminly/terminly/internal/tools/common"
)

// RegisterConnectionTools registers the calendar connection status tool with the MCP server
func RegisterConnectionTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	connectionStatusTool := mcp.NewTool("booking_connection_status",
		mcp.WithDescription("Report which calendar providers a location has connected"),
		mcp.WithString("locationId",
			mcp.Required(),
			mcp.Description("Location to report connection status for"),
		),
	)

	s.AddTool(connectionStatusTool, common.InstrumentedToolHandler("booking_connection_status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleConnectionStatus(ctx, request, sc)
		}))

	return nil
}

type connectionStatusResult struct {
	LocationID string   `json:"locationId"`
	Connected  bool     `json:"connected"`
	Providers  []string `json:"providers"`
	Active     string   `json:"active,omitempty"`
}

func handleConnectionStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	locationID := common.GetLocationFromArgs(request.GetArguments())

	status, err := sc.Scheduler().Status(ctx, locationID)
	if err != nil {
		return toolError("get connection status", err), nil
	}

	response := connectionStatusResult{
		LocationID: status.LocationID,
		Connected:  len(status.Connected) > 0,
		Providers:  make([]string, 0, len(status.Connected)),
		Active:     status.Active.String(),
	}
	for _, kind := range status.Connected {
		response.Providers = append(response.Providers, kind.String())
	}

	result, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}
