package booking_tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/scheduler"
	"github.com/terminly/terminly/internal/server"
	"github.com/terminly/terminly/internal/timeslot"
	"github.com/terminly/terminly/internal/tools/common"
)

// RegisterAvailabilityTools registers the free-slot search tool with the MCP server
func RegisterAvailabilityTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	checkAvailabilityTool := mcp.NewTool("booking_check_availability",
		mcp.WithDescription("Find free appointment slots in a location's connected calendar. Give either an explicit start/end range or a date with business hours."),
		mcp.WithString("locationId",
			mcp.Required(),
			mcp.Description("Location whose calendar should be checked"),
		),
		mcp.WithString("start",
			mcp.Description("Start of the search range (RFC3339 or '2025-12-16T09:00:00' wall clock in the requested timezone)"),
		),
		mcp.WithString("end",
			mcp.Description("End of the search range (same formats as start)"),
		),
		mcp.WithString("date",
			mcp.Description("Alternative to start/end: a calendar date ('2025-12-16') combined with business hours"),
		),
		mcp.WithString("businessHoursStart",
			mcp.Description("Opening time on the given date, 24h clock (e.g. '09:00')"),
		),
		mcp.WithString("businessHoursEnd",
			mcp.Description("Closing time on the given date, 24h clock (e.g. '17:00')"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone for the search (e.g. 'Europe/Zurich'). Defaults to the server timezone."),
		),
		mcp.WithNumber("slotDurationMinutes",
			mcp.Description("Length of each slot in minutes (default: 30)"),
		),
		mcp.WithNumber("minNoticeMinutes",
			mcp.Description("Minimum lead time before the first offered slot, in minutes"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description("Maximum number of slots to return (default: 10, capped at 50)"),
		),
	)

	s.AddTool(checkAvailabilityTool, common.InstrumentedToolHandlerWithProvider("booking_check_availability", instrumentation.OperationFreeBusy, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCheckAvailability(ctx, request, sc)
		}))

	return nil
}

type slotResult struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label"`
}

type availabilityResult struct {
	Provider string       `json:"provider"`
	TimeZone string       `json:"timezone"`
	Slots    []slotResult `json:"slots"`
}

func handleCheckAvailability(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	locationID := common.GetLocationFromArgs(args)
	if locationID == "" {
		return mcp.NewToolResultError("locationId is required"), nil
	}

	input := scheduler.AvailabilityInput{
		LocationID: locationID,
		TimeZone:   getStringArg(args, "timezone"),
		Window: timeslot.WindowInput{
			Start: getStringArg(args, "start"),
			End:   getStringArg(args, "end"),
			Date:  getStringArg(args, "date"),
		},
	}

	hoursFrom := getStringArg(args, "businessHoursStart")
	hoursTo := getStringArg(args, "businessHoursEnd")
	if hoursFrom != "" || hoursTo != "" {
		input.Window.BusinessHours = &timeslot.HourRange{From: hoursFrom, To: hoursTo}
	}

	if minutes, ok := args["slotDurationMinutes"].(float64); ok && minutes > 0 {
		input.SlotDuration = time.Duration(minutes) * time.Minute
	}
	if minutes, ok := args["minNoticeMinutes"].(float64); ok && minutes > 0 {
		input.MinNotice = time.Duration(minutes) * time.Minute
	}
	if maxResults, ok := args["maxResults"].(float64); ok && maxResults > 0 {
		input.MaxResults = int(maxResults)
	}

	availability, err := sc.Scheduler().CheckAvailability(ctx, input)
	if err != nil {
		return toolError("check availability", err), nil
	}

	response := availabilityResult{
		Provider: availability.Provider.String(),
		TimeZone: availability.TimeZone,
		Slots:    make([]slotResult, 0, len(availability.Slots)),
	}
	for _, slot := range availability.Slots {
		response.Slots = append(response.Slots, slotResult{
			Start: slot.Start.Format(time.RFC3339),
			End:   slot.End.Format(time.RFC3339),
			Label: slot.Label,
		})
	}

	result, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}
