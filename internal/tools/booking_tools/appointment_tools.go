package booking_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/scheduler"
	"github.com/terminly/terminly/internal/server"
	"github.com/terminly/terminly/internal/tools/common"
)

// RegisterAppointmentTools registers appointment lifecycle tools with the MCP server
func RegisterAppointmentTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	createAppointmentTool := mcp.NewTool("booking_create_appointment",
		mcp.WithDescription("Create an appointment in a location's connected calendar"),
		mcp.WithString("locationId",
			mcp.Required(),
			mcp.Description("Location whose calendar the appointment is created in"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Appointment title"),
		),
		mcp.WithString("description",
			mcp.Description("Appointment description"),
		),
		mcp.WithString("location",
			mcp.Description("Physical or virtual meeting location"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Start time (RFC3339 or '2025-12-16T10:00:00' wall clock in the given timezone)"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("End time (same formats as start)"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone for start/end (e.g. 'Europe/Zurich'). Defaults to the server timezone."),
		),
		mcp.WithString("attendees",
			mcp.Description("Comma-separated list of attendee email addresses"),
		),
	)

	s.AddTool(createAppointmentTool, common.InstrumentedToolHandlerWithProvider("booking_create_appointment", instrumentation.OperationCreateEvent, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCreateAppointment(ctx, request, sc)
		}))

	updateAppointmentTool := mcp.NewTool("booking_update_appointment",
		mcp.WithDescription("Update an existing appointment in a location's connected calendar"),
		mcp.WithString("locationId",
			mcp.Required(),
			mcp.Description("Location whose calendar holds the appointment"),
		),
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("The ID of the appointment to update"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("New appointment title. Updates replace all core fields, so pass the current title to keep it."),
		),
		mcp.WithString("description",
			mcp.Description("New appointment description"),
		),
		mcp.WithString("location",
			mcp.Description("New meeting location"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("New start time (RFC3339 or wall clock in the given timezone)"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("New end time (same formats as start)"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone for start/end. Defaults to the server timezone."),
		),
		mcp.WithString("attendees",
			mcp.Description("New comma-separated list of attendee email addresses"),
		),
	)

	s.AddTool(updateAppointmentTool, common.InstrumentedToolHandlerWithProvider("booking_update_appointment", instrumentation.OperationUpdateEvent, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleUpdateAppointment(ctx, request, sc)
		}))

	cancelAppointmentTool := mcp.NewTool("booking_cancel_appointment",
		mcp.WithDescription("Cancel an appointment in a location's connected calendar"),
		mcp.WithString("locationId",
			mcp.Required(),
			mcp.Description("Location whose calendar holds the appointment"),
		),
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("The ID of the appointment to cancel"),
		),
	)

	s.AddTool(cancelAppointmentTool, common.InstrumentedToolHandlerWithProvider("booking_cancel_appointment", instrumentation.OperationDeleteEvent, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCancelAppointment(ctx, request, sc)
		}))

	return nil
}

type appointmentResult struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Link     string `json:"link,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
	TimeZone string `json:"timezone"`
	Label    string `json:"label,omitempty"`
}

func appointmentInputFromArgs(args map[string]interface{}) scheduler.AppointmentInput {
	input := scheduler.AppointmentInput{
		LocationID:  common.GetLocationFromArgs(args),
		EventID:     getStringArg(args, "eventId"),
		Title:       getStringArg(args, "title"),
		Description: getStringArg(args, "description"),
		Location:    getStringArg(args, "location"),
		Start:       getStringArg(args, "start"),
		End:         getStringArg(args, "end"),
		TimeZone:    getStringArg(args, "timezone"),
	}

	if attendeesStr := getStringArg(args, "attendees"); attendeesStr != "" {
		input.Attendees = strings.Split(attendeesStr, ",")
		for i := range input.Attendees {
			input.Attendees[i] = strings.TrimSpace(input.Attendees[i])
		}
	}

	return input
}

func appointmentResponse(appt *scheduler.Appointment) (*mcp.CallToolResult, error) {
	response := appointmentResult{
		Provider: appt.Provider.String(),
		ID:       appt.ID,
		Link:     appt.Link,
		Start:    appt.Start.Format(time.RFC3339),
		End:      appt.End.Format(time.RFC3339),
		TimeZone: appt.TimeZone,
		Label:    appt.Label,
	}

	result, _ := json.MarshalIndent(response, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func handleCreateAppointment(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	input := appointmentInputFromArgs(request.GetArguments())

	appt, err := sc.Scheduler().CreateAppointment(ctx, input)
	if err != nil {
		return toolError("create appointment", err), nil
	}

	return appointmentResponse(appt)
}

func handleUpdateAppointment(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	input := appointmentInputFromArgs(request.GetArguments())

	appt, err := sc.Scheduler().UpdateAppointment(ctx, input)
	if err != nil {
		return toolError("update appointment", err), nil
	}

	return appointmentResponse(appt)
}

func handleCancelAppointment(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	locationID := common.GetLocationFromArgs(args)
	eventID := getStringArg(args, "eventId")

	if err := sc.Scheduler().CancelAppointment(ctx, locationID, eventID); err != nil {
		return toolError("cancel appointment", err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Appointment %s cancelled", eventID)), nil
}
