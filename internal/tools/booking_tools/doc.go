// Package booking_tools provides MCP tools for calendar booking operations.
// It exposes availability checks, appointment lifecycle management, and
// connection status for locations with a connected Google or Outlook calendar.
package booking_tools
