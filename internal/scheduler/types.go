package scheduler

import (
	"time"

	"github.com/terminly/terminly/internal/provider"
	"github.com/terminly/terminly/internal/timeslot"
)

// AvailabilityInput describes a free-slot query as it arrives from a tool
// call. Zero values fall back to the scheduler's defaults.
type AvailabilityInput struct {
	LocationID   string
	Window       timeslot.WindowInput
	TimeZone     string
	SlotDuration time.Duration
	MinNotice    time.Duration
	MaxResults   int
}

// Availability is the result of a free-slot query. TimeZone echoes the
// timezone the query was resolved in, so callers can render slot times
// without guessing.
type Availability struct {
	Provider provider.Kind
	TimeZone string
	Slots    []timeslot.Slot
}

// AppointmentInput carries the fields for creating or updating an
// appointment. EventID is only set for updates.
type AppointmentInput struct {
	LocationID  string
	EventID     string
	Title       string
	Description string
	Location    string
	Start       string
	End         string
	TimeZone    string
	Attendees   []string
}

// Appointment is a created or updated calendar event as reported back by
// the provider, which is the system of record for event state.
type Appointment struct {
	Provider provider.Kind
	ID       string
	Link     string
	Start    time.Time
	End      time.Time
	TimeZone string
	Label    string
}

// ConnectionStatus reports which providers a location is connected to.
type ConnectionStatus struct {
	LocationID string
	Connected  []provider.Kind
	Active     provider.Kind
}
