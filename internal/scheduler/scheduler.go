package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/terminly/terminly/internal/credentials"
	"github.com/terminly/terminly/internal/instrumentation"
	"github.com/terminly/terminly/internal/logging"
	"github.com/terminly/terminly/internal/provider"
	"github.com/terminly/terminly/internal/timeslot"
)

// Scheduler orchestrates booking operations across whichever calendar
// provider a location is connected to. All input validation happens
// before the first provider call so bad requests never cost API quota.
type Scheduler struct {
	tokens    *credentials.Manager
	providers provider.Registry
	defaultTZ *time.Location
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	now       func() time.Time
}

// New creates a Scheduler. defaultTZ is used when a request carries no
// timezone; if nil, UTC. metrics may be nil.
func New(tokens *credentials.Manager, providers provider.Registry, defaultTZ *time.Location, logger *slog.Logger, metrics *instrumentation.Metrics) *Scheduler {
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tokens:    tokens,
		providers: providers,
		defaultTZ: defaultTZ,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// CheckAvailability resolves the search window, fetches busy intervals
// from the connected provider, and generates free slots.
func (s *Scheduler) CheckAvailability(ctx context.Context, in AvailabilityInput) (*Availability, error) {
	if in.LocationID == "" {
		return nil, fmt.Errorf("%w: locationId", timeslot.ErrMissingInput)
	}

	tz, tzName, err := s.resolveTimezone(in.TimeZone)
	if err != nil {
		return nil, err
	}
	window, err := timeslot.ResolveWindow(in.Window, tz)
	if err != nil {
		return nil, err
	}

	kind, client, err := s.connectedClient(ctx, in.LocationID)
	if err != nil {
		return nil, err
	}

	var busy []provider.BusyInterval
	err = s.withAuthRetry(ctx, in.LocationID, kind, instrumentation.OperationFreeBusy, func(token string) error {
		var ferr error
		busy, ferr = client.FreeBusy(ctx, token, window.Start, window.End)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	intervals := make([]timeslot.Busy, len(busy))
	for i, b := range busy {
		intervals[i] = timeslot.Busy{Start: b.Start, End: b.End}
	}

	// One time sample for the whole walk so minNotice is consistent
	// across all candidates.
	slots := timeslot.GenerateSlots(window, intervals, in.SlotDuration, in.MinNotice, in.MaxResults, s.now())

	if s.metrics != nil {
		s.metrics.RecordSlotsReturned(ctx, string(kind), len(slots))
	}
	s.logger.Debug("availability computed",
		logging.Location(in.LocationID),
		logging.Provider(string(kind)),
		slog.Int("busy_intervals", len(intervals)),
		slog.Int("slots", len(slots)))

	return &Availability{Provider: kind, TimeZone: tzName, Slots: slots}, nil
}

// CreateAppointment validates the input and creates the event on the
// connected provider's calendar.
func (s *Scheduler) CreateAppointment(ctx context.Context, in AppointmentInput) (*Appointment, error) {
	event, tzName, err := s.buildEvent(in)
	if err != nil {
		return nil, err
	}

	kind, client, err := s.connectedClient(ctx, in.LocationID)
	if err != nil {
		return nil, err
	}

	var result *provider.EventResult
	err = s.withAuthRetry(ctx, in.LocationID, kind, instrumentation.OperationCreateEvent, func(token string) error {
		var cerr error
		result, cerr = client.CreateEvent(ctx, token, *event)
		return cerr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment created",
		logging.Location(in.LocationID),
		logging.Provider(string(kind)))
	return s.toAppointment(kind, result, event, tzName), nil
}

// UpdateAppointment replaces the core fields of an existing event.
func (s *Scheduler) UpdateAppointment(ctx context.Context, in AppointmentInput) (*Appointment, error) {
	if in.EventID == "" {
		return nil, fmt.Errorf("%w: eventId", timeslot.ErrMissingInput)
	}
	event, tzName, err := s.buildEvent(in)
	if err != nil {
		return nil, err
	}

	kind, client, err := s.connectedClient(ctx, in.LocationID)
	if err != nil {
		return nil, err
	}

	var result *provider.EventResult
	err = s.withAuthRetry(ctx, in.LocationID, kind, instrumentation.OperationUpdateEvent, func(token string) error {
		var uerr error
		result, uerr = client.UpdateEvent(ctx, token, in.EventID, *event)
		return uerr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment updated",
		logging.Location(in.LocationID),
		logging.Provider(string(kind)))
	return s.toAppointment(kind, result, event, tzName), nil
}

// CancelAppointment deletes an event from the connected calendar.
func (s *Scheduler) CancelAppointment(ctx context.Context, locationID, eventID string) error {
	if locationID == "" {
		return fmt.Errorf("%w: locationId", timeslot.ErrMissingInput)
	}
	if eventID == "" {
		return fmt.Errorf("%w: eventId", timeslot.ErrMissingInput)
	}

	kind, client, err := s.connectedClient(ctx, locationID)
	if err != nil {
		return err
	}

	err = s.withAuthRetry(ctx, locationID, kind, instrumentation.OperationDeleteEvent, func(token string) error {
		return client.DeleteEvent(ctx, token, eventID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("appointment cancelled",
		logging.Location(locationID),
		logging.Provider(string(kind)))
	return nil
}

// Status reports the location's calendar connections.
func (s *Scheduler) Status(ctx context.Context, locationID string) (*ConnectionStatus, error) {
	if locationID == "" {
		return nil, fmt.Errorf("%w: locationId", timeslot.ErrMissingInput)
	}

	connected, err := s.tokens.Connections(ctx, locationID)
	if err != nil {
		return nil, err
	}

	status := &ConnectionStatus{LocationID: locationID, Connected: connected}
	if len(connected) > 0 {
		status.Active = connected[0]
	}
	return status, nil
}

// resolveTimezone loads the requested timezone, falling back to the
// scheduler default. The returned name is what gets echoed in results.
func (s *Scheduler) resolveTimezone(name string) (*time.Location, string, error) {
	if name == "" {
		return s.defaultTZ, s.defaultTZ.String(), nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: unknown timezone %q", timeslot.ErrInvalidRange, name)
	}
	return tz, name, nil
}

// buildEvent validates appointment input and assembles the provider event.
// Create and update share the full validation: updates replace every core
// field, so a partial input would silently blank the rest on providers
// whose update is a full replace.
func (s *Scheduler) buildEvent(in AppointmentInput) (*provider.Event, string, error) {
	if in.LocationID == "" {
		return nil, "", fmt.Errorf("%w: locationId", timeslot.ErrMissingInput)
	}
	if in.Title == "" {
		return nil, "", fmt.Errorf("%w: title", timeslot.ErrMissingInput)
	}
	if in.Start == "" || in.End == "" {
		return nil, "", fmt.Errorf("%w: start and end", timeslot.ErrMissingInput)
	}

	tz, tzName, err := s.resolveTimezone(in.TimeZone)
	if err != nil {
		return nil, "", err
	}

	window, err := timeslot.ResolveWindow(timeslot.WindowInput{Start: in.Start, End: in.End}, tz)
	if err != nil {
		return nil, "", err
	}

	return &provider.Event{
		Summary:     in.Title,
		Description: in.Description,
		Location:    in.Location,
		Start:       window.Start,
		End:         window.End,
		TimeZone:    tzName,
		Attendees:   in.Attendees,
	}, tzName, nil
}

func (s *Scheduler) connectedClient(ctx context.Context, locationID string) (provider.Kind, provider.Client, error) {
	kind, err := s.tokens.ConnectedProvider(ctx, locationID)
	if err != nil {
		return "", nil, err
	}
	client, err := s.providers.Get(kind)
	if err != nil {
		return "", nil, err
	}
	return kind, client, nil
}

// withAuthRetry runs a provider call with a valid access token. A 401
// from the provider triggers exactly one forced token refresh and one
// retry; a second 401 means the stored grant is dead.
func (s *Scheduler) withAuthRetry(ctx context.Context, locationID string, kind provider.Kind, op string, call func(token string) error) error {
	token, err := s.tokens.GetValidAccessToken(ctx, locationID, kind)
	if err != nil {
		return err
	}

	err = s.timedCall(ctx, kind, op, token, call)
	if err == nil || !provider.IsAuthError(err) {
		return err
	}

	s.logger.Debug("provider rejected access token, forcing refresh",
		logging.Location(locationID),
		logging.Provider(string(kind)),
		logging.Operation(op))

	token, err = s.tokens.ForceRefresh(ctx, locationID, kind)
	if err != nil {
		return err
	}

	err = s.timedCall(ctx, kind, op, token, call)
	if provider.IsAuthError(err) {
		return fmt.Errorf("%w: provider rejected a freshly refreshed token: %v",
			credentials.ErrReauthRequired, err)
	}
	return err
}

// timedCall runs one provider API call inside a client span and records
// its duration metric.
func (s *Scheduler) timedCall(ctx context.Context, kind provider.Kind, op, token string, call func(token string) error) error {
	ctx, span := instrumentation.StartProviderAPISpan(ctx, string(kind), op)
	defer span.End()

	start := time.Now()
	err := call(token)
	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	if s.metrics != nil {
		status := logging.StatusSuccess
		if err != nil {
			status = logging.StatusError
		}
		s.metrics.RecordProviderAPIOperation(ctx, string(kind), op, status, time.Since(start))
	}
	return err
}

// toAppointment builds the caller-facing result. Start and end echo the
// validated input window, never the provider's reply: a provider answering
// in a different zone must not leak a shifted time back to the caller.
func (s *Scheduler) toAppointment(kind provider.Kind, result *provider.EventResult, event *provider.Event, tzName string) *Appointment {
	return &Appointment{
		Provider: kind,
		ID:       result.ID,
		Link:     result.Link,
		Start:    event.Start,
		End:      event.End,
		TimeZone: tzName,
		Label:    timeslot.FormatLabel(event.Start, event.End),
	}
}

// IsValidationError reports whether err stems from bad input rather than
// provider or connection state.
func IsValidationError(err error) bool {
	return errors.Is(err, timeslot.ErrMissingInput) || errors.Is(err, timeslot.ErrInvalidRange)
}
