package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// primaryCalendar is the calendar ID of the connected account's own calendar.
const primaryCalendar = "primary"

// GoogleClient talks to the Google Calendar API for a connected location.
type GoogleClient struct {
	clientID     string
	clientSecret string
}

// NewGoogleClient creates a Google Calendar provider client.
func NewGoogleClient(clientID, clientSecret string) *GoogleClient {
	return &GoogleClient{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Kind returns the provider kind.
func (c *GoogleClient) Kind() Kind {
	return Google
}

// config returns the OAuth2 configuration for the Google Calendar scopes
func (c *GoogleClient) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     googleoauth.Endpoint,
		RedirectURL:  redirectURI,
		Scopes: []string{
			calendar.CalendarReadonlyScope, // free/busy queries
			calendar.CalendarEventsScope,   // event create/update/delete
		},
	}
}

// AuthCodeURL builds the authorization URL. AccessTypeOffline plus
// ApprovalForce makes Google return a refresh token on every consent,
// not only the first one.
func (c *GoogleClient) AuthCodeURL(state, redirectURI string) string {
	conf := c.config(redirectURI)
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for an initial token set.
func (c *GoogleClient) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	token, err := c.config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, c.oauthError("exchange", err)
	}
	return token, nil
}

// Refresh obtains a new access token for the given refresh token.
func (c *GoogleClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	source := c.config("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, c.oauthError("refresh", err)
	}
	return token, nil
}

// service creates a Calendar service bound to the given access token.
// The token is used as-is; refresh is the credential manager's job.
func (c *GoogleClient) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// FreeBusy returns the busy intervals of the primary calendar within [start, end).
func (c *GoogleClient) FreeBusy(ctx context.Context, accessToken string, start, end time.Time) ([]BusyInterval, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	query := &calendar.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: primaryCalendar}},
	}

	result, err := svc.Freebusy.Query(query).Context(ctx).Do()
	if err != nil {
		return nil, c.apiError("freebusy", err)
	}

	var intervals []BusyInterval
	if cal, ok := result.Calendars[primaryCalendar]; ok {
		for _, busy := range cal.Busy {
			busyStart, err := time.Parse(time.RFC3339, busy.Start)
			if err != nil {
				continue
			}
			busyEnd, err := time.Parse(time.RFC3339, busy.End)
			if err != nil {
				continue
			}
			intervals = append(intervals, BusyInterval{Start: busyStart, End: busyEnd})
		}
	}

	return intervals, nil
}

// CreateEvent creates an event on the primary calendar.
func (c *GoogleClient) CreateEvent(ctx context.Context, accessToken string, event Event) (*EventResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	created, err := svc.Events.Insert(primaryCalendar, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return nil, c.apiError("create", err)
	}

	return toEventResult(created), nil
}

// UpdateEvent replaces the core fields of an existing event.
func (c *GoogleClient) UpdateEvent(ctx context.Context, accessToken, eventID string, event Event) (*EventResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	updated, err := svc.Events.Update(primaryCalendar, eventID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return nil, c.apiError("update", err)
	}

	return toEventResult(updated), nil
}

// DeleteEvent removes an event from the primary calendar.
func (c *GoogleClient) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do(); err != nil {
		return c.apiError("delete", err)
	}
	return nil
}

// toGoogleEvent converts a provider-neutral event to the Calendar wire format
func toGoogleEvent(event Event) *calendar.Event {
	timeZone := event.TimeZone
	if timeZone == "" {
		timeZone = "UTC"
	}

	gev := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.Format(time.RFC3339),
			TimeZone: timeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.Format(time.RFC3339),
			TimeZone: timeZone,
		},
	}

	if len(event.Attendees) > 0 {
		var attendees []*calendar.EventAttendee
		for _, email := range event.Attendees {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
		gev.Attendees = attendees
	}

	return gev
}

// toEventResult converts a Calendar event to a provider-neutral result
func toEventResult(event *calendar.Event) *EventResult {
	result := &EventResult{
		ID:   event.Id,
		Link: event.HtmlLink,
	}

	if event.Start != nil && event.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, event.Start.DateTime); err == nil {
			result.Start = t
		}
	}
	if event.End != nil && event.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, event.End.DateTime); err == nil {
			result.End = t
		}
	}

	return result
}

// apiError maps a Calendar API failure to an APIError, preserving the
// HTTP status so callers can detect expired credentials.
func (c *GoogleClient) apiError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return NewAPIError(Google, op, gerr.Code, gerr.Message)
	}
	return fmt.Errorf("google %s: %w", op, err)
}

// oauthError maps an OAuth endpoint failure to an APIError when the
// provider answered with an HTTP error, and wraps transport failures as-is.
func (c *GoogleClient) oauthError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		message := rerr.ErrorCode
		if rerr.ErrorDescription != "" {
			message += ": " + rerr.ErrorDescription
		}
		if message == "" {
			message = string(rerr.Body)
		}
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return NewAPIError(Google, op, status, message)
	}
	return fmt.Errorf("google %s: %w", op, err)
}
