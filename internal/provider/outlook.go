package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// graphBaseURL is the Microsoft Graph v1.0 endpoint.
const graphBaseURL = "https://graph.microsoft.com/v1.0"

// graphTimeLayout is the dateTime format used by Graph calendar resources.
// Graph appends fractional seconds, which time.Parse accepts implicitly.
const graphTimeLayout = "2006-01-02T15:04:05"

// OutlookClient talks to the Microsoft Graph calendar API for a connected
// location. There is no official Graph SDK dependency; the three calendar
// endpoints are called directly over REST.
type OutlookClient struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	baseURL      string
}

// NewOutlookClient creates an Outlook/365 provider client.
func NewOutlookClient(clientID, clientSecret string) *OutlookClient {
	return &OutlookClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		baseURL:      graphBaseURL,
	}
}

// Kind returns the provider kind.
func (c *OutlookClient) Kind() Kind {
	return Outlook
}

// config returns the OAuth2 configuration for the Graph calendar scopes.
// The "common" tenant accepts both organizational and personal accounts.
func (c *OutlookClient) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     microsoft.AzureADEndpoint("common"),
		RedirectURL:  redirectURI,
		Scopes: []string{
			"https://graph.microsoft.com/Calendars.ReadWrite",
			"offline_access",
		},
	}
}

// AuthCodeURL builds the authorization URL. The offline_access scope makes
// the code exchange yield a refresh token.
func (c *OutlookClient) AuthCodeURL(state, redirectURI string) string {
	return c.config(redirectURI).AuthCodeURL(state)
}

// Exchange trades an authorization code for an initial token set.
func (c *OutlookClient) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	token, err := c.config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, c.oauthError("exchange", err)
	}
	return token, nil
}

// Refresh obtains a new access token for the given refresh token.
func (c *OutlookClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	source := c.config("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, c.oauthError("refresh", err)
	}
	return token, nil
}

// graphDateTime is the Graph representation of a zoned timestamp.
type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// graphEvent is the subset of the Graph event resource this client uses.
type graphEvent struct {
	ID        string          `json:"id,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	WebLink   string          `json:"webLink,omitempty"`
	ShowAs    string          `json:"showAs,omitempty"`
	Start     *graphDateTime  `json:"start,omitempty"`
	End       *graphDateTime  `json:"end,omitempty"`
	Body      *graphBody      `json:"body,omitempty"`
	Location  *graphLocation  `json:"location,omitempty"`
	Attendees []graphAttendee `json:"attendees,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphLocation struct {
	DisplayName string `json:"displayName"`
}

type graphAttendee struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
	Type         string            `json:"type"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
}

type graphEventList struct {
	Value []graphEvent `json:"value"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FreeBusy returns the busy intervals of the connected calendar within
// [start, end). The calendar view is read in UTC and events marked "free"
// are ignored.
func (c *OutlookClient) FreeBusy(ctx context.Context, accessToken string, start, end time.Time) ([]BusyInterval, error) {
	params := url.Values{}
	params.Set("startDateTime", start.UTC().Format(time.RFC3339))
	params.Set("endDateTime", end.UTC().Format(time.RFC3339))
	params.Set("$select", "start,end,showAs")
	params.Set("$top", "100")

	var list graphEventList
	if err := c.do(ctx, http.MethodGet, "/me/calendarView?"+params.Encode(), accessToken, nil, &list, "freebusy"); err != nil {
		return nil, err
	}

	var intervals []BusyInterval
	for _, ev := range list.Value {
		if ev.ShowAs == "free" || ev.Start == nil || ev.End == nil {
			continue
		}
		busyStart, err := time.ParseInLocation(graphTimeLayout, ev.Start.DateTime, time.UTC)
		if err != nil {
			continue
		}
		busyEnd, err := time.ParseInLocation(graphTimeLayout, ev.End.DateTime, time.UTC)
		if err != nil {
			continue
		}
		intervals = append(intervals, BusyInterval{Start: busyStart, End: busyEnd})
	}

	return intervals, nil
}

// CreateEvent creates an event on the connected calendar.
func (c *OutlookClient) CreateEvent(ctx context.Context, accessToken string, event Event) (*EventResult, error) {
	var created graphEvent
	if err := c.do(ctx, http.MethodPost, "/me/events", accessToken, toGraphEvent(event), &created, "create"); err != nil {
		return nil, err
	}
	return fromGraphEvent(created), nil
}

// UpdateEvent replaces the core fields of an existing event.
func (c *OutlookClient) UpdateEvent(ctx context.Context, accessToken, eventID string, event Event) (*EventResult, error) {
	var updated graphEvent
	path := "/me/events/" + url.PathEscape(eventID)
	if err := c.do(ctx, http.MethodPatch, path, accessToken, toGraphEvent(event), &updated, "update"); err != nil {
		return nil, err
	}
	return fromGraphEvent(updated), nil
}

// DeleteEvent removes an event from the connected calendar.
func (c *OutlookClient) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	path := "/me/events/" + url.PathEscape(eventID)
	return c.do(ctx, http.MethodDelete, path, accessToken, nil, nil, "delete")
}

// do executes a Graph request with bearer authentication and maps non-2xx
// responses to APIError.
func (c *OutlookClient) do(ctx context.Context, method, path, accessToken string, body, out any, op string) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("outlook %s: failed to encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("outlook %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if op == "freebusy" {
		// Normalize calendarView timestamps so parsing does not depend on
		// the mailbox's configured zone.
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("outlook %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := resp.Status
		var gerr graphError
		if err := json.NewDecoder(resp.Body).Decode(&gerr); err == nil && gerr.Error.Message != "" {
			message = gerr.Error.Message
		}
		return NewAPIError(Outlook, op, resp.StatusCode, message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("outlook %s: failed to decode response: %w", op, err)
		}
	}
	return nil
}

// toGraphEvent converts a provider-neutral event to the Graph wire format
func toGraphEvent(event Event) graphEvent {
	timeZone := event.TimeZone
	if timeZone == "" {
		timeZone = "UTC"
	}

	gev := graphEvent{
		Subject: event.Summary,
		Start: &graphDateTime{
			DateTime: event.Start.Format(graphTimeLayout),
			TimeZone: timeZone,
		},
		End: &graphDateTime{
			DateTime: event.End.Format(graphTimeLayout),
			TimeZone: timeZone,
		},
	}

	if event.Description != "" {
		gev.Body = &graphBody{ContentType: "text", Content: event.Description}
	}
	if event.Location != "" {
		gev.Location = &graphLocation{DisplayName: event.Location}
	}
	for _, email := range event.Attendees {
		gev.Attendees = append(gev.Attendees, graphAttendee{
			EmailAddress: graphEmailAddress{Address: email},
			Type:         "required",
		})
	}

	return gev
}

// fromGraphEvent converts a Graph event to a provider-neutral result
func fromGraphEvent(ev graphEvent) *EventResult {
	result := &EventResult{
		ID:   ev.ID,
		Link: ev.WebLink,
	}

	if ev.Start != nil {
		if loc, err := time.LoadLocation(ev.Start.TimeZone); err == nil {
			if t, err := time.ParseInLocation(graphTimeLayout, ev.Start.DateTime, loc); err == nil {
				result.Start = t
			}
		}
	}
	if ev.End != nil {
		if loc, err := time.LoadLocation(ev.End.TimeZone); err == nil {
			if t, err := time.ParseInLocation(graphTimeLayout, ev.End.DateTime, loc); err == nil {
				result.End = t
			}
		}
	}

	return result
}

// oauthError maps an OAuth endpoint failure to an APIError when the
// provider answered with an HTTP error, and wraps transport failures as-is.
func (c *OutlookClient) oauthError(op string, err error) error {
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
		return NewAPIError(Outlook, op, status, message)
	}
	return fmt.Errorf("outlook %s: %w", op, err)
}
