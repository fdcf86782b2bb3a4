// Package provider defines the calendar-provider port and its two
// implementations, Google Calendar and Microsoft Outlook/365.
//
// A Client covers the full provider surface the booking core needs: the
// OAuth authorization URL, the code exchange, token refresh, free/busy
// queries, and event create/update/delete. The Google implementation uses
// the official Calendar API client; the Outlook implementation calls
// Microsoft Graph directly over REST.
//
// Provider API failures are reported as *APIError carrying the HTTP status,
// so callers can tell an expired access token (401) apart from other
// upstream failures.
package provider
