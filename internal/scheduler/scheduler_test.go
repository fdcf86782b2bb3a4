package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/oauth2"

	"github.com/terminly/terminly/internal/credentials"
	"github.com/terminly/terminly/internal/provider"
	"github.com/terminly/terminly/internal/timeslot"
)

// fakeProvider scripts provider API behavior per call. apiErrs entries
// are consumed one per API call; nil means success.
type fakeProvider struct {
	kind provider.Kind

	mu           sync.Mutex
	apiCalls     int
	apiErrs      []error
	refreshCalls int
	busy         []provider.BusyInterval
	result       *provider.EventResult
	lastEvent    *provider.Event
	lastToken    string
}

func (f *fakeProvider) Kind() provider.Kind                  { return f.kind }
func (f *fakeProvider) AuthCodeURL(state, uri string) string { return "" }

func (f *fakeProvider) Exchange(context.Context, string, string) (*oauth2.Token, error) {
	return nil, nil
}

func (f *fakeProvider) Refresh(context.Context, string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return &oauth2.Token{AccessToken: "access-refreshed", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) nextErr(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiCalls++
	f.lastToken = token
	if len(f.apiErrs) > 0 {
		var err error
		err, f.apiErrs = f.apiErrs[0], f.apiErrs[1:]
		return err
	}
	return nil
}

func (f *fakeProvider) FreeBusy(_ context.Context, token string, _, _ time.Time) ([]provider.BusyInterval, error) {
	if err := f.nextErr(token); err != nil {
		return nil, err
	}
	return f.busy, nil
}

func (f *fakeProvider) CreateEvent(_ context.Context, token string, event provider.Event) (*provider.EventResult, error) {
	if err := f.nextErr(token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastEvent = &event
	f.mu.Unlock()
	return f.result, nil
}

func (f *fakeProvider) UpdateEvent(_ context.Context, token, _ string, event provider.Event) (*provider.EventResult, error) {
	if err := f.nextErr(token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastEvent = &event
	f.mu.Unlock()
	return f.result, nil
}

func (f *fakeProvider) DeleteEvent(_ context.Context, token, _ string) error {
	return f.nextErr(token)
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiCalls
}

func (f *fakeProvider) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func newTestScheduler(t *testing.T, fake *fakeProvider) *Scheduler {
	t.Helper()

	store := credentials.NewMemoryStore()
	registry := provider.Registry{fake.kind: fake}
	tokens := credentials.NewManager(store, registry, nil, nil)

	err := tokens.StoreInitialToken(context.Background(), "loc-1", fake.kind, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	return New(tokens, registry, zurich, nil, nil)
}

func TestCheckAvailability(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	fake := &fakeProvider{
		kind: provider.Google,
		busy: []provider.BusyInterval{
			{
				Start: time.Date(2025, 12, 16, 10, 0, 0, 0, zurich),
				End:   time.Date(2025, 12, 16, 10, 30, 0, 0, zurich),
			},
		},
	}
	sched := newTestScheduler(t, fake)
	sched.now = func() time.Time { return time.Date(2025, 12, 15, 8, 0, 0, 0, zurich) }

	result, err := sched.CheckAvailability(context.Background(), AvailabilityInput{
		LocationID: "loc-1",
		TimeZone:   "Europe/Zurich",
		Window: timeslot.WindowInput{
			Start: "2025-12-16T09:00:00",
			End:   "2025-12-16T17:00:00",
		},
		SlotDuration: 30 * time.Minute,
		MaxResults:   20,
	})
	require.NoError(t, err)

	assert.Equal(t, provider.Google, result.Provider)
	assert.Equal(t, "Europe/Zurich", result.TimeZone)
	require.Len(t, result.Slots, 15)
	assert.Equal(t, "Di, 16.12 09:00–09:30", result.Slots[0].Label)
	// The 10:00 slot is blocked by the busy interval.
	assert.Equal(t, time.Date(2025, 12, 16, 10, 30, 0, 0, zurich), result.Slots[2].Start)
}

func TestCheckAvailabilityValidation(t *testing.T) {
	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	tests := []struct {
		name    string
		in      AvailabilityInput
		wantErr error
	}{
		{
			name:    "missing location",
			in:      AvailabilityInput{Window: timeslot.WindowInput{Start: "2025-12-16T09:00:00", End: "2025-12-16T17:00:00"}},
			wantErr: timeslot.ErrMissingInput,
		},
		{
			name:    "missing window",
			in:      AvailabilityInput{LocationID: "loc-1"},
			wantErr: timeslot.ErrMissingInput,
		},
		{
			name: "inverted window",
			in: AvailabilityInput{
				LocationID: "loc-1",
				Window:     timeslot.WindowInput{Start: "2025-12-16T17:00:00", End: "2025-12-16T09:00:00"},
			},
			wantErr: timeslot.ErrInvalidRange,
		},
		{
			name: "unknown timezone",
			in: AvailabilityInput{
				LocationID: "loc-1",
				TimeZone:   "Mars/Olympus",
				Window:     timeslot.WindowInput{Start: "2025-12-16T09:00:00", End: "2025-12-16T17:00:00"},
			},
			wantErr: timeslot.ErrInvalidRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sched.CheckAvailability(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}

	// Validation failures must never reach the provider.
	assert.Equal(t, 0, fake.calls())
}

func TestCheckAvailabilityNotConnected(t *testing.T) {
	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	_, err := sched.CheckAvailability(context.Background(), AvailabilityInput{
		LocationID: "loc-other",
		Window:     timeslot.WindowInput{Start: "2025-12-16T09:00:00", End: "2025-12-16T17:00:00"},
	})
	assert.ErrorIs(t, err, credentials.ErrNotConnected)
	assert.Equal(t, 0, fake.calls())
}

func TestAuthRetryAfterRejectedToken(t *testing.T) {
	fake := &fakeProvider{
		kind: provider.Google,
		apiErrs: []error{
			provider.NewAPIError(provider.Google, "freebusy", 401, "token expired"),
		},
	}
	sched := newTestScheduler(t, fake)

	result, err := sched.CheckAvailability(context.Background(), AvailabilityInput{
		LocationID: "loc-1",
		Window:     timeslot.WindowInput{Start: "2025-12-16T09:00:00", End: "2025-12-16T17:00:00"},
	})
	require.NoError(t, err)
	assert.NotNil(t, result)

	assert.Equal(t, 2, fake.calls(), "one original call, one retry")
	assert.Equal(t, 1, fake.refreshes(), "exactly one forced refresh")
	assert.Equal(t, "access-refreshed", fake.lastToken)
}

func TestAuthRetryGivesUpAfterSecond401(t *testing.T) {
	fake := &fakeProvider{
		kind: provider.Google,
		apiErrs: []error{
			provider.NewAPIError(provider.Google, "freebusy", 401, "token expired"),
			provider.NewAPIError(provider.Google, "freebusy", 401, "token expired"),
		},
	}
	sched := newTestScheduler(t, fake)

	_, err := sched.CheckAvailability(context.Background(), AvailabilityInput{
		LocationID: "loc-1",
		Window:     timeslot.WindowInput{Start: "2025-12-16T09:00:00", End: "2025-12-16T17:00:00"},
	})
	assert.ErrorIs(t, err, credentials.ErrReauthRequired)
	assert.Equal(t, 2, fake.calls())
	assert.Equal(t, 1, fake.refreshes(), "no second refresh after the retry also fails")
}

func TestNonAuthProviderErrorIsNotRetried(t *testing.T) {
	fake := &fakeProvider{
		kind: provider.Google,
		apiErrs: []error{
			provider.NewAPIError(provider.Google, "freebusy", 503, "backend unavailable"),
		},
	}
	sched := newTestScheduler(t, fake)

	_, err := sched.CheckAvailability(context.Background(), AvailabilityInput{
		LocationID: "loc-1",
		Window:     timeslot.WindowInput{Start: "2025-12-16T09:00:00", End: "2025-12-16T17:00:00"},
	})
	require.Error(t, err)

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.Equal(t, 1, fake.calls())
	assert.Equal(t, 0, fake.refreshes())
}

func TestCreateAppointment(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	fake := &fakeProvider{
		kind: provider.Google,
		result: &provider.EventResult{
			ID:    "evt-1",
			Link:  "https://calendar.google.com/event?eid=evt-1",
			Start: time.Date(2025, 12, 16, 10, 0, 0, 0, zurich),
			End:   time.Date(2025, 12, 16, 10, 30, 0, 0, zurich),
		},
	}
	sched := newTestScheduler(t, fake)

	appt, err := sched.CreateAppointment(context.Background(), AppointmentInput{
		LocationID: "loc-1",
		Title:      "Beratungstermin",
		Start:      "2025-12-16T10:00:00",
		End:        "2025-12-16T10:30:00",
		TimeZone:   "Europe/Zurich",
		Attendees:  []string{"kunde@example.ch"},
	})
	require.NoError(t, err)

	assert.Equal(t, "evt-1", appt.ID)
	assert.Equal(t, "Europe/Zurich", appt.TimeZone)
	assert.Equal(t, "Di, 16.12 10:00–10:30", appt.Label)

	require.NotNil(t, fake.lastEvent)
	assert.Equal(t, "Beratungstermin", fake.lastEvent.Summary)
	assert.Equal(t, time.Date(2025, 12, 16, 10, 0, 0, 0, zurich).Unix(), fake.lastEvent.Start.Unix())
}

func TestCreateAppointmentValidation(t *testing.T) {
	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	tests := []struct {
		name    string
		in      AppointmentInput
		wantErr error
	}{
		{
			name:    "missing title",
			in:      AppointmentInput{LocationID: "loc-1", Start: "2025-12-16T10:00:00", End: "2025-12-16T10:30:00"},
			wantErr: timeslot.ErrMissingInput,
		},
		{
			name:    "missing times",
			in:      AppointmentInput{LocationID: "loc-1", Title: "Termin"},
			wantErr: timeslot.ErrMissingInput,
		},
		{
			name:    "end before start",
			in:      AppointmentInput{LocationID: "loc-1", Title: "Termin", Start: "2025-12-16T10:30:00", End: "2025-12-16T10:00:00"},
			wantErr: timeslot.ErrInvalidRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sched.CreateAppointment(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 0, fake.calls(), "invalid input must never reach the provider")
}

func TestCreateAppointmentEchoesRequestedTimes(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	// The provider answers with times shifted by an hour, as a client
	// mishandling zones would. The result must still carry the requested
	// window.
	fake := &fakeProvider{
		kind: provider.Google,
		result: &provider.EventResult{
			ID:    "evt-1",
			Start: time.Date(2025, 12, 16, 11, 0, 0, 0, zurich),
			End:   time.Date(2025, 12, 16, 11, 30, 0, 0, zurich),
		},
	}
	sched := newTestScheduler(t, fake)

	appt, err := sched.CreateAppointment(context.Background(), AppointmentInput{
		LocationID: "loc-1",
		Title:      "Beratungstermin",
		Start:      "2025-12-16T10:00:00",
		End:        "2025-12-16T10:30:00",
		TimeZone:   "Europe/Zurich",
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 12, 16, 10, 0, 0, 0, zurich).Unix(), appt.Start.Unix())
	assert.Equal(t, time.Date(2025, 12, 16, 10, 30, 0, 0, zurich).Unix(), appt.End.Unix())
	assert.Equal(t, "Di, 16.12 10:00–10:30", appt.Label)
}

func TestUpdateAppointmentRequiresEventID(t *testing.T) {
	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	_, err := sched.UpdateAppointment(context.Background(), AppointmentInput{
		LocationID: "loc-1",
		Title:      "Termin",
		Start:      "2025-12-16T10:00:00",
		End:        "2025-12-16T10:30:00",
	})
	assert.ErrorIs(t, err, timeslot.ErrMissingInput)
	assert.Equal(t, 0, fake.calls())
}

func TestUpdateAppointmentRequiresFullFields(t *testing.T) {
	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	// Updates replace every core field, so a missing title must be
	// rejected before it can blank the event on a full-replace provider.
	_, err := sched.UpdateAppointment(context.Background(), AppointmentInput{
		LocationID: "loc-1",
		EventID:    "evt-1",
		Start:      "2025-12-16T10:00:00",
		End:        "2025-12-16T10:30:00",
	})
	assert.ErrorIs(t, err, timeslot.ErrMissingInput)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, 0, fake.calls())
}

func TestProviderCallsEmitSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	require.NoError(t, sched.CancelAppointment(context.Background(), "loc-1", "evt-1"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "calendar.google.delete_event", spans[0].Name())
}

func TestCancelAppointment(t *testing.T) {
	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	require.NoError(t, sched.CancelAppointment(context.Background(), "loc-1", "evt-1"))
	assert.Equal(t, 1, fake.calls())

	err := sched.CancelAppointment(context.Background(), "loc-1", "")
	assert.ErrorIs(t, err, timeslot.ErrMissingInput)
}

func TestStatus(t *testing.T) {
	fake := &fakeProvider{kind: provider.Google}
	sched := newTestScheduler(t, fake)

	status, err := sched.Status(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.Equal(t, []provider.Kind{provider.Google}, status.Connected)
	assert.Equal(t, provider.Google, status.Active)

	status, err = sched.Status(context.Background(), "loc-unknown")
	require.NoError(t, err)
	assert.Empty(t, status.Connected)
}
