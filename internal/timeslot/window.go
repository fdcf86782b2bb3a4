package timeslot

import (
	"errors"
	"fmt"
	"time"
)

// Input validation failure modes.
var (
	ErrMissingInput = errors.New("missing required input")
	ErrInvalidRange = errors.New("invalid time range")
)

// Window is a resolved, timezone-aware search range. Start is strictly
// before End and both carry the window's location.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// HourRange is a daily business-hours span in "HH:MM" wall-clock notation.
type HourRange struct {
	From string
	To   string
}

// WindowInput is the raw, unvalidated form of a search window as it
// arrives from a tool call. Either Start and End are set, or Date is set
// together with BusinessHours.
type WindowInput struct {
	Start         string
	End           string
	Date          string
	BusinessHours *HourRange
}

const dateLayout = "2006-01-02"

// ResolveWindow validates and resolves a raw window input in the given
// timezone. Offset-less timestamps are interpreted as wall-clock time in
// tz; timestamps with an explicit offset keep it but are converted to tz
// so downstream slot math works in a single location.
func ResolveWindow(in WindowInput, tz *time.Location) (Window, error) {
	if tz == nil {
		tz = time.UTC
	}

	switch {
	case in.Start != "" && in.End != "":
		start, err := parseInLocation(in.Start, tz)
		if err != nil {
			return Window{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
		}
		end, err := parseInLocation(in.End, tz)
		if err != nil {
			return Window{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
		}
		return newWindow(start, end, tz)

	case in.Date != "":
		if in.BusinessHours == nil {
			return Window{}, fmt.Errorf("%w: businessHours is required with date", ErrMissingInput)
		}
		day, err := time.ParseInLocation(dateLayout, in.Date, tz)
		if err != nil {
			return Window{}, fmt.Errorf("%w: date: %v", ErrInvalidRange, err)
		}
		start, err := atWallClock(day, in.BusinessHours.From, tz)
		if err != nil {
			return Window{}, fmt.Errorf("%w: businessHours.from: %v", ErrInvalidRange, err)
		}
		end, err := atWallClock(day, in.BusinessHours.To, tz)
		if err != nil {
			return Window{}, fmt.Errorf("%w: businessHours.to: %v", ErrInvalidRange, err)
		}
		return newWindow(start, end, tz)

	default:
		return Window{}, fmt.Errorf("%w: either start and end or date must be set", ErrMissingInput)
	}
}

func newWindow(start, end time.Time, tz *time.Location) (Window, error) {
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Window{Start: start.In(tz), End: end.In(tz), Location: tz}, nil
}

// parseInLocation accepts RFC 3339 timestamps with or without an offset.
// Offset-less values are wall-clock time in loc.
func parseInLocation(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", value, loc)
}

// atWallClock places an "HH:MM" wall-clock time onto the given day.
func atWallClock(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc), nil
}
