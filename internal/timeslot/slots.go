package timeslot

import (
	"sort"
	"time"
)

// Busy is a half-open interval [Start, End) during which no slot may be
// offered. A slot that merely touches a busy boundary does not conflict.
type Busy struct {
	Start time.Time
	End   time.Time
}

// Slot is a bookable candidate inside a search window.
type Slot struct {
	Start time.Time
	End   time.Time
	Label string
}

// Defaults applied by callers when a tool request leaves them unset.
const (
	DefaultSlotDuration = 30 * time.Minute
	DefaultMaxResults   = 10
	MaxResultsCap       = 50
)

// GenerateSlots walks the window from its effective start in slotDuration
// steps and returns every candidate that fits inside the window and does
// not overlap a busy interval, up to maxResults. The effective start is
// the later of the window start and now+minNotice. A window too short for
// a single slot yields an empty, non-nil result.
func GenerateSlots(w Window, busy []Busy, slotDuration, minNotice time.Duration, maxResults int, now time.Time) []Slot {
	if slotDuration <= 0 {
		slotDuration = DefaultSlotDuration
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsCap {
		maxResults = MaxResultsCap
	}

	sorted := make([]Busy, len(busy))
	copy(sorted, busy)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	cursor := w.Start
	if earliest := now.Add(minNotice); earliest.After(cursor) {
		cursor = earliest
	}
	cursor = cursor.In(w.Location)

	slots := make([]Slot, 0, maxResults)
	for len(slots) < maxResults {
		end := cursor.Add(slotDuration)
		if end.After(w.End) {
			break
		}
		if !overlapsAny(cursor, end, sorted) {
			slots = append(slots, Slot{
				Start: cursor,
				End:   end,
				Label: FormatLabel(cursor, end),
			})
		}
		cursor = end
	}
	return slots
}

// overlapsAny reports whether [start, end) intersects any busy interval.
// Intervals are half-open, so a candidate ending exactly when a busy
// block begins (or starting when one ends) is free.
func overlapsAny(start, end time.Time, busy []Busy) bool {
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}
