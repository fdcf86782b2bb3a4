// Package timeslot turns a search window and a set of busy intervals into
// bookable appointment slots.
//
// All math happens in the window's timezone so business hours mean the
// same wall-clock times on either side of a DST transition. Busy intervals
// are half-open, matching what the calendar providers return.
package timeslot
