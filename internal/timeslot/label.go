package timeslot

import (
	"fmt"
	"time"
)

// German weekday abbreviations, indexed by time.Weekday (Sunday first).
var weekdayAbbrev = [7]string{"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"}

// FormatLabel renders a slot in the short de-CH form shown to end users,
// e.g. "Di, 16.12 10:00–10:30". Both times are rendered in the start
// time's location.
func FormatLabel(start, end time.Time) string {
	end = end.In(start.Location())
	return fmt.Sprintf("%s, %02d.%02d %s–%s",
		weekdayAbbrev[start.Weekday()],
		start.Day(), int(start.Month()),
		start.Format("15:04"), end.Format("15:04"))
}
