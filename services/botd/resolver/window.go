package resolver

import (
	"fmt"
	"time"
)

// SecondsPerDay is the width of a due window.
const SecondsPerDay = 86400

// Window is the half-open interval [Start, End) of unix seconds in which a
// request's next action must fall to be executed by this run.
type Window struct {
	Start uint64
	End   uint64
}

// DayWindow returns the UTC calendar day containing now.
func DayWindow(now time.Time) Window {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	start := uint64(midnight.Unix())
	return Window{Start: start, End: start + SecondsPerDay}
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts uint64) bool {
	return ts >= w.Start && ts < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)",
		time.Unix(int64(w.Start), 0).UTC().Format(time.RFC3339),
		time.Unix(int64(w.End), 0).UTC().Format(time.RFC3339))
}
