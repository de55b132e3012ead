package domain

import (
	"fmt"
	"time"
)

// DayLayout is the calendar-day key format used for daily breakdowns
const DayLayout = "2006-01-02"

// Window is an inclusive range of campaign days. Start is midnight of the
// first day and End is midnight after the last day, so the instant range is
// half-open: [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window from inclusive first/last day strings
// (YYYY-MM-DD) interpreted in loc.
func NewWindow(firstDay, lastDay string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DayLayout, firstDay, loc)
	if err != nil {
		return Window{}, fmt.Errorf("parsing window start %q: %w", firstDay, err)
	}
	last, err := time.ParseInLocation(DayLayout, lastDay, loc)
	if err != nil {
		return Window{}, fmt.Errorf("parsing window end %q: %w", lastDay, err)
	}
	if last.Before(start) {
		return Window{}, fmt.Errorf("window end %s is before start %s", lastDay, firstDay)
	}
	return Window{Start: start, End: last.AddDate(0, 0, 1)}, nil
}

// Contains reports whether t falls within the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// FirstDay returns the first campaign day as YYYY-MM-DD
func (w Window) FirstDay() string {
	return w.Start.Format(DayLayout)
}

// LastDay returns the last campaign day as YYYY-MM-DD
func (w Window) LastDay() string {
	return w.End.AddDate(0, 0, -1).Format(DayLayout)
}

// Location returns the time zone the window was built in
func (w Window) Location() *time.Location {
	return w.Start.Location()
}

// DayKey returns the calendar day of t in the window's time zone
func (w Window) DayKey(t time.Time) string {
	return t.In(w.Location()).Format(DayLayout)
}

// String implements fmt.Stringer
func (w Window) String() string {
	return w.FirstDay() + ".." + w.LastDay()
}
