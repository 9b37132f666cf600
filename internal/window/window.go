// Package window resolves the calendar range a sync run queries.
package window

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Window is a range of civil dates, each held as midnight UTC of that date.
// End is "today" and inclusive for query purposes.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of days between Start and End
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// IsEmpty reports whether the window spans no day
func (w Window) IsEmpty() bool {
	return !w.Start.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s -> %s", w.Start.Format(dateLayout), w.End.Format(dateLayout))
}

// Resolver computes the window for a run
type Resolver struct {
	location              *time.Location
	firstRunLookbackDays  int
	recurringLookbackDays int
}

// NewResolver creates a resolver. Today is taken in loc, the meter's civil time zone.
func NewResolver(loc *time.Location, firstRunLookbackDays, recurringLookbackDays int) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		location:              loc,
		firstRunLookbackDays:  firstRunLookbackDays,
		recurringLookbackDays: recurringLookbackDays,
	}
}

// Resolve returns [today - lookback, today]. The first run uses the long lookback.
func (r *Resolver) Resolve(now time.Time, firstRun bool) Window {
	today := Today(now, r.location)
	lookback := r.recurringLookbackDays
	if firstRun {
		lookback = r.firstRunLookbackDays
	}
	return Window{
		Start: today.AddDate(0, 0, -lookback),
		End:   today,
	}
}

// Today returns midnight UTC of the civil date of now in loc
func Today(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Split partitions w into consecutive sub-windows of at most days days.
// The last sub-window is clipped to w.End.
func Split(w Window, days int) []Window {
	if days <= 0 || w.IsEmpty() {
		return nil
	}

	var out []Window
	for start := w.Start; start.Before(w.End); start = start.AddDate(0, 0, days) {
		end := start.AddDate(0, 0, days)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out
}

// FormatDate renders a window bound the way providers expect it
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
