package window_test

import (
	"testing"
	"time"

	"github.com/septivank/energy-sync-worker/internal/window"
)

func TestResolve_FirstRun(t *testing.T) {
	r := window.NewResolver(time.UTC, 365, 7)
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	w := r.Resolve(now, true)

	today := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !w.End.Equal(today) {
		t.Errorf("Expected end %v, got %v", today, w.End)
	}
	if want := today.AddDate(0, 0, -365); !w.Start.Equal(want) {
		t.Errorf("Expected start %v, got %v", want, w.Start)
	}
}

func TestResolve_RecurringRun(t *testing.T) {
	r := window.NewResolver(time.UTC, 365, 7)
	now := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)

	w := r.Resolve(now, false)

	if w.String() != "2024-03-08 -> 2024-03-15" {
		t.Errorf("Unexpected window %s", w)
	}
	if w.Days() != 7 {
		t.Errorf("Expected 7 days, got %d", w.Days())
	}
}

func TestResolve_TodayIsTakenInMeterLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	r := window.NewResolver(paris, 365, 7)

	// 23:30 UTC on the 15th is already the 16th in Paris
	now := time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)
	w := r.Resolve(now, false)

	if want := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC); !w.End.Equal(want) {
		t.Errorf("Expected end %v, got %v", want, w.End)
	}
}

func TestSplit_TwentyDays(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := window.Window{Start: start, End: start.AddDate(0, 0, 20)}

	parts := window.Split(w, 7)

	if len(parts) != 3 {
		t.Fatalf("Expected 3 sub-windows, got %d", len(parts))
	}
	if !parts[0].Start.Equal(start) || !parts[0].End.Equal(start.AddDate(0, 0, 7)) {
		t.Errorf("Unexpected first sub-window %s", parts[0])
	}
	if !parts[1].Start.Equal(parts[0].End) {
		t.Errorf("Sub-windows are not contiguous: %s then %s", parts[0], parts[1])
	}
	if !parts[2].End.Equal(w.End) {
		t.Errorf("Expected last sub-window clipped to %v, got %v", w.End, parts[2].End)
	}
	if parts[2].Days() != 6 {
		t.Errorf("Expected last sub-window of 6 days, got %d", parts[2].Days())
	}
}

func TestSplit_ExactMultiple(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := window.Window{Start: start, End: start.AddDate(0, 0, 14)}

	if parts := window.Split(w, 7); len(parts) != 2 {
		t.Errorf("Expected 2 sub-windows, got %d", len(parts))
	}
}

func TestSplit_EmptyWindow(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if parts := window.Split(window.Window{Start: day, End: day}, 7); len(parts) != 0 {
		t.Errorf("Expected no sub-windows, got %d", len(parts))
	}
	if parts := window.Split(window.Window{Start: day, End: day.AddDate(0, 0, 3)}, 0); parts != nil {
		t.Errorf("Expected nil for non-positive chunk size, got %v", parts)
	}
}
