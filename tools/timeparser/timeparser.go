package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// ParseProviderDate parses a calendar date sent by a provider and returns
// midnight UTC of that civil date. Any time-of-day or offset part is dropped.
func ParseProviderDate(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	formats := []string{
		"2006-01-02",          // YYYY-MM-DD
		time.RFC3339,          // Standard RFC3339
		"2006-01-02 15:04:05", // YYYY-MM-DD HH:mm:ss
		"02/01/2006",          // DD/MM/YYYY
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", dateStr, lastErr)
}

// ParseProviderTimestamp parses a sub-daily timestamp. Timestamps without an
// offset are wall-clock times in loc; the result stays in loc.
func ParseProviderTimestamp(timestampStr string, loc *time.Location) (time.Time, error) {
	timestampStr = strings.TrimSpace(timestampStr)
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339, timestampStr); err == nil {
		return t.In(loc), nil
	}

	formats := []string{
		"2006-01-02 15:04:05", // YYYY-MM-DD HH:mm:ss
		"2006-01-02T15:04:05", // ISO without offset
		"2006-01-02 15:04",    // YYYY-MM-DD HH:mm
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.ParseInLocation(format, timestampStr, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", timestampStr, lastErr)
}
