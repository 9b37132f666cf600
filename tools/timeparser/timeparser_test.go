package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/energy-sync-worker/tools/timeparser"
)

func TestParseProviderDate_ISODate(t *testing.T) {
	result, err := timeparser.ParseProviderDate("2024-01-10")
	if err != nil {
		t.Fatalf("Failed to parse date: %v", err)
	}

	expected := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseProviderDate_RFC3339KeepsCivilDate(t *testing.T) {
	result, err := timeparser.ParseProviderDate("2024-01-10T06:00:00+01:00")
	if err != nil {
		t.Fatalf("Failed to parse date: %v", err)
	}

	expected := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseProviderDate_Invalid(t *testing.T) {
	if _, err := timeparser.ParseProviderDate("yesterday"); err == nil {
		t.Error("Expected error for invalid date")
	}
}

func TestParseProviderTimestamp_WallClockInLocation(t *testing.T) {
	loc := time.FixedZone("CET", 3600)

	result, err := timeparser.ParseProviderTimestamp("2024-01-10 00:30:00", loc)
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	if result.Hour() != 0 || result.Minute() != 30 {
		t.Errorf("Expected wall clock 00:30, got %s", result.Format("15:04"))
	}
	expectedUTC := time.Date(2024, 1, 9, 23, 30, 0, 0, time.UTC)
	if !result.UTC().Equal(expectedUTC) {
		t.Errorf("Expected %v in UTC, got %v", expectedUTC, result.UTC())
	}
}

func TestParseProviderTimestamp_WithOffset(t *testing.T) {
	loc := time.FixedZone("CET", 3600)

	result, err := timeparser.ParseProviderTimestamp("2024-01-10T12:00:00Z", loc)
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	if result.Hour() != 13 {
		t.Errorf("Expected 13:00 local, got %s", result.Format("15:04"))
	}
}

func TestParseProviderTimestamp_Invalid(t *testing.T) {
	if _, err := timeparser.ParseProviderTimestamp("10/01/2024 noon", time.UTC); err == nil {
		t.Error("Expected error for invalid timestamp")
	}
}
