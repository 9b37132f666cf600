package tariff_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/septivank/energy-sync-worker/internal/series"
	"github.com/septivank/energy-sync-worker/internal/tariff"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 1, 10, hour, minute, 0, 0, time.UTC)
}

func TestClassify_NoIntervals(t *testing.T) {
	if band := tariff.Classify(at(3, 0), nil); band != tariff.Undifferentiated {
		t.Errorf("Expected undifferentiated, got %s", band)
	}
}

func TestClassify_SameDayInterval(t *testing.T) {
	intervals := []tariff.Interval{
		{Start: tariff.MustClock("12:30"), End: tariff.MustClock("14:30")},
	}

	cases := []struct {
		name string
		at   time.Time
		want tariff.Band
	}{
		{"before", at(12, 0), tariff.Peak},
		{"start is inclusive", at(12, 30), tariff.OffPeak},
		{"inside", at(13, 45), tariff.OffPeak},
		{"end is exclusive", at(14, 30), tariff.Peak},
	}

	for _, tc := range cases {
		if got := tariff.Classify(tc.at, intervals); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestClassify_IntervalCrossingMidnight(t *testing.T) {
	intervals := []tariff.Interval{
		{Start: tariff.MustClock("22:30"), End: tariff.MustClock("06:30")},
	}

	if got := tariff.Classify(at(23, 0), intervals); got != tariff.OffPeak {
		t.Errorf("23:00: expected off_peak, got %s", got)
	}
	if got := tariff.Classify(at(0, 0), intervals); got != tariff.OffPeak {
		t.Errorf("00:00: expected off_peak, got %s", got)
	}
	if got := tariff.Classify(at(6, 0), intervals); got != tariff.OffPeak {
		t.Errorf("06:00: expected off_peak, got %s", got)
	}
	if got := tariff.Classify(at(6, 30), intervals); got != tariff.Peak {
		t.Errorf("06:30: expected peak, got %s", got)
	}
	if got := tariff.Classify(at(12, 0), intervals); got != tariff.Peak {
		t.Errorf("12:00: expected peak, got %s", got)
	}
}

func TestClassify_AnyIntervalMatches(t *testing.T) {
	intervals := []tariff.Interval{
		{Start: tariff.MustClock("01:00"), End: tariff.MustClock("07:00")},
		{Start: tariff.MustClock("13:00"), End: tariff.MustClock("15:00")},
	}

	if got := tariff.Classify(at(14, 0), intervals); got != tariff.OffPeak {
		t.Errorf("Expected second interval to match, got %s", got)
	}
}

func TestBandTags_ExactlyOneSet(t *testing.T) {
	configs := [][]tariff.Interval{
		nil,
		{{Start: tariff.MustClock("22:00"), End: tariff.MustClock("06:00")}},
		{{Start: tariff.MustClock("02:00"), End: tariff.MustClock("03:00")}, {Start: tariff.MustClock("12:00"), End: tariff.MustClock("12:30")}},
	}

	for _, intervals := range configs {
		for minute := 0; minute < 24*60; minute += 30 {
			tags := tariff.Classify(at(0, 0).Add(time.Duration(minute)*time.Minute), intervals).Tags()
			ones := 0
			for _, name := range []string{series.TagOffPeak, series.TagPeak, series.TagUndifferentiated} {
				switch tags[name] {
				case "1":
					ones++
				case "0":
				default:
					t.Fatalf("Tag %s has unexpected value %q", name, tags[name])
				}
			}
			if ones != 1 {
				t.Fatalf("Expected exactly one tariff tag set at minute %d, got %d (%v)", minute, ones, tags)
			}
		}
	}
}

func TestInterval_Validate(t *testing.T) {
	zero := tariff.Interval{Start: tariff.MustClock("08:00"), End: tariff.MustClock("08:00")}
	if err := zero.Validate(); err == nil {
		t.Error("Expected error for zero-length interval")
	}
}

func TestClockTime_UnmarshalJSON(t *testing.T) {
	var interval tariff.Interval
	legacy := `{"start":{"hours":"22","minutes":"30"},"end":{"hours":6,"minutes":"0"}}`
	if err := json.Unmarshal([]byte(legacy), &interval); err != nil {
		t.Fatalf("Failed to decode legacy interval: %v", err)
	}
	if interval.String() != "22:30-06:00" {
		t.Errorf("Expected 22:30-06:00, got %s", interval)
	}

	if err := json.Unmarshal([]byte(`{"start":"01:15","end":"07:15"}`), &interval); err != nil {
		t.Fatalf("Failed to decode interval: %v", err)
	}
	if interval.String() != "01:15-07:15" {
		t.Errorf("Expected 01:15-07:15, got %s", interval)
	}

	if err := json.Unmarshal([]byte(`{"start":"25:00","end":"07:15"}`), &interval); err == nil {
		t.Error("Expected error for out of range clock time")
	}
}
