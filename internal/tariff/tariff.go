// Package tariff classifies sub-daily readings into off-peak, peak or
// undifferentiated tariff bands.
package tariff

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/energy-sync-worker/internal/series"
)

// ClockTime is a time of day with minute precision, stored as minutes since midnight
type ClockTime int

// ParseClock parses "HH:MM"
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (expected HH:MM): %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// MustClock is ParseClock for literals
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *ClockTime) UnmarshalText(text []byte) error {
	parsed, err := ParseClock(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalJSON accepts "HH:MM" or the legacy {"hours": "22", "minutes": "30"} object
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return c.UnmarshalText([]byte(text))
	}

	var legacy struct {
		Hours   json.RawMessage `json:"hours"`
		Minutes json.RawMessage `json:"minutes"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("invalid clock time %s: %w", string(data), err)
	}
	hours, err := legacyNumber(legacy.Hours)
	if err != nil {
		return fmt.Errorf("invalid clock hours: %w", err)
	}
	minutes, err := legacyNumber(legacy.Minutes)
	if err != nil {
		return fmt.Errorf("invalid clock minutes: %w", err)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return fmt.Errorf("clock time %02d:%02d out of range", hours, minutes)
	}
	*c = ClockTime(hours*60 + minutes)
	return nil
}

// legacyNumber reads a number that may be encoded as a JSON string
func legacyNumber(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Interval is a recurring daily off-peak window [Start, End).
// An interval whose End is not after Start wraps past midnight.
type Interval struct {
	Start ClockTime `yaml:"start" json:"start"`
	End   ClockTime `yaml:"end" json:"end"`
}

// Validate rejects zero-length intervals
func (i Interval) Validate() error {
	if i.Start == i.End {
		return fmt.Errorf("off-peak interval %s-%s has zero length", i.Start, i.End)
	}
	return nil
}

// Wraps reports whether the interval crosses midnight
func (i Interval) Wraps() bool {
	return i.End <= i.Start
}

// Contains reports whether the wall-clock time of day of t is inside the interval
func (i Interval) Contains(t time.Time) bool {
	tod := t.Hour()*3600 + t.Minute()*60 + t.Second()
	start := int(i.Start) * 60
	end := int(i.End) * 60
	if i.Wraps() {
		return tod >= start || tod < end
	}
	return tod >= start && tod < end
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// Band is a tariff band
type Band int

const (
	Undifferentiated Band = iota
	OffPeak
	Peak
)

func (b Band) String() string {
	switch b {
	case OffPeak:
		return "off_peak"
	case Peak:
		return "peak"
	default:
		return "undifferentiated"
	}
}

// Tags returns the three mutually exclusive tariff tags, exactly one set to "1"
func (b Band) Tags() map[string]string {
	tags := map[string]string{
		series.TagOffPeak:          "0",
		series.TagPeak:             "0",
		series.TagUndifferentiated: "0",
	}
	switch b {
	case OffPeak:
		tags[series.TagOffPeak] = "1"
	case Peak:
		tags[series.TagPeak] = "1"
	default:
		tags[series.TagUndifferentiated] = "1"
	}
	return tags
}

// Classify returns the band of local, which must already be in the meter's
// civil time zone. No intervals means an undifferentiated tariff.
func Classify(local time.Time, intervals []Interval) Band {
	if len(intervals) == 0 {
		return Undifferentiated
	}
	for _, interval := range intervals {
		if interval.Contains(local) {
			return OffPeak
		}
	}
	return Peak
}
