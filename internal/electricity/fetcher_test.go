package electricity_test

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/septivank/energy-sync-worker/internal/credentials"
	"github.com/septivank/energy-sync-worker/internal/electricity"
	"github.com/septivank/energy-sync-worker/internal/series"
	"github.com/septivank/energy-sync-worker/internal/tariff"
	"github.com/septivank/energy-sync-worker/internal/window"
)

type loadCurveCall struct {
	start, end time.Time
}

type fakeSession struct {
	daily        []series.Reading
	maxPower     []series.Reading
	loadCurve    []series.Reading
	dailyErr     error
	failOnCall   int
	loadCurveLog []loadCurveCall
}

func (s *fakeSession) DailyConsumption(ctx context.Context, start, end time.Time) ([]series.Reading, error) {
	return s.daily, s.dailyErr
}

func (s *fakeSession) MaxPower(ctx context.Context, start, end time.Time) ([]series.Reading, error) {
	return s.maxPower, nil
}

func (s *fakeSession) LoadCurve(ctx context.Context, start, end time.Time) ([]series.Reading, error) {
	s.loadCurveLog = append(s.loadCurveLog, loadCurveCall{start: start, end: end})
	if s.failOnCall == len(s.loadCurveLog) {
		return nil, errors.New("gateway timeout")
	}
	return s.loadCurve, nil
}

func newFetcher(t *testing.T, session *fakeSession) *electricity.Fetcher {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("Failed to load location: %v", err)
	}
	factory := func(credentials.ElectricityAccount, electricity.RefreshFunc) electricity.Session {
		return session
	}
	return electricity.NewFetcher(factory, nil, loc, 7, zap.NewNop())
}

func twentyDays() window.Window {
	return window.Window{
		Start: series.DateUTC(2024, 1, 1),
		End:   series.DateUTC(2024, 1, 21),
	}
}

func countMeasurement(points []series.Point, measurement string) int {
	n := 0
	for _, p := range points {
		if p.Measurement == measurement {
			n++
		}
	}
	return n
}

func TestFetch_DailyEnergyPoint(t *testing.T) {
	session := &fakeSession{
		daily: []series.Reading{{Time: series.DateUTC(2024, 1, 10), Value: 5000}},
	}
	f := newFetcher(t, session)

	result, err := f.Fetch(context.Background(), credentials.ElectricityAccount{MeterID: "A"}, twentyDays())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(result.Points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(result.Points))
	}
	p := result.Points[0]
	if p.Measurement != series.MeasurementEnergyImport {
		t.Errorf("Expected energy_import, got %s", p.Measurement)
	}
	if p.Fields[series.FieldKWh] != 5.0 {
		t.Errorf("Expected 5.0 kWh, got %f", p.Fields[series.FieldKWh])
	}
	if !p.Time.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)) || p.Time.Location() != time.UTC {
		t.Errorf("Expected 2024-01-10T00:00:00Z, got %v", p.Time)
	}
	if p.MeterID() != "A" {
		t.Errorf("Expected meterId A, got %s", p.MeterID())
	}
}

func TestFetch_MaxPowerInKVA(t *testing.T) {
	session := &fakeSession{
		maxPower: []series.Reading{{Time: series.DateUTC(2024, 1, 10), Value: 6120}},
	}
	f := newFetcher(t, session)

	result, err := f.Fetch(context.Background(), credentials.ElectricityAccount{MeterID: "A"}, twentyDays())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(result.Points) != 1 || result.Points[0].Fields[series.FieldKVA] != 6.12 {
		t.Errorf("Expected one 6.12 kVA point, got %+v", result.Points)
	}
}

func TestFetch_LoadCurveDisabled(t *testing.T) {
	session := &fakeSession{
		daily:     []series.Reading{{Time: series.DateUTC(2024, 1, 10), Value: 5000}},
		loadCurve: []series.Reading{{Time: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), Value: 800}},
	}
	f := newFetcher(t, session)

	result, err := f.Fetch(context.Background(), credentials.ElectricityAccount{MeterID: "A"}, twentyDays())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if n := countMeasurement(result.Points, series.MeasurementLoadCurve); n != 0 {
		t.Errorf("Expected no load_curve points, got %d", n)
	}
	if len(session.loadCurveLog) != 0 {
		t.Errorf("Expected no load curve calls, got %d", len(session.loadCurveLog))
	}
}

func TestFetch_LoadCurveSplitsIntoWeeks(t *testing.T) {
	session := &fakeSession{}
	f := newFetcher(t, session)

	_, err := f.Fetch(context.Background(), credentials.ElectricityAccount{MeterID: "A", LoadCurveEnabled: true}, twentyDays())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(session.loadCurveLog) != 3 {
		t.Fatalf("Expected 3 load curve calls, got %d", len(session.loadCurveLog))
	}
	last := session.loadCurveLog[2]
	if !last.start.Equal(series.DateUTC(2024, 1, 15)) || !last.end.Equal(series.DateUTC(2024, 1, 21)) {
		t.Errorf("Expected last window clipped to 2024-01-15 -> 2024-01-21, got %v -> %v", last.start, last.end)
	}
}

func TestFetch_LoadCurveSubWindowFailureIsIsolated(t *testing.T) {
	session := &fakeSession{
		loadCurve:  []series.Reading{{Time: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), Value: 800}},
		failOnCall: 2,
	}
	f := newFetcher(t, session)

	result, err := f.Fetch(context.Background(), credentials.ElectricityAccount{MeterID: "A", LoadCurveEnabled: true}, twentyDays())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(session.loadCurveLog) != 3 {
		t.Errorf("Expected all 3 windows attempted, got %d", len(session.loadCurveLog))
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("Expected 1 skipped window, got %d", len(result.Skipped))
	}
	if !result.Skipped[0].Window.Start.Equal(series.DateUTC(2024, 1, 8)) {
		t.Errorf("Expected second window skipped, got %s", result.Skipped[0].Window)
	}
	if n := countMeasurement(result.Points, series.MeasurementLoadCurve); n != 2 {
		t.Errorf("Expected 2 load_curve points, got %d", n)
	}
}

func TestFetch_DailyFailureFailsAccount(t *testing.T) {
	session := &fakeSession{dailyErr: errors.New("upstream down")}
	f := newFetcher(t, session)

	_, err := f.Fetch(context.Background(), credentials.ElectricityAccount{MeterID: "A"}, twentyDays())

	var fetchErr *electricity.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fetchErr.Series != electricity.SeriesDailyConsumption || fetchErr.MeterID != "A" {
		t.Errorf("Unexpected fetch error %+v", fetchErr)
	}
}

func TestLoadCurvePoint_TariffTagsAreExclusive(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Paris")
	offPeak := []tariff.Interval{{Start: tariff.MustClock("22:30"), End: tariff.MustClock("06:30")}}

	cases := []struct {
		name string
		at   time.Time
		want string
	}{
		{"night", time.Date(2024, 1, 10, 23, 0, 0, 0, time.UTC), series.TagOffPeak},  // 00:00 local
		{"day", time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC), series.TagPeak},       // 12:00 local
		{"boundary", time.Date(2024, 1, 10, 5, 30, 0, 0, time.UTC), series.TagPeak}, // 06:30 local
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := electricity.LoadCurvePoint("A", series.Reading{Time: tc.at, Value: 1500}, loc, offPeak)

			ones := 0
			for _, tag := range []string{series.TagOffPeak, series.TagPeak, series.TagUndifferentiated} {
				if p.Tags[tag] == "1" {
					ones++
				} else if p.Tags[tag] != "0" {
					t.Errorf("Expected tag %s to be 0 or 1, got %q", tag, p.Tags[tag])
				}
			}
			if ones != 1 {
				t.Errorf("Expected exactly one band tag set, got %d", ones)
			}
			if p.Tags[tc.want] != "1" {
				t.Errorf("Expected %s=1, got %v", tc.want, p.Tags)
			}
			if p.Fields[series.FieldKW] != 1.5 {
				t.Errorf("Expected 1.5 kW, got %f", p.Fields[series.FieldKW])
			}
		})
	}
}

func TestLoadCurvePoint_NoIntervalsIsUndifferentiated(t *testing.T) {
	p := electricity.LoadCurvePoint("A", series.Reading{Time: time.Now(), Value: 100}, time.UTC, nil)

	if p.Tags[series.TagUndifferentiated] != "1" || p.Tags[series.TagOffPeak] != "0" || p.Tags[series.TagPeak] != "0" {
		t.Errorf("Expected undifferentiated band, got %v", p.Tags)
	}
}
