// Package electricity turns electricity meter readings into time-series points.
package electricity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/energy-sync-worker/internal/credentials"
	"github.com/septivank/energy-sync-worker/internal/series"
	"github.com/septivank/energy-sync-worker/internal/tariff"
	"github.com/septivank/energy-sync-worker/internal/window"
)

// Series names used in fetch errors
const (
	SeriesDailyConsumption = "daily_consumption"
	SeriesMaxPower         = "max_power"
	SeriesLoadCurve        = "load_curve"
)

// DefaultLoadCurveChunkDays is the provider's maximum load curve span
const DefaultLoadCurveChunkDays = 7

// Session reads one meter's data from the provider
type Session interface {
	DailyConsumption(ctx context.Context, start, end time.Time) ([]series.Reading, error)
	MaxPower(ctx context.Context, start, end time.Time) ([]series.Reading, error)
	LoadCurve(ctx context.Context, start, end time.Time) ([]series.Reading, error)
}

// RefreshFunc is called by a session after its tokens were rotated
type RefreshFunc func(meterID, accessToken, refreshToken string)

// SessionFactory opens a session for an account
type SessionFactory func(account credentials.ElectricityAccount, onRefresh RefreshFunc) Session

// FetchError is a provider failure for one series of one meter
type FetchError struct {
	MeterID string
	Series  string
	Window  window.Window
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s for meter %s over %s: %v", e.Series, e.MeterID, e.Window, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SkippedWindow is a load curve sub-window that could not be fetched
type SkippedWindow struct {
	Window window.Window
	Err    error
}

// Result holds the points of one account and the load curve windows that were skipped
type Result struct {
	Points  []series.Point
	Skipped []SkippedWindow
}

// Fetcher fetches and normalizes electricity series
type Fetcher struct {
	newSession SessionFactory
	onRefresh  RefreshFunc
	location   *time.Location
	chunkDays  int
	logger     *zap.Logger
}

// NewFetcher creates a fetcher. Load curve readings are classified in loc.
func NewFetcher(newSession SessionFactory, onRefresh RefreshFunc, loc *time.Location, chunkDays int, logger *zap.Logger) *Fetcher {
	if chunkDays <= 0 {
		chunkDays = DefaultLoadCurveChunkDays
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Fetcher{
		newSession: newSession,
		onRefresh:  onRefresh,
		location:   loc,
		chunkDays:  chunkDays,
		logger:     logger,
	}
}

// Fetch returns the points for account over w. Daily series failures fail the
// account; a failing load curve sub-window is recorded and skipped.
func (f *Fetcher) Fetch(ctx context.Context, account credentials.ElectricityAccount, w window.Window) (Result, error) {
	logger := f.logger.With(zap.String("meter_id", account.MeterID), zap.String("window", w.String()))
	session := f.newSession(account, f.onRefresh)

	var result Result

	daily, err := session.DailyConsumption(ctx, w.Start, w.End)
	if err != nil {
		return Result{}, &FetchError{MeterID: account.MeterID, Series: SeriesDailyConsumption, Window: w, Err: err}
	}
	for _, r := range daily {
		result.Points = append(result.Points, EnergyPoint(account.MeterID, r))
	}

	maxPower, err := session.MaxPower(ctx, w.Start, w.End)
	if err != nil {
		return Result{}, &FetchError{MeterID: account.MeterID, Series: SeriesMaxPower, Window: w, Err: err}
	}
	for _, r := range maxPower {
		result.Points = append(result.Points, MaxPowerPoint(account.MeterID, r))
	}

	if !account.LoadCurveEnabled {
		logger.Debug("electricity series fetched", zap.Int("points", len(result.Points)))
		return result, nil
	}

	for _, sub := range window.Split(w, f.chunkDays) {
		readings, err := session.LoadCurve(ctx, sub.Start, sub.End)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, &FetchError{MeterID: account.MeterID, Series: SeriesLoadCurve, Window: sub, Err: ctx.Err()}
			}
			logger.Warn("skipping load curve window",
				zap.String("sub_window", sub.String()),
				zap.Error(err),
			)
			result.Skipped = append(result.Skipped, SkippedWindow{Window: sub, Err: err})
			continue
		}
		for _, r := range readings {
			result.Points = append(result.Points, LoadCurvePoint(account.MeterID, r, f.location, account.OffPeak))
		}
	}

	logger.Debug("electricity series fetched",
		zap.Int("points", len(result.Points)),
		zap.Int("skipped_windows", len(result.Skipped)),
	)
	return result, nil
}

// EnergyPoint converts a daily Wh reading to an energy_import point in kWh
func EnergyPoint(meterID string, r series.Reading) series.Point {
	return series.NewPoint(series.MeasurementEnergyImport, meterID, r.Time).
		WithField(series.FieldKWh, r.Value/1000)
}

// MaxPowerPoint converts a daily VA reading to a max_power point in kVA
func MaxPowerPoint(meterID string, r series.Reading) series.Point {
	return series.NewPoint(series.MeasurementMaxPower, meterID, r.Time).
		WithField(series.FieldKVA, r.Value/1000)
}

// LoadCurvePoint converts a W reading to a load_curve point in kW tagged with
// the tariff band of its wall-clock time in loc.
func LoadCurvePoint(meterID string, r series.Reading, loc *time.Location, offPeak []tariff.Interval) series.Point {
	p := series.NewPoint(series.MeasurementLoadCurve, meterID, r.Time).
		WithField(series.FieldKW, r.Value/1000)
	for name, value := range tariff.Classify(r.Time.In(loc), offPeak).Tags() {
		p = p.WithTag(name, value)
	}
	return p
}
