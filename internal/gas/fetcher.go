// Package gas turns informative gas readings into time-series points.
package gas

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/energy-sync-worker/internal/credentials"
	"github.com/septivank/energy-sync-worker/internal/series"
	"github.com/septivank/energy-sync-worker/internal/window"
)

// Fetch stages used in fetch errors
const (
	StageLogin       = "login"
	StageConsumption = "consumption"
)

// ErrMeterMissing is returned when the provider response has no readings for the requested meter
var ErrMeterMissing = errors.New("meter missing from provider response")

// Client is the gas provider API
type Client interface {
	Login(ctx context.Context, username, password string) (string, error)
	Consumption(ctx context.Context, token string, meterIDs []string, start, end time.Time) (map[string][]series.GasReading, error)
}

// FetchError is a provider failure for one gas meter
type FetchError struct {
	MeterID string
	Stage   string
	Window  window.Window
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("gas %s for meter %s over %s: %v", e.Stage, e.MeterID, e.Window, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Normalized is the outcome of normalizing a reading set
type Normalized struct {
	Points []series.Point
	// NullEnergy counts readings dropped because the provider sent no energy
	NullEnergy int
	// NoCoefficient counts readings dropped because m3 cannot be derived
	NoCoefficient int
}

// Normalize converts readings into gas_import points. It is pure.
func Normalize(meterID string, readings []series.GasReading) Normalized {
	var out Normalized
	for _, r := range readings {
		if r.EnergyKWh == nil {
			out.NullEnergy++
			continue
		}
		if r.Coefficient == nil || *r.Coefficient == 0 {
			out.NoCoefficient++
			continue
		}

		energy := *r.EnergyKWh
		out.Points = append(out.Points,
			series.NewPoint(series.MeasurementGasImport, meterID, r.GasDay).
				WithField(series.FieldKWh, energy).
				WithField(series.FieldM3, RoundHalfUp(energy / *r.Coefficient, 2)),
		)
	}
	return out
}

// RoundHalfUp rounds v to the given number of decimal places, halves toward +Inf
func RoundHalfUp(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Floor(v*scale+0.5) / scale
}

// Fetcher fetches and normalizes gas readings
type Fetcher struct {
	client Client
	logger *zap.Logger
}

// NewFetcher creates a gas fetcher
func NewFetcher(client Client, logger *zap.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger}
}

// Fetch logs in with the account and returns its points over w
func (f *Fetcher) Fetch(ctx context.Context, account credentials.GasAccount, w window.Window) ([]series.Point, error) {
	logger := f.logger.With(zap.String("meter_id", account.MeterID), zap.String("window", w.String()))

	token, err := f.client.Login(ctx, account.Username, account.Password)
	if err != nil {
		return nil, &FetchError{MeterID: account.MeterID, Stage: StageLogin, Window: w, Err: err}
	}

	byMeter, err := f.client.Consumption(ctx, token, []string{account.MeterID}, w.Start, w.End)
	if err != nil {
		return nil, &FetchError{MeterID: account.MeterID, Stage: StageConsumption, Window: w, Err: err}
	}

	readings, ok := byMeter[account.MeterID]
	if !ok {
		return nil, &FetchError{MeterID: account.MeterID, Stage: StageConsumption, Window: w, Err: ErrMeterMissing}
	}

	normalized := Normalize(account.MeterID, readings)
	if normalized.NoCoefficient > 0 {
		logger.Warn("gas readings without conversion coefficient dropped", zap.Int("count", normalized.NoCoefficient))
	}
	logger.Debug("gas series fetched",
		zap.Int("points", len(normalized.Points)),
		zap.Int("null_readings", normalized.NullEnergy),
	)
	return normalized.Points, nil
}
