// Package series holds the normalized time-series point written to storage.
package series

import (
	"sort"
	"time"
)

// Measurement names
const (
	MeasurementEnergyImport = "energy_import"
	MeasurementMaxPower     = "max_power"
	MeasurementLoadCurve    = "load_curve"
	MeasurementGasImport    = "gas_import"
)

// Field names
const (
	FieldKWh = "kWh"
	FieldKVA = "kVA"
	FieldKW  = "kW"
	FieldM3  = "m3"
)

// Tag names
const (
	TagMeterID          = "meterId"
	TagOffPeak          = "offPeak"
	TagPeak             = "peak"
	TagUndifferentiated = "undifferentiated"
)

// Point is a single normalized time-series point
type Point struct {
	Measurement string
	Fields      map[string]float64
	Tags        map[string]string
	Time        time.Time
}

// NewPoint creates a point tagged with its meter. The timestamp is stored in UTC.
func NewPoint(measurement, meterID string, ts time.Time) Point {
	return Point{
		Measurement: measurement,
		Fields:      make(map[string]float64, 2),
		Tags:        map[string]string{TagMeterID: meterID},
		Time:        ts.UTC(),
	}
}

// WithField sets a float field and returns the point
func (p Point) WithField(name string, value float64) Point {
	p.Fields[name] = value
	return p
}

// WithTag sets a tag and returns the point
func (p Point) WithTag(name, value string) Point {
	p.Tags[name] = value
	return p
}

// MeterID returns the meterId tag
func (p Point) MeterID() string {
	return p.Tags[TagMeterID]
}

// FieldNames returns the field names in lexical order
func (p Point) FieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DateUTC returns midnight UTC of the given civil date
func DateUTC(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
