package validator

import (
	"fmt"
	"math"
	"time"

	"github.com/septivank/energy-sync-worker/internal/series"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid       bool
	AnomalyReason string
}

// Rejection is a point that failed validation
type Rejection struct {
	Point  series.Point
	Reason string
}

// Validator checks points before they are written
type Validator struct {
	futureToleranceMinutes int
	now                    func() time.Time
}

// NewValidator creates a new validator. Points timestamped more than
// futureToleranceMinutes after now are rejected.
func NewValidator(futureToleranceMinutes int) *Validator {
	return &Validator{
		futureToleranceMinutes: futureToleranceMinutes,
		now:                    time.Now,
	}
}

// WithClock returns a copy of the validator using now as the current time
func (v *Validator) WithClock(now func() time.Time) *Validator {
	return &Validator{futureToleranceMinutes: v.futureToleranceMinutes, now: now}
}

// ValidatePoint validates a single point
func (v *Validator) ValidatePoint(p series.Point) ValidationResult {
	result := ValidationResult{IsValid: true}

	if p.Measurement == "" {
		result.IsValid = false
		result.AnomalyReason = "empty measurement"
		return result
	}

	if p.MeterID() == "" {
		result.IsValid = false
		result.AnomalyReason = "missing meterId tag"
		return result
	}

	if len(p.Fields) == 0 {
		result.IsValid = false
		result.AnomalyReason = "point has no field"
		return result
	}

	for _, name := range p.FieldNames() {
		value := p.Fields[name]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			result.IsValid = false
			result.AnomalyReason = fmt.Sprintf("non-finite value for field %s", name)
			return result
		}
		if value < 0 {
			result.IsValid = false
			result.AnomalyReason = "negative value detected"
			return result
		}
	}

	if p.Time.IsZero() {
		result.IsValid = false
		result.AnomalyReason = "missing timestamp"
		return result
	}

	if p.Time.Location() != time.UTC {
		result.IsValid = false
		result.AnomalyReason = "timestamp is not UTC"
		return result
	}

	limit := v.now().Add(time.Duration(v.futureToleranceMinutes) * time.Minute)
	if p.Time.After(limit) {
		result.IsValid = false
		result.AnomalyReason = fmt.Sprintf("timestamp in the future (tolerance %d minutes)", v.futureToleranceMinutes)
		return result
	}

	return result
}

// Partition splits points into valid ones and rejections, keeping order
func (v *Validator) Partition(points []series.Point) ([]series.Point, []Rejection) {
	valid := make([]series.Point, 0, len(points))
	var rejected []Rejection
	for _, p := range points {
		result := v.ValidatePoint(p)
		if !result.IsValid {
			rejected = append(rejected, Rejection{Point: p, Reason: result.AnomalyReason})
			continue
		}
		valid = append(valid, p)
	}
	return valid, rejected
}
