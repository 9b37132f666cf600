package series

import "time"

// Reading is one raw electricity value as returned by the provider, in Wh, W or VA.
// Daily readings carry a UTC midnight time; load curve readings carry the
// instant in the meter location.
type Reading struct {
	Time  time.Time
	Value float64
}

// GasReading is one informative gas-day reading. Nil pointers are values the
// provider sent as null.
type GasReading struct {
	GasDay      time.Time
	EnergyKWh   *float64
	Coefficient *float64
}
