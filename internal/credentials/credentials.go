// Package credentials holds provider account credentials, the store they are
// persisted in and the handler applying token rotations.
package credentials

import (
	"fmt"

	"github.com/septivank/energy-sync-worker/internal/tariff"
)

// Provider names
const (
	ProviderElectricity = "electricity"
	ProviderGas         = "gas"
)

// ElectricityAccount is an electricity meter reached with rotating OAuth tokens.
// The JSON names follow the legacy secrets.json layout.
type ElectricityAccount struct {
	AccessToken      string            `yaml:"access_token" json:"accessToken"`
	RefreshToken     string            `yaml:"refresh_token" json:"refreshToken"`
	MeterID          string            `yaml:"meter_id" json:"PRM"`
	LoadCurveEnabled bool              `yaml:"load_curve" json:"isLoadCurve"`
	OffPeak          []tariff.Interval `yaml:"off_peak,omitempty" json:"hc"`
}

// GasAccount is a gas meter reached with a username/password login
type GasAccount struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	MeterID  string `yaml:"meter_id" json:"PCE"`
}

// Set is the full credential collection of both providers, each keyed by meter id
type Set struct {
	Electricity []ElectricityAccount `yaml:"electricity" json:"linky"`
	Gas         []GasAccount         `yaml:"gas" json:"gazpar"`
}

// Validate checks meter ids are present and unique per provider and that
// off-peak intervals are usable
func (s Set) Validate() error {
	seen := make(map[string]bool, len(s.Electricity))
	for i, acc := range s.Electricity {
		if acc.MeterID == "" {
			return fmt.Errorf("electricity account #%d has no meter id", i)
		}
		if seen[acc.MeterID] {
			return fmt.Errorf("duplicate electricity meter id %s", acc.MeterID)
		}
		seen[acc.MeterID] = true
		for _, interval := range acc.OffPeak {
			if err := interval.Validate(); err != nil {
				return fmt.Errorf("electricity meter %s: %w", acc.MeterID, err)
			}
		}
	}

	seen = make(map[string]bool, len(s.Gas))
	for i, acc := range s.Gas {
		if acc.MeterID == "" {
			return fmt.Errorf("gas account #%d has no meter id", i)
		}
		if seen[acc.MeterID] {
			return fmt.Errorf("duplicate gas meter id %s", acc.MeterID)
		}
		seen[acc.MeterID] = true
	}
	return nil
}

// Clone returns a deep copy
func (s Set) Clone() Set {
	out := Set{
		Electricity: make([]ElectricityAccount, len(s.Electricity)),
		Gas:         make([]GasAccount, len(s.Gas)),
	}
	for i, acc := range s.Electricity {
		acc.OffPeak = append([]tariff.Interval(nil), acc.OffPeak...)
		out.Electricity[i] = acc
	}
	copy(out.Gas, s.Gas)
	return out
}

// WithElectricityTokens returns a copy of the set where the entry for meterID
// carries the new tokens. Every other field and entry is kept as is.
// It reports false when no entry matches.
func (s Set) WithElectricityTokens(meterID, accessToken, refreshToken string) (Set, bool) {
	out := s.Clone()
	for i := range out.Electricity {
		if out.Electricity[i].MeterID == meterID {
			out.Electricity[i].AccessToken = accessToken
			out.Electricity[i].RefreshToken = refreshToken
			return out, true
		}
	}
	return out, false
}

// CredentialUpdated is emitted when a provider session rotates its tokens
type CredentialUpdated struct {
	Provider     string
	MeterID      string
	AccessToken  string
	RefreshToken string
}

// Rotated reports whether the event carries a usable token pair.
// Empty tokens mean the provider signaled no rotation.
func (e CredentialUpdated) Rotated() bool {
	return e.AccessToken != "" && e.RefreshToken != ""
}
