package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

const (
	DefaultInfluenceRadiusKm      = 1000.0
	DefaultMinMagnitudeConsidered = 5.0
)

// ScoringConfig is the full set of parameters that determine scoring output.
type ScoringConfig struct {
	InfluenceRadiusKm      float64          `json:"influence_radius_km"`
	MinMagnitudeConsidered float64          `json:"min_magnitude_considered"`
	Attenuation            AttenuationModel `json:"attenuation_constants"`
}

// DefaultScoringConfig returns a 1000 km radius, the 5.0 acquisition floor and
// the default attenuation constants.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		InfluenceRadiusKm:      DefaultInfluenceRadiusKm,
		MinMagnitudeConsidered: DefaultMinMagnitudeConsidered,
		Attenuation:            DefaultAttenuation(),
	}
}

// Validate checks the radius, the magnitude floor and the attenuation constants.
// An infinite radius is allowed and admits every event.
func (c ScoringConfig) Validate() error {
	if math.IsNaN(c.InfluenceRadiusKm) || c.InfluenceRadiusKm < 0 {
		return fmt.Errorf("influence radius must be >= 0 km, got %v", c.InfluenceRadiusKm)
	}
	if !finite(c.MinMagnitudeConsidered) || c.MinMagnitudeConsidered < 0 {
		return fmt.Errorf("min magnitude considered must be finite and >= 0, got %v", c.MinMagnitudeConsidered)
	}
	return c.Attenuation.Validate()
}

// InRange reports whether event counts toward the exposure of place.
func InRange(event Event, place Place, cfg ScoringConfig) (bool, error) {
	_, _, ok, err := reach(&event, place.Point(), cfg)
	return ok, err
}

// reach measures the surface and effective distance from event to center and
// applies the influence filter to them.
func reach(event *Event, center orb.Point, cfg ScoringConfig) (surfaceKm, effectiveKm float64, ok bool, err error) {
	surfaceKm, err = Distance(event.Point(), center)
	if err != nil {
		return 0, 0, false, err
	}
	effectiveKm, err = EffectiveDistance(surfaceKm, event.DepthKm)
	if err != nil {
		return 0, 0, false, err
	}
	return surfaceKm, effectiveKm, withinInfluence(effectiveKm, event.Magnitude, cfg), nil
}

func withinInfluence(effectiveKm, magnitude float64, cfg ScoringConfig) bool {
	return effectiveKm <= cfg.InfluenceRadiusKm && magnitude >= cfg.MinMagnitudeConsidered
}
