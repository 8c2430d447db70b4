package domain

import (
	"errors"
	"fmt"
	"math"
)

// DefaultModelVersion identifies the default attenuation constants. Any change
// to DefaultAttenuation changes every score and must bump this version.
const DefaultModelVersion = "esteva1970-v1"

// AttenuationModel holds the constants of
//
//	log10(PGA) = A*M - B*log10(R + C) - D
//
// where PGA is in g, M is magnitude and R is the effective (hypocentral)
// distance in kilometers.
type AttenuationModel struct {
	A       float64 `json:"a"`
	B       float64 `json:"b"`
	C       float64 `json:"c"`
	D       float64 `json:"d"`
	Version string  `json:"version"`
}

// DefaultAttenuation returns the Esteva (1970) relation
// PGA[gal] = 1230 * e^(0.8M) * (R+25)^-2, rewritten in base-10 form and
// converted from gal to g.
func DefaultAttenuation() AttenuationModel {
	return AttenuationModel{
		A:       0.8 * math.Log10E,
		B:       2,
		C:       25,
		D:       math.Log10(980.665) - math.Log10(1230),
		Version: DefaultModelVersion,
	}
}

// Validate checks that the constants keep PGA finite and monotonic: increasing
// in magnitude (A > 0) and decreasing in distance (B > 0, C > 0).
func (m AttenuationModel) Validate() error {
	if !finite(m.A) || m.A <= 0 {
		return fmt.Errorf("attenuation constant a must be positive, got %v", m.A)
	}
	if !finite(m.B) || m.B <= 0 {
		return fmt.Errorf("attenuation constant b must be positive, got %v", m.B)
	}
	if !finite(m.C) || m.C <= 0 {
		return fmt.Errorf("attenuation constant c must be positive, got %v", m.C)
	}
	if !finite(m.D) {
		return fmt.Errorf("attenuation constant d must be finite, got %v", m.D)
	}
	if m.Version == "" {
		return errors.New("attenuation model version is required")
	}
	return nil
}

// EstimatePGA returns the peak ground acceleration (fraction of g) expected at
// distanceKm of surface distance from an event of the given magnitude. When
// depthKm is non-nil the hypocentral distance is used instead.
func (m AttenuationModel) EstimatePGA(magnitude, distanceKm float64, depthKm *float64) (float64, error) {
	if !finite(magnitude) || magnitude < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMagnitude, magnitude)
	}
	r, err := EffectiveDistance(distanceKm, depthKm)
	if err != nil {
		return 0, err
	}
	return m.pgaAt(magnitude, r), nil
}

func (m AttenuationModel) pgaAt(magnitude, effectiveKm float64) float64 {
	return math.Pow(10, m.A*magnitude-m.B*math.Log10(effectiveKm+m.C)-m.D)
}

// EffectiveDistance combines surface distance and depth into a hypocentral
// distance. An unknown depth leaves the surface distance unchanged.
func EffectiveDistance(surfaceKm float64, depthKm *float64) (float64, error) {
	if math.IsNaN(surfaceKm) || surfaceKm < 0 {
		return 0, fmt.Errorf("%w: surface distance %v km", ErrInvalidDistance, surfaceKm)
	}
	if depthKm == nil {
		return surfaceKm, nil
	}
	depth := *depthKm
	if math.IsNaN(depth) || depth < 0 {
		return 0, fmt.Errorf("%w: depth %v km", ErrInvalidDistance, depth)
	}
	return math.Hypot(surfaceKm, depth), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
