package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusKm is the mean spherical earth radius used for all distances.
const EarthRadiusKm = 6371.0

// Distance returns the great-circle distance in kilometers between two
// [lon, lat] points using the haversine formula.
func Distance(p1, p2 orb.Point) (float64, error) {
	if err := ValidateCoordinate(p1); err != nil {
		return 0, err
	}
	if err := ValidateCoordinate(p2); err != nil {
		return 0, err
	}
	return haversineKm(p1, p2), nil
}

// ValidateCoordinate rejects NaN and out-of-domain latitudes and longitudes.
func ValidateCoordinate(p orb.Point) error {
	if lat := p.Lat(); math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidCoordinate, lat)
	}
	if lon := p.Lon(); math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidCoordinate, lon)
	}
	return nil
}

func haversineKm(p1, p2 orb.Point) float64 {
	lat1 := deg2rad(p1.Lat())
	lat2 := deg2rad(p2.Lat())
	sinDLat := math.Sin((lat2 - lat1) / 2)
	sinDLon := math.Sin(deg2rad(p2.Lon()-p1.Lon()) / 2)

	a := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	// Rounding can push a past 1 for antipodal points.
	a = math.Min(a, 1)

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}

func rad2deg(r float64) float64 {
	return r * 180 / math.Pi
}
