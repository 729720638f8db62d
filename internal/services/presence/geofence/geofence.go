// Package geofence evaluates claimed coordinates against a reference fence.
package geofence

import (
	"fmt"
	"math"

	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
)

const earthRadiusMeters = 6371000

// ErrInvalidLocation indicates non-finite coordinate input.
var ErrInvalidLocation = apperrors.New(apperrors.CodeInvalidLocation, "location coordinates must be finite numbers")

// Location is a WGS84 coordinate pair in decimal degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Result reports a single fence evaluation.
type Result struct {
	WithinRadius   bool
	DistanceMeters float64
}

// Validator evaluates claimed locations against a fixed reference point.
type Validator struct {
	reference    Location
	radiusMeters float64
}

// NewValidator builds a validator for the given reference point and radius.
func NewValidator(reference Location, radiusMeters float64) (*Validator, error) {
	if !finite(reference.Latitude) || !finite(reference.Longitude) || !finite(radiusMeters) {
		return nil, ErrInvalidLocation
	}
	if radiusMeters < 0 {
		return nil, fmt.Errorf("radius must be non-negative, got %v", radiusMeters)
	}
	return &Validator{reference: reference, radiusMeters: radiusMeters}, nil
}

// Radius returns the configured fence radius in meters.
func (v *Validator) Radius() float64 {
	return v.radiusMeters
}

// Evaluate computes the great-circle distance from the claimed location to
// the reference point. An out-of-range location is a normal
// WithinRadius:false result, never an error; only non-finite input fails.
func (v *Validator) Evaluate(claimed Location) (Result, error) {
	if !finite(claimed.Latitude) || !finite(claimed.Longitude) {
		return Result{}, ErrInvalidLocation
	}
	distance := haversineMeters(claimed, v.reference)
	return Result{
		WithinRadius:   distance <= v.radiusMeters,
		DistanceMeters: distance,
	}, nil
}

// haversineMeters computes the great-circle distance between two points on a
// spherical Earth approximation.
func haversineMeters(a, b Location) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLong := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLong := math.Sin(dLong / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLong*sinLong
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
