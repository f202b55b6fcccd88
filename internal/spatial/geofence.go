package spatial

import (
	"fmt"
	"math"
)

// DefaultTolerance is the tolerance used by Geofence.Equal. Diameters are compared in meters,
// centers in degrees.
var DefaultTolerance = 1e-9

// Geofence is a circular region. A negative diameter means the fence is unbounded.
//
// Intersection uses the planar circle overlap test on great-circle distances. That is an
// approximation on a sphere and is only meant for city or region sized fences.
type Geofence struct {
	Center         Location `json:"center" yaml:"center"`
	DiameterMeters float64  `json:"diameter" yaml:"diameter"`
}

// NewGeofence creates a circular fence
func NewGeofence(center Location, diameterMeters float64) Geofence {
	return Geofence{Center: center, DiameterMeters: diameterMeters}
}

// Unbounded returns a fence that matches every location
func Unbounded() Geofence {
	return Geofence{DiameterMeters: -1}
}

// IsUnbounded reports whether the fence matches everything
func (g Geofence) IsUnbounded() bool {
	return g.DiameterMeters < 0
}

// Contains reports whether loc lies within the fence, boundary inclusive
func (g Geofence) Contains(loc Location) bool {
	if g.IsUnbounded() {
		return true
	}
	return DistanceMeters(g.Center, loc) <= g.DiameterMeters
}

// Intersects reports whether two fences overlap
func (g Geofence) Intersects(other Geofence) bool {
	if g.IsUnbounded() || other.IsUnbounded() {
		return true
	}
	return DistanceMeters(g.Center, other.Center) <= g.DiameterMeters/2+other.DiameterMeters/2
}

// Equal compares two fences using DefaultTolerance
func (g Geofence) Equal(other Geofence) bool {
	return g.EqualWithin(other, DefaultTolerance)
}

// EqualWithin compares two fences allowing an absolute difference of tol on every component
func (g Geofence) EqualWithin(other Geofence, tol float64) bool {
	if g.IsUnbounded() && other.IsUnbounded() {
		return true
	}
	return math.Abs(g.DiameterMeters-other.DiameterMeters) <= tol &&
		math.Abs(g.Center.Lat-other.Center.Lat) <= tol &&
		math.Abs(g.Center.Lon-other.Center.Lon) <= tol
}

func (g Geofence) String() string {
	if g.IsUnbounded() {
		return "Geofence{unbounded}"
	}
	return fmt.Sprintf("Geofence{center=%s, diameter=%gm}", g.Center, g.DiameterMeters)
}
