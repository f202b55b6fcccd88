package spatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Location is a WGS84 coordinate
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// NewLocation creates a location from latitude and longitude in degrees
func NewLocation(lat, lon float64) Location {
	return Location{Lat: lat, Lon: lon}
}

// Validate reports coordinates outside the WGS84 range
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", l.Lon)
	}
	return nil
}

// Point converts the location to an orb point (lon, lat order)
func (l Location) Point() orb.Point {
	return orb.Point{l.Lon, l.Lat}
}

// DistanceMeters returns the great-circle distance between two locations
func DistanceMeters(a, b Location) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point())
}

func (l Location) String() string {
	return fmt.Sprintf("(%g, %g)", l.Lat, l.Lon)
}

func locationFromPoint(p orb.Point) Location {
	return Location{Lat: p.Lat(), Lon: p.Lon()}
}
