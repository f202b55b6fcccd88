package spatial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// ErrEmptyGeometry is returned for geometries without any coordinate
var ErrEmptyGeometry = errors.New("geometry has no coordinates")

const bufferPrefix = "BUFFER"

// ParseGeofence converts a geometry text into a Geofence.
//
// Supported forms:
//
//	POINT(lon lat)                 a fence of diameter 0
//	BUFFER(POINT(lon lat), r)      a circle of radius r meters, r < 0 is unbounded
//	any other orb WKT geometry     the enclosing circle around its bound center
func ParseGeofence(text string) (Geofence, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Geofence{}, fmt.Errorf("empty geometry text")
	}

	if strings.HasPrefix(strings.ToUpper(s), bufferPrefix) {
		return parseBuffer(s)
	}

	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return Geofence{}, fmt.Errorf("invalid WKT %q: %w", s, err)
	}

	if p, ok := geom.(orb.Point); ok {
		loc := locationFromPoint(p)
		if err := loc.Validate(); err != nil {
			return Geofence{}, err
		}
		return NewGeofence(loc, 0), nil
	}

	return enclosingFence(geom)
}

// FormatGeofence renders a fence in the form accepted by ParseGeofence
func FormatGeofence(g Geofence) string {
	point := wkt.MarshalString(g.Center.Point())
	if g.DiameterMeters == 0 {
		return point
	}
	radius := g.DiameterMeters / 2
	if g.IsUnbounded() {
		radius = -1
	}
	return fmt.Sprintf("%s(%s, %s)", bufferPrefix, point, strconv.FormatFloat(radius, 'g', -1, 64))
}

func parseBuffer(s string) (Geofence, error) {
	open := strings.Index(s, "(")
	closing := strings.LastIndex(s, ")")
	if open < 0 || closing < open {
		return Geofence{}, fmt.Errorf("invalid BUFFER %q: unbalanced parentheses", s)
	}

	inner := s[open+1 : closing]
	comma := strings.LastIndex(inner, ",")
	if comma < 0 {
		return Geofence{}, fmt.Errorf("invalid BUFFER %q: missing distance", s)
	}

	p, err := wkt.UnmarshalPoint(strings.TrimSpace(inner[:comma]))
	if err != nil {
		return Geofence{}, fmt.Errorf("invalid BUFFER %q: %w", s, err)
	}

	radius, err := strconv.ParseFloat(strings.TrimSpace(inner[comma+1:]), 64)
	if err != nil {
		return Geofence{}, fmt.Errorf("invalid BUFFER %q: distance: %w", s, err)
	}

	loc := locationFromPoint(p)
	if err := loc.Validate(); err != nil {
		return Geofence{}, err
	}

	if radius < 0 {
		return Geofence{Center: loc, DiameterMeters: -1}, nil
	}
	return NewGeofence(loc, 2*radius), nil
}

func enclosingFence(geom orb.Geometry) (Geofence, error) {
	points := collectPoints(geom)
	if len(points) == 0 {
		return Geofence{}, ErrEmptyGeometry
	}

	center := locationFromPoint(geom.Bound().Center())
	if err := center.Validate(); err != nil {
		return Geofence{}, err
	}

	var radius float64
	for _, p := range points {
		if d := DistanceMeters(center, locationFromPoint(p)); d > radius {
			radius = d
		}
	}
	return NewGeofence(center, 2*radius), nil
}

func collectPoints(geom orb.Geometry) []orb.Point {
	switch g := geom.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.MultiPoint:
		return []orb.Point(g)
	case orb.LineString:
		return []orb.Point(g)
	case orb.Ring:
		return []orb.Point(g)
	case orb.MultiLineString:
		var out []orb.Point
		for _, ls := range g {
			out = append(out, ls...)
		}
		return out
	case orb.Polygon:
		var out []orb.Point
		for _, r := range g {
			out = append(out, r...)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.Point
		for _, poly := range g {
			out = append(out, collectPoints(poly)...)
		}
		return out
	case orb.Collection:
		var out []orb.Point
		for _, child := range g {
			out = append(out, collectPoints(child)...)
		}
		return out
	case orb.Bound:
		return []orb.Point{g.Min, g.Max}
	}
	return nil
}
