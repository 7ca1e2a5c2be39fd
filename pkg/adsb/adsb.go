// Package adsb fetches live aircraft state vectors from online ADS-B
// services and converts them into relay nodes.
package adsb

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
)

// StateVector is one aircraft record as reported by a feed.
// All units are SI: meters, meters per second, degrees.
type StateVector struct {
	// ICAO24 is the unique 24-bit transponder address in hex (e.g., "c0ffee")
	ICAO24 string `json:"icao24"`

	// Callsign is the flight number, whitespace trimmed, possibly empty
	Callsign string `json:"callsign,omitempty"`

	// Latitude and Longitude in decimal degrees, nil when no position is known
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`

	// GeoAltitude is the geometric (GPS) altitude in meters
	GeoAltitude *float64 `json:"geo_altitude,omitempty"`

	// BaroAltitude is the barometric altitude in meters
	BaroAltitude *float64 `json:"baro_altitude,omitempty"`

	// Velocity is ground speed in meters per second
	Velocity *float64 `json:"velocity,omitempty"`

	// TrueTrack is the ground track in degrees clockwise from north
	TrueTrack *float64 `json:"true_track,omitempty"`

	// VerticalRate in meters per second, positive when climbing
	VerticalRate *float64 `json:"vertical_rate,omitempty"`

	OnGround bool `json:"on_ground"`

	// LastContact is when the feed last heard from the transponder
	LastContact time.Time `json:"last_contact"`
}

// HasPosition reports whether both coordinates are present.
func (s StateVector) HasPosition() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Altitude returns the geometric altitude, falling back to barometric,
// and 0 when neither is reported.
func (s StateVector) Altitude() float64 {
	if s.GeoAltitude != nil {
		return *s.GeoAltitude
	}
	if s.BaroAltitude != nil {
		return *s.BaroAltitude
	}
	return 0
}

// BoundingBox is a latitude/longitude rectangle in decimal degrees.
type BoundingBox struct {
	LatMin float64 `json:"lamin" validate:"gte=-90,lte=90"`
	LatMax float64 `json:"lamax" validate:"gte=-90,lte=90,gtefield=LatMin"`
	LonMin float64 `json:"lomin" validate:"gte=-180,lte=180"`
	LonMax float64 `json:"lomax" validate:"gte=-180,lte=180,gtefield=LonMin"`
}

// DefaultBoundingBox covers Canada and the northern United States.
func DefaultBoundingBox() BoundingBox {
	return BoundingBox{LatMin: 40, LatMax: 85, LonMin: -150, LonMax: -50}
}

// Validate checks that the box is well formed. Boxes crossing the
// antimeridian are not supported.
func (b BoundingBox) Validate() error {
	if b.LatMin < -90 || b.LatMax > 90 || b.LatMin > b.LatMax {
		return fmt.Errorf("invalid latitude range [%g, %g]", b.LatMin, b.LatMax)
	}
	if b.LonMin < -180 || b.LonMax > 180 || b.LonMin > b.LonMax {
		return fmt.Errorf("invalid longitude range [%g, %g]", b.LonMin, b.LonMax)
	}
	return nil
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.LatMin + b.LatMax) / 2, (b.LonMin + b.LonMax) / 2
}

// RadiusNM returns the distance in nautical miles from the center to the
// farthest corner, which is the smallest circle enclosing the box.
func (b BoundingBox) RadiusNM() float64 {
	lat, lon := b.Center()
	r := 0.0
	for _, corner := range [][2]float64{
		{b.LatMin, b.LonMin}, {b.LatMin, b.LonMax},
		{b.LatMax, b.LonMin}, {b.LatMax, b.LonMax},
	} {
		d := coordinates.Haversine(lat, lon, corner[0], corner[1]) / coordinates.NauticalMilesToMeters
		r = math.Max(r, d)
	}
	return r
}

// DataSource is the interface that all ADS-B feeds must implement.
type DataSource interface {
	// FetchStates returns the current state vectors inside the box.
	FetchStates(ctx context.Context, bbox BoundingBox) ([]StateVector, error)

	// Name identifies the feed in logs and snapshots.
	Name() string

	// Close cleanly shuts down the data source connection.
	Close() error
}

// ToNodes converts state vectors into relay nodes.
//
// Records without a position are dropped, as are on-ground records unless
// includeOnGround is set. Velocity and heading are only carried when both
// are known; otherwise the node does not move under extrapolation.
func ToNodes(states []StateVector, includeOnGround bool) []relay.Node {
	nodes := make([]relay.Node, 0, len(states))
	seen := make(map[string]struct{}, len(states))

	for _, s := range states {
		if !s.HasPosition() {
			continue
		}
		if s.OnGround && !includeOnGround {
			continue
		}

		id := strings.ToLower(strings.TrimSpace(s.ICAO24))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		n := relay.Node{
			ID:    id,
			Label: strings.TrimSpace(s.Callsign),
			Position: coordinates.Geographic{
				Latitude:  *s.Latitude,
				Longitude: *s.Longitude,
				Altitude:  s.Altitude(),
			},
			OnGround: s.OnGround,
		}
		if s.Velocity != nil && s.TrueTrack != nil {
			v, h := *s.Velocity, *s.TrueTrack
			n.Velocity = &v
			n.Heading = &h
		}
		nodes = append(nodes, n)
	}

	return nodes
}
