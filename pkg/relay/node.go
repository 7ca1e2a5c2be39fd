// Package relay builds line-of-sight visibility graphs over a snapshot of
// airborne nodes and finds multi-hop relay paths through them.
//
// The package is a pure, synchronous library: it starts no goroutines,
// performs no I/O and never mutates its inputs. A Graph is immutable once
// built and may be shared between concurrent readers. Callers own the node
// slices they pass in and must not mutate them during a call.
package relay

import (
	"time"

	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/tracking"
)

// Node is a point in the visibility graph at one moment in time.
type Node struct {
	// ID is unique and stable within a snapshot (the ICAO24 address for aircraft)
	ID string `json:"id"`

	// Label is an optional human-readable tag such as a callsign
	Label string `json:"label,omitempty"`

	// Position holds latitude/longitude in degrees and altitude in meters.
	// Negative altitude is treated as ground level for LOS purposes.
	Position coordinates.Geographic `json:"position"`

	// Velocity is ground speed in meters per second, nil when unknown
	Velocity *float64 `json:"velocity,omitempty"`

	// Heading is true track in degrees [0, 360), nil when unknown
	Heading *float64 `json:"heading,omitempty"`

	// OnGround is set by the feed for surface traffic
	OnGround bool `json:"on_ground,omitempty"`

	// Virtual marks a configured ground station rather than a feed record
	Virtual bool `json:"virtual,omitempty"`
}

// DisplayName returns the label, or the id when no label is set.
func (n Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// LOSAltitude returns the altitude used for horizon calculations.
func (n Node) LOSAltitude() float64 {
	if n.Position.Altitude < 0 {
		return 0
	}
	return n.Position.Altitude
}

// Extrapolate returns a copy of the node moved forward by elapsedSeconds.
func (n Node) Extrapolate(elapsedSeconds float64) Node {
	n.Position = tracking.Extrapolate(n.Position, n.Velocity, n.Heading, elapsedSeconds)
	return n
}

// ExtrapolateAt returns a copy of the node, observed at from, moved to to.
func (n Node) ExtrapolateAt(from, to time.Time) Node {
	n.Position = tracking.ExtrapolateAt(n.Position, n.Velocity, n.Heading, from, to)
	return n
}

// ForecastAt is Forecast between two timestamps.
func ForecastAt(nodes []Node, from, to time.Time) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.ExtrapolateAt(from, to)
	}
	return out
}

// Forecast returns a new slice with every node extrapolated by
// elapsedSeconds. The input slice is not modified.
func Forecast(nodes []Node, elapsedSeconds float64) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Extrapolate(elapsedSeconds)
	}
	return out
}

// FilterAirborne returns the nodes that are not on the ground.
// Virtual ground stations are always kept.
func FilterAirborne(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.OnGround && !n.Virtual {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Merge prepends stations to a snapshot. A station id takes precedence: a
// snapshot node with the same id is dropped.
func Merge(snapshot []Node, stations []Node) []Node {
	if len(stations) == 0 {
		return snapshot
	}

	taken := make(map[string]struct{}, len(stations))
	out := make([]Node, 0, len(snapshot)+len(stations))
	for _, s := range stations {
		if _, dup := taken[s.ID]; dup {
			continue
		}
		s.Virtual = true
		taken[s.ID] = struct{}{}
		out = append(out, s)
	}
	for _, n := range snapshot {
		if _, dup := taken[n.ID]; dup {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Index maps node ids to nodes.
func Index(nodes []Node) map[string]Node {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return byID
}
