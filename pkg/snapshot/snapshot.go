// Package snapshot holds point-in-time sets of relay nodes, shares the
// latest one between goroutines, and archives them to disk.
package snapshot

import (
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/los-relay/pkg/adsb"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/tracking"
)

// Snapshot is one fetch of the feed. It is never modified after creation:
// code that needs different nodes builds a new slice.
type Snapshot struct {
	ID        uuid.UUID        `json:"id"`
	FetchedAt time.Time        `json:"fetched_at"`
	Source    string           `json:"source"`
	BBox      adsb.BoundingBox `json:"bbox"`
	Nodes     []relay.Node     `json:"nodes"`
}

// New creates a snapshot with a fresh id.
func New(source string, bbox adsb.BoundingBox, nodes []relay.Node, fetchedAt time.Time) *Snapshot {
	return &Snapshot{
		ID:        uuid.New(),
		FetchedAt: fetchedAt.UTC(),
		Source:    source,
		BBox:      bbox,
		Nodes:     nodes,
	}
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// ForecastTime clamps t to the window a forecast from this snapshot is
// allowed to cover: FetchedAt through tracking.MaxForecastSeconds later.
func (s *Snapshot) ForecastTime(t time.Time) time.Time {
	if t.Before(s.FetchedAt) {
		return s.FetchedAt
	}
	limit := s.FetchedAt.Add(time.Duration(tracking.MaxForecastSeconds * float64(time.Second)))
	if t.After(limit) {
		return limit
	}
	return t
}

// NodesAt returns the snapshot nodes extrapolated to t, clamped by
// ForecastTime. A t at or before FetchedAt returns the nodes as fetched.
func (s *Snapshot) NodesAt(t time.Time) []relay.Node {
	to := s.ForecastTime(t)
	if !to.After(s.FetchedAt) {
		return s.Nodes
	}
	return relay.ForecastAt(s.Nodes, s.FetchedAt, to)
}

// Predict forecasts one feed node to t like NodesAt and scores the
// forecast. It reports false when id is not in the snapshot.
func (s *Snapshot) Predict(id string, t time.Time) (tracking.PredictedPosition, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return tracking.Predict(n.Position, n.Velocity, n.Heading, s.FetchedAt, s.ForecastTime(t)), true
		}
	}
	return tracking.PredictedPosition{}, false
}

// WithStations returns the snapshot nodes with stations merged in front.
func (s *Snapshot) WithStations(stations []relay.Node) []relay.Node {
	return relay.Merge(s.Nodes, stations)
}
