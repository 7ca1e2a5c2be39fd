package session

import (
	"math"

	"github.com/dhconnelly/rtreego"

	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
)

const (
	// pointTolerance is the half side of each node's bounding box in degrees
	pointTolerance = 0.0001

	// candidates is how many R-tree neighbors are re-ranked by great-circle distance
	candidates = 8
)

type spatialNode struct {
	location rtreego.Point
	node     relay.Node
}

func (s *spatialNode) Bounds() rtreego.Rect {
	return s.location.ToRect(pointTolerance)
}

// Picker finds the node nearest to a clicked position. It is built once per
// snapshot and is read-only afterwards.
type Picker struct {
	tree *rtreego.Rtree
	size int
}

// NewPicker indexes nodes by latitude and longitude.
func NewPicker(nodes []relay.Node) *Picker {
	objs := make([]rtreego.Spatial, len(nodes))
	for i, n := range nodes {
		objs[i] = &spatialNode{
			location: rtreego.Point{n.Position.Latitude, n.Position.Longitude},
			node:     n,
		}
	}
	return &Picker{
		tree: rtreego.NewTree(2, 25, 50, objs...),
		size: len(nodes),
	}
}

// Len returns the number of indexed nodes.
func (p *Picker) Len() int {
	return p.size
}

// Nearest returns the node closest to (lat, lon) and its great-circle
// distance in meters. maxMeters > 0 rejects nodes farther than that.
func (p *Picker) Nearest(lat, lon, maxMeters float64) (relay.Node, float64, bool) {
	if p.size == 0 {
		return relay.Node{}, 0, false
	}

	// Degree space distorts east-west distance away from the equator, so
	// the R-tree only nominates candidates.
	found := p.tree.NearestNeighbors(candidates, rtreego.Point{lat, lon})

	best := math.Inf(1)
	var bestNode relay.Node
	for _, obj := range found {
		sn, ok := obj.(*spatialNode)
		if !ok {
			continue
		}
		d := coordinates.Haversine(lat, lon, sn.node.Position.Latitude, sn.node.Position.Longitude)
		if d < best || (d == best && sn.node.ID < bestNode.ID) {
			best = d
			bestNode = sn.node
		}
	}

	if math.IsInf(best, 1) {
		return relay.Node{}, 0, false
	}
	if maxMeters > 0 && best > maxMeters {
		return relay.Node{}, best, false
	}
	return bestNode, best, true
}

// Within returns the nodes inside the lat/lon box, in no particular order.
func (p *Picker) Within(latMin, latMax, lonMin, lonMax float64) []relay.Node {
	if p.size == 0 || latMax < latMin || lonMax < lonMin {
		return nil
	}

	rect, err := rtreego.NewRect(
		rtreego.Point{latMin, lonMin},
		[]float64{math.Max(latMax-latMin, pointTolerance), math.Max(lonMax-lonMin, pointTolerance)},
	)
	if err != nil {
		return nil
	}

	var out []relay.Node
	for _, obj := range p.tree.SearchIntersect(rect) {
		if sn, ok := obj.(*spatialNode); ok {
			out = append(out, sn.node)
		}
	}
	return out
}
