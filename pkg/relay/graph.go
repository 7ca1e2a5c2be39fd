package relay

import (
	"sort"

	"github.com/unklstewy/los-relay/pkg/coordinates"
)

// DefaultPropagationSpeed divides edge distance (meters) to give the delay
// weight. It is a round approximation, not a physical constant.
const DefaultPropagationSpeed = 300000.0

// Edge is one direction of a line-of-sight link.
type Edge struct {
	// To is the neighbor node id
	To string `json:"to"`

	// Weight is the search cost of the edge under the graph's metric
	Weight float64 `json:"weight"`

	// Distance is the great-circle distance in meters
	Distance float64 `json:"distance_m"`
}

// Graph is a symmetric visibility graph over one snapshot.
// It has no self loops and at most one edge per unordered node pair.
type Graph struct {
	metric Metric
	order  []string
	adj    map[string][]Edge
	edges  int
}

// GraphOptions holds the tunables for BuildGraph.
type GraphOptions struct {
	// ExtraDelay is a constant per-hop overhead added to delay weights
	ExtraDelay float64

	// PropagationSpeed divides distance to give delay weights
	PropagationSpeed float64
}

// GraphOption configures BuildGraph.
type GraphOption func(*GraphOptions)

// WithExtraDelay adds a constant per-hop overhead to every delay weight.
func WithExtraDelay(seconds float64) GraphOption {
	return func(o *GraphOptions) {
		o.ExtraDelay = seconds
	}
}

// WithPropagationSpeed overrides DefaultPropagationSpeed. Non-positive
// values are ignored.
func WithPropagationSpeed(speed float64) GraphOption {
	return func(o *GraphOptions) {
		if speed > 0 {
			o.PropagationSpeed = speed
		}
	}
}

// BuildGraph evaluates every unordered pair of nodes and links the pairs
// whose great-circle distance is within their combined radio horizon.
//
// Under MetricHops every edge weighs 1. Under MetricDelay an edge weighs
// distance/PropagationSpeed + ExtraDelay. The pairwise evaluation is
// O(N²), which is fine for the tens to low hundreds of nodes a snapshot
// holds.
func BuildGraph(nodes []Node, metric Metric, opts ...GraphOption) (*Graph, error) {
	if !metric.Valid() {
		return nil, ErrUnknownMetric
	}

	o := GraphOptions{PropagationSpeed: DefaultPropagationSpeed}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Graph{
		metric: metric,
		order:  make([]string, 0, len(nodes)),
		adj:    make(map[string][]Edge, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := g.adj[n.ID]; dup {
			return nil, &DuplicateNodeError{ID: n.ID}
		}
		g.adj[n.ID] = nil
		g.order = append(g.order, n.ID)
	}

	for i := 0; i < len(nodes); i++ {
		a := nodes[i]
		for j := i + 1; j < len(nodes); j++ {
			b := nodes[j]

			d := coordinates.DistanceMeters(a.Position, b.Position)
			if d > coordinates.MaxLOSRange(a.LOSAltitude(), b.LOSAltitude()) {
				continue
			}

			w := 1.0
			if metric == MetricDelay {
				w = d/o.PropagationSpeed + o.ExtraDelay
			}

			g.adj[a.ID] = append(g.adj[a.ID], Edge{To: b.ID, Weight: w, Distance: d})
			g.adj[b.ID] = append(g.adj[b.ID], Edge{To: a.ID, Weight: w, Distance: d})
			g.edges++
		}
	}

	for id, edges := range g.adj {
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
		g.adj[id] = edges
	}

	return g, nil
}

// Metric returns the metric the graph was built with.
func (g *Graph) Metric() Metric {
	return g.metric
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// EdgeCount returns the number of undirected edges.
func (g *Graph) EdgeCount() int {
	return g.edges
}

// IDs returns node ids in snapshot order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.adj[id]
	return ok
}

// Neighbors returns the edges leaving id, sorted by neighbor id.
// The returned slice must not be modified.
func (g *Graph) Neighbors(id string) []Edge {
	return g.adj[id]
}

// Degree returns the number of neighbors of id.
func (g *Graph) Degree(id string) int {
	return len(g.adj[id])
}

// Weight returns the weight of the edge a-b.
func (g *Graph) Weight(a, b string) (float64, bool) {
	edges := g.adj[a]
	i := sort.Search(len(edges), func(i int) bool { return edges[i].To >= b })
	if i < len(edges) && edges[i].To == b {
		return edges[i].Weight, true
	}
	return 0, false
}

// Isolated returns the ids of nodes with no neighbors, in snapshot order.
func (g *Graph) Isolated() []string {
	var out []string
	for _, id := range g.order {
		if g.Degree(id) == 0 {
			out = append(out, id)
		}
	}
	return out
}
