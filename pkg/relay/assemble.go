package relay

// PathResult is the outcome of one path query.
type PathResult struct {
	// Found is false when start and end lie in different components
	Found bool `json:"found"`

	// Metric is the metric the path was optimized for
	Metric Metric `json:"metric"`

	// Nodes runs from start to end inclusive when Found
	Nodes []Node `json:"nodes,omitempty"`

	// Cost is the sum of edge weights along Nodes
	Cost float64 `json:"cost"`
}

// Hops returns the number of edges in the path.
func (r PathResult) Hops() int {
	if len(r.Nodes) == 0 {
		return 0
	}
	return len(r.Nodes) - 1
}

// IDs returns the node ids along the path.
func (r PathResult) IDs() []string {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Project returns a copy of the result with every node extrapolated by
// elapsedSeconds. Cost is left as computed at query time.
func (r PathResult) Project(elapsedSeconds float64) PathResult {
	if len(r.Nodes) > 0 {
		r.Nodes = Forecast(r.Nodes, elapsedSeconds)
	}
	return r
}

// ResolvePath maps ids back to the full node records in nodes, keeping
// order. Empty ids (no path) resolve to nil with no error.
//
// Every id must be present in nodes. A miss means the node set differs
// from the one the graph was built from, and is reported as an
// *InconsistencyError rather than a partially filled path.
func ResolvePath(ids []string, nodes []Node) ([]Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := Index(nodes)
	out := make([]Node, len(ids))
	for i, id := range ids {
		n, ok := byID[id]
		if !ok {
			return nil, &InconsistencyError{ID: id, Position: i}
		}
		out[i] = n
	}
	return out, nil
}
