package relay

import "fmt"

// Query describes one relay path request against a snapshot.
type Query struct {
	StartID string
	EndID   string
	Metric  Metric

	// ExtraDelay is a per-hop overhead in seconds, delay metric only
	ExtraDelay float64

	// PropagationSpeed overrides DefaultPropagationSpeed when positive
	PropagationSpeed float64
}

// Route runs one complete query: it builds the visibility graph over
// nodes, searches it and resolves the resulting ids back to nodes. Every
// step uses the same node slice, so the result never mixes snapshots.
//
// An unreachable end yields a PathResult with Found false and a nil error.
func Route(nodes []Node, q Query) (PathResult, error) {
	g, err := BuildGraph(nodes, q.Metric,
		WithExtraDelay(q.ExtraDelay),
		WithPropagationSpeed(q.PropagationSpeed),
	)
	if err != nil {
		return PathResult{}, fmt.Errorf("failed to build visibility graph: %w", err)
	}
	return RouteGraph(g, nodes, q.StartID, q.EndID)
}

// RouteGraph searches an already built graph and resolves the path against
// nodes, which must be the slice g was built from.
func RouteGraph(g *Graph, nodes []Node, startID, endID string) (PathResult, error) {
	ids, err := FindPath(g, startID, endID, g.Metric())
	if err != nil {
		return PathResult{}, err
	}

	result := PathResult{Metric: g.Metric()}
	if ids == nil {
		return result, nil
	}

	path, err := ResolvePath(ids, nodes)
	if err != nil {
		return PathResult{}, err
	}

	cost, ok := PathCost(g, ids)
	if !ok {
		return PathResult{}, fmt.Errorf("search returned non-adjacent hop in %v", ids)
	}

	result.Found = true
	result.Nodes = path
	result.Cost = cost
	return result, nil
}
