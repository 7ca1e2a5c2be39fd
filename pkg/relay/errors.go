package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMetric is returned for a metric selector other than delay or hops
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrMetricMismatch is returned when a graph is searched with a metric
	// other than the one it was built with
	ErrMetricMismatch = errors.New("graph metric does not match search metric")
)

// UnknownNodeError is returned when a path query names a node that is not
// in the graph.
type UnknownNodeError struct {
	ID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("node %q is not in the graph", e.ID)
}

// DuplicateNodeError is returned when a snapshot carries the same id twice.
type DuplicateNodeError struct {
	ID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node id %q in snapshot", e.ID)
}

// InconsistencyError reports that a path produced by a successful search
// references an id missing from the node set used to resolve it. This
// means the caller resolved against a different snapshot than the one the
// graph was built from.
type InconsistencyError struct {
	ID       string
	Position int
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("internal consistency violation: path element %d (%q) not found in snapshot", e.Position, e.ID)
}
