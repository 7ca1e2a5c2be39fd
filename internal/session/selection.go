// Package session holds the start/end selection a presentation surface
// keeps between snapshot refreshes.
package session

import (
	"github.com/unklstewy/los-relay/pkg/relay"
)

// Mode is what the next pick assigns.
type Mode int

const (
	ModeNone Mode = iota
	ModeStart
	ModeEnd
)

func (m Mode) String() string {
	switch m {
	case ModeStart:
		return "select start"
	case ModeEnd:
		return "select end"
	default:
		return "none"
	}
}

// Selection is the caller-held start and end choice. It stores ids only,
// so it stays valid across snapshots and is re-resolved on each refresh.
// The zero value is an empty selection.
type Selection struct {
	StartID string
	EndID   string
	Mode    Mode
}

// Resolution is the outcome of resolving a selection against a snapshot.
type Resolution struct {
	Start *relay.Node
	End   *relay.Node

	// StartCleared and EndCleared report a role that was set but whose
	// node is absent from the snapshot
	StartCleared bool
	EndCleared   bool
}

// SetStart selects the start node.
func (s *Selection) SetStart(id string) {
	s.StartID = id
}

// SetEnd selects the end node.
func (s *Selection) SetEnd(id string) {
	s.EndID = id
}

// Arm sets the role the next Pick assigns.
func (s *Selection) Arm(m Mode) {
	s.Mode = m
}

// Pick assigns id to the armed role and disarms. It reports false when no
// role was armed.
func (s *Selection) Pick(id string) bool {
	switch s.Mode {
	case ModeStart:
		s.StartID = id
	case ModeEnd:
		s.EndID = id
	default:
		return false
	}
	s.Mode = ModeNone
	return true
}

// Clear drops both roles and disarms.
func (s *Selection) Clear() {
	*s = Selection{}
}

// Ready reports whether both roles are set.
func (s *Selection) Ready() bool {
	return s.StartID != "" && s.EndID != ""
}

// Resolve looks both ids up in nodes. A role whose node has gone is cleared
// on the selection and flagged in the result; that is a normal outcome of a
// refresh, not an error.
func (s *Selection) Resolve(nodes []relay.Node) Resolution {
	var res Resolution
	if s.StartID == "" && s.EndID == "" {
		return res
	}

	byID := relay.Index(nodes)

	if s.StartID != "" {
		if n, ok := byID[s.StartID]; ok {
			res.Start = &n
		} else {
			s.StartID = ""
			res.StartCleared = true
		}
	}
	if s.EndID != "" {
		if n, ok := byID[s.EndID]; ok {
			res.End = &n
		} else {
			s.EndID = ""
			res.EndCleared = true
		}
	}
	return res
}

// Query builds a relay query for the current selection from base, which
// supplies the metric and delay settings.
func (s *Selection) Query(base relay.Query) relay.Query {
	base.StartID = s.StartID
	base.EndID = s.EndID
	return base
}
