package ws

import (
	"encoding/json"
	"time"
)

// Event types pushed to clients.
const (
	EventNodes    = "nodes"
	EventShutdown = "shutdown"
)

// Event is the structured message sent to WebSocket clients.
type Event struct {
	Type string          `json:"type"`
	ID   uint64          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
	Time time.Time       `json:"time"`
}

// NodesPayload carries a full snapshot of node positions projected to At.
type NodesPayload struct {
	SnapshotID string    `json:"snapshot_id"`
	FetchedAt  time.Time `json:"fetched_at"`
	At         time.Time `json:"at"`
	Source     string    `json:"source"`
	Nodes      any       `json:"nodes"`
}
