package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unklstewy/los-relay/pkg/adsb"
	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// SnapshotRepository handles database operations for relay snapshots.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// SnapshotSummary describes a stored snapshot without its nodes.
type SnapshotSummary struct {
	ID        uuid.UUID `json:"id"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
	NodeCount int       `json:"node_count"`
}

var nodeColumns = []string{
	"snapshot_id", "seq", "node_id", "label",
	"latitude", "longitude", "altitude_m",
	"velocity_ms", "heading_deg", "on_ground", "is_virtual",
}

// Save stores a snapshot and all of its nodes in one transaction. Nodes
// are streamed with COPY.
func (r *SnapshotRepository) Save(ctx context.Context, s *snapshot.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, fetched_at, source, lat_min, lat_max, lon_min, lon_max, node_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.FetchedAt, s.Source,
		s.BBox.LatMin, s.BBox.LatMax, s.BBox.LonMin, s.BBox.LonMax,
		len(s.Nodes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("snapshot_nodes", nodeColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare node copy: %w", err)
	}

	for i, n := range s.Nodes {
		_, err := stmt.ExecContext(ctx,
			s.ID.String(), i, n.ID, n.Label,
			n.Position.Latitude, n.Position.Longitude, n.Position.Altitude,
			nullFloat(n.Velocity), nullFloat(n.Heading), n.OnGround, n.Virtual,
		)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy node %s: %w", n.ID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush node copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close node copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recently fetched snapshot, or
// snapshot.ErrNoSnapshot when the table is empty.
func (r *SnapshotRepository) Latest(ctx context.Context) (*snapshot.Snapshot, error) {
	return r.load(ctx,
		`SELECT id, fetched_at, source, lat_min, lat_max, lon_min, lon_max
		 FROM snapshots ORDER BY fetched_at DESC LIMIT 1`)
}

// ByID returns one snapshot, or snapshot.ErrNoSnapshot when it does not exist.
func (r *SnapshotRepository) ByID(ctx context.Context, id uuid.UUID) (*snapshot.Snapshot, error) {
	return r.load(ctx,
		`SELECT id, fetched_at, source, lat_min, lat_max, lon_min, lon_max
		 FROM snapshots WHERE id = $1`, id)
}

// List returns up to limit snapshot summaries, newest first.
func (r *SnapshotRepository) List(ctx context.Context, limit int) ([]SnapshotSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fetched_at, source, node_count
		 FROM snapshots ORDER BY fetched_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		if err := rows.Scan(&s.ID, &s.FetchedAt, &s.Source, &s.NodeCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SnapshotRepository) load(ctx context.Context, query string, args ...interface{}) (*snapshot.Snapshot, error) {
	var s snapshot.Snapshot
	var bbox adsb.BoundingBox
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.FetchedAt, &s.Source,
		&bbox.LatMin, &bbox.LatMax, &bbox.LonMin, &bbox.LonMax,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapshot.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	s.BBox = bbox
	s.FetchedAt = s.FetchedAt.UTC()

	nodes, err := r.nodes(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Nodes = nodes
	return &s, nil
}

func (r *SnapshotRepository) nodes(ctx context.Context, id uuid.UUID) ([]relay.Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT node_id, label, latitude, longitude, altitude_m,
		        velocity_ms, heading_deg, on_ground, is_virtual
		 FROM snapshot_nodes WHERE snapshot_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot nodes: %w", err)
	}
	defer rows.Close()

	nodes := []relay.Node{}
	for rows.Next() {
		var n relay.Node
		var pos coordinates.Geographic
		var velocity, heading sql.NullFloat64
		if err := rows.Scan(&n.ID, &n.Label, &pos.Latitude, &pos.Longitude, &pos.Altitude,
			&velocity, &heading, &n.OnGround, &n.Virtual); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Position = pos
		n.Velocity = floatPtr(velocity)
		n.Heading = floatPtr(heading)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
