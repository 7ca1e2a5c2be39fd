package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang/geo/s2"
	"github.com/google/uuid"
	"github.com/twpayne/go-polyline"

	"github.com/unklstewy/los-relay/internal/metrics"
	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// PathRequest is the body of POST /api/v1/path. Unset optional fields fall
// back to the relay configuration.
type PathRequest struct {
	Start      string   `json:"start" validate:"required"`
	End        string   `json:"end" validate:"required"`
	Metric     string   `json:"metric" validate:"omitempty,oneof=delay hops"`
	ExtraDelay *float64 `json:"extra_delay" validate:"omitempty,gte=0"`
	Forecast   *float64 `json:"forecast" validate:"omitempty,gte=0,lte=1200"`
	Stations   *bool    `json:"stations"`

	// SnapshotID selects a stored snapshot instead of the live one
	SnapshotID string `json:"snapshot_id" validate:"omitempty,uuid"`
}

// Bounds is the lat/lon rectangle enclosing a path.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Leg is one hop of a found path.
type Leg struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	DistanceM float64 `json:"distance_m"`

	// Bearing is the initial great-circle bearing from From, in degrees
	Bearing float64 `json:"bearing_deg"`
}

// PathResponse is a path result plus the context it was computed in.
type PathResponse struct {
	relay.PathResult
	Hops       int       `json:"hops"`
	Legs       []Leg     `json:"legs,omitempty"`
	DelayMS    *float64  `json:"delay_ms,omitempty"`
	Polyline   string    `json:"polyline,omitempty"`
	Bounds     *Bounds   `json:"bounds,omitempty"`
	SnapshotID string    `json:"snapshot_id"`
	FetchedAt  time.Time `json:"fetched_at"`
	At         time.Time `json:"at"`
}

// handleFindPath runs one relay path query.
func (s *Server) handleFindPath(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationError, validationMessage(err))
		return
	}

	q, err := s.cfg.Relay.Query(req.Start, req.End)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if req.Metric != "" {
		q.Metric, _ = relay.ParseMetric(req.Metric)
	}
	if req.ExtraDelay != nil {
		q.ExtraDelay = *req.ExtraDelay
	}
	forecast := s.cfg.Relay.ForecastSeconds
	if req.Forecast != nil {
		forecast = *req.Forecast
	}
	stations := true
	if req.Stations != nil {
		stations = *req.Stations
	}

	var v *nodeView
	if req.SnapshotID != "" {
		snap, err := s.storedSnapshot(r.Context(), req.SnapshotID)
		if err != nil {
			s.respondSnapshotError(w, r, err)
			return
		}
		v = s.storedView(snap, forecast, stations)
	} else {
		v, err = s.liveView(forecast, stations)
		if err != nil {
			s.respondViewError(w, r, err)
			return
		}
	}

	index := relay.Index(v.nodes)
	q.StartID = resolveID(index, q.StartID)
	q.EndID = resolveID(index, q.EndID)

	result, err := relay.Route(v.nodes, q)
	if err != nil {
		metrics.ObservePath(q.Metric.String(), "error", 0)
		var unknown *relay.UnknownNodeError
		var dup *relay.DuplicateNodeError
		switch {
		case errors.As(err, &unknown):
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, unknown.Error())
		case errors.As(err, &dup):
			respondError(w, r, http.StatusUnprocessableEntity, ErrCodeValidationError, dup.Error())
		default:
			s.log.WithError(err).Error("Path search failed")
			respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "path search failed")
		}
		return
	}

	outcome := "not_found"
	if result.Found {
		outcome = "found"
	}
	metrics.ObservePath(q.Metric.String(), outcome, result.Hops())

	respondJSON(w, r, http.StatusOK, newPathResponse(result, v))
}

func newPathResponse(result relay.PathResult, v *nodeView) PathResponse {
	resp := PathResponse{
		PathResult: result,
		Hops:       result.Hops(),
		SnapshotID: v.snap.ID.String(),
		FetchedAt:  v.snap.FetchedAt,
		At:         v.at,
	}
	if !result.Found {
		return resp
	}

	if result.Metric == relay.MetricDelay {
		ms := result.Cost * 1000
		resp.DelayMS = &ms
	}

	for i := 0; i+1 < len(result.Nodes); i++ {
		a, b := result.Nodes[i], result.Nodes[i+1]
		resp.Legs = append(resp.Legs, Leg{
			From:      a.ID,
			To:        b.ID,
			DistanceM: coordinates.DistanceMeters(a.Position, b.Position),
			Bearing:   coordinates.Bearing(a.Position, b.Position),
		})
	}

	coords := make([][]float64, len(result.Nodes))
	rect := s2.EmptyRect()
	for i, n := range result.Nodes {
		coords[i] = []float64{n.Position.Latitude, n.Position.Longitude}
		rect = rect.AddPoint(s2.LatLngFromDegrees(n.Position.Latitude, n.Position.Longitude))
	}
	resp.Polyline = string(polyline.EncodeCoords(coords))
	resp.Bounds = &Bounds{
		South: rect.Lo().Lat.Degrees(),
		West:  rect.Lo().Lng.Degrees(),
		North: rect.Hi().Lat.Degrees(),
		East:  rect.Hi().Lng.Degrees(),
	}
	return resp
}

var errNoRepository = errors.New("snapshot database is disabled")

func (s *Server) storedSnapshot(ctx context.Context, rawID string) (*snapshot.Snapshot, error) {
	if s.repo == nil {
		return nil, errNoRepository
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, err
	}

	// Concurrent requests for one snapshot share a single load. The load
	// outlives any one caller's cancellation.
	v, err, _ := s.loads.Do(id.String(), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.repo.ByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot.Snapshot), nil
}

func (s *Server) respondSnapshotError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNoRepository):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, snapshot.ErrNoSnapshot):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "snapshot not found")
	default:
		s.log.WithError(err).Error("Failed to load snapshot")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to load snapshot")
	}
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
	}
	return strings.Join(msgs, "; ")
}
