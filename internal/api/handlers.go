package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unklstewy/los-relay/internal/db"
	"github.com/unklstewy/los-relay/internal/session"
	"github.com/unklstewy/los-relay/pkg/adsb"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
	"github.com/unklstewy/los-relay/pkg/tracking"
)

// nodeView is one resolved node set: a snapshot projected to a point in time
// with the ground stations merged in.
type nodeView struct {
	snap  *snapshot.Snapshot
	at    time.Time
	nodes []relay.Node
}

// liveView projects the current snapshot to now plus forecast seconds.
func (s *Server) liveView(forecast float64, stations bool) (*nodeView, error) {
	snap, err := s.store.Get()
	if err != nil {
		return nil, err
	}
	return s.view(snap, s.now().Add(seconds(forecast)), stations), nil
}

// storedView projects a stored snapshot to its fetch time plus forecast seconds.
func (s *Server) storedView(snap *snapshot.Snapshot, forecast float64, stations bool) *nodeView {
	return s.view(snap, snap.FetchedAt.Add(seconds(forecast)), stations)
}

func (s *Server) view(snap *snapshot.Snapshot, at time.Time, stations bool) *nodeView {
	nodes := snap.NodesAt(at)
	if stations {
		nodes = relay.Merge(nodes, s.cfg.StationNodes())
	}
	return &nodeView{snap: snap, at: at, nodes: nodes}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// parseForecast reads the forecast query parameter in seconds.
func parseForecast(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("forecast")
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > tracking.MaxForecastSeconds {
		return 0, fmt.Errorf("forecast must be between 0 and %.0f seconds", tracking.MaxForecastSeconds)
	}
	return f, nil
}

// parseBool reads an optional boolean query parameter.
func parseBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", name)
	}
	return v, nil
}

// parseBBox reads bbox=latMin,lonMin,latMax,lonMax.
func parseBBox(raw string) (adsb.BoundingBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return adsb.BoundingBox{}, errors.New("bbox must be latMin,lonMin,latMax,lonMax")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return adsb.BoundingBox{}, fmt.Errorf("invalid bbox value %q", p)
		}
		v[i] = f
	}
	bbox := adsb.BoundingBox{LatMin: v[0], LonMin: v[1], LatMax: v[2], LonMax: v[3]}
	if err := bbox.Validate(); err != nil {
		return adsb.BoundingBox{}, err
	}
	return bbox, nil
}

// respondViewError maps a missing snapshot to 503.
func (s *Server) respondViewError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "no snapshot available yet")
		return
	}
	s.log.WithError(err).Error("Failed to resolve nodes")
	respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to resolve nodes")
}

type nodesResponse struct {
	SnapshotID string       `json:"snapshot_id"`
	Source     string       `json:"source"`
	FetchedAt  time.Time    `json:"fetched_at"`
	At         time.Time    `json:"at"`
	Count      int          `json:"count"`
	Nodes      []relay.Node `json:"nodes"`
}

func newNodesResponse(v *nodeView, nodes []relay.Node) nodesResponse {
	if nodes == nil {
		nodes = []relay.Node{}
	}
	return nodesResponse{
		SnapshotID: v.snap.ID.String(),
		Source:     v.snap.Source,
		FetchedAt:  v.snap.FetchedAt,
		At:         v.at,
		Count:      len(nodes),
		Nodes:      nodes,
	}
}

// handleHealth reports snapshot freshness. It answers 503 until the first
// snapshot arrives or when the snapshot is older than three update intervals.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   s.now().UTC(),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}

	dbOK := true
	if s.dbCheck != nil {
		dbOK = s.dbCheck(r.Context())
		resp["database"] = "ok"
		if !dbOK {
			resp["database"] = "unreachable"
		}
	}

	snap, err := s.store.Get()
	if err != nil {
		resp["status"] = "waiting for first snapshot"
		respondJSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}

	age := snap.Age(s.now())
	resp["snapshot"] = map[string]interface{}{
		"id":          snap.ID,
		"source":      snap.Source,
		"nodes":       len(snap.Nodes),
		"age_seconds": math.Round(age.Seconds()),
	}

	status := http.StatusOK
	switch {
	case age > 3*s.cfg.Feed.UpdateInterval():
		resp["status"] = "stale"
		status = http.StatusServiceUnavailable
	case !dbOK:
		resp["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, r, status, resp)
}

// handleGetNodes lists nodes, optionally projected forward and clipped to a
// bounding box.
func (s *Server) handleGetNodes(w http.ResponseWriter, r *http.Request) {
	forecast, err := parseForecast(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	stations, err := parseBool(r, "stations", true)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	var bbox *adsb.BoundingBox
	if raw := r.URL.Query().Get("bbox"); raw != "" {
		b, err := parseBBox(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		bbox = &b
	}

	v, err := s.liveView(forecast, stations)
	if err != nil {
		s.respondViewError(w, r, err)
		return
	}

	nodes := v.nodes
	if bbox != nil {
		nodes = session.NewPicker(nodes).Within(bbox.LatMin, bbox.LatMax, bbox.LonMin, bbox.LonMax)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	}

	respondJSON(w, r, http.StatusOK, newNodesResponse(v, nodes))
}

// handleGetNode returns one node by id, projected like handleGetNodes.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	forecast, err := parseForecast(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	v, err := s.liveView(forecast, true)
	if err != nil {
		s.respondViewError(w, r, err)
		return
	}

	index := relay.Index(v.nodes)
	n, ok := index[resolveID(index, id)]
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("node %q not found", id))
		return
	}

	resp := map[string]interface{}{
		"snapshot_id": v.snap.ID,
		"at":          v.at,
		"node":        n,
	}
	if pred, ok := v.snap.Predict(n.ID, v.at); ok && !n.Virtual {
		resp["prediction"] = pred
	}
	respondJSON(w, r, http.StatusOK, resp)
}

// resolveID returns the key in index that id refers to. Feed ids are
// lowercase hex, so a miss is retried in lowercase. Unknown ids come back
// unchanged.
func resolveID(index map[string]relay.Node, id string) string {
	if _, ok := index[id]; ok {
		return id
	}
	if lower := strings.ToLower(id); lower != id {
		if _, ok := index[lower]; ok {
			return lower
		}
	}
	return id
}

// handleNearestNode finds the node closest to lat/lon within max_m meters.
func (s *Server) handleNearestNode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "lat and lon are required")
		return
	}
	maxMeters := 50000.0
	if raw := q.Get("max_m"); raw != "" {
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil || m <= 0 {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "max_m must be positive")
			return
		}
		maxMeters = m
	}

	v, err := s.liveView(0, true)
	if err != nil {
		s.respondViewError(w, r, err)
		return
	}

	n, dist, ok := session.NewPicker(v.nodes).Nearest(lat, lon, maxMeters)
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "no node within range")
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"node":       n,
		"distance_m": math.Round(dist),
	})
}

// handleGetStations lists the configured ground stations.
func (s *Server) handleGetStations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, s.cfg.StationNodes())
}

type edgeResponse struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Weight   float64 `json:"weight"`
	Distance float64 `json:"distance_m"`
}

// handleGetGraph returns the visibility graph of the current view. Each
// undirected edge is listed once, from the smaller id.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	metric := s.cfg.Relay.Metric
	if m := r.URL.Query().Get("metric"); m != "" {
		metric = m
	}
	parsed, err := relay.ParseMetric(metric)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	forecast, err := parseForecast(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	v, err := s.liveView(forecast, true)
	if err != nil {
		s.respondViewError(w, r, err)
		return
	}

	g, err := relay.BuildGraph(v.nodes, parsed,
		relay.WithExtraDelay(s.cfg.Relay.ExtraDelaySeconds),
		relay.WithPropagationSpeed(s.cfg.Relay.PropagationSpeed),
	)
	if err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, ErrCodeValidationError, err.Error())
		return
	}

	edges := make([]edgeResponse, 0, g.EdgeCount())
	for _, id := range g.IDs() {
		for _, e := range g.Neighbors(id) {
			if id < e.To {
				edges = append(edges, edgeResponse{From: id, To: e.To, Weight: e.Weight, Distance: math.Round(e.Distance)})
			}
		}
	}

	isolated := g.Isolated()
	if isolated == nil {
		isolated = []string{}
	}

	respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"snapshot_id": v.snap.ID,
		"at":          v.at,
		"metric":      g.Metric(),
		"node_count":  g.Len(),
		"edge_count":  g.EdgeCount(),
		"edges":       edges,
		"isolated":    isolated,
	})
}

// handleListSnapshots lists stored snapshots, newest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "snapshot database is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	list, err := s.repo.List(ctx, limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list snapshots")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to list snapshots")
		return
	}
	if list == nil {
		list = []db.SnapshotSummary{}
	}
	respondJSON(w, r, http.StatusOK, list)
}
