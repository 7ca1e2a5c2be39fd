package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/unklstewy/los-relay/internal/metrics"
	"github.com/unklstewy/los-relay/internal/ws"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// handleNodeStream upgrades to a WebSocket that receives a nodes event on
// every snapshot refresh and forecast tick.
func (s *Server) handleNodeStream(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{
		CompressionMode:      websocket.CompressionContextTakeover,
		CompressionThreshold: 128,
	}
	if origins := s.cfg.Server.AllowedOrigins; len(origins) > 0 {
		opts.OriginPatterns = origins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.WithError(err).Error("websocket accept failed")
		return
	}

	client := ws.NewClient(s.hub, conn)
	s.hub.Register(client)

	// Cancel when either the server shuts down or the request ends.
	wsCtx, wsCancel := context.WithCancel(s.appCtx)
	go func() {
		select {
		case <-r.Context().Done():
			wsCancel()
		case <-wsCtx.Done():
		}
	}()

	go client.WritePump(wsCtx)
	client.ReadPump(wsCtx)
	wsCancel()
}

// PublishSnapshot pushes a snapshot to every connected stream client,
// with the ground stations merged in, and records its graph size.
func (s *Server) PublishSnapshot(snap *snapshot.Snapshot) {
	v := s.view(snap, snap.FetchedAt, true)

	if metric, err := s.cfg.Relay.ParsedMetric(); err == nil {
		if g, err := relay.BuildGraph(v.nodes, metric); err == nil {
			metrics.GraphEdges.WithLabelValues(metric.String()).Set(float64(g.EdgeCount()))
		}
	}

	s.publish(v)
}

// StreamForecasts republishes the live snapshot projected to the current
// time on every tick until ctx is done. Ticks with no clients are skipped.
func (s *Server) StreamForecasts(ctx context.Context, interval time.Duration) {
	if s.hub == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.hub.ClientCount() == 0 {
			continue
		}
		v, err := s.liveView(0, true)
		if err != nil {
			continue
		}
		s.publish(v)
	}
}

func (s *Server) publish(v *nodeView) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(ws.EventNodes, ws.NodesPayload{
		SnapshotID: v.snap.ID.String(),
		FetchedAt:  v.snap.FetchedAt,
		At:         v.at,
		Source:     v.snap.Source,
		Nodes:      v.nodes,
	})
}
