// Package api serves the relay REST API and the node WebSocket stream.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/unklstewy/los-relay/internal/db"
	"github.com/unklstewy/los-relay/internal/metrics"
	"github.com/unklstewy/los-relay/internal/ws"
	"github.com/unklstewy/los-relay/pkg/config"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// SnapshotRepository is the read side of the snapshot database.
// *db.SnapshotRepository implements it.
type SnapshotRepository interface {
	ByID(ctx context.Context, id uuid.UUID) (*snapshot.Snapshot, error)
	List(ctx context.Context, limit int) ([]db.SnapshotSummary, error)
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	store    *snapshot.Store
	repo     SnapshotRepository
	hub      *ws.Hub
	appCtx   context.Context
	log      *logrus.Logger
	validate *validator.Validate
	loads    singleflight.Group
	dbCheck  func(context.Context) bool

	// now defaults to time.Now
	now func() time.Time
}

// Options configures a Server. Repo, Hub and DBCheck are optional.
type Options struct {
	Config *config.Config
	Store  *snapshot.Store
	Repo   SnapshotRepository
	Hub    *ws.Hub
	Log    *logrus.Logger

	// DBCheck reports database reachability for /health
	DBCheck func(context.Context) bool

	// AppCtx bounds WebSocket connections; they close when it is cancelled
	AppCtx context.Context
}

// NewServer creates a Server with all routes registered.
func NewServer(opts Options) *Server {
	appCtx := opts.AppCtx
	if appCtx == nil {
		appCtx = context.Background()
	}

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      opts.Config,
		store:    opts.Store,
		repo:     opts.Repo,
		hub:      opts.Hub,
		appCtx:   appCtx,
		log:      opts.Log,
		validate: validator.New(),
		dbCheck:  opts.DBCheck,
		now:      time.Now,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/nodes", s.handleGetNodes)
		r.Get("/nodes/nearest", s.handleNearestNode)
		r.Get("/nodes/{id}", s.handleGetNode)
		r.Get("/stations", s.handleGetStations)

		r.Post("/path", s.handleFindPath)
		r.Get("/graph", s.handleGetGraph)

		r.Get("/snapshots", s.handleListSnapshots)
	})

	if s.hub != nil {
		r.Get("/ws/nodes", s.handleNodeStream)
	}
}

// requestLogger logs each request through logrus and records the request
// metrics under the matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		duration := time.Since(start)

		metrics.RequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).Observe(duration.Seconds())
		metrics.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()

		entry := s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"latency_ms": duration.Milliseconds(),
			"request_id": middleware.GetReqID(r.Context()),
		})
		if status >= 500 {
			entry.Error("request failed")
		} else {
			entry.Debug("request")
		}
	})
}
