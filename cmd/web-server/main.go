// LOS Relay Web Server
// Keeps a live snapshot fresh and serves the REST API + WebSocket stream
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/los-relay/internal/api"
	"github.com/unklstewy/los-relay/internal/db"
	"github.com/unklstewy/los-relay/internal/feed"
	"github.com/unklstewy/los-relay/internal/logging"
	"github.com/unklstewy/los-relay/internal/ws"
	"github.com/unklstewy/los-relay/pkg/config"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	port       = flag.String("port", "", "HTTP server port (default from config)")
	persist    = flag.Bool("persist", false, "Archive and store snapshots fetched by this server")
	replay     = flag.String("replay", "", "Serve a single archived snapshot instead of the live feed")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	log.Info("🚀 Starting LOS Relay Web Server...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	store := snapshot.NewStore()
	hub := ws.NewHub(log)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	var repo *db.SnapshotRepository
	var dbCheck func(context.Context) bool
	if cfg.Database.Enabled {
		database, err := db.ReconnectWithRetry(ctx, log, cfg.Database, 5, 2*time.Second)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		if err := database.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		repo = db.NewSnapshotRepository(database)
		dbCheck = func(ctx context.Context) bool {
			return db.HealthCheck(ctx, database)
		}
		log.Info("✅ Connected to database")
	}

	opts := api.Options{
		Config:  cfg,
		Store:   store,
		Hub:     hub,
		Log:     log,
		AppCtx:  gctx,
		DBCheck: dbCheck,
	}
	// A typed nil would defeat the nil check in the handlers.
	if repo != nil {
		opts.Repo = repo
	}
	srv := api.NewServer(opts)

	if *replay != "" {
		snap, err := snapshot.Load(*replay)
		if err != nil {
			log.Fatalf("Failed to load archive: %v", err)
		}
		store.Set(snap)
		srv.PublishSnapshot(snap)
		log.WithFields(logrus.Fields{
			"file":    *replay,
			"nodes":   len(snap.Nodes),
			"fetched": snap.FetchedAt.Format(time.RFC3339),
		}).Info("📼 Replaying archived snapshot")
	} else {
		source, err := cfg.Feed.NewDataSource()
		if err != nil {
			log.Fatalf("Failed to create feed client: %v", err)
		}
		defer source.Close()

		refresher := &feed.Refresher{
			Source:          source,
			BBox:            cfg.Feed.BoundingBox,
			IncludeOnGround: cfg.Feed.IncludeOnGround,
			Retry:           cfg.Feed.RetryConfig(),
			Store:           store,
			Log:             log,
		}
		if *persist {
			if cfg.Archive.Enabled {
				archive, err := snapshot.NewArchive(cfg.Archive.Directory)
				if err != nil {
					log.Fatalf("Failed to open archive: %v", err)
				}
				refresher.Archive = archive
				refresher.ArchiveKeep = cfg.Archive.Keep
			}
			if repo != nil {
				refresher.Repo = repo
			}
		}

		g.Go(func() error {
			refresher.Run(gctx, cfg.Feed.UpdateInterval(), srv.PublishSnapshot)
			return nil
		})
		g.Go(func() error {
			srv.StreamForecasts(gctx, time.Second)
			return nil
		})
		log.WithFields(logrus.Fields{
			"feed":     source.Name(),
			"interval": cfg.Feed.UpdateInterval(),
		}).Info("📡 Live feed started")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// No WriteTimeout: /ws/nodes streams for the life of the connection.
	}

	g.Go(func() error {
		log.Infof("📡 Server listening on http://%s", httpServer.Addr)
		log.Infof(`💡 Try: curl -X POST localhost:%s/api/v1/path -d '{"start":"OTTAWA","end":"VANCOUVER"}'`, cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Drain WebSocket clients before closing the listener.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("👋 Shutting down server...")

		select {
		case <-hub.Done():
		case <-time.After(5 * time.Second):
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	log.Info("✅ Server stopped")
}
