package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/internal/db"
	"github.com/unklstewy/los-relay/internal/feed"
	"github.com/unklstewy/los-relay/internal/logging"
	"github.com/unklstewy/los-relay/internal/metrics"
	"github.com/unklstewy/los-relay/pkg/config"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// Collector continuously fetches the feed and archives each snapshot to disk
// and, when enabled, to PostgreSQL. Path finders can then replay archived
// snapshots without spending feed credits.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9101", "Address for the /metrics endpoint (empty to disable)")
	once := flag.Bool("once", false, "Fetch a single snapshot and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	log.Info("===========================================")
	log.Info("  LOS Relay Snapshot Collector")
	log.Info("===========================================")

	bbox := cfg.Feed.BoundingBox
	log.WithFields(logrus.Fields{
		"config":   *configPath,
		"feed":     cfg.Feed.Type,
		"interval": cfg.Feed.UpdateInterval(),
		"bbox":     bbox,
	}).Info("Configuration loaded")
	if radius := bbox.RadiusNM(); cfg.Feed.Type == config.FeedAirplanesLive && radius > 250 {
		log.WithField("radius_nm", radius).Warn("Bounding box exceeds the 250 nm airplanes.live query radius, traffic near the corners will be missed")
	}

	source, err := cfg.Feed.NewDataSource()
	if err != nil {
		log.Fatalf("Failed to create feed client: %v", err)
	}
	defer source.Close()
	log.Infof("✓ Using feed: %s", source.Name())

	refresher := &feed.Refresher{
		Source:          source,
		BBox:            bbox,
		IncludeOnGround: cfg.Feed.IncludeOnGround,
		Retry:           cfg.Feed.RetryConfig(),
		Store:           snapshot.NewStore(),
		Log:             log,
	}

	if cfg.Archive.Enabled {
		archive, err := snapshot.NewArchive(cfg.Archive.Directory)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		refresher.Archive = archive
		refresher.ArchiveKeep = cfg.Archive.Keep
		log.Infof("✓ Archiving to %s (keep %d)", archive.Dir(), cfg.Archive.Keep)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var database *db.DB
	if cfg.Database.Enabled {
		log.Info("Connecting to database...")
		database, err = db.ReconnectWithRetry(ctx, log, cfg.Database, 5, 2*time.Second)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := database.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		refresher.Repo = db.NewSnapshotRepository(database)
		log.Info("✓ Database connected and schema initialized")
	}

	if *once {
		if database != nil {
			defer database.Close()
		}
		snap, err := refresher.Refresh(ctx)
		if err != nil {
			log.Fatalf("Fetch failed: %v", err)
		}
		log.Infof("✓ Captured %d nodes (snapshot %s)", len(snap.Nodes), snap.ID)
		return
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: r}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
		log.Infof("✓ Metrics on %s/metrics", *metricsAddr)
	}

	c := &Collector{
		refresher: refresher,
		db:        database,
		dbCfg:     cfg.Database,
		log:       log,
		interval:  cfg.Feed.UpdateInterval(),
		retention: time.Duration(cfg.Database.RetentionHours) * time.Hour,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	doneChan := make(chan struct{})
	go func() {
		defer close(doneChan)
		c.Run(ctx)
	}()

	log.Info("===========================================")
	log.Info("  Collector service started")
	log.Info("  Press Ctrl+C to stop")
	log.Info("===========================================")

	select {
	case sig := <-sigChan:
		log.Infof("Received signal: %v", sig)
	case <-doneChan:
		log.Info("Collector stopped")
	}

	log.Info("Shutting down gracefully...")
	cancel()
	<-doneChan

	if err := c.Close(); err != nil {
		log.WithError(err).Warn("Error closing database")
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	log.Info("✓ Collector service stopped")
}

// Collector drives the refresher and the database housekeeping tickers.
// All work happens on the Run goroutine, so a reconnect can swap the
// repository without locking.
type Collector struct {
	refresher *feed.Refresher
	db        *db.DB
	dbCfg     config.DatabaseConfig
	log       *logrus.Logger
	interval  time.Duration
	retention time.Duration
}

// Run blocks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.Info("Performing initial fetch...")
	c.update(ctx)

	cleanupTicker := time.NewTicker(5 * time.Minute)
	defer cleanupTicker.Stop()

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.update(ctx)
		case <-cleanupTicker.C:
			c.cleanup(ctx)
		case <-statsTicker.C:
			c.printStats(ctx)
		}
	}
}

// Close releases the current database handle, which may be a reconnected
// replacement of the one the collector started with. Call it after Run
// has returned.
func (c *Collector) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Collector) update(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("PANIC in update(): %v", r)
			c.log.Info("Update will be retried on next cycle")
		}
	}()

	if _, err := c.refresher.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.log.WithError(err).Warn("✗ Fetch failed, will retry in next update cycle")
	}
}

// cleanup removes snapshots older than the retention window.
func (c *Collector) cleanup(ctx context.Context) {
	if c.db == nil || c.retention <= 0 {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("PANIC in cleanup(): %v", r)
		}
	}()

	conn, err := db.EnsureConnection(ctx, c.log, c.db, c.dbCfg)
	if err != nil {
		c.log.WithError(err).Warn("Database unavailable, skipping cleanup")
		return
	}
	if conn != c.db {
		c.db = conn
		c.refresher.Repo = db.NewSnapshotRepository(conn)
		c.log.Info("✓ Database reconnected")
	}

	removed, err := c.db.CleanupOldData(ctx, c.retention)
	if err != nil {
		c.log.WithError(err).Error("Error during cleanup")
		return
	}
	c.log.WithField("removed", removed).Info("✓ Cleanup completed")
}

func (c *Collector) printStats(ctx context.Context) {
	entry := c.log.WithField("updates", c.refresher.Updates())

	if snap, err := c.refresher.Store.Get(); err == nil {
		entry = entry.WithFields(logrus.Fields{
			"nodes": len(snap.Nodes),
			"age":   snap.Age(time.Now()).Round(time.Second),
		})
	}

	if c.db != nil {
		stats, err := c.db.GetStats(ctx)
		if err != nil {
			c.log.WithError(err).Warn("Error getting stats")
		} else {
			entry = entry.WithFields(logrus.Fields(stats))
		}
	}

	entry.Info("Collector statistics")
}
