package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/internal/db"
	"github.com/unklstewy/los-relay/pkg/config"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	source := flag.String("source", "db", "Snapshot source: db or archive")
	poll := flag.Duration("poll", 5*time.Second, "How often to check for a newer snapshot")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("relay-console version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	base, err := cfg.Relay.Query("", "")
	if err != nil {
		log.Fatalf("Invalid relay config: %v", err)
	}

	// The terminal belongs to tview; log into the panel only.
	logs := NewLogManager(500)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(logs)
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	appCfg := &AppConfig{
		Base:         base,
		Stations:     cfg.StationNodes(),
		PollInterval: *poll,
		Log:          logger,
		Logs:         logs,
	}

	switch *source {
	case "db":
		database, err := db.Connect(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		appCfg.Source = db.NewSnapshotRepository(database)
		appCfg.SourceName = "postgres"
	case "archive":
		archive, err := snapshot.NewArchive(cfg.Archive.Directory)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		appCfg.Source = archiveSource{archive: archive}
		appCfg.SourceName = archive.Dir()
	default:
		log.Fatalf("Unknown source %q (want db or archive)", *source)
	}

	app := NewApp(appCfg)
	if err := app.Run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
