package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/los-relay/internal/feed"
	"github.com/unklstewy/los-relay/internal/logging"
	"github.com/unklstewy/los-relay/pkg/config"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	replay := flag.String("replay", "", "Archive file to browse instead of the live feed (\"latest\" for the newest)")
	logFile := flag.String("log-file", "relay-viewfinder.log", "Log file (the terminal belongs to the UI)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var out io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	log, err := logging.NewWithOutput(out, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	base, err := cfg.Relay.Query("", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid relay config: %v\n", err)
		os.Exit(1)
	}

	m := model{
		base:     base,
		stations: cfg.StationNodes(),
		interval: cfg.Feed.UpdateInterval(),
		forecast: cfg.Relay.ForecastSeconds,
		now:      time.Now,
	}

	switch *replay {
	case "":
		source, err := cfg.Feed.NewDataSource()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create feed client: %v\n", err)
			os.Exit(1)
		}
		defer source.Close()
		m.refresher = &feed.Refresher{
			Source:          source,
			BBox:            cfg.Feed.BoundingBox,
			IncludeOnGround: cfg.Feed.IncludeOnGround,
			Retry:           cfg.Feed.RetryConfig(),
			Log:             log,
		}
	case "latest":
		archive, err := snapshot.NewArchive(cfg.Archive.Directory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open archive: %v\n", err)
			os.Exit(1)
		}
		snap, _, err := archive.Latest()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load archive: %v\n", err)
			os.Exit(1)
		}
		m.useArchived(snap)
	default:
		snap, err := snapshot.Load(*replay)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load archive: %v\n", err)
			os.Exit(1)
		}
		m.useArchived(snap)
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// useArchived freezes the clock at the archive's fetch time so the forecast
// keys step forward from the moment it was captured.
func (m *model) useArchived(snap *snapshot.Snapshot) {
	fetched := snap.FetchedAt
	m.now = func() time.Time { return fetched }
	m.snap = snap
	m.reproject()
}
