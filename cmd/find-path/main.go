package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/internal/db"
	"github.com/unklstewy/los-relay/internal/feed"
	"github.com/unklstewy/los-relay/internal/logging"
	"github.com/unklstewy/los-relay/pkg/config"
	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// exit codes
const (
	exitOK     = 0
	exitError  = 1
	exitNoPath = 2
)

// find-path runs a single relay path query against a live, archived or
// stored snapshot and prints the hops.
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	source := flag.String("source", "live", "Snapshot source: live, archive or db")
	archivePath := flag.String("archive", "", "Archive file to load (default: newest in the archive directory)")
	startID := flag.String("start", "", "Start node id (required)")
	endID := flag.String("end", "", "End node id (required)")
	metricName := flag.String("metric", "", "Path metric: delay or hops (default from config)")
	extraDelay := flag.Float64("extra-delay", -1, "Per-hop overhead in seconds (default from config)")
	forecast := flag.Float64("forecast", -1, "Seconds to project positions forward (default from config)")
	withStations := flag.Bool("stations", true, "Add configured ground stations to the snapshot")
	listNodes := flag.Bool("list", false, "List node ids in the snapshot and exit")
	asJSON := flag.Bool("json", false, "Print the result as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitError
	}

	if *metricName != "" {
		cfg.Relay.Metric = *metricName
	}
	if *extraDelay >= 0 {
		cfg.Relay.ExtraDelaySeconds = *extraDelay
	}
	if *forecast >= 0 {
		cfg.Relay.ForecastSeconds = *forecast
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		return exitError
	}

	// Keep stdout for the result.
	log, err := logging.NewWithOutput(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		return exitError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	snap, err := loadSnapshot(ctx, log, cfg, *source, *archivePath)
	if err != nil {
		log.WithError(err).Error("Failed to load snapshot")
		return exitError
	}

	at := snap.FetchedAt.Add(time.Duration(cfg.Relay.ForecastSeconds * float64(time.Second)))
	nodes := snap.NodesAt(at)
	if *withStations {
		nodes = relay.Merge(nodes, cfg.StationNodes())
	}

	log.WithFields(logrus.Fields{
		"snapshot": snap.ID,
		"source":   snap.Source,
		"fetched":  snap.FetchedAt.Format(time.RFC3339),
		"nodes":    len(nodes),
	}).Info("Snapshot loaded")

	if *listNodes {
		for _, n := range nodes {
			fmt.Printf("%-10s %-10s %9.4f %10.4f %8.0f m\n",
				n.ID, n.Label, n.Position.Latitude, n.Position.Longitude, n.LOSAltitude())
		}
		return exitOK
	}

	if *startID == "" || *endID == "" {
		fmt.Fprintln(os.Stderr, "Both -start and -end are required")
		flag.Usage()
		return exitError
	}

	q, err := cfg.Relay.Query(*startID, *endID)
	if err != nil {
		log.WithError(err).Error("Invalid query")
		return exitError
	}

	result, err := relay.Route(nodes, q)
	if err != nil {
		var unknown *relay.UnknownNodeError
		if errors.As(err, &unknown) {
			fmt.Fprintf(os.Stderr, "Node %q is not in the snapshot (use -list to see ids)\n", unknown.ID)
			return exitError
		}
		log.WithError(err).Error("Path search failed")
		return exitError
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.WithError(err).Error("Failed to encode result")
			return exitError
		}
	} else {
		printResult(result)
	}

	if !result.Found {
		return exitNoPath
	}
	return exitOK
}

func loadSnapshot(ctx context.Context, log *logrus.Logger, cfg *config.Config, source, archivePath string) (*snapshot.Snapshot, error) {
	switch source {
	case "live":
		src, err := cfg.Feed.NewDataSource()
		if err != nil {
			return nil, err
		}
		defer src.Close()
		r := &feed.Refresher{
			Source:          src,
			BBox:            cfg.Feed.BoundingBox,
			IncludeOnGround: cfg.Feed.IncludeOnGround,
			Retry:           cfg.Feed.RetryConfig(),
			Log:             log,
		}
		return r.Refresh(ctx)

	case "archive":
		if archivePath != "" {
			return snapshot.Load(archivePath)
		}
		archive, err := snapshot.NewArchive(cfg.Archive.Directory)
		if err != nil {
			return nil, err
		}
		snap, path, err := archive.Latest()
		if err != nil {
			return nil, err
		}
		log.WithField("file", path).Debug("Using newest archive")
		return snap, nil

	case "db":
		database, err := db.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		defer database.Close()
		return db.NewSnapshotRepository(database).Latest(ctx)

	default:
		return nil, fmt.Errorf("unknown source %q (want live, archive or db)", source)
	}
}

func printResult(result relay.PathResult) {
	if !result.Found {
		fmt.Println("No LOS path found")
		return
	}

	fmt.Printf("Path (%s, %d hops", result.Metric, result.Hops())
	if result.Metric == relay.MetricDelay {
		fmt.Printf(", %.3f ms", result.Cost*1000)
	}
	fmt.Println("):")

	names := make([]string, len(result.Nodes))
	for i, n := range result.Nodes {
		names[i] = n.DisplayName()
		fmt.Printf("  %2d. %-10s %9.4f %10.4f %8.0f m\n",
			i+1, n.DisplayName(), n.Position.Latitude, n.Position.Longitude, n.LOSAltitude())
		if i+1 < len(result.Nodes) {
			fmt.Println("      " + legSummary(n, result.Nodes[i+1]))
		}
	}
	fmt.Println(strings.Join(names, " -> "))
}

// legSummary describes the hop from a to b.
func legSummary(a, b relay.Node) string {
	bearing := coordinates.NormalizeAzimuth(math.Round(coordinates.Bearing(a.Position, b.Position)))
	return fmt.Sprintf("↓ %.1f km (%.1f NM) on %03.0f°",
		coordinates.DistanceMeters(a.Position, b.Position)/1000,
		coordinates.DistanceNauticalMiles(a.Position, b.Position),
		bearing)
}
