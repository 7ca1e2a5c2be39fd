package db

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/pkg/adsb"
	"github.com/unklstewy/los-relay/pkg/config"
	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testDB connects to the database named by LOS_RELAY_TEST_DB_HOST or skips.
func testDB(t *testing.T) *DB {
	t.Helper()

	host := os.Getenv("LOS_RELAY_TEST_DB_HOST")
	if host == "" {
		t.Skip("LOS_RELAY_TEST_DB_HOST not set")
	}

	cfg := config.DefaultConfig().Database
	cfg.Host = host
	if port := os.Getenv("LOS_RELAY_TEST_DB_PORT"); port != "" {
		cfg.Port, _ = strconv.Atoi(port)
	}
	cfg.Password = os.Getenv("LOS_RELAY_TEST_DB_PASSWORD")

	db, err := Connect(cfg)
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	return db
}

// TestConnString tests connection string construction.
func TestConnString(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.example",
		Port:     5433,
		Username: "relay",
		Password: "secret",
		Database: "losrelay",
	}

	got := connString(cfg)
	want := "host=db.example port=5433 user=relay password=secret dbname=losrelay sslmode=disable"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	cfg.SSLMode = "require"
	if !strings.HasSuffix(connString(cfg), "sslmode=require") {
		t.Errorf("Expected explicit sslmode, got %q", connString(cfg))
	}
}

// TestConnectFailure tests that an unreachable server yields an error.
func TestConnectFailure(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     1,
		Username: "nobody",
		Database: "nothing",
	}

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Expected connection error")
	}
}

// TestIsConnectionError tests transient error detection.
func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: Connection Refused"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("duplicate key value violates unique constraint"), false},
	}

	for _, tt := range tests {
		if got := isConnectionError(tt.err); got != tt.want {
			t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// TestWithRetry tests retrying of connection failures only.
func TestWithRetry(t *testing.T) {
	retryUnit = time.Millisecond
	defer func() { retryUnit = time.Second }()

	log := quietLogger()

	t.Run("Retries connection errors", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), log, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset by peer")
			}
			return nil
		}, 3)

		if err != nil {
			t.Errorf("Expected success, got: %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("Does not retry other errors", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), log, func() error {
			attempts++
			return errors.New("syntax error at or near SELECT")
		}, 3)

		if err == nil {
			t.Error("Expected error")
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), log, func() error {
			attempts++
			return errors.New("connection refused")
		}, 2)

		if err == nil {
			t.Error("Expected error")
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})
}

// TestHealthCheckNil tests that a missing connection is unhealthy.
func TestHealthCheckNil(t *testing.T) {
	if HealthCheck(context.Background(), nil) {
		t.Error("Expected nil database to be unhealthy")
	}
}

// TestReconnectCancelled tests that reconnection stops with the context.
func TestReconnectCancelled(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "127.0.0.1", Port: 1, Database: "nothing"}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := ReconnectWithRetry(ctx, quietLogger(), cfg, 0, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
}

// TestSnapshotRepository exercises the repository against a live database.
func TestSnapshotRepository(t *testing.T) {
	db := testDB(t)
	repo := NewSnapshotRepository(db)
	ctx := context.Background()

	velocity, heading := 230.0, 45.0
	nodes := []relay.Node{
		{ID: "OTTAWA", Label: "Ottawa", Position: coordinates.Geographic{Latitude: 45.4215, Longitude: -75.6972}, Virtual: true},
		{ID: "c0ffee", Label: "ACA123", Position: coordinates.Geographic{Latitude: 45.5, Longitude: -75.0, Altitude: 10000}, Velocity: &velocity, Heading: &heading},
		{ID: "abc123", Position: coordinates.Geographic{Latitude: 46, Longitude: -74, Altitude: 0}, OnGround: true},
	}
	snap := snapshot.New("opensky", adsb.DefaultBoundingBox(), nodes, time.Now().Add(time.Hour))

	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	t.Run("ByID", func(t *testing.T) {
		got, err := repo.ByID(ctx, snap.ID)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if len(got.Nodes) != 3 {
			t.Fatalf("Expected 3 nodes, got %d", len(got.Nodes))
		}
		if got.Nodes[0].ID != "OTTAWA" || !got.Nodes[0].Virtual {
			t.Error("Expected node order and virtual flag to be preserved")
		}
		if got.Nodes[1].Velocity == nil || *got.Nodes[1].Velocity != 230 {
			t.Error("Expected velocity to be preserved")
		}
		if got.Nodes[2].Heading != nil || !got.Nodes[2].OnGround {
			t.Error("Expected nil heading and ground flag to be preserved")
		}
		if got.BBox != adsb.DefaultBoundingBox() {
			t.Errorf("Unexpected bbox %+v", got.BBox)
		}
	})

	t.Run("Latest", func(t *testing.T) {
		got, err := repo.Latest(ctx)
		if err != nil {
			t.Fatalf("Failed to load latest: %v", err)
		}
		if got.ID != snap.ID {
			t.Errorf("Expected latest to be %s, got %s", snap.ID, got.ID)
		}
	})

	t.Run("List", func(t *testing.T) {
		list, err := repo.List(ctx, 5)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) == 0 || list[0].ID != snap.ID || list[0].NodeCount != 3 {
			t.Errorf("Unexpected list %+v", list)
		}
	})

	t.Run("Missing id", func(t *testing.T) {
		other := snapshot.New("opensky", adsb.DefaultBoundingBox(), nil, time.Now())
		if _, err := repo.ByID(ctx, other.ID); !errors.Is(err, snapshot.ErrNoSnapshot) {
			t.Errorf("Expected ErrNoSnapshot, got %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := db.GetStats(ctx)
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats["snapshots"].(int64) < 1 {
			t.Errorf("Expected at least one snapshot, got %v", stats["snapshots"])
		}
	})

	if _, err := db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = $1`, snap.ID); err != nil {
		t.Errorf("Failed to clean up: %v", err)
	}
}
