package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unklstewy/los-relay/pkg/adsb"
	"github.com/unklstewy/los-relay/pkg/relay"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got: %v", err)
	}

	// Server defaults
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}

	// Database defaults
	if cfg.Database.Enabled {
		t.Error("Expected database disabled by default")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Expected default postgres port 5432, got %d", cfg.Database.Port)
	}

	// Feed defaults
	if cfg.Feed.Type != FeedOpenSky {
		t.Errorf("Expected opensky feed, got %s", cfg.Feed.Type)
	}
	if cfg.Feed.BoundingBox != adsb.DefaultBoundingBox() {
		t.Errorf("Unexpected default bounding box %+v", cfg.Feed.BoundingBox)
	}
	if cfg.Feed.IncludeOnGround {
		t.Error("Expected on-ground traffic excluded by default")
	}

	// Relay defaults
	metric, err := cfg.Relay.ParsedMetric()
	if err != nil || metric != relay.MetricDelay {
		t.Errorf("Expected delay metric, got %v (%v)", metric, err)
	}
	if cfg.Relay.ExtraDelaySeconds != 0.005 {
		t.Errorf("Expected extra delay 0.005, got %f", cfg.Relay.ExtraDelaySeconds)
	}

	// Stations
	if len(cfg.Stations) != 2 || cfg.Stations[0].ID != "OTTAWA" || cfg.Stations[1].ID != "VANCOUVER" {
		t.Errorf("Expected OTTAWA and VANCOUVER stations, got %+v", cfg.Stations)
	}
}

// TestLoadNonExistentFile tests that Load returns default config when file doesn't exist.
func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("Expected no error for non-existent file, got: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default config, got port %s", cfg.Server.Port)
	}
}

// TestLoadValidFile tests loading a configuration file over the defaults.
func TestLoadValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{
		"feed": {
			"type": "airplanes.live",
			"base_url": "https://api.airplanes.live/v2",
			"bounding_box": {"lamin": 44, "lamax": 46, "lomin": -77, "lomax": -74},
			"update_interval_seconds": 5
		},
		"relay": {"metric": "hops", "extra_delay_seconds": 0.01, "propagation_speed": 300000},
		"stations": [{"id": "MAST", "latitude": 45.0, "longitude": -75.0, "altitude": 30}]
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Feed.Type != FeedAirplanesLive {
		t.Errorf("Expected airplanes.live, got %s", cfg.Feed.Type)
	}
	if cfg.Feed.BoundingBox.LatMin != 44 {
		t.Errorf("Expected lamin 44, got %f", cfg.Feed.BoundingBox.LatMin)
	}
	if cfg.Server.Port != "8080" {
		t.Error("Expected unspecified sections to keep defaults")
	}
	if len(cfg.Stations) != 1 || cfg.Stations[0].ID != "MAST" {
		t.Errorf("Expected stations to be replaced, got %+v", cfg.Stations)
	}

	q, err := cfg.Relay.Query("A", "B")
	if err != nil {
		t.Fatalf("Expected query, got: %v", err)
	}
	if q.Metric != relay.MetricHops || q.ExtraDelay != 0.01 {
		t.Errorf("Unexpected query %+v", q)
	}

	src, err := cfg.Feed.NewDataSource()
	if err != nil {
		t.Fatalf("Expected data source, got: %v", err)
	}
	if src.Name() != "airplanes.live" {
		t.Errorf("Expected airplanes.live source, got %s", src.Name())
	}
}

// TestLoadInvalid tests that malformed or invalid files are rejected.
func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Malformed JSON", `{"server": `},
		{"Unknown feed", `{"feed": {"type": "adsbexchange"}}`},
		{"Unknown metric", `{"relay": {"metric": "latency", "propagation_speed": 1}}`},
		{"Inverted bounding box", `{"feed": {"type": "opensky", "update_interval_seconds": 5, "bounding_box": {"lamin": 50, "lamax": 40, "lomin": -80, "lomax": -70}}}`},
		{"Station without id", `{"stations": [{"latitude": 1, "longitude": 2}]}`},
		{"Duplicate station", `{"stations": [{"id": "X"}, {"id": "X"}]}`},
		{"Forecast too long", `{"relay": {"metric": "delay", "propagation_speed": 1, "forecast_seconds": 5000}}`},
		{"Database enabled without host", `{"database": {"enabled": true, "host": "", "database": "x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

// TestLoadStationsReplaceDefaults verifies configured stations do not
// inherit fields from the default stations.
func TestLoadStationsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"stations": [
		{"id": "MONTREAL", "latitude": 45.5017, "longitude": -73.5673},
		{"id": "QUEBEC", "label": "Québec", "latitude": 46.8139, "longitude": -71.2080}
	]}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(cfg.Stations) != 2 {
		t.Fatalf("Expected 2 stations, got %+v", cfg.Stations)
	}
	if cfg.Stations[0].Label != "" {
		t.Errorf("Expected MONTREAL to have no label, got %q", cfg.Stations[0].Label)
	}
	if cfg.Stations[1].Label != "Québec" || cfg.Stations[1].ID != "QUEBEC" {
		t.Errorf("Unexpected second station %+v", cfg.Stations[1])
	}

	t.Run("Empty list removes stations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte(`{"stations": []}`), 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(cfg.Stations) != 0 {
			t.Errorf("Expected no stations, got %+v", cfg.Stations)
		}
	})

	t.Run("Missing key keeps defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(path, []byte(`{"server": {"port": "9000"}}`), 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(cfg.Stations) != 2 || cfg.Stations[0].Label != "Ottawa" {
			t.Errorf("Expected default stations, got %+v", cfg.Stations)
		}
	})
}

// TestSaveAndLoad tests round-tripping through a file.
func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Server.Port = "9090"
	cfg.Feed.ClientID = "secret-id"
	cfg.Feed.ClientSecret = "secret-value"
	cfg.Feed.CredentialsFile = ""

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}
	if strings.Contains(string(data), "secret-value") {
		t.Error("Expected credentials to be omitted from saved file")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", loaded.Server.Port)
	}
	if cfg.Feed.ClientID != "secret-id" {
		t.Error("Save must not modify the receiver")
	}
}

// TestEnvironmentOverrides tests LOS_RELAY_* variables.
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LOS_RELAY_PORT", "9999")
	t.Setenv("LOS_RELAY_DB_PASSWORD", "hunter2")
	t.Setenv("LOS_RELAY_OPENSKY_CLIENT_ID", "env-id")
	t.Setenv("LOS_RELAY_OPENSKY_CLIENT_SECRET", "env-secret")
	t.Setenv("LOS_RELAY_METRIC", "hops")
	t.Setenv("LOS_RELAY_EXTRA_DELAY", "0.02")
	t.Setenv("LOS_RELAY_LOG_LEVEL", "debug")

	cfg, err := Load("/nonexistent/config.json")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("Expected port 9999, got %s", cfg.Server.Port)
	}
	if cfg.Database.Password != "hunter2" {
		t.Error("Expected database password from environment")
	}
	if cfg.Feed.ClientID != "env-id" || cfg.Feed.ClientSecret != "env-secret" {
		t.Error("Expected OpenSky credentials from environment")
	}
	if cfg.Relay.Metric != "hops" || cfg.Relay.ExtraDelaySeconds != 0.02 {
		t.Errorf("Expected relay overrides, got %+v", cfg.Relay)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Logging.Level)
	}
}

// TestCredentialsFile tests loading OpenSky credentials.json.
func TestCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "credentials.json")
	data, _ := json.Marshal(map[string]string{"clientId": "file-id", "clientSecret": "file-secret"})
	if err := os.WriteFile(credsPath, data, 0600); err != nil {
		t.Fatalf("Failed to write credentials: %v", err)
	}

	t.Run("LoadCredentials", func(t *testing.T) {
		creds, err := LoadCredentials(credsPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if creds.ClientID != "file-id" || creds.ClientSecret != "file-secret" {
			t.Errorf("Unexpected credentials %+v", creds)
		}
	})

	t.Run("Incomplete credentials", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		os.WriteFile(bad, []byte(`{"clientId": "only-id"}`), 0600)
		if _, err := LoadCredentials(bad); err == nil {
			t.Error("Expected error for missing clientSecret")
		}
	})

	t.Run("Load picks up credentials file", func(t *testing.T) {
		cfgPath := filepath.Join(dir, "config.json")
		content := `{"feed": {"type": "opensky", "update_interval_seconds": 10,
			"bounding_box": {"lamin": 40, "lamax": 85, "lomin": -150, "lomax": -50},
			"credentials_file": "` + credsPath + `"}}`
		os.WriteFile(cfgPath, []byte(content), 0644)

		cfg, err := Load(cfgPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if cfg.Feed.ClientID != "file-id" {
			t.Errorf("Expected client id from file, got %q", cfg.Feed.ClientID)
		}
	})
}

// TestStationNodes tests conversion of stations to virtual nodes.
func TestStationNodes(t *testing.T) {
	cfg := DefaultConfig()
	nodes := cfg.StationNodes()

	if len(nodes) != 2 {
		t.Fatalf("Expected 2 station nodes, got %d", len(nodes))
	}
	ottawa := nodes[0]
	if !ottawa.Virtual {
		t.Error("Expected station node to be virtual")
	}
	if ottawa.Position.Latitude != 45.4215 || ottawa.Position.Longitude != -75.6972 {
		t.Errorf("Unexpected Ottawa position %+v", ottawa.Position)
	}
	if ottawa.Velocity != nil {
		t.Error("Expected stations to be stationary")
	}
}
