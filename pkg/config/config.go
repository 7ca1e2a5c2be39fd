package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/unklstewy/los-relay/pkg/adsb"
	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
)

// Feed types accepted in FeedConfig.Type.
const (
	FeedOpenSky       = "opensky"
	FeedAirplanesLive = "airplanes.live"
)

var validate = validator.New()

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig    `json:"server"`
	Database DatabaseConfig  `json:"database"`
	Feed     FeedConfig      `json:"feed"`
	Relay    RelayConfig     `json:"relay"`
	Stations []StationConfig `json:"stations" validate:"dive"`
	Archive  ArchiveConfig   `json:"archive"`
	Logging  LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port" validate:"required,numeric"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// AllowedOrigins lists CORS origins for the API (default: "*")
	AllowedOrigins []string `json:"allowed_origins"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled turns on snapshot persistence in PostgreSQL
	Enabled bool `json:"enabled"`

	// Host is the database server hostname
	Host string `json:"host" validate:"required_if=Enabled true"`

	// Port is the database server port
	Port int `json:"port" validate:"omitempty,min=1,max=65535"`

	// Database is the database name
	Database string `json:"database" validate:"required_if=Enabled true"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" validate:"gte=0"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" validate:"gte=0"`

	// RetentionHours is how long snapshots are kept (0 keeps everything)
	RetentionHours int `json:"retention_hours" validate:"gte=0"`
}

// FeedConfig selects and configures the live ADS-B feed.
type FeedConfig struct {
	// Type is "opensky" or "airplanes.live"
	Type string `json:"type" validate:"required,oneof=opensky airplanes.live"`

	// BaseURL overrides the feed's API root
	BaseURL string `json:"base_url" validate:"omitempty,url"`

	// TokenURL overrides the OpenSky OAuth2 token endpoint
	TokenURL string `json:"token_url" validate:"omitempty,url"`

	// ClientID and ClientSecret are OpenSky API client credentials.
	// Keep them out of the file: use CredentialsFile or the environment.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// CredentialsFile is a JSON file holding clientId and clientSecret
	CredentialsFile string `json:"credentials_file"`

	// BoundingBox limits the query area
	BoundingBox adsb.BoundingBox `json:"bounding_box"`

	// IncludeOnGround keeps surface traffic in snapshots
	IncludeOnGround bool `json:"include_on_ground"`

	// UpdateIntervalSeconds is how often to refresh the snapshot
	UpdateIntervalSeconds int `json:"update_interval_seconds" validate:"min=1"`

	// RequestsPerHour throttles feed requests (0 = no limit).
	// OpenSky anonymous: 400 credits/day; authenticated: 4000/day.
	RequestsPerHour float64 `json:"requests_per_hour" validate:"gte=0"`

	// MaxRetries for a failed fetch before giving up on this refresh
	MaxRetries int `json:"max_retries" validate:"gte=0"`
}

// RelayConfig holds path search defaults.
type RelayConfig struct {
	// Metric is "delay" or "hops"
	Metric string `json:"metric" validate:"required,oneof=delay hops"`

	// ExtraDelaySeconds is the per-hop processing overhead for the delay metric
	ExtraDelaySeconds float64 `json:"extra_delay_seconds" validate:"gte=0"`

	// PropagationSpeed divides distance in meters to give delay seconds
	PropagationSpeed float64 `json:"propagation_speed" validate:"gt=0"`

	// ForecastSeconds projects positions forward before building the graph
	ForecastSeconds float64 `json:"forecast_seconds" validate:"gte=0,lte=1200"`
}

// StationConfig is a fixed ground station added to every snapshot.
type StationConfig struct {
	ID        string  `json:"id" validate:"required"`
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`

	// Altitude in meters; antenna masts can be given a few tens of meters
	Altitude float64 `json:"altitude" validate:"gte=0"`
}

// ArchiveConfig controls on-disk snapshot archiving.
type ArchiveConfig struct {
	Enabled bool `json:"enabled"`

	// Directory holds planes_YYYYMMDD_HHMMSS.json.zst files
	Directory string `json:"directory" validate:"required_if=Enabled true"`

	// Keep is the number of newest archives retained (0 keeps everything)
	Keep int `json:"keep" validate:"gte=0"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `json:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" validate:"oneof=text json"`
}

// Credentials is the OpenSky credentials.json layout.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
// Environment overrides and validation apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.loadCredentials(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// decode overlays data on c. encoding/json reuses existing slice elements,
// so stations start from an empty list and the defaults are kept only when
// the file has no stations key.
func (c *Config) decode(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	defaults := c.Stations
	c.Stations = nil
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	if _, ok := keys["stations"]; !ok {
		c.Stations = defaults
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Feed.BoundingBox.Validate(); err != nil {
		return fmt.Errorf("invalid config: feed.bounding_box: %w", err)
	}

	seen := make(map[string]bool, len(c.Stations))
	for _, s := range c.Stations {
		if seen[s.ID] {
			return fmt.Errorf("invalid config: duplicate station id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Save writes the configuration to a JSON file.
// Feed credentials are never written.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Feed.ClientID = ""
	out.Feed.ClientSecret = ""

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Database:       "losrelay",
			Username:       "losrelay",
			SSLMode:        "disable",
			MaxOpenConns:   10,
			MaxIdleConns:   2,
			RetentionHours: 24,
		},
		Feed: FeedConfig{
			Type:                  FeedOpenSky,
			BaseURL:               adsb.DefaultOpenSkyURL,
			TokenURL:              adsb.DefaultOpenSkyTokenURL,
			CredentialsFile:       "credentials.json",
			BoundingBox:           adsb.DefaultBoundingBox(),
			IncludeOnGround:       false,
			UpdateIntervalSeconds: 30,
			RequestsPerHour:       160,
			MaxRetries:            3,
		},
		Relay: RelayConfig{
			Metric:            relay.DefaultMetric.String(),
			ExtraDelaySeconds: 0.005,
			PropagationSpeed:  relay.DefaultPropagationSpeed,
			ForecastSeconds:   0,
		},
		Stations: []StationConfig{
			{ID: "OTTAWA", Label: "Ottawa", Latitude: 45.4215, Longitude: -75.6972},
			{ID: "VANCOUVER", Label: "Vancouver", Latitude: 49.2827, Longitude: -123.1207},
		},
		Archive: ArchiveConfig{
			Enabled:   true,
			Directory: "archives",
			Keep:      500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadCredentials reads an OpenSky credentials.json file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("credentials file %s must set clientId and clientSecret", path)
	}
	return &creds, nil
}

// loadCredentials fills the feed credentials from CredentialsFile when they
// were not set directly. A missing file leaves the feed anonymous.
func (c *Config) loadCredentials() error {
	if c.Feed.ClientID != "" || c.Feed.CredentialsFile == "" {
		return nil
	}
	if _, err := os.Stat(c.Feed.CredentialsFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	creds, err := LoadCredentials(c.Feed.CredentialsFile)
	if err != nil {
		return err
	}
	c.Feed.ClientID = creds.ClientID
	c.Feed.ClientSecret = creds.ClientSecret
	return nil
}

// UpdateInterval returns the snapshot refresh period.
func (f FeedConfig) UpdateInterval() time.Duration {
	return time.Duration(f.UpdateIntervalSeconds) * time.Second
}

// NewDataSource builds the configured feed client.
func (f FeedConfig) NewDataSource() (adsb.DataSource, error) {
	switch f.Type {
	case FeedOpenSky:
		return adsb.NewOpenSkyClient(adsb.OpenSkyOptions{
			BaseURL:         f.BaseURL,
			TokenURL:        f.TokenURL,
			ClientID:        f.ClientID,
			ClientSecret:    f.ClientSecret,
			RequestsPerHour: f.RequestsPerHour,
		}), nil
	case FeedAirplanesLive:
		baseURL := f.BaseURL
		if baseURL == adsb.DefaultOpenSkyURL {
			baseURL = ""
		}
		return adsb.NewAirplanesLiveClient(baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported feed type %q", f.Type)
	}
}

// RetryConfig returns backoff settings for feed fetches.
func (f FeedConfig) RetryConfig() adsb.RetryConfig {
	rc := adsb.DefaultRetryConfig()
	rc.MaxRetries = f.MaxRetries
	return rc
}

// ParsedMetric returns the configured search metric.
func (r RelayConfig) ParsedMetric() (relay.Metric, error) {
	return relay.ParseMetric(r.Metric)
}

// Query builds a relay query from the configured defaults.
func (r RelayConfig) Query(startID, endID string) (relay.Query, error) {
	metric, err := r.ParsedMetric()
	if err != nil {
		return relay.Query{}, err
	}
	return relay.Query{
		StartID:          startID,
		EndID:            endID,
		Metric:           metric,
		ExtraDelay:       r.ExtraDelaySeconds,
		PropagationSpeed: r.PropagationSpeed,
	}, nil
}

// Node converts a station into a virtual relay node.
func (s StationConfig) Node() relay.Node {
	return relay.Node{
		ID:    s.ID,
		Label: s.Label,
		Position: coordinates.Geographic{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Altitude:  s.Altitude,
		},
		Virtual: true,
	}
}

// StationNodes converts every configured station.
func (c *Config) StationNodes() []relay.Node {
	nodes := make([]relay.Node, len(c.Stations))
	for i, s := range c.Stations {
		nodes[i] = s.Node()
	}
	return nodes
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("LOS_RELAY_PORT"); port != "" {
		c.Server.Port = port
	}
	if host := os.Getenv("LOS_RELAY_DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if dbPassword := os.Getenv("LOS_RELAY_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if id := os.Getenv("LOS_RELAY_OPENSKY_CLIENT_ID"); id != "" {
		c.Feed.ClientID = id
	}
	if secret := os.Getenv("LOS_RELAY_OPENSKY_CLIENT_SECRET"); secret != "" {
		c.Feed.ClientSecret = secret
	}
	if feed := os.Getenv("LOS_RELAY_FEED"); feed != "" {
		c.Feed.Type = feed
	}
	if metric := os.Getenv("LOS_RELAY_METRIC"); metric != "" {
		c.Relay.Metric = metric
	}
	if extra := os.Getenv("LOS_RELAY_EXTRA_DELAY"); extra != "" {
		if v, err := strconv.ParseFloat(extra, 64); err == nil {
			c.Relay.ExtraDelaySeconds = v
		}
	}
	if dir := os.Getenv("LOS_RELAY_ARCHIVE_DIR"); dir != "" {
		c.Archive.Directory = dir
	}
	if level := os.Getenv("LOS_RELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
