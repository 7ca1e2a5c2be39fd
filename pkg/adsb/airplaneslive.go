package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/los-relay/pkg/coordinates"
)

// DefaultAirplanesLiveURL is the airplanes.live v2 API root
const DefaultAirplanesLiveURL = "https://api.airplanes.live/v2"

// MaxAirplanesLiveRadiusNM is the largest radius /point accepts
const MaxAirplanesLiveRadiusNM = 250.0

// AirplanesLiveClient implements the DataSource interface for airplanes.live API.
// API Documentation: https://airplanes.live/api-guide/
// Rate Limit: 1 request per second
type AirplanesLiveClient struct {
	// baseURL is the API base URL (default: https://api.airplanes.live/v2)
	baseURL string

	// httpClient is the HTTP client used for API requests
	httpClient *http.Client

	rateLimiter *rate.Limiter
}

// NewAirplanesLiveClient creates a new airplanes.live API client.
// baseURL should be "https://api.airplanes.live/v2" (or custom for testing)
func NewAirplanesLiveClient(baseURL string) *AirplanesLiveClient {
	if baseURL == "" {
		baseURL = DefaultAirplanesLiveURL
	}
	return &AirplanesLiveClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Name returns "airplanes.live".
func (c *AirplanesLiveClient) Name() string {
	return "airplanes.live"
}

// FetchStates returns the aircraft inside bbox. The API only supports
// circular queries, so the box is covered by its enclosing circle (capped
// at 250 NM) and the results are clipped back to the box.
func (c *AirplanesLiveClient) FetchStates(ctx context.Context, bbox BoundingBox) ([]StateVector, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}

	lat, lon := bbox.Center()
	states, err := c.FetchRadius(ctx, lat, lon, bbox.RadiusNM())
	if err != nil {
		return nil, err
	}

	inside := states[:0]
	for _, s := range states {
		if bbox.Contains(*s.Latitude, *s.Longitude) {
			inside = append(inside, s)
		}
	}
	return inside, nil
}

// FetchRadius returns all aircraft within a radius of a given point.
// Uses the /point/[lat]/[lon]/[radius] endpoint.
//
// centerLat/centerLon: Center point in decimal degrees
// radiusNM: Search radius in nautical miles (max 250)
func (c *AirplanesLiveClient) FetchRadius(ctx context.Context, centerLat, centerLon, radiusNM float64) ([]StateVector, error) {
	if radiusNM > MaxAirplanesLiveRadiusNM {
		radiusNM = MaxAirplanesLiveRadiusNM
	}

	apiResp, err := c.get(ctx, fmt.Sprintf("%s/point/%.4f/%.4f/%.0f", c.baseURL, centerLat, centerLon, radiusNM))
	if err != nil {
		return nil, err
	}

	states := make([]StateVector, 0, len(apiResp.Aircraft))
	for _, ac := range apiResp.Aircraft {
		// Skip aircraft with invalid data
		if ac.Lat == nil || ac.Lon == nil {
			continue
		}
		states = append(states, convertAirplanesLiveAircraft(ac))
	}
	return states, nil
}

// FetchByICAO returns a specific aircraft by its ICAO hex code.
// Returns nil if the aircraft is not currently tracked.
func (c *AirplanesLiveClient) FetchByICAO(ctx context.Context, icao string) (*StateVector, error) {
	apiResp, err := c.get(ctx, fmt.Sprintf("%s/hex/%s", c.baseURL, strings.ToLower(icao)))
	if err != nil {
		return nil, err
	}
	if len(apiResp.Aircraft) == 0 {
		return nil, nil
	}

	sv := convertAirplanesLiveAircraft(apiResp.Aircraft[0])
	return &sv, nil
}

// Close cleanly shuts down the client.
// For airplanes.live, this is a no-op as there are no persistent connections.
func (c *AirplanesLiveClient) Close() error {
	return nil
}

func (c *AirplanesLiveClient) get(ctx context.Context, url string) (*airplanesLiveResponse, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aircraft data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, newRateLimitError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp airplanesLiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}
	return &apiResp, nil
}

// airplanesLiveResponse represents the JSON response from airplanes.live API.
type airplanesLiveResponse struct {
	Aircraft []airplanesLiveAircraft `json:"ac"`
	Total    int                     `json:"total"`

	// Now is the server time in milliseconds since the epoch
	Now float64 `json:"now"`
}

// airplanesLiveAircraft represents a single aircraft in the airplanes.live API response.
// Field documentation: https://airplanes.live/adsb-field-explanations/
type airplanesLiveAircraft struct {
	// Hex is the ICAO Mode S hex code (e.g., "a12345")
	Hex string `json:"hex"`

	// Flight is the callsign/flight number
	Flight *string `json:"flight"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	// AltBaro is barometric altitude in feet
	// Note: Can be string "ground" or float
	AltBaro interface{} `json:"alt_baro"`

	// AltGeom is geometric (GPS) altitude in feet
	AltGeom interface{} `json:"alt_geom"`

	// Gs is ground speed in knots
	Gs *float64 `json:"gs"`

	// Track is ground track in degrees (0-360)
	Track *float64 `json:"track"`

	// BaroRate is barometric vertical rate in feet/minute
	BaroRate *float64 `json:"baro_rate"`

	// Seen is seconds since last update
	Seen *float64 `json:"seen"`
}

// convertAirplanesLiveAircraft converts an airplanes.live record to SI units.
func convertAirplanesLiveAircraft(ac airplanesLiveAircraft) StateVector {
	sv := StateVector{
		ICAO24:    strings.ToLower(ac.Hex),
		Latitude:  ac.Lat,
		Longitude: ac.Lon,
	}

	if ac.Flight != nil {
		sv.Callsign = strings.TrimSpace(*ac.Flight)
	}

	geom, geomGround := parseAltitude(ac.AltGeom)
	baro, baroGround := parseAltitude(ac.AltBaro)
	sv.OnGround = geomGround || baroGround
	if geom != nil {
		m := *geom * coordinates.FeetToMeters
		sv.GeoAltitude = &m
	}
	if baro != nil {
		m := *baro * coordinates.FeetToMeters
		sv.BaroAltitude = &m
	}

	if ac.Gs != nil {
		v := *ac.Gs * coordinates.KnotsToMetersPerSecond
		sv.Velocity = &v
	}
	if ac.Track != nil {
		h := *ac.Track
		sv.TrueTrack = &h
	}
	if ac.BaroRate != nil {
		vr := *ac.BaroRate * coordinates.FeetToMeters / 60
		sv.VerticalRate = &vr
	}

	// Timestamp - calculate from "seen" seconds ago
	sv.LastContact = time.Now().UTC()
	if ac.Seen != nil {
		sv.LastContact = sv.LastContact.Add(-time.Duration(*ac.Seen * float64(time.Second)))
	}

	return sv
}

// parseAltitude extracts altitude in feet from a value that can be a number
// or the string "ground". The second result reports "ground".
func parseAltitude(val interface{}) (*float64, bool) {
	switch v := val.(type) {
	case float64:
		return &v, false
	case string:
		if v == "ground" {
			zero := 0.0
			return &zero, true
		}
	}
	return nil, false
}
