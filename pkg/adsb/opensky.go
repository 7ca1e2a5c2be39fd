package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultOpenSkyURL is the OpenSky Network REST API root
	DefaultOpenSkyURL = "https://opensky-network.org/api"

	// DefaultOpenSkyTokenURL issues OAuth2 client credentials tokens
	DefaultOpenSkyTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// tokenRefreshMargin renews a token this long before it expires
	tokenRefreshMargin = 30 * time.Second
)

// OpenSkyOptions configures an OpenSkyClient.
type OpenSkyOptions struct {
	BaseURL  string
	TokenURL string

	// ClientID and ClientSecret enable authenticated access. When either
	// is empty the client makes anonymous requests.
	ClientID     string
	ClientSecret string

	// RequestsPerHour throttles calls to /states/all (0 means unlimited)
	RequestsPerHour float64

	Timeout time.Duration
}

// OpenSkyClient implements DataSource for the OpenSky Network REST API.
// API Documentation: https://openskynetwork.github.io/opensky-api/rest.html
type OpenSkyClient struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string

	httpClient  *http.Client
	rateLimiter *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewOpenSkyClient creates a new OpenSky API client.
func NewOpenSkyClient(opts OpenSkyOptions) *OpenSkyClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenSkyURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultOpenSkyTokenURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	// Convert requests per hour to rate limiter (allows burst of 1)
	limit := rate.Inf
	if opts.RequestsPerHour > 0 {
		limit = rate.Limit(opts.RequestsPerHour / 3600.0)
	}

	return &OpenSkyClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		tokenURL:     opts.TokenURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		rateLimiter: rate.NewLimiter(limit, 1),
	}
}

// Name returns "opensky".
func (c *OpenSkyClient) Name() string {
	return "opensky"
}

// Authenticated reports whether the client has credentials configured.
func (c *OpenSkyClient) Authenticated() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// FetchStates returns all state vectors inside bbox from /states/all.
func (c *OpenSkyClient) FetchStates(ctx context.Context, bbox BoundingBox) ([]StateVector, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("lamin", strconv.FormatFloat(bbox.LatMin, 'f', -1, 64))
	q.Set("lamax", strconv.FormatFloat(bbox.LatMax, 'f', -1, 64))
	q.Set("lomin", strconv.FormatFloat(bbox.LonMin, 'f', -1, 64))
	q.Set("lomax", strconv.FormatFloat(bbox.LonMax, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/states/all?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.Authenticated() {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state vectors: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		rle := newRateLimitError(resp)
		if rle.RetryAfter == 0 {
			if secs, ok := headerInt(resp.Header, "X-Rate-Limit-Retry-After-Seconds"); ok && secs > 0 {
				rle.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, rle
	case http.StatusUnauthorized, http.StatusForbidden:
		c.invalidateToken()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp openSkyResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	states := make([]StateVector, 0, len(apiResp.States))
	for _, row := range apiResp.States {
		sv, ok := decodeStateRow(row)
		if !ok {
			continue
		}
		states = append(states, sv)
	}
	return states, nil
}

// Close cleanly shuts down the client.
func (c *OpenSkyClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// accessToken returns a cached bearer token, requesting a new one when the
// cached token is missing or about to expire.
func (c *OpenSkyClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &AuthError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Message: "token response has no access_token"}
	}

	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if lifetime > tokenRefreshMargin {
		lifetime -= tokenRefreshMargin
	}
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(lifetime)
	return c.token, nil
}

func (c *OpenSkyClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// openSkyResponse is the body of /states/all. Each state is a positional
// array rather than an object.
type openSkyResponse struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// State vector array indices.
const (
	idxICAO24        = 0
	idxCallsign      = 1
	idxLastContact   = 4
	idxLongitude     = 5
	idxLatitude      = 6
	idxBaroAltitude  = 7
	idxOnGround      = 8
	idxVelocity      = 9
	idxTrueTrack     = 10
	idxVerticalRate  = 11
	idxGeoAltitude   = 13
	stateVectorWidth = 14
)

// decodeStateRow converts one positional state array. Rows that are too
// short or lack an icao24 are rejected.
func decodeStateRow(row []any) (StateVector, bool) {
	if len(row) < stateVectorWidth {
		return StateVector{}, false
	}

	icao, _ := row[idxICAO24].(string)
	if strings.TrimSpace(icao) == "" {
		return StateVector{}, false
	}
	callsign, _ := row[idxCallsign].(string)
	onGround, _ := row[idxOnGround].(bool)

	sv := StateVector{
		ICAO24:       strings.TrimSpace(icao),
		Callsign:     strings.TrimSpace(callsign),
		Longitude:    anyFloat(row[idxLongitude]),
		Latitude:     anyFloat(row[idxLatitude]),
		BaroAltitude: anyFloat(row[idxBaroAltitude]),
		OnGround:     onGround,
		Velocity:     anyFloat(row[idxVelocity]),
		TrueTrack:    anyFloat(row[idxTrueTrack]),
		VerticalRate: anyFloat(row[idxVerticalRate]),
		GeoAltitude:  anyFloat(row[idxGeoAltitude]),
	}
	if ts := anyFloat(row[idxLastContact]); ts != nil {
		sv.LastContact = time.Unix(int64(*ts), 0).UTC()
	}
	return sv, true
}

// anyFloat returns a pointer to v when it is a JSON number, nil otherwise.
func anyFloat(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}
