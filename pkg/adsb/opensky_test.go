package adsb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const statesBody = `{
  "time": 1700000000,
  "states": [
    ["c0ffee", "ACA123  ", "Canada", 1699999990, 1699999995, -75.6972, 45.4215, 10000.0, false, 230.5, 88.0, -1.2, null, 10150.0, "1234", false, 0],
    ["abc123", "", "Canada", null, 1699999995, -75.0, 45.0, null, true, 0.0, null, null, null, null, null, false, 0],
    ["", "NOICAO", "Canada", null, 1699999995, -75.0, 45.0, null, false, null, null, null, null, null, null, false, 0],
    ["short"]
  ]
}`

func newOpenSkyServer(t *testing.T, tokenCalls *int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("Failed to parse token form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("Expected client_credentials grant, got %s", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("client_id") != "id" || r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("invalid_client"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","expires_in":1800,"token_type":"Bearer"}`))
	})
	mux.HandleFunc("/api/states/all", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("lamin") != "40" || q.Get("lamax") != "85" || q.Get("lomin") != "-150" || q.Get("lomax") != "-50" {
			t.Errorf("Unexpected bounding box query: %s", r.URL.RawQuery)
		}
		if auth := r.Header.Get("Authorization"); auth != "" && auth != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(statesBody))
	})
	return httptest.NewServer(mux)
}

// TestOpenSkyFetchStates tests decoding of the positional state arrays.
func TestOpenSkyFetchStates(t *testing.T) {
	var tokenCalls int32
	server := newOpenSkyServer(t, &tokenCalls)
	defer server.Close()

	client := NewOpenSkyClient(OpenSkyOptions{
		BaseURL:      server.URL + "/api",
		TokenURL:     server.URL + "/token",
		ClientID:     "id",
		ClientSecret: "secret",
	})
	defer client.Close()

	states, err := client.FetchStates(context.Background(), DefaultBoundingBox())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("Expected 2 decodable rows, got %d", len(states))
	}

	sv := states[0]
	if sv.ICAO24 != "c0ffee" || sv.Callsign != "ACA123" {
		t.Errorf("Unexpected identity %q/%q", sv.ICAO24, sv.Callsign)
	}
	if *sv.Latitude != 45.4215 || *sv.Longitude != -75.6972 {
		t.Errorf("Unexpected position %f,%f", *sv.Latitude, *sv.Longitude)
	}
	if sv.GeoAltitude == nil || *sv.GeoAltitude != 10150 {
		t.Errorf("Expected geo altitude 10150, got %v", sv.GeoAltitude)
	}
	if sv.Altitude() != 10150 {
		t.Errorf("Expected geo altitude preferred, got %f", sv.Altitude())
	}
	if sv.Velocity == nil || *sv.Velocity != 230.5 {
		t.Errorf("Expected velocity 230.5, got %v", sv.Velocity)
	}
	if sv.TrueTrack == nil || *sv.TrueTrack != 88 {
		t.Errorf("Expected track 88, got %v", sv.TrueTrack)
	}
	if !sv.LastContact.Equal(time.Unix(1699999995, 0)) {
		t.Errorf("Unexpected last contact %v", sv.LastContact)
	}

	ground := states[1]
	if !ground.OnGround {
		t.Error("Expected second row to be on ground")
	}
	if ground.Altitude() != 0 {
		t.Errorf("Expected missing altitude to read as 0, got %f", ground.Altitude())
	}
	if ground.TrueTrack != nil {
		t.Error("Expected nil track")
	}
}

// TestOpenSkyTokenCaching tests that the bearer token is reused until expiry.
func TestOpenSkyTokenCaching(t *testing.T) {
	var tokenCalls int32
	server := newOpenSkyServer(t, &tokenCalls)
	defer server.Close()

	client := NewOpenSkyClient(OpenSkyOptions{
		BaseURL:      server.URL + "/api",
		TokenURL:     server.URL + "/token",
		ClientID:     "id",
		ClientSecret: "secret",
	})

	for i := 0; i < 3; i++ {
		if _, err := client.FetchStates(context.Background(), DefaultBoundingBox()); err != nil {
			t.Fatalf("Fetch %d failed: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Errorf("Expected 1 token request, got %d", n)
	}
}

// TestOpenSkyAnonymous tests that no token is requested without credentials.
func TestOpenSkyAnonymous(t *testing.T) {
	var tokenCalls int32
	server := newOpenSkyServer(t, &tokenCalls)
	defer server.Close()

	client := NewOpenSkyClient(OpenSkyOptions{BaseURL: server.URL + "/api", TokenURL: server.URL + "/token"})
	if client.Authenticated() {
		t.Fatal("Expected anonymous client")
	}
	if _, err := client.FetchStates(context.Background(), DefaultBoundingBox()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if atomic.LoadInt32(&tokenCalls) != 0 {
		t.Error("Expected no token request")
	}
}

// TestOpenSkyErrors tests mapping of error responses.
func TestOpenSkyErrors(t *testing.T) {
	t.Run("Bad credentials", func(t *testing.T) {
		var tokenCalls int32
		server := newOpenSkyServer(t, &tokenCalls)
		defer server.Close()

		client := NewOpenSkyClient(OpenSkyOptions{
			BaseURL:      server.URL + "/api",
			TokenURL:     server.URL + "/token",
			ClientID:     "id",
			ClientSecret: "wrong",
		})
		_, err := client.FetchStates(context.Background(), DefaultBoundingBox())
		ae, ok := IsAuthError(err)
		if !ok {
			t.Fatalf("Expected AuthError, got: %v", err)
		}
		if ae.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", ae.StatusCode)
		}
	})

	t.Run("Rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Rate-Limit-Retry-After-Seconds", "120")
			w.Header().Set("X-Rate-Limit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewOpenSkyClient(OpenSkyOptions{BaseURL: server.URL})
		_, err := client.FetchStates(context.Background(), DefaultBoundingBox())
		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("Expected RateLimitError, got: %v", err)
		}
		if rle.RetryAfter != 120*time.Second {
			t.Errorf("Expected retry after 120s, got %v", rle.RetryAfter)
		}
		if rle.Headers.Remaining != 0 {
			t.Errorf("Expected 0 remaining, got %d", rle.Headers.Remaining)
		}
	})

	t.Run("Invalid bounding box", func(t *testing.T) {
		client := NewOpenSkyClient(OpenSkyOptions{BaseURL: "http://127.0.0.1:1"})
		_, err := client.FetchStates(context.Background(), BoundingBox{LatMin: 10, LatMax: 0})
		if err == nil {
			t.Fatal("Expected validation error")
		}
	})

	t.Run("Server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewOpenSkyClient(OpenSkyOptions{BaseURL: server.URL})
		if _, err := client.FetchStates(context.Background(), DefaultBoundingBox()); err == nil {
			t.Fatal("Expected error for HTTP 502")
		}
	})
}

// TestOpenSkyRateLimiter tests that the hourly budget throttles requests.
func TestOpenSkyRateLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time":0,"states":null}`))
	}))
	defer server.Close()

	// One request per hour: the second call cannot be served before the deadline.
	client := NewOpenSkyClient(OpenSkyOptions{BaseURL: server.URL, RequestsPerHour: 1})

	if _, err := client.FetchStates(context.Background(), DefaultBoundingBox()); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.FetchStates(ctx, DefaultBoundingBox()); err == nil {
		t.Fatal("Expected rate limiter to refuse the second request")
	}
}
