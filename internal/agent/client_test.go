package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vesaa/airguard/internal/config"
	"github.com/vesaa/airguard/internal/models"
)

func fptr(v float64) *float64 { return &v }

func TestConfigured(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url, key string
		want     bool
	}{
		{"http://relay:8051", "k", true},
		{"", "k", false},
		{"http://relay:8051", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		c := NewClient(&config.Config{RelayURL: tc.url, RelayAPIKey: tc.key})
		if got := c.Configured(); got != tc.want {
			t.Errorf("Configured(url=%q key=%q)=%v, want %v", tc.url, tc.key, got, tc.want)
		}
	}
}

func TestPushMeasurement(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(&config.Config{
		RelayURL:      srv.URL + "/", // trailing slash must not double up
		RelayAPIKey:   "node-credential",
		NodeName:      "rooftop",
		NodeLatitude:  fptr(59.43),
		NodeLongitude: fptr(24.75),
	})

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := c.PushMeasurement(ts, map[string]float64{models.MetricDeauthCount: 12})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	if gotPath != "/api/measurements" {
		t.Fatalf("path=%s", gotPath)
	}
	if gotKey != "node-credential" {
		t.Fatalf("X-API-Key=%s", gotKey)
	}
	if gotBody["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("timestamp=%v", gotBody["timestamp"])
	}
	if gotBody[models.MetricDeauthCount] != 12.0 {
		t.Fatalf("deauth_count=%v", gotBody[models.MetricDeauthCount])
	}
	if gotBody["node_name"] != "rooftop" || gotBody["latitude"] != 59.43 || gotBody["longitude"] != 24.75 {
		t.Fatalf("hints=%v", gotBody)
	}
}

func TestPushMeasurement_Unconfigured(t *testing.T) {
	t.Parallel()

	c := NewClient(&config.Config{})
	if err := c.PushMeasurement(time.Now(), map[string]float64{"x": 1}); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestPushMeasurement_RelayErrors(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		c := NewClient(&config.Config{RelayURL: srv.URL, RelayAPIKey: "k"})
		if err := c.PushMeasurement(time.Now(), map[string]float64{"deauth_count": 1}); err == nil {
			t.Errorf("status %d: expected error", status)
		}
		srv.Close()
	}
}

func TestPushChannelSamples(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/channel_amplitude" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(&config.Config{RelayURL: srv.URL, RelayAPIKey: "k"})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := c.PushChannelSamples([]models.ChannelAmplitudeSample{
		{Timestamp: ts, Channel: 1, SignalDbm: fptr(-40), NoiseDbm: fptr(-92)},
		{Timestamp: ts, Channel: 6},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	samples, ok := gotBody["samples"].([]any)
	if !ok || len(samples) != 2 {
		t.Fatalf("samples=%v", gotBody["samples"])
	}
	first := samples[0].(map[string]any)
	if first["channel"] != 1.0 || first["signal_dbm"] != -40.0 {
		t.Fatalf("first sample=%v", first)
	}
	second := samples[1].(map[string]any)
	if _, present := second["signal_dbm"]; present {
		t.Fatalf("nil signal marshaled: %v", second)
	}
}

func TestFetchConfig(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" || r.Header.Get("X-API-Key") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"devices": map[string]any{"local_wifi": map[string]any{"enabled": true}},
		})
	}))
	defer srv.Close()

	c := NewClient(&config.Config{RelayURL: srv.URL, RelayAPIKey: "k"})
	cfg, err := c.FetchConfig()
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok := cfg["devices"]; !ok {
		t.Fatalf("config=%v", cfg)
	}
}
