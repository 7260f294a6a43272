// Package agent implements the node-role HTTP client. A node pushes every
// collection cycle to its relay instead of storing it; pushes are loss-tolerant
// telemetry, so a failed push is logged and dropped, never queued or retried.
// Every outbound request carries the API key in the X-API-Key header.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vesaa/airguard/internal/config"
	"github.com/vesaa/airguard/internal/models"
)

// Client pushes measurements and channel sweeps to a relay.
type Client struct {
	baseURL string
	apiKey  string

	// Identity hints merged into every measurement push so the relay can
	// name and place this node on the map.
	nodeName  string
	latitude  *float64
	longitude *float64

	http *http.Client
}

// NewClient builds a push client from config. The HTTP timeout bounds how
// long one cycle can block on the network.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.RelayURL, "/"),
		apiKey:    cfg.RelayAPIKey,
		nodeName:  cfg.NodeName,
		latitude:  cfg.NodeLatitude,
		longitude: cfg.NodeLongitude,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether both a relay URL and an API key are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// PushMeasurement POSTs one slim metric map tagged with ts to the relay.
func (c *Client) PushMeasurement(ts time.Time, metrics map[string]float64) error {
	if !c.Configured() {
		return fmt.Errorf("no relay URL or API key configured")
	}
	payload := make(map[string]any, len(metrics)+4)
	for k, v := range metrics {
		payload[k] = v
	}
	payload["timestamp"] = ts.UTC().Format(time.RFC3339)
	if c.nodeName != "" {
		payload["node_name"] = c.nodeName
	}
	if c.latitude != nil {
		payload["latitude"] = *c.latitude
	}
	if c.longitude != nil {
		payload["longitude"] = *c.longitude
	}
	return c.postJSON("/api/measurements", payload)
}

// PushChannelSamples POSTs a sweep batch to the relay.
func (c *Client) PushChannelSamples(samples []models.ChannelAmplitudeSample) error {
	if !c.Configured() {
		return fmt.Errorf("no relay URL or API key configured")
	}
	batch := make([]map[string]any, 0, len(samples))
	for _, s := range samples {
		entry := map[string]any{
			"timestamp": s.Timestamp.UTC().Format(time.RFC3339),
			"channel":   s.Channel,
		}
		if s.SignalDbm != nil {
			entry["signal_dbm"] = *s.SignalDbm
		}
		if s.NoiseDbm != nil {
			entry["noise_dbm"] = *s.NoiseDbm
		}
		batch = append(batch, entry)
	}
	return c.postJSON("/api/channel_amplitude", map[string]any{"samples": batch})
}

// FetchConfig mirrors the relay's acquisition and detection settings.
func (c *Client) FetchConfig() (map[string]any, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("no relay URL or API key configured")
	}
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/config", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// postJSON sends v as JSON with the API key header. Non-2xx is an error; the
// caller decides whether to log or drop.
func (c *Client) postJSON(path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("relay rejected key (401) — check relay_api_key in config")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("relay returned %d", resp.StatusCode)
	}
	return nil
}
