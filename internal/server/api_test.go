package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/airguard/internal/config"
	"github.com/vesaa/airguard/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Role:            "relay",
		JWTSecret:       "test-secret",
		AdminUser:       "admin",
		AdminPass:       "admin",
		DeauthThreshold: 5,
	}
}

func setupServer(t *testing.T, cfg *config.Config) (*gin.Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "monitoring.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	r := gin.New()
	New(cfg, st).Register(r)
	return r, st
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestMeasurementIngest_MissingKeyRejected(t *testing.T) {
	t.Parallel()

	r, st := setupServer(t, testConfig())
	w := doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{"deauth_count": 12}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	rows, err := st.MeasurementsBetween(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("unauthenticated push stored %d rows", len(rows))
	}
}

func TestMeasurementIngest_OpenMode(t *testing.T) {
	t.Parallel()

	r, st := setupServer(t, testConfig())
	headers := map[string]string{"X-API-Key": "node-credential"}
	w := doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{
		"timestamp":             "2026-03-01T12:00:00Z",
		"deauth_count":          12,
		"local_wifi_signal_dbm": -52.5,
		"node_name":             "rooftop",
		"latitude":              59.43,
		"longitude":             24.75,
	}, headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	nodeID, _ := resp["node_id"].(string)
	if len(nodeID) != 12 {
		t.Fatalf("node_id=%q", nodeID)
	}

	nodes, err := st.Nodes()
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "rooftop" {
		t.Fatalf("nodes=%+v", nodes)
	}
	if nodes[0].Latitude == nil || *nodes[0].Latitude != 59.43 {
		t.Fatalf("latitude=%v", nodes[0].Latitude)
	}

	rows, err := st.MeasurementsBetween(
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	m := rows[0]
	if m.DeauthCount == nil || *m.DeauthCount != 12 {
		t.Fatalf("deauth_count=%v", m.DeauthCount)
	}
	if m.LocalWifiSignalDbm == nil || *m.LocalWifiSignalDbm != -52.5 {
		t.Fatalf("local_wifi_signal_dbm=%v", m.LocalWifiSignalDbm)
	}
	if m.NodeID == nil || *m.NodeID != nodeID {
		t.Fatalf("node_id=%v", m.NodeID)
	}
}

func TestMeasurementIngest_FixedKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RelayAPIKey = "shared-secret"
	r, _ := setupServer(t, cfg)

	w := doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{"deauth_count": 1},
		map[string]string{"X-API-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("mismatched key: status=%d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{"deauth_count": 1},
		map[string]string{"X-API-Key": "shared-secret"})
	if w.Code != http.StatusCreated {
		t.Fatalf("matching key: status=%d body=%s", w.Code, w.Body.String())
	}

	// Bearer form works too.
	w = doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{"deauth_count": 1},
		map[string]string{"Authorization": "Bearer shared-secret"})
	if w.Code != http.StatusCreated {
		t.Fatalf("bearer key: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestMeasurementIngest_InvalidJSON(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())
	w := doJSON(t, r, http.MethodPost, "/api/measurements", "{not json",
		map[string]string{"X-API-Key": "k"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestMeasurementIngest_StableNodeIdentity(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())
	push := func(key string) string {
		w := doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{"deauth_count": 1},
			map[string]string{"X-API-Key": key})
		if w.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		id, _ := decodeBody(t, w)["node_id"].(string)
		return id
	}

	a1 := push("key-a")
	a2 := push("key-a")
	b := push("key-b")
	if a1 != a2 {
		t.Fatalf("same key produced different ids: %s vs %s", a1, a2)
	}
	if a1 == b {
		t.Fatalf("distinct keys collided on id %s", a1)
	}
}

func TestChannelAmplitudeIngest(t *testing.T) {
	t.Parallel()

	r, st := setupServer(t, testConfig())
	headers := map[string]string{"X-API-Key": "node-credential"}
	w := doJSON(t, r, http.MethodPost, "/api/channel_amplitude", gin.H{
		"samples": []gin.H{
			{"timestamp": "2026-03-01T12:00:00Z", "channel": 1, "signal_dbm": -40.0, "noise_dbm": -92.0},
			{"timestamp": "2026-03-01T12:00:00Z", "channel": 6, "signal_dbm": -55.0},
			{"timestamp": "2026-03-01T12:00:00Z", "signal_dbm": -60.0}, // no channel, skipped
		},
	}, headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if stored, _ := resp["stored"].(float64); stored != 2 {
		t.Fatalf("stored=%v", resp["stored"])
	}

	rows, err := st.ChannelSamplesBetween(
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		nil,
	)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d", len(rows))
	}
}

func TestChannelAmplitudeIngest_NonArraySamples(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())
	w := doJSON(t, r, http.MethodPost, "/api/channel_amplitude", gin.H{"samples": "nope"},
		map[string]string{"X-API-Key": "k"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestConfigMirror(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CaptureSeconds = 30
	cfg.JamNoiseDbm = -70
	r, _ := setupServer(t, cfg)

	w := doJSON(t, r, http.MethodGet, "/api/config", nil, map[string]string{"X-API-Key": "k"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	devices, ok := resp["devices"].(map[string]any)
	if !ok {
		t.Fatalf("devices missing: %v", resp)
	}
	wifi, ok := devices["local_wifi"].(map[string]any)
	if !ok {
		t.Fatalf("local_wifi missing: %v", devices)
	}
	if v, _ := wifi["monitor_capture_seconds"].(float64); v != 30 {
		t.Fatalf("capture_seconds=%v", wifi["monitor_capture_seconds"])
	}
	det, ok := resp["event_detection"].(map[string]any)
	if !ok {
		t.Fatalf("event_detection missing: %v", resp)
	}
	thr := det["thresholds"].(map[string]any)
	// Disassoc falls back to the deauth threshold when unset.
	if v, _ := thr["disassoc_count_threshold"].(float64); v != 5 {
		t.Fatalf("disassoc_count_threshold=%v", thr["disassoc_count_threshold"])
	}
}

func TestLoginAndOperatorAuth(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())

	w := doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "admin", "password": "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status=%d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "admin", "password": "admin"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", w.Code, w.Body.String())
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatal("empty token")
	}

	w = doJSON(t, r, http.MethodGet, "/api/events", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/events", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("with token: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestEvents_DetectedFromIngestedData(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())
	headers := map[string]string{"X-API-Key": "node-credential"}
	ts := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	w := doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{
		"timestamp":    ts,
		"deauth_count": 12,
	}, headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: status=%d body=%s", w.Code, w.Body.String())
	}

	token := loginToken(t, r)
	w = doJSON(t, r, http.MethodGet, "/api/events", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("events: status=%d body=%s", w.Code, w.Body.String())
	}
	data, _ := decodeBody(t, w)["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("events=%d body=%s", len(data), w.Body.String())
	}
	ev := data[0].(map[string]any)
	if ev["event_type"] != "deauth_burst" || ev["severity"] != "severe" {
		t.Fatalf("event=%v", ev)
	}
}

func TestInferences(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())
	headers := map[string]string{"X-API-Key": "node-credential"}
	ts := time.Now().UTC().Add(-time.Hour)
	w := doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{
		"timestamp":    ts.Format(time.RFC3339),
		"deauth_count": 12,
	}, headers)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: status=%d", w.Code)
	}

	token := loginToken(t, r)
	w = doJSON(t, r, http.MethodPost, "/api/inferences", gin.H{
		"event_type": "deauth_burst",
		"timestamp":  ts.Format(time.RFC3339),
		"severity":   "severe",
	}, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("inferences: status=%d body=%s", w.Code, w.Body.String())
	}
	data, _ := decodeBody(t, w)["data"].([]any)
	if len(data) == 0 {
		t.Fatalf("no inferences: %s", w.Body.String())
	}
	inf := data[0].(map[string]any)
	if inf["cause_type"] != "wifi_deauth" || inf["confidence"] != "high" {
		t.Fatalf("inference=%v", inf)
	}
}

func TestDataRange_Empty(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())
	token := loginToken(t, r)
	w := doJSON(t, r, http.MethodGet, "/api/range", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := decodeBody(t, w); len(got) != 0 {
		t.Fatalf("empty store range=%v", got)
	}
}

func TestDataRange_Populated(t *testing.T) {
	t.Parallel()

	r, _ := setupServer(t, testConfig())
	headers := map[string]string{"X-API-Key": "node-credential"}
	for _, ts := range []string{"2026-03-01T12:00:00Z", "2026-03-02T18:30:00Z"} {
		w := doJSON(t, r, http.MethodPost, "/api/measurements", gin.H{
			"timestamp":    ts,
			"deauth_count": 1,
		}, headers)
		if w.Code != http.StatusCreated {
			t.Fatalf("ingest %s: status=%d body=%s", ts, w.Code, w.Body.String())
		}
	}

	token := loginToken(t, r)
	w := doJSON(t, r, http.MethodGet, "/api/range", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("range: status=%d body=%s", w.Code, w.Body.String())
	}
	got := decodeBody(t, w)
	minRaw, _ := got["min_timestamp"].(string)
	maxRaw, _ := got["max_timestamp"].(string)
	min, err := time.Parse(time.RFC3339, minRaw)
	if err != nil {
		t.Fatalf("min_timestamp=%q: %v", minRaw, err)
	}
	max, err := time.Parse(time.RFC3339, maxRaw)
	if err != nil {
		t.Fatalf("max_timestamp=%q: %v", maxRaw, err)
	}
	if !min.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("min=%v", min)
	}
	if !max.Equal(time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC)) {
		t.Fatalf("max=%v", max)
	}
}

func loginToken(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "admin", "password": "admin"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", w.Code, w.Body.String())
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatal("empty token")
	}
	return token
}
