package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/airguard/internal/config"
	"github.com/vesaa/airguard/internal/models"
	"github.com/vesaa/airguard/internal/store"
)

// Server wires the relay HTTP surface. Only a relay-role process constructs
// one; nodes never expose an ingestion API.
type Server struct {
	cfg   *config.Config
	store *store.Store
}

// New builds a Server on a shared store.
func New(cfg *config.Config, st *store.Store) *Server {
	return &Server{cfg: cfg, store: st}
}

// Register wires all routes on the engine:
//
//	Public:            POST /api/login, GET /api/health
//	API key (nodes):   POST /api/measurements, POST /api/channel_amplitude, GET /api/config
//	JWT (operators):   the read endpoints in query.go
func (s *Server) Register(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/login", s.handleLogin)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	ingest := api.Group("/", s.apiKeyAuth())
	{
		ingest.POST("/measurements", s.handleMeasurementIngest)
		ingest.POST("/channel_amplitude", s.handleChannelAmplitudeIngest)
		ingest.GET("/config", s.handleConfigMirror)
	}

	operator := api.Group("/", s.jwtAuth())
	{
		operator.GET("/timeseries", s.handleTimeseries)
		operator.GET("/events", s.handleEvents)
		operator.POST("/inferences", s.handleInferences)
		operator.GET("/channel_amplitude", s.handleChannelAmplitudeQuery)
		operator.GET("/nodes", s.handleNodes)
		operator.GET("/range", s.handleDataRange)
		operator.GET("/summary", s.handleSummary)
	}
}

// handleLogin accepts username + password and returns a signed JWT.
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if body.Username != s.cfg.AdminUser || !s.checkAdminPassword(body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.generateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": 86400, // seconds
		"type":       "Bearer",
	})
}

// handleMeasurementIngest accepts one flat metric object from a node. The
// body is filtered to the slim schema; anything else a node sends is dropped
// before storage. The timestamp defaults to now when absent.
func (s *Server) handleMeasurementIngest(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	node, err := s.resolveNode(c.GetString(contextKeyAPIKey), hintsFromBody(body))
	if err != nil {
		log.Printf("[server] node registration failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Node registration failed"})
		return
	}

	ts := timestampFromBody(body)
	m := models.MeasurementFromMetrics(ts, &node.ID, numericMetrics(body))
	if err := s.store.InsertMeasurement(m); err != nil {
		log.Printf("[server] measurement insert failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storing measurement failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "node_id": node.ID})
}

// handleChannelAmplitudeIngest accepts a sweep batch. Entries missing a
// timestamp or channel are skipped; the valid rest of the batch is still
// stored.
func (s *Server) handleChannelAmplitudeIngest(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	raw, ok := body["samples"]
	if !ok {
		raw = body["channel_amplitude"]
	}
	entries, ok := raw.([]any)
	if raw != nil && !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "samples must be an array"})
		return
	}

	node, err := s.resolveNode(c.GetString(contextKeyAPIKey), hintsFromBody(body))
	if err != nil {
		log.Printf("[server] node registration failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Node registration failed"})
		return
	}

	samples := make([]models.ChannelAmplitudeSample, 0, len(entries))
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		tsRaw, ok := entry["timestamp"].(string)
		if !ok {
			continue
		}
		ts, err := parseTimestamp(tsRaw)
		if err != nil {
			continue
		}
		ch, ok := entry["channel"].(float64)
		if !ok {
			continue
		}
		samples = append(samples, models.ChannelAmplitudeSample{
			Timestamp: ts,
			NodeID:    &node.ID,
			Channel:   int(ch),
			SignalDbm: floatField(entry, "signal_dbm"),
			NoiseDbm:  floatField(entry, "noise_dbm"),
		})
	}

	stored, err := s.store.InsertChannelSamples(samples)
	if err != nil {
		log.Printf("[server] channel sample insert failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storing samples failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "node_id": node.ID, "stored": stored})
}

// handleConfigMirror returns the config subset a node mirrors: acquisition
// parameters and detection thresholds. Read-only.
func (s *Server) handleConfigMirror(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"devices": gin.H{
			"local_wifi": gin.H{
				"enabled":                     s.cfg.WifiEnabled,
				"interface":                   s.cfg.WifiInterface,
				"ssid":                        s.cfg.WifiSSID,
				"channel":                     s.cfg.WifiChannel,
				"monitor_capture_seconds":     s.cfg.CaptureSeconds,
				"jamming_noise_threshold_dbm": s.cfg.JamNoiseDbm,
				"jamming_snr_threshold_db":    s.cfg.JamSNRDb,
				"channel_scan": gin.H{
					"enabled":             s.cfg.ChannelScanEnabled,
					"interval_seconds":    s.cfg.ChannelScanInterval,
					"seconds_per_channel": s.cfg.ChannelScanSeconds,
					"channels":            s.cfg.ChannelScanChannels,
				},
			},
		},
		"event_detection": gin.H{
			"thresholds": gin.H{
				"deauth_count_threshold":   s.cfg.DeauthThreshold,
				"disassoc_count_threshold": s.cfg.DisassocCountThreshold(),
			},
		},
	})
}

// numericMetrics filters a flat JSON body to the slim schema's numeric values.
func numericMetrics(body map[string]any) map[string]float64 {
	out := make(map[string]float64, len(body))
	for _, k := range models.SlimMetricKeys {
		if v, ok := body[k].(float64); ok {
			out[k] = v
		}
	}
	return out
}

// timestampFromBody parses the body's timestamp field, defaulting to now.
func timestampFromBody(body map[string]any) time.Time {
	if raw, ok := body["timestamp"].(string); ok {
		if ts, err := parseTimestamp(raw); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}

// parseTimestamp accepts RFC3339 (with or without fractional seconds) and
// the zone-less ISO form some tooling emits, which is taken as UTC.
func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	_, err := time.Parse(time.RFC3339, raw)
	return time.Time{}, err
}
