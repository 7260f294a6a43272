package server

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/airguard/internal/analysis"
	"github.com/vesaa/airguard/internal/models"
)

// Operator read endpoints. Events and inferences are derived fresh from the
// measurement table on every call — nothing here mutates state, so repeated
// queries over the same window are reproducible.

func (s *Server) thresholds() analysis.Thresholds {
	return analysis.Thresholds{
		DeauthCount:   s.cfg.DeauthThreshold,
		DisassocCount: s.cfg.DisassocThreshold,
	}
}

// timeRange reads start/end query params (RFC3339), defaulting to the last
// 24 hours.
func timeRange(c *gin.Context) (start, end time.Time, ok bool) {
	end = time.Now().UTC()
	start = end.Add(-24 * time.Hour)
	if raw := c.Query("end"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return start, end, false
		}
		end = ts
	}
	if raw := c.Query("start"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return start, end, false
		}
		start = ts
	}
	return start, end, true
}

// handleTimeseries returns measurement rows in range, timestamp ascending.
func (s *Server) handleTimeseries(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	rows, err := s.store.MeasurementsBetween(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// handleEvents runs the event detector over the requested window.
func (s *Server) handleEvents(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	rows, err := s.store.MeasurementsBetween(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events := analysis.DetectEvents(rows, s.thresholds())
	c.JSON(http.StatusOK, gin.H{"data": events})
}

// handleInferences generates causal hypotheses for one event. The event is
// passed back by the caller (events are never persisted); the context window
// spans context_hours before the event through one hour after.
func (s *Server) handleInferences(c *gin.Context) {
	var body struct {
		analysis.NetworkEvent
		ContextHours int `json:"context_hours"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if body.Timestamp.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event timestamp required"})
		return
	}
	hours := body.ContextHours
	if hours <= 0 {
		hours = 24
	}

	start := body.Timestamp.Add(-time.Duration(hours) * time.Hour)
	end := body.Timestamp.Add(time.Hour)
	window, err := s.store.MeasurementsBetween(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": analysis.Infer(body.NetworkEvent, window)})
}

// handleChannelAmplitudeQuery returns sweep samples in range, optionally for
// one node.
func (s *Server) handleChannelAmplitudeQuery(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	var nodeID *string
	if raw := c.Query("node_id"); raw != "" {
		nodeID = &raw
	}
	rows, err := s.store.ChannelSamplesBetween(start, end, nodeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// handleNodes returns the registry for the map. The relay's own entry is
// prepended when its coordinates are configured.
func (s *Server) handleNodes(c *gin.Context) {
	nodes, err := s.store.Nodes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.cfg.NodeLatitude != nil && s.cfg.NodeLongitude != nil {
		name := s.cfg.NodeName
		if name == "" {
			name = "Relay"
		}
		self := models.Node{
			ID:        "relay",
			Name:      name,
			Latitude:  s.cfg.NodeLatitude,
			Longitude: s.cfg.NodeLongitude,
		}
		nodes = append([]models.Node{self}, nodes...)
	}
	c.JSON(http.StatusOK, gin.H{"data": nodes})
}

// handleDataRange returns the min/max measurement timestamps, or an empty
// object when the store has no data.
func (s *Server) handleDataRange(c *gin.Context) {
	min, max, ok, err := s.store.DataRange()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"min_timestamp": min.UTC(),
		"max_timestamp": max.UTC(),
	})
}

// handleSummary returns per-metric mean/min/max/stddev over the window.
func (s *Server) handleSummary(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}
	rows, err := s.store.MeasurementsBetween(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := gin.H{
		"data_points": len(rows),
		"time_range": gin.H{
			"start": start.UTC(),
			"end":   end.UTC(),
		},
	}
	for _, key := range models.SlimMetricKeys {
		values := metricValues(rows, key)
		if len(values) == 0 {
			continue
		}
		out[key] = summarize(values)
	}
	c.JSON(http.StatusOK, out)
}

// metricValues collects the non-null values of one metric column.
func metricValues(rows []models.Measurement, key string) []float64 {
	var values []float64
	appendInt := func(v *int) {
		if v != nil {
			values = append(values, float64(*v))
		}
	}
	appendFloat := func(v *float64) {
		if v != nil {
			values = append(values, *v)
		}
	}
	for _, r := range rows {
		switch key {
		case models.MetricWifiChannel:
			appendInt(r.WifiChannel)
		case models.MetricWifiUtilPct:
			appendFloat(r.WifiUtilPct)
		case models.MetricNoiseDbm:
			appendFloat(r.NoiseDbm)
		case models.MetricDeauthCount:
			appendInt(r.DeauthCount)
		case models.MetricDisassocCount:
			appendInt(r.DisassocCount)
		case models.MetricLocalWifiSignalDbm:
			appendFloat(r.LocalWifiSignalDbm)
		case models.MetricLocalWifiNoiseDbm:
			appendFloat(r.LocalWifiNoiseDbm)
		case models.MetricRFJamDetected:
			appendInt(r.RFJamDetected)
		}
	}
	return values
}

func summarize(values []float64) gin.H {
	sum := 0.0
	min := values[0]
	max := values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return gin.H{
		"mean": mean,
		"min":  min,
		"max":  max,
		"std":  math.Sqrt(variance),
	}
}
