// Package models defines GORM data models for AirGuard.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Slim-schema metric keys. Anything else a collector reports is dropped
// before storage or push.
const (
	MetricWifiChannel        = "wifi_channel"
	MetricWifiUtilPct        = "wifi_util_pct"
	MetricNoiseDbm           = "noise_dbm"
	MetricDeauthCount        = "deauth_count"
	MetricDisassocCount      = "disassoc_count"
	MetricLocalWifiSignalDbm = "local_wifi_signal_dbm"
	MetricLocalWifiNoiseDbm  = "local_wifi_noise_dbm"
	MetricRFJamDetected      = "rf_jam_detected"
)

// SlimMetricKeys lists every metric column of the measurement table, in
// schema order.
var SlimMetricKeys = []string{
	MetricWifiChannel,
	MetricWifiUtilPct,
	MetricNoiseDbm,
	MetricDeauthCount,
	MetricDisassocCount,
	MetricLocalWifiSignalDbm,
	MetricLocalWifiNoiseDbm,
	MetricRFJamDetected,
}

// Measurement is one sample row. Metric columns are pointers: a nil field was
// absent from the source map and is stored as NULL, never defaulted to zero.
// Rows are insert-only; nothing in the pipeline updates them.
type Measurement struct {
	gorm.Model

	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	// NodeID is nil for samples taken by the relay itself.
	NodeID *string `gorm:"index" json:"node_id,omitempty"`

	WifiChannel        *int     `json:"wifi_channel,omitempty"`
	WifiUtilPct        *float64 `json:"wifi_util_pct,omitempty"`
	NoiseDbm           *float64 `json:"noise_dbm,omitempty"`
	DeauthCount        *int     `json:"deauth_count,omitempty"`
	DisassocCount      *int     `json:"disassoc_count,omitempty"`
	LocalWifiSignalDbm *float64 `json:"local_wifi_signal_dbm,omitempty"`
	LocalWifiNoiseDbm  *float64 `json:"local_wifi_noise_dbm,omitempty"`
	RFJamDetected      *int     `gorm:"column:rf_jam_detected" json:"rf_jam_detected,omitempty"`
}

// ChannelAmplitudeSample is one (timestamp, node, channel) reading from a
// channel sweep. Insert-only.
type ChannelAmplitudeSample struct {
	gorm.Model

	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	NodeID    *string   `gorm:"index" json:"node_id,omitempty"`
	Channel   int       `gorm:"not null" json:"channel"`
	SignalDbm *float64  `json:"signal_dbm,omitempty"`
	NoiseDbm  *float64  `json:"noise_dbm,omitempty"`
}

// SlimMetrics filters a flat metric map down to the slim schema.
func SlimMetrics(metrics map[string]float64) map[string]float64 {
	slim := make(map[string]float64, len(metrics))
	for _, k := range SlimMetricKeys {
		if v, ok := metrics[k]; ok {
			slim[k] = v
		}
	}
	return slim
}

// MeasurementFromMetrics builds a row from a flat metric map, setting only
// the fields present in the map. Unknown keys are ignored.
func MeasurementFromMetrics(ts time.Time, nodeID *string, metrics map[string]float64) *Measurement {
	m := &Measurement{Timestamp: ts.UTC(), NodeID: nodeID}
	for k, v := range metrics {
		switch k {
		case MetricWifiChannel:
			m.WifiChannel = intPtr(int(v))
		case MetricWifiUtilPct:
			m.WifiUtilPct = floatPtr(v)
		case MetricNoiseDbm:
			m.NoiseDbm = floatPtr(v)
		case MetricDeauthCount:
			m.DeauthCount = intPtr(int(v))
		case MetricDisassocCount:
			m.DisassocCount = intPtr(int(v))
		case MetricLocalWifiSignalDbm:
			m.LocalWifiSignalDbm = floatPtr(v)
		case MetricLocalWifiNoiseDbm:
			m.LocalWifiNoiseDbm = floatPtr(v)
		case MetricRFJamDetected:
			m.RFJamDetected = intPtr(int(v))
		}
	}
	return m
}

// HasMetrics reports whether any metric column is set.
func (m *Measurement) HasMetrics() bool {
	return m.WifiChannel != nil || m.WifiUtilPct != nil || m.NoiseDbm != nil ||
		m.DeauthCount != nil || m.DisassocCount != nil ||
		m.LocalWifiSignalDbm != nil || m.LocalWifiNoiseDbm != nil ||
		m.RFJamDetected != nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
