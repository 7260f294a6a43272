// Package collector implements radio-environment signal acquisition.
// The scheduler consumes it through the Collector interface; the only
// in-tree implementation shells out to iw / iwconfig / tshark.
package collector

import "time"

// ChannelReading is one channel's signal/noise sample from a sweep.
type ChannelReading struct {
	Channel   int
	SignalDbm *float64
	NoiseDbm  *float64
}

// Collector acquires radio metrics. Collect returns a flat metric map where
// only present keys carry meaning; a tool failure yields an empty map, not an
// error that stops the loop.
type Collector interface {
	// Collect runs one capture and returns the flat metric map.
	Collect() (map[string]float64, error)
	// ScanChannels retunes through the given channels, capturing signal and
	// noise for perChannel on each.
	ScanChannels(channels []int, perChannel time.Duration) ([]ChannelReading, error)
	// Nominal is the configured capture duration; the scheduler uses it as
	// the per-cycle rate cap.
	Nominal() time.Duration
}
