// Package analysis detects jamming-related events in measurement windows and
// generates causal inferences for them. Both transforms are stateless: only
// the rows passed in matter, so two runs over the same window are identical.
package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/vesaa/airguard/internal/models"
)

// EventType classifies a detected event.
type EventType string

const (
	EventDeauthBurst   EventType = "deauth_burst"
	EventDisassocBurst EventType = "disassoc_burst"
	EventRFJamming     EventType = "rf_jamming"
)

// Severity of an event, ordered critical > severe > moderate > minor.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeveritySevere:   3,
	SeverityModerate: 2,
	SeverityMinor:    1,
}

// NetworkEvent is a detected jamming-related event. Events are derived fresh
// on every query and never persisted.
type NetworkEvent struct {
	EventID     string         `json:"event_id"`
	EventType   EventType      `json:"event_type"`
	Severity    Severity       `json:"severity"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Metrics     map[string]int `json:"metrics"`
}

// Thresholds configures the detector. DisassocCount falls back to
// DeauthCount when zero.
type Thresholds struct {
	DeauthCount   int
	DisassocCount int
}

// DefaultThresholds match the shipped configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{DeauthCount: 5}
}

func (t Thresholds) disassoc() int {
	if t.DisassocCount > 0 {
		return t.DisassocCount
	}
	return t.DeauthCount
}

// dedupWindow buckets event timestamps for deduplication.
const dedupWindow = 5 * time.Minute

// DetectEvents scans a measurement window for deauth bursts, disassoc bursts,
// and RF jamming. The input may be unsorted; output events are ordered by
// timestamp ascending and deduplicated to at most one event per
// (type, 5-minute bucket), keeping the highest severity seen in the bucket.
func DetectEvents(rows []models.Measurement, th Thresholds) []NetworkEvent {
	if len(rows) == 0 {
		return nil
	}

	sorted := make([]models.Measurement, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var events []NetworkEvent

	deauthTh := th.DeauthCount
	for _, row := range sorted {
		if row.DeauthCount == nil || *row.DeauthCount <= deauthTh {
			continue
		}
		count := *row.DeauthCount
		events = append(events, NetworkEvent{
			EventID:     eventID(EventDeauthBurst, row.Timestamp),
			EventType:   EventDeauthBurst,
			Severity:    countSeverity(count),
			Timestamp:   row.Timestamp,
			Description: fmt.Sprintf("Deauth frame burst: %d deauth frames in capture window", count),
			Metrics:     map[string]int{models.MetricDeauthCount: count},
		})
	}

	disassocTh := th.disassoc()
	for _, row := range sorted {
		if row.DisassocCount == nil || *row.DisassocCount <= disassocTh {
			continue
		}
		count := *row.DisassocCount
		events = append(events, NetworkEvent{
			EventID:     eventID(EventDisassocBurst, row.Timestamp),
			EventType:   EventDisassocBurst,
			Severity:    countSeverity(count),
			Timestamp:   row.Timestamp,
			Description: fmt.Sprintf("Disassoc frame burst: %d disassoc frames in capture window", count),
			Metrics:     map[string]int{models.MetricDisassocCount: count},
		})
	}

	for _, row := range sorted {
		if row.RFJamDetected == nil || *row.RFJamDetected < 1 {
			continue
		}
		events = append(events, NetworkEvent{
			EventID:     eventID(EventRFJamming, row.Timestamp),
			EventType:   EventRFJamming,
			Severity:    SeveritySevere,
			Timestamp:   row.Timestamp,
			Description: "High noise or low SNR; possible RF jamming or interference",
			Metrics:     map[string]int{models.MetricRFJamDetected: *row.RFJamDetected},
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return deduplicate(events)
}

// deduplicate keeps at most one event per (type, 5-minute bucket). A strictly
// higher severity replaces the kept event in place, so the timestamp-sorted
// order of the input survives deduplication.
func deduplicate(events []NetworkEvent) []NetworkEvent {
	if len(events) == 0 {
		return events
	}

	type key struct {
		typ    EventType
		bucket time.Time
	}

	kept := make([]NetworkEvent, 0, len(events))
	index := make(map[key]int, len(events))
	for _, ev := range events {
		k := key{typ: ev.EventType, bucket: ev.Timestamp.UTC().Truncate(dedupWindow)}
		i, seen := index[k]
		if !seen {
			index[k] = len(kept)
			kept = append(kept, ev)
			continue
		}
		if severityRank[ev.Severity] > severityRank[kept[i].Severity] {
			kept[i] = ev
		}
	}
	return kept
}

// countSeverity maps a frame count to severity for burst events.
func countSeverity(count int) Severity {
	switch {
	case count > 20:
		return SeverityCritical
	case count > 10:
		return SeveritySevere
	default:
		return SeverityModerate
	}
}

func eventID(typ EventType, ts time.Time) string {
	return fmt.Sprintf("%s_%s", typ, ts.UTC().Format(time.RFC3339))
}
