package analysis

import (
	"sort"

	"github.com/vesaa/airguard/internal/models"
)

// Confidence of an inference, ordered high > medium > low.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var confidenceRank = map[Confidence]int{
	ConfidenceHigh:   3,
	ConfidenceMedium: 2,
	ConfidenceLow:    1,
}

// Inference is a causal hypothesis for one event. Derived fresh per event,
// never persisted.
type Inference struct {
	CauseType      string         `json:"cause_type"`
	Confidence     Confidence     `json:"confidence"`
	Description    string         `json:"description"`
	Evidence       map[string]int `json:"evidence"`
	RelatedMetrics map[string]int `json:"related_metrics"`
}

// Infer generates causal hypotheses for one event. This is rule dispatch, not
// cross-event reasoning: only the event passed in is read. The context window
// is accepted for future extension; an empty window yields no inferences.
func Infer(ev NetworkEvent, window []models.Measurement) []Inference {
	if len(window) == 0 {
		return nil
	}

	var out []Inference
	switch ev.EventType {
	case EventDeauthBurst:
		count := ev.Metrics[models.MetricDeauthCount]
		out = append(out, Inference{
			CauseType:      "wifi_deauth",
			Confidence:     ConfidenceHigh,
			Description:    "Deauth frames detected; possible deauth attack or misconfigured device.",
			Evidence:       map[string]int{models.MetricDeauthCount: count},
			RelatedMetrics: map[string]int{models.MetricDeauthCount: count},
		})
	case EventRFJamming:
		jam := ev.Metrics[models.MetricRFJamDetected]
		if jam == 0 {
			jam = 1
		}
		out = append(out, Inference{
			CauseType:      "wifi_rf_jamming",
			Confidence:     ConfidenceMedium,
			Description:    "High noise or low SNR; possible RF jamming or interference.",
			Evidence:       map[string]int{models.MetricRFJamDetected: jam},
			RelatedMetrics: map[string]int{},
		})
	case EventDisassocBurst:
		count := ev.Metrics[models.MetricDisassocCount]
		out = append(out, Inference{
			CauseType:      "wifi_disassoc",
			Confidence:     ConfidenceHigh,
			Description:    "Disassoc frames detected; possible attack or client disconnects.",
			Evidence:       map[string]int{models.MetricDisassocCount: count},
			RelatedMetrics: map[string]int{models.MetricDisassocCount: count},
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return confidenceRank[out[i].Confidence] > confidenceRank[out[j].Confidence]
	})
	return out
}
