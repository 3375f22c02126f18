// Package detect holds the cheap, deterministic detectors that run on the
// hot path of every analysis: safe-phrase matching, regex stage matchers,
// input sanitization, and the escalation classifier that decides whether a
// text earns a fallback-model call.
package detect

import (
	"sort"

	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// Detection is a single finding against the input text. Immutable once
// created; offsets index into the original (pre-sanitization) text.
type Detection struct {
	Category    rules.Category `json:"category"`
	Severity    rules.Severity `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Detector    string         `json:"detector"`
	MatchedText string         `json:"matched_text"`
	Start       int            `json:"start"`
	End         int            `json:"end"`
	Explanation string         `json:"explanation,omitempty"`
}

// dedupeOverlaps removes detections whose spans overlap an earlier, more
// confident one. Ties keep the longer match.
func dedupeOverlaps(dets []Detection) []Detection {
	if len(dets) <= 1 {
		return dets
	}
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		return (sorted[i].End - sorted[i].Start) > (sorted[j].End - sorted[j].Start)
	})

	var kept []Detection
	for _, d := range sorted {
		overlaps := false
		for _, k := range kept {
			if d.Start < k.End && k.Start < d.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// MaxSeverity returns the highest severity across detections, or
// SeverityNone for an empty list.
func MaxSeverity(dets []Detection) rules.Severity {
	max := rules.SeverityNone
	for _, d := range dets {
		if d.Severity > max {
			max = d.Severity
		}
	}
	return max
}

// HasCritical reports whether any detection is critical. The toxicity
// sub-pipeline short-circuits on this: an explicit critical keyword hit
// makes the fallback call pointless.
func HasCritical(dets []Detection) bool {
	for _, d := range dets {
		if d.Severity == rules.SeverityCritical {
			return true
		}
	}
	return false
}
