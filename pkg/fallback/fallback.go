// Package fallback contains the expensive detectors that only run after the
// escalation controller admits a call: an OpenAI-compatible LLM classifier
// and a local ONNX text-classification model.
package fallback

import (
	"context"

	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// Verdict is a fallback detector's answer for one text. Flagged false with
// nil error means the model authoritatively cleared the text.
type Verdict struct {
	Flagged     bool           `json:"flagged"`
	Category    rules.Category `json:"category,omitempty"`
	Severity    rules.Severity `json:"severity,omitempty"`
	Confidence  float64        `json:"confidence"`
	Explanation string         `json:"explanation,omitempty"`

	// Cost accounting for the escalation controller's Charge call.
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
	LatencyMs  float64 `json:"latency_ms"`
}

// Detector is the costly classification backend. Classify receives
// sanitized text only; callers are responsible for running the sanitizer
// first.
type Detector interface {
	Name() string
	IsReady() bool
	Classify(ctx context.Context, sanitized string) (*Verdict, error)
}
