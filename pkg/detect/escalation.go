package detect

import (
	"context"
	"regexp"

	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// EscalationVerdict is the cheap classifier's answer: should this text be
// sent to the fallback model, and what do we believe if we cannot send it.
type EscalationVerdict struct {
	Suspicious        bool
	Confidence        float64
	TriggeredPatterns []string

	// Detection is the degraded verdict used when the budget denies the
	// fallback call. Zero-valued when Suspicious is false.
	Detection Detection
}

// safeHeuristics are structural signals of ordinary conversation. Any hit
// ends the toxicity sub-pipeline without a Detection; these exist to keep
// small talk from burning escalation budget.
var safeHeuristics = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you|please|okay|ok|yes|no|sure)[\s.!?]*$`),
	regexp.MustCompile(`(?i)^what\s+(is|are|was|were|time|day|date)`),
	regexp.MustCompile(`(?i)^(how|who|when|where|why)\s+(do|does|did|is|are|can|could|would|should)`),
	regexp.MustCompile(`(?i)^(tell|show|explain|describe|help)\s+me`),
	regexp.MustCompile(`(?i)\b(weather|recipe|movie|book|song|restaurant|directions)\b`),
	regexp.MustCompile(`(?i)\b(beautiful|wonderful|great|amazing|love|enjoy|happy|excited|proud|grateful)\b`),
	regexp.MustCompile(`(?i)\b(family|friend|vacation|birthday|weekend|holiday)\b`),
}

// SemanticScorer scores text against an embedded corpus of threat phrasing.
// Optional; the classifier works on patterns alone when nil.
type SemanticScorer interface {
	Score(ctx context.Context, text string) (float64, string, error)
	IsReady() bool
}

// EscalationClassifier decides whether ambiguous text earns a fallback-model
// call. High recall is the goal; precision comes from the fallback model.
type EscalationClassifier struct {
	semantic          SemanticScorer
	semanticThreshold float64
}

// NewEscalationClassifier builds a pattern-only classifier.
func NewEscalationClassifier() *EscalationClassifier {
	return &EscalationClassifier{semanticThreshold: 0.65}
}

// WithSemantic attaches an optional embedding-similarity scorer. The scorer
// only adds recall; a pattern hit already escalates without it.
func (c *EscalationClassifier) WithSemantic(s SemanticScorer) *EscalationClassifier {
	c.semantic = s
	return c
}

// Classify labels text safe or suspicious using the snapshot's suspicion
// rules plus learned rules. Safe heuristics are checked first and win.
func (c *EscalationClassifier) Classify(ctx context.Context, text string, snap *rules.Snapshot) EscalationVerdict {
	for _, re := range safeHeuristics {
		if re.MatchString(text) {
			return EscalationVerdict{}
		}
	}

	var triggered []string
	best := Detection{}
	for _, r := range snap.Stage(rules.StageSuspicion) {
		loc := r.Regex.FindStringIndex(text)
		if loc == nil {
			continue
		}
		triggered = append(triggered, r.Name)
		if r.Confidence > best.Confidence {
			best = Detection{
				Category:    r.Category,
				Severity:    r.Severity,
				Confidence:  r.Confidence,
				Detector:    "escalation_classifier",
				MatchedText: text[loc[0]:loc[1]],
				Start:       loc[0],
				End:         loc[1],
				Explanation: r.Explanation,
			}
		}
	}

	if len(triggered) > 0 {
		// Confidence grows with corroborating signals but stays below
		// what the fallback model can assert.
		conf := 0.5 + 0.1*float64(len(triggered))
		if conf > 0.85 {
			conf = 0.85
		}
		best.Confidence = conf
		return EscalationVerdict{
			Suspicious:        true,
			Confidence:        conf,
			TriggeredPatterns: triggered,
			Detection:         best,
		}
	}

	if c.semantic != nil && c.semantic.IsReady() {
		score, matched, err := c.semantic.Score(ctx, text)
		if err == nil && score >= c.semanticThreshold {
			return EscalationVerdict{
				Suspicious:        true,
				Confidence:        score,
				TriggeredPatterns: []string{"semantic:" + matched},
				Detection: Detection{
					Category:    rules.CategorySuspicion,
					Severity:    rules.SeverityMedium,
					Confidence:  score,
					Detector:    "escalation_semantic",
					MatchedText: "",
					Explanation: "Semantic similarity to known threat phrasing",
				},
			}
		}
	}

	return EscalationVerdict{}
}
