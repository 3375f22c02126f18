package detect

import (
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// StageMatcher runs the rules of a single stage against text. It is a pure
// function over text plus the snapshot handed in, so concurrent requests
// can share one matcher freely.
type StageMatcher struct {
	stage    rules.Stage
	detector string

	// allMatches controls finditer versus first-match semantics. PII wants
	// every occurrence (each one may need redaction); finance and keyword
	// stages only need to know a category fired.
	allMatches bool

	// perCategory keeps only the first (highest-severity stage order)
	// detection per category when allMatches is false.
	perCategory bool
}

// NewPIIMatcher matches every PII occurrence so redaction can cover all of
// them.
func NewPIIMatcher() *StageMatcher {
	return &StageMatcher{stage: rules.StagePII, detector: "pii_regex", allMatches: true}
}

// NewInjectionMatcher matches prompt-injection and jailbreak patterns.
func NewInjectionMatcher() *StageMatcher {
	return &StageMatcher{stage: rules.StageInjection, detector: "prompt_injection", perCategory: true}
}

// NewFinanceMatcher matches finance-intent patterns, one detection per
// category.
func NewFinanceMatcher() *StageMatcher {
	return &StageMatcher{stage: rules.StageFinance, detector: "finance_intent", perCategory: true}
}

// NewKeywordMatcher matches the explicit-threat keyword rules.
func NewKeywordMatcher() *StageMatcher {
	return &StageMatcher{stage: rules.StageKeyword, detector: "toxicity_keyword"}
}

// Detect runs the matcher's stage against text using the given snapshot.
// Suppression rules in the snapshot veto matches they cover.
func (m *StageMatcher) Detect(text string, snap *rules.Snapshot) []Detection {
	var dets []Detection
	suppressions := snap.Stage(rules.StageSuppression)

	for _, r := range snap.Stage(m.stage) {
		if m.allMatches {
			for _, loc := range r.Regex.FindAllStringIndex(text, -1) {
				if d, ok := m.toDetection(r, text, loc[0], loc[1], suppressions); ok {
					dets = append(dets, d)
				}
			}
			continue
		}
		loc := r.Regex.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if d, ok := m.toDetection(r, text, loc[0], loc[1], suppressions); ok {
			dets = append(dets, d)
		}
	}

	dets = dedupeOverlaps(dets)
	if m.perCategory {
		dets = firstPerCategory(dets)
	}
	return dets
}

func (m *StageMatcher) toDetection(r *rules.Rule, text string, start, end int, suppressions []*rules.Rule) (Detection, bool) {
	matched := text[start:end]
	for _, s := range suppressions {
		if s.Regex.MatchString(matched) {
			return Detection{}, false
		}
	}

	confidence := r.Confidence
	if r.Validate != nil && !r.Validate(matched) {
		// Regex shape matched but the structural check failed. Keep the
		// detection at half confidence rather than dropping it.
		confidence *= 0.5
	}

	return Detection{
		Category:    r.Category,
		Severity:    r.Severity,
		Confidence:  confidence,
		Detector:    m.detector,
		MatchedText: matched,
		Start:       start,
		End:         end,
		Explanation: r.Explanation,
	}, true
}

func firstPerCategory(dets []Detection) []Detection {
	seen := map[rules.Category]bool{}
	var out []Detection
	for _, d := range dets {
		if seen[d.Category] {
			continue
		}
		seen[d.Category] = true
		out = append(out, d)
	}
	return out
}
