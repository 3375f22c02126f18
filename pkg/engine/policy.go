package engine

import (
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// Action is the aggregate outcome of one analysis. Ordering matters:
// aggregation takes the most restrictive action any detection maps to.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionWarn   Action = "ALLOW_WITH_WARNING"
	ActionRedact Action = "REDACT"
	ActionBlock  Action = "BLOCK"
)

var actionRank = map[Action]int{
	ActionAllow:  0,
	ActionWarn:   1,
	ActionRedact: 2,
	ActionBlock:  3,
}

// maxAction returns the more restrictive of two actions.
func maxAction(a, b Action) Action {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

// Policy controls one pipeline run. Read-only during the run; callers may
// share a single Policy across requests.
type Policy struct {
	// Per-stage enable flags. The zero Policy disables everything, so
	// always start from DefaultPolicy.
	EnablePII        bool `json:"enable_pii"`
	EnableInjection  bool `json:"enable_injection"`
	EnableFinance    bool `json:"enable_finance"`
	EnableToxicity   bool `json:"enable_toxicity"`
	EnableEscalation bool `json:"enable_escalation"`

	// MinConfidence drops detections below a per-category floor. Absent
	// categories keep everything.
	MinConfidence map[rules.Category]float64 `json:"min_confidence,omitempty"`

	// ActionOverrides forces the action a category maps to, replacing
	// the severity-derived default.
	ActionOverrides map[rules.Category]Action `json:"action_overrides,omitempty"`

	// PIIAllowlist names PII categories the caller accepts; their
	// detections are dropped before aggregation.
	PIIAllowlist []rules.Category `json:"pii_allowlist,omitempty"`

	// RedactionToken replaces each redacted span.
	RedactionToken string `json:"redaction_token,omitempty"`
}

// DefaultPolicy enables every stage and redacts with the standard token.
func DefaultPolicy() Policy {
	return Policy{
		EnablePII:        true,
		EnableInjection:  true,
		EnableFinance:    true,
		EnableToxicity:   true,
		EnableEscalation: true,
		RedactionToken:   "[REDACTED]",
	}
}

func (p Policy) token() string {
	if p.RedactionToken == "" {
		return "[REDACTED]"
	}
	return p.RedactionToken
}

func (p Policy) allowsPII(c rules.Category) bool {
	for _, a := range p.PIIAllowlist {
		if a == c {
			return true
		}
	}
	return false
}

// actionFor maps a single detection to the action it demands.
func (p Policy) actionFor(category rules.Category, severity rules.Severity) Action {
	if override, ok := p.ActionOverrides[category]; ok {
		return override
	}
	switch {
	case severity >= rules.SeverityHigh:
		return ActionBlock
	case category.IsPII():
		return ActionRedact
	case severity >= rules.SeverityLow:
		return ActionWarn
	default:
		return ActionAllow
	}
}
