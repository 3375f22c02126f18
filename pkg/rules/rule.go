package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Source records where a rule came from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceLearned Source = "learned"
)

// Stage names the detector stage a rule belongs to. The engine runs stages
// in a fixed order; a rule only fires inside its own stage.
type Stage string

const (
	StageSafePhrase  Stage = "safe_phrase"
	StagePII         Stage = "pii"
	StageInjection   Stage = "injection"
	StageFinance     Stage = "finance"
	StageKeyword     Stage = "keyword"
	StageSuspicion   Stage = "suspicion"
	StageSuppression Stage = "suppression"
)

// Rule is a single compiled detection rule. Compiled regexes are shared and
// must be treated as read-only by all callers.
type Rule struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Pattern     string         `yaml:"pattern" json:"pattern"`
	Regex       *regexp.Regexp `yaml:"-" json:"-"`
	Category    Category       `yaml:"category" json:"category"`
	Severity    Severity       `yaml:"severity" json:"severity"`
	Confidence  float64        `yaml:"confidence" json:"confidence"`
	Source      Source         `yaml:"source" json:"source"`
	Stage       Stage          `yaml:"stage" json:"stage"`
	Explanation string         `yaml:"explanation,omitempty" json:"explanation,omitempty"`
	CreatedAt   time.Time      `yaml:"created_at" json:"created_at"`

	// Validate, when set, rejects matches that pass the regex but fail a
	// structural check (Luhn digits, Aadhaar checksum).
	Validate func(match string) bool `yaml:"-" json:"-"`
}

// ruleID derives a stable content-addressed identifier so the same rule
// produced twice (idempotent training runs) collapses to one entry.
func ruleID(pattern string, category Category) string {
	sum := sha256.Sum256([]byte(pattern + "\x00" + string(category)))
	return "rule_" + hex.EncodeToString(sum[:8])
}

// NewRule compiles a rule and assigns its content-derived ID.
func NewRule(name, pattern string, category Category, severity Severity, confidence float64, source Source, stage Stage) (*Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", name, err)
	}
	return &Rule{
		ID:         ruleID(pattern, category),
		Name:       name,
		Pattern:    pattern,
		Regex:      re,
		Category:   category,
		Severity:   severity,
		Confidence: confidence,
		Source:     source,
		Stage:      stage,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// mustRule is for builtin tables where patterns are compile-time constants.
func mustRule(name, pattern string, category Category, severity Severity, confidence float64, stage Stage) *Rule {
	r, err := NewRule(name, pattern, category, severity, confidence, SourceBuiltin, stage)
	if err != nil {
		panic(err)
	}
	return r
}

// dedupeKey is the identity used when merging rule sets: two rules with the
// same pattern and category are the same rule regardless of name or source.
func (r *Rule) dedupeKey() string {
	return r.Pattern + "\x00" + string(r.Category)
}

// CheckPattern rejects patterns that would be dangerous to admit into the
// live rule set: non-compiling, empty, or matching the empty string or
// pure whitespace (such a rule would flag every input).
func CheckPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("pattern does not compile: %w", err)
	}
	for _, probe := range []string{"", " ", "\t", "   \n"} {
		if re.MatchString(probe) {
			return fmt.Errorf("pattern matches empty or blank input")
		}
	}
	return nil
}
