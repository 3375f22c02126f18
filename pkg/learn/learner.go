// Package learn turns reviewed feedback into rule store commits. Training
// is batch-only: an operator (or an admin endpoint) calls Train, never the
// request path.
package learn

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/TryMightyAI/restrictor/pkg/feedback"
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// Learner derives rules from approved feedback and commits them.
type Learner struct {
	feedback feedback.Store
	rules    *rules.Store

	// persistPath, when set, is where learned rules are written after a
	// successful commit. Empty means in-memory only.
	persistPath string
}

// Result reports what one training run accomplished.
type Result struct {
	RulesLearned    int `json:"rules_learned"`
	RecordsConsumed int `json:"records_consumed"`
	RecordsSkipped  int `json:"records_skipped"`
}

func NewLearner(fb feedback.Store, rs *rules.Store, persistPath string) *Learner {
	return &Learner{feedback: fb, rules: rs, persistPath: persistPath}
}

// Train selects feedback records that are reviewed, approved, and not yet
// included in training, derives a candidate rule from each, and commits the
// valid ones in a single rule store commit. A record whose comment cannot
// produce a valid rule is skipped and logged; the run continues. Consumed
// records are marked trained afterwards, so a crash between commit and
// marking is retried safely: rule IDs derive from content, and recommitting
// the same rule is a no-op.
func (l *Learner) Train(ctx context.Context) (*Result, error) {
	records, err := l.feedback.ListForTraining(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list trainable feedback: %w", err)
	}

	res := &Result{}
	if len(records) == 0 {
		return res, nil
	}

	var candidates []*rules.Rule
	var consumed []string
	for _, rec := range records {
		rule, err := l.deriveRule(rec)
		if err != nil {
			log.Printf("[WARN] skipping feedback %s: %v", rec.FeedbackID, err)
			res.RecordsSkipped++
			// Mark it anyway so an unusable record does not come back
			// on every run.
			consumed = append(consumed, rec.FeedbackID)
			continue
		}
		candidates = append(candidates, rule)
		consumed = append(consumed, rec.FeedbackID)
		res.RecordsConsumed++
	}

	if len(candidates) > 0 {
		added, err := l.rules.Commit(candidates)
		if err != nil {
			return nil, fmt.Errorf("commit learned rules: %w", err)
		}
		res.RulesLearned = added

		if l.persistPath != "" {
			if err := rules.SaveLearned(l.rules.Snapshot(), l.persistPath); err != nil {
				log.Printf("[WARN] persisting learned rules: %v", err)
			}
		}
	}

	if err := l.feedback.MarkTrained(ctx, consumed); err != nil {
		return nil, fmt.Errorf("mark feedback trained: %w", err)
	}
	return res, nil
}

// deriveRule builds a rule candidate from one feedback record. Only the
// reviewer-supplied comment is ever used as pattern material; the original
// input text is not retained anywhere and must not be reconstructed.
func (l *Learner) deriveRule(rec *feedback.Record) (*rules.Rule, error) {
	pattern, err := patternFromComment(rec.Comment)
	if err != nil {
		return nil, err
	}

	switch rec.Type {
	case feedback.TypeFalseNegative:
		category := rules.CategoryToxicHarassment
		if rec.CorrectedCategory != "" {
			c, err := rules.ParseCategory(rec.CorrectedCategory)
			if err != nil {
				return nil, fmt.Errorf("corrected category: %w", err)
			}
			category = c
		}
		name := "learned_" + string(category) + "_" + slug(rec.Comment)
		return rules.NewRule(name, pattern, category, rules.SeverityHigh, 0.85, rules.SourceLearned, stageFor(category))

	case feedback.TypeFalsePositive:
		name := "learned_suppress_" + slug(rec.Comment)
		return rules.NewRule(name, pattern, rules.CategorySafe, rules.SeverityNone, 1.0, rules.SourceLearned, rules.StageSuppression)

	default:
		return nil, fmt.Errorf("feedback type %q does not train", rec.Type)
	}
}

// stageFor routes a learned detection rule to the matching stage so it runs
// alongside the builtin rules of its kind.
func stageFor(c rules.Category) rules.Stage {
	switch {
	case c.IsPII():
		return rules.StagePII
	case c.IsFinance():
		return rules.StageFinance
	case c.IsSecurity():
		return rules.StageInjection
	default:
		return rules.StageKeyword
	}
}

var wordSplit = regexp.MustCompile(`\s+`)

// patternFromComment generalizes a reviewer comment into a word-boundary,
// case-insensitive pattern tolerant of whitespace variation. The comment is
// taken literally otherwise: reviewers supply phrases, not regexes.
func patternFromComment(comment string) (string, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return "", fmt.Errorf("empty reviewer comment, no pattern material")
	}

	words := wordSplit.Split(comment, -1)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	// Boundary anchors only work next to word characters; a comment that
	// starts or ends with punctuation gets no anchor on that side.
	pattern := `(?i)` + strings.Join(words, `\s+`)
	if isWordRune(rune(comment[0])) {
		pattern = `(?i)\b` + strings.Join(words, `\s+`)
	}
	if r := rune(comment[len(comment)-1]); isWordRune(r) {
		pattern += `\b`
	}

	if err := rules.CheckPattern(pattern); err != nil {
		return "", err
	}
	return pattern, nil
}

// isWordRune reports whether r counts as a word character for the regexp
// \b assertion, which is ASCII-only in RE2.
func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// slug reduces a comment to a short identifier for the rule name.
func slug(comment string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(comment)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-':
			b.WriteByte('_')
		}
		if b.Len() >= 24 {
			break
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "rule"
	}
	return s
}
