package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/TryMightyAI/restrictor/pkg/budget"
	"github.com/TryMightyAI/restrictor/pkg/fallback"
	"github.com/TryMightyAI/restrictor/pkg/feedback"
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// spyDetector counts Classify calls and returns a canned verdict or error.
type spyDetector struct {
	calls   atomic.Int64
	verdict *fallback.Verdict
	err     error
	ready   bool
}

func (s *spyDetector) Name() string  { return "spy" }
func (s *spyDetector) IsReady() bool { return s.ready }
func (s *spyDetector) Classify(ctx context.Context, sanitized string) (*fallback.Verdict, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.verdict, nil
}

func newTestEngine(limits budget.Limits) *Engine {
	return NewEngine(rules.NewStore(), budget.NewController(limits))
}

func TestAnalyzeInputValidation(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	ctx := context.Background()

	if _, err := e.Analyze(ctx, "", "t1", DefaultPolicy()); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty input err = %v", err)
	}
	if _, err := e.Analyze(ctx, "   \n\t ", "t1", DefaultPolicy()); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank input err = %v", err)
	}

	e.WithMaxInputLength(10)
	if _, err := e.Analyze(ctx, strings.Repeat("a", 11), "t1", DefaultPolicy()); !errors.Is(err, ErrInputTooLong) {
		t.Errorf("oversize input err = %v", err)
	}
}

func TestAnalyzeSafePhraseAllows(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	d, err := e.Analyze(context.Background(), "Hello, how are you?", "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Action != ActionAllow {
		t.Errorf("action = %s, want ALLOW", d.Action)
	}
	if len(d.Detections) != 0 {
		t.Errorf("detections = %+v, want none", d.Detections)
	}
	if d.RequestID == "" || d.InputHash == "" {
		t.Error("request_id or input_hash not stamped")
	}
}

func TestSafePhrasePreemptsKeywords(t *testing.T) {
	// A configured safe phrase wins even when the text would otherwise
	// trip a critical keyword rule.
	spy := &spyDetector{ready: true}
	e := newTestEngine(budget.Limits{}).
		WithSafePhrases([]string{"go die champ"}).
		WithFallback(spy)

	d, err := e.Analyze(context.Background(), "Go die, champ!", "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Action != ActionAllow || len(d.Detections) != 0 {
		t.Errorf("decision = %s %+v, want clean ALLOW", d.Action, d.Detections)
	}
	if spy.calls.Load() != 0 {
		t.Errorf("fallback called %d times", spy.calls.Load())
	}
}

func TestAnalyzeRedactsPII(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	text := "Contact me at john.doe@example.com before Friday"
	d, err := e.Analyze(context.Background(), text, "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Action != ActionRedact {
		t.Fatalf("action = %s, want REDACT (detections: %+v)", d.Action, d.Detections)
	}
	want := "Contact me at [REDACTED] before Friday"
	if d.RedactedText != want {
		t.Errorf("redacted = %q, want %q", d.RedactedText, want)
	}
}

func TestRedactionMultipleSpans(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	text := "mail a@b.com or c@d.org today"
	d, err := e.Analyze(context.Background(), text, "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := "mail [REDACTED] or [REDACTED] today"
	if d.RedactedText != want {
		t.Errorf("redacted = %q, want %q", d.RedactedText, want)
	}
}

func TestPIIAllowlistSkipsCategory(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	policy := DefaultPolicy()
	policy.PIIAllowlist = []rules.Category{rules.CategoryPIIEmail}

	d, err := e.Analyze(context.Background(), "reach me at a@b.com", "t1", policy)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Action != ActionAllow || len(d.Detections) != 0 {
		t.Errorf("decision = %s %+v, want ALLOW with allowlisted email", d.Action, d.Detections)
	}
}

func TestCriticalKeywordBlocksWithoutFallback(t *testing.T) {
	spy := &spyDetector{ready: true}
	e := newTestEngine(budget.Limits{}).WithFallback(spy)

	d, err := e.Analyze(context.Background(), "bhenchod tum kuch nahi kar sakte", "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Action != ActionBlock {
		t.Errorf("action = %s, want BLOCK", d.Action)
	}
	if spy.calls.Load() != 0 {
		t.Errorf("fallback called %d times for a certain keyword hit", spy.calls.Load())
	}
	if d.Escalated {
		t.Error("escalation ran despite keyword short-circuit")
	}
}

func TestEscalationInvokesFallback(t *testing.T) {
	spy := &spyDetector{
		ready: true,
		verdict: &fallback.Verdict{
			Flagged:     true,
			Category:    rules.CategoryToxicHarassment,
			Severity:    rules.SeverityHigh,
			Confidence:  0.91,
			Explanation: "threatening tone",
			CostUSD:     0.002,
		},
	}
	e := newTestEngine(budget.Limits{CallsPerWindow: 10}).WithFallback(spy)

	d, err := e.Analyze(context.Background(), "you will pay for this, believe me", "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if spy.calls.Load() != 1 {
		t.Fatalf("fallback calls = %d, want 1", spy.calls.Load())
	}
	if !d.Escalated || !d.FallbackInvoked {
		t.Errorf("provenance = escalated %v, invoked %v", d.Escalated, d.FallbackInvoked)
	}
	if d.Action != ActionBlock {
		t.Errorf("action = %s, want BLOCK from high-severity verdict", d.Action)
	}
	if len(d.Detections) != 1 || d.Detections[0].Detector != "spy" {
		t.Errorf("detections = %+v", d.Detections)
	}
}

func TestBudgetDenialDegradesToClassifierVerdict(t *testing.T) {
	spy := &spyDetector{ready: true, verdict: &fallback.Verdict{Flagged: false}}
	e := newTestEngine(budget.Limits{CallsPerWindow: 2}).WithFallback(spy)
	ctx := context.Background()
	text := "you will pay for this, believe me"

	for i := 0; i < 2; i++ {
		if _, err := e.Analyze(ctx, text, "t1", DefaultPolicy()); err != nil {
			t.Fatalf("Analyze %d: %v", i, err)
		}
	}
	if spy.calls.Load() != 2 {
		t.Fatalf("fallback calls = %d, want 2", spy.calls.Load())
	}

	d, err := e.Analyze(ctx, text, "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze over budget: %v", err)
	}
	if spy.calls.Load() != 2 {
		t.Errorf("fallback called despite exhausted budget")
	}
	if len(d.Detections) != 1 || d.Detections[0].Detector != "escalation_classifier" {
		t.Errorf("detections = %+v, want degraded classifier verdict", d.Detections)
	}
	if d.Action == ActionAllow {
		t.Error("suspicious text allowed silently when budget ran out")
	}
}

func TestFallbackErrorReleasesSlotAndRecordsFailure(t *testing.T) {
	spy := &spyDetector{ready: true, err: errors.New("upstream 429")}
	e := newTestEngine(budget.Limits{CallsPerWindow: 1}).WithFallback(spy)
	ctx := context.Background()
	text := "you will pay for this, believe me"

	d, err := e.Analyze(ctx, text, "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(d.DetectorFailures) != 1 || !strings.Contains(d.DetectorFailures[0], "spy") {
		t.Errorf("failures = %v", d.DetectorFailures)
	}
	if d.FallbackInvoked {
		t.Error("failed call marked as invoked")
	}
	if len(d.Detections) != 0 {
		t.Errorf("detections = %+v, want none from a failed stage", d.Detections)
	}

	// The failed call released its slot, so the next request still gets
	// through a one-call window.
	if _, err := e.Analyze(ctx, text, "t1", DefaultPolicy()); err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if spy.calls.Load() != 2 {
		t.Errorf("fallback calls = %d, want 2 after slot release", spy.calls.Load())
	}
}

func TestFallbackNotReadyDegrades(t *testing.T) {
	spy := &spyDetector{ready: false}
	e := newTestEngine(budget.Limits{CallsPerWindow: 5}).WithFallback(spy)

	d, err := e.Analyze(context.Background(), "you will pay for this, believe me", "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if spy.calls.Load() != 0 {
		t.Error("unready detector was called")
	}
	if len(d.Detections) != 1 || d.Detections[0].Detector != "escalation_classifier" {
		t.Errorf("detections = %+v, want degraded verdict", d.Detections)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	ctx := context.Background()
	text := "my aadhaar is 2345 6789 0123 and email a@b.com"

	first, err := e.Analyze(ctx, text, "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := e.Analyze(ctx, text, "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if first.Action != second.Action {
		t.Errorf("actions differ: %s vs %s", first.Action, second.Action)
	}
	if !reflect.DeepEqual(first.Detections, second.Detections) {
		t.Errorf("detections differ:\n%+v\n%+v", first.Detections, second.Detections)
	}
	if first.RequestID == second.RequestID {
		t.Error("request IDs not unique")
	}
}

func TestFinanceTextSkipsToxicity(t *testing.T) {
	spy := &spyDetector{ready: true}
	e := newTestEngine(budget.Limits{CallsPerWindow: 5}).WithFallback(spy)

	// "kill" next to trading vocabulary must not reach the toxicity
	// stages at all.
	d, err := e.Analyze(context.Background(), "kill the trade and sell RELIANCE at market open", "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if spy.calls.Load() != 0 {
		t.Error("fallback called for finance-shaped text")
	}
	for _, det := range d.Detections {
		if det.Category.IsToxicity() {
			t.Errorf("toxicity detection on finance text: %+v", det)
		}
	}
}

func TestConfidenceFloorDropsWeakDetections(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	policy := DefaultPolicy()
	policy.EnableEscalation = false
	policy.MinConfidence = map[rules.Category]float64{rules.CategoryPIIEmail: 0.99}

	d, err := e.Analyze(context.Background(), "reach me at a@b.com", "t1", policy)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for _, det := range d.Detections {
		if det.Category == rules.CategoryPIIEmail {
			t.Errorf("email detection survived a 0.99 floor: %+v", det)
		}
	}
}

func TestActionOverride(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	policy := DefaultPolicy()
	policy.ActionOverrides = map[rules.Category]Action{rules.CategoryPIIEmail: ActionBlock}

	d, err := e.Analyze(context.Background(), "reach me at a@b.com", "t1", policy)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if d.Action != ActionBlock {
		t.Errorf("action = %s, want BLOCK from override", d.Action)
	}
}

func TestDecisionCachedForFeedback(t *testing.T) {
	fb := feedback.NewMemoryStore()
	e := newTestEngine(budget.Limits{}).WithFeedback(fb)

	d, err := e.Analyze(context.Background(), "reach me at a@b.com", "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// A submission against the fresh request ID must correlate.
	rec, err := fb.Submit(context.Background(), feedback.Submission{
		RequestID: d.RequestID,
		Type:      feedback.TypeFalsePositive,
		Comment:   "test address, not real PII",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.OriginalDecision != string(ActionRedact) {
		t.Errorf("cached decision = %q", rec.OriginalDecision)
	}
	if rec.InputHash != d.InputHash {
		t.Errorf("cached hash = %q, want %q", rec.InputHash, d.InputHash)
	}
}

func TestMaxActionOrdering(t *testing.T) {
	tests := []struct {
		a, b, want Action
	}{
		{ActionAllow, ActionWarn, ActionWarn},
		{ActionWarn, ActionAllow, ActionWarn},
		{ActionRedact, ActionBlock, ActionBlock},
		{ActionBlock, ActionRedact, ActionBlock},
		{ActionAllow, ActionAllow, ActionAllow},
	}
	for _, tt := range tests {
		if got := maxAction(tt.a, tt.b); got != tt.want {
			t.Errorf("maxAction(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAnalyzeBatch(t *testing.T) {
	e := newTestEngine(budget.Limits{})
	texts := []string{
		"Hello, how are you?",
		"reach me at jane@example.com",
	}
	decisions, err := e.AnalyzeBatch(context.Background(), texts, "t1", DefaultPolicy())
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("got %d decisions, want 2", len(decisions))
	}
	if decisions[0].Action != ActionAllow {
		t.Errorf("first action = %s, want %s", decisions[0].Action, ActionAllow)
	}
	if decisions[1].Action != ActionRedact {
		t.Errorf("second action = %s, want %s", decisions[1].Action, ActionRedact)
	}

	decisions, err = e.AnalyzeBatch(context.Background(), []string{"fine text", ""}, "t1", DefaultPolicy())
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if len(decisions) != 1 {
		t.Errorf("got %d completed decisions, want 1", len(decisions))
	}
}
