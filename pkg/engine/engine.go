// Package engine orchestrates the detection pipeline: ordered cheap
// detectors, the escalation gate, the fallback model, and aggregation into
// one Decision per request.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TryMightyAI/restrictor/pkg/budget"
	"github.com/TryMightyAI/restrictor/pkg/detect"
	"github.com/TryMightyAI/restrictor/pkg/fallback"
	"github.com/TryMightyAI/restrictor/pkg/feedback"
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// Caller-visible input validation errors. Everything else degrades inside
// the pipeline; a Decision always comes back for valid input.
var (
	ErrEmptyInput   = errors.New("input text is empty")
	ErrInputTooLong = errors.New("input text exceeds maximum length")
)

// DefaultMaxInputLength bounds what Analyze accepts before any stage runs.
const DefaultMaxInputLength = 50000

// keywordShortCircuit is the confidence at or above which a keyword hit is
// treated as certain and the escalation stage is skipped entirely.
const keywordShortCircuit = 0.9

// Decision is the aggregate result of one Analyze call. It never carries
// the raw input; only a one-way hash and its length.
type Decision struct {
	RequestID    string             `json:"request_id"`
	TenantID     string             `json:"tenant_id"`
	Action       Action             `json:"action"`
	Detections   []detect.Detection `json:"detections"`
	RedactedText string             `json:"redacted_text,omitempty"`
	InputHash    string             `json:"input_hash"`
	InputLength  int                `json:"input_length"`
	LatencyMs    float64            `json:"latency_ms"`

	// Provenance for observability. FallbackInvoked distinguishes a
	// model-cleared ALLOW from one that never reached the model, and
	// DetectorFailures records stages that errored and were skipped.
	Escalated        bool     `json:"escalated"`
	FallbackInvoked  bool     `json:"fallback_invoked"`
	DetectorFailures []string `json:"detector_failures,omitempty"`
}

// MaxConfidence is the highest confidence among the decision's detections.
func (d *Decision) MaxConfidence() float64 {
	var max float64
	for _, det := range d.Detections {
		if det.Confidence > max {
			max = det.Confidence
		}
	}
	return max
}

// Categories lists the distinct categories detected, in detection order.
func (d *Decision) Categories() []string {
	seen := map[rules.Category]bool{}
	var out []string
	for _, det := range d.Detections {
		if !seen[det.Category] {
			seen[det.Category] = true
			out = append(out, string(det.Category))
		}
	}
	return out
}

// AuditSink receives one record per completed Analyze call.
type AuditSink interface {
	RecordDecision(ctx context.Context, d *Decision)
}

// Engine runs the pipeline. Construct with NewEngine, then attach optional
// collaborators with the With* builders before serving traffic.
type Engine struct {
	rules       *rules.Store
	safePhrases *detect.SafePhraseSet
	pii         *detect.StageMatcher
	injection   *detect.StageMatcher
	finance     *detect.StageMatcher
	keyword     *detect.StageMatcher
	escalation  *detect.EscalationClassifier
	sanitizer   *detect.Sanitizer
	budget      *budget.Controller

	fallback        fallback.Detector
	fallbackTimeout time.Duration
	feedback        feedback.Store
	audit           AuditSink

	maxInputLength int
}

func NewEngine(store *rules.Store, controller *budget.Controller) *Engine {
	return &Engine{
		rules:           store,
		safePhrases:     detect.NewSafePhraseSet(detect.DefaultSafePhrases()),
		pii:             detect.NewPIIMatcher(),
		injection:       detect.NewInjectionMatcher(),
		finance:         detect.NewFinanceMatcher(),
		keyword:         detect.NewKeywordMatcher(),
		escalation:      detect.NewEscalationClassifier(),
		sanitizer:       detect.NewSanitizer(),
		budget:          controller,
		fallbackTimeout: 15 * time.Second,
		maxInputLength:  DefaultMaxInputLength,
	}
}

// WithFallback attaches the expensive detector invoked after admission.
func (e *Engine) WithFallback(d fallback.Detector) *Engine {
	e.fallback = d
	return e
}

// WithEscalation replaces the default pattern-only classifier, typically to
// attach a semantic scorer.
func (e *Engine) WithEscalation(c *detect.EscalationClassifier) *Engine {
	e.escalation = c
	return e
}

// WithFeedback attaches the store that caches decision footprints for later
// feedback correlation.
func (e *Engine) WithFeedback(fb feedback.Store) *Engine {
	e.feedback = fb
	return e
}

// WithAudit attaches the per-decision audit sink.
func (e *Engine) WithAudit(sink AuditSink) *Engine {
	e.audit = sink
	return e
}

// WithSafePhrases replaces the default safe phrase set.
func (e *Engine) WithSafePhrases(phrases []string) *Engine {
	e.safePhrases = detect.NewSafePhraseSet(phrases)
	return e
}

// WithMaxInputLength overrides the input size cap.
func (e *Engine) WithMaxInputLength(n int) *Engine {
	if n > 0 {
		e.maxInputLength = n
	}
	return e
}

// WithFallbackTimeout bounds each fallback model call.
func (e *Engine) WithFallbackTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.fallbackTimeout = d
	}
	return e
}

// Analyze runs the full pipeline over text for one tenant and returns a
// Decision. Only input validation fails; every other problem degrades into
// the Decision's provenance fields.
func (e *Engine) Analyze(ctx context.Context, text, tenant string, policy Policy) (*Decision, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if len(text) > e.maxInputLength {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrInputTooLong, len(text), e.maxInputLength)
	}

	start := time.Now()
	snap := e.rules.Snapshot()
	d := &Decision{
		RequestID:   uuid.NewString(),
		TenantID:    tenant,
		Action:      ActionAllow,
		InputHash:   hashInput(text),
		InputLength: len(text),
	}

	// Known-safe phrases pre-empt everything, including keyword rules.
	if e.safePhrases.Match(text) {
		return e.finish(ctx, d, text, policy, start)
	}

	var dets []detect.Detection
	if policy.EnablePII {
		for _, det := range e.pii.Detect(text, snap) {
			if !policy.allowsPII(det.Category) {
				dets = append(dets, det)
			}
		}
	}
	if policy.EnableInjection {
		dets = append(dets, e.injection.Detect(text, snap)...)
	}
	if policy.EnableFinance {
		dets = append(dets, e.finance.Detect(text, snap)...)
	}

	// Toxicity sub-pipeline. Finance-shaped text skips it: trading slang
	// reads as violent out of context.
	if policy.EnableToxicity && !rules.FinanceSkip(text) {
		kw := e.keyword.Detect(text, snap)
		dets = append(dets, kw...)

		certain := false
		for _, det := range kw {
			if det.Confidence >= keywordShortCircuit {
				certain = true
				break
			}
		}

		if !certain && policy.EnableEscalation {
			dets = append(dets, e.escalate(ctx, d, text, tenant, snap)...)
		}
	}

	d.Detections = applyConfidenceFloor(dets, policy)
	return e.finish(ctx, d, text, policy, start)
}

// AnalyzeBatch runs Analyze over each text in order. A validation failure
// stops the batch and returns the decisions completed up to that point.
func (e *Engine) AnalyzeBatch(ctx context.Context, texts []string, tenant string, policy Policy) ([]*Decision, error) {
	out := make([]*Decision, 0, len(texts))
	for _, text := range texts {
		d, err := e.Analyze(ctx, text, tenant, policy)
		if err != nil {
			return out, fmt.Errorf("text %d: %w", len(out), err)
		}
		out = append(out, d)
	}
	return out, nil
}

// escalate runs the cheap classifier and, when it flags the text, tries to
// buy a fallback model call. Budget denial degrades to the classifier's own
// verdict rather than silently allowing suspicious text.
func (e *Engine) escalate(ctx context.Context, d *Decision, text, tenant string, snap *rules.Snapshot) []detect.Detection {
	verdict := e.escalation.Classify(ctx, text, snap)
	if !verdict.Suspicious {
		return nil
	}
	d.Escalated = true

	if e.fallback == nil || !e.fallback.IsReady() {
		return []detect.Detection{verdict.Detection}
	}
	if !e.budget.Admit(tenant) {
		return []detect.Detection{verdict.Detection}
	}

	sanitized := e.sanitizer.Sanitize(text)
	callCtx, cancel := context.WithTimeout(ctx, e.fallbackTimeout)
	defer cancel()

	v, err := e.fallback.Classify(callCtx, sanitized.Sanitized)
	if err != nil {
		// The reserved slot was never spent on a completed call.
		e.budget.Release(tenant)
		d.DetectorFailures = append(d.DetectorFailures,
			fmt.Sprintf("%s: %v", e.fallback.Name(), err))
		return nil
	}

	d.FallbackInvoked = true
	e.budget.Charge(tenant, v.CostUSD)
	if !v.Flagged {
		return nil
	}
	return []detect.Detection{{
		Category:    v.Category,
		Severity:    v.Severity,
		Confidence:  v.Confidence,
		Detector:    e.fallback.Name(),
		Explanation: v.Explanation,
	}}
}

// finish aggregates detections into the final action, redacts if needed,
// stamps latency, and notifies the audit and feedback collaborators.
func (e *Engine) finish(ctx context.Context, d *Decision, text string, policy Policy, start time.Time) (*Decision, error) {
	for _, det := range d.Detections {
		d.Action = maxAction(d.Action, policy.actionFor(det.Category, det.Severity))
	}
	if d.Action == ActionRedact {
		d.RedactedText = redact(text, d.Detections, policy)
	}
	d.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0

	if e.audit != nil {
		e.audit.RecordDecision(ctx, d)
	}
	if e.feedback != nil {
		err := e.feedback.CacheRequest(ctx, feedback.CachedRequest{
			RequestID:  d.RequestID,
			TenantID:   d.TenantID,
			InputHash:  d.InputHash,
			InputLen:   d.InputLength,
			Decision:   string(d.Action),
			Categories: d.Categories(),
			Confidence: d.MaxConfidence(),
			Timestamp:  time.Now().UTC(),
		})
		if err != nil {
			log.Printf("[WARN] caching decision %s for feedback: %v", d.RequestID, err)
		}
	}
	return d, nil
}

// redact replaces each redact-mapped span with the policy token, applied
// right to left so earlier offsets stay valid.
func redact(text string, dets []detect.Detection, policy Policy) string {
	type span struct{ start, end int }
	var spans []span
	for _, det := range dets {
		if det.End <= det.Start || det.End > len(text) {
			continue
		}
		if policy.actionFor(det.Category, det.Severity) == ActionRedact {
			spans = append(spans, span{det.Start, det.End})
		}
	}
	if len(spans) == 0 {
		return ""
	}
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start > spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
	out := text
	token := policy.token()
	for _, s := range spans {
		out = out[:s.start] + token + out[s.end:]
	}
	return out
}

func applyConfidenceFloor(dets []detect.Detection, policy Policy) []detect.Detection {
	if len(policy.MinConfidence) == 0 {
		return dets
	}
	var out []detect.Detection
	for _, det := range dets {
		if floor, ok := policy.MinConfidence[det.Category]; ok && det.Confidence < floor {
			continue
		}
		out = append(out, det)
	}
	return out
}

func hashInput(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
