package audit

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/TryMightyAI/restrictor/pkg/detect"
	"github.com/TryMightyAI/restrictor/pkg/engine"
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

func sampleDecision() *engine.Decision {
	return &engine.Decision{
		RequestID:   "req-abc",
		TenantID:    "tenant-1",
		Action:      engine.ActionBlock,
		InputHash:   "feedface",
		InputLength: 64,
		LatencyMs:   1.25,
		Escalated:   true,
		Detections: []detect.Detection{
			{
				Category:    rules.CategoryToxicHarassment,
				Severity:    rules.SeverityCritical,
				Confidence:  0.98,
				Detector:    "keyword",
				MatchedText: "the offending words themselves",
			},
		},
	}
}

func TestRecordDecisionFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewLogger(zap.New(core))

	logger.RecordDecision(context.Background(), sampleDecision())

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()

	if fields["request_id"] != "req-abc" || fields["action"] != "BLOCK" {
		t.Errorf("fields = %+v", fields)
	}
	if fields["input_hash"] != "feedface" {
		t.Errorf("input_hash = %v", fields["input_hash"])
	}
	if got := fmt.Sprintf("%v", fields["categories"]); got != "[toxic_harassment]" {
		t.Errorf("categories = %v", fields["categories"])
	}
	if got := fmt.Sprintf("%v", fields["detectors"]); got != "[keyword]" {
		t.Errorf("detectors = %v", fields["detectors"])
	}
}

func TestRecordDecisionNeverLogsMatchedText(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewLogger(zap.New(core))

	d := sampleDecision()
	logger.RecordDecision(context.Background(), d)

	for _, entry := range logs.All() {
		rendered := fmt.Sprintf("%s %v", entry.Message, entry.ContextMap())
		if strings.Contains(rendered, "offending words") {
			t.Errorf("matched text leaked into audit record: %s", rendered)
		}
	}
}

type countingSink struct{ n int }

func (c *countingSink) RecordDecision(ctx context.Context, d *engine.Decision) { c.n++ }

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	sink := MultiSink{a, b}
	sink.RecordDecision(context.Background(), sampleDecision())
	if a.n != 1 || b.n != 1 {
		t.Errorf("fanout counts = %d/%d", a.n, b.n)
	}
}
