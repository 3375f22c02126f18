package detect

import (
	"context"
	"testing"

	"github.com/TryMightyAI/restrictor/pkg/rules"
)

func TestClassifySafeHeuristicsWin(t *testing.T) {
	c := NewEscalationClassifier()
	snap := builtinSnapshot(t)

	// "consequences" is a suspicion signal, but the question shape is a
	// safe heuristic and safe wins.
	v := c.Classify(context.Background(), "what are the consequences of skipping breakfast", snap)
	if v.Suspicious {
		t.Errorf("safe question escalated: %v", v.TriggeredPatterns)
	}
}

func TestClassifySuspicious(t *testing.T) {
	c := NewEscalationClassifier()
	snap := builtinSnapshot(t)

	v := c.Classify(context.Background(), "keep talking and something bad will happen to your store", snap)
	if !v.Suspicious {
		t.Fatal("veiled threat not escalated")
	}
	if len(v.TriggeredPatterns) == 0 {
		t.Error("no triggered patterns recorded")
	}
	if v.Detection.Category != rules.CategorySuspicion {
		t.Errorf("degraded detection category = %s, want suspicion", v.Detection.Category)
	}
	if v.Confidence < 0.5 || v.Confidence > 0.85 {
		t.Errorf("confidence %v outside heuristic band", v.Confidence)
	}
}

func TestClassifyPlainTextNotSuspicious(t *testing.T) {
	c := NewEscalationClassifier()
	snap := builtinSnapshot(t)

	v := c.Classify(context.Background(), "the quarterly report is attached for review", snap)
	if v.Suspicious {
		t.Errorf("neutral text escalated: %v", v.TriggeredPatterns)
	}
}

type fakeSemantic struct {
	score float64
	ready bool
}

func (f *fakeSemantic) Score(_ context.Context, _ string) (float64, string, error) {
	return f.score, "veiled_threat", nil
}
func (f *fakeSemantic) IsReady() bool { return f.ready }

func TestClassifySemanticFallback(t *testing.T) {
	snap := builtinSnapshot(t)
	text := "the quarterly report is attached for review"

	tests := []struct {
		name string
		sem  SemanticScorer
		want bool
	}{
		{"above threshold", &fakeSemantic{score: 0.9, ready: true}, true},
		{"below threshold", &fakeSemantic{score: 0.3, ready: true}, false},
		{"not ready", &fakeSemantic{score: 0.9, ready: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewEscalationClassifier().WithSemantic(tt.sem)
			v := c.Classify(context.Background(), text, snap)
			if v.Suspicious != tt.want {
				t.Errorf("Suspicious = %v, want %v", v.Suspicious, tt.want)
			}
		})
	}
}

func TestClassifyUsesLearnedRules(t *testing.T) {
	store := rules.NewStore()
	learned, err := rules.NewRule("learned_toxic_harassment_zork", `(?i)\bzork\s+must\s+pay\b`, rules.CategorySuspicion, rules.SeverityMedium, 0.8, rules.SourceLearned, rules.StageSuspicion)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	if _, err := store.Commit([]*rules.Rule{learned}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	c := NewEscalationClassifier()
	v := c.Classify(context.Background(), "zork must pay tomorrow", store.Snapshot())
	if !v.Suspicious {
		t.Error("learned suspicion rule did not escalate")
	}
}
