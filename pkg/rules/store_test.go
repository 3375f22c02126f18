package rules

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestStoreCommitDedupes(t *testing.T) {
	store := NewEmptyStore()

	r1, err := NewRule("learned_a", `(?i)\bfoo\b`, CategoryToxicHarassment, SeverityHigh, 0.8, SourceLearned, StageKeyword)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	r2, err := NewRule("learned_b", `(?i)\bbar\b`, CategoryToxicHarassment, SeverityHigh, 0.8, SourceLearned, StageKeyword)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	added, err := store.Commit([]*Rule{r1, r2})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	// Same pattern+category under a different name is the same rule.
	dup, err := NewRule("learned_a_retry", `(?i)\bfoo\b`, CategoryToxicHarassment, SeverityMedium, 0.5, SourceLearned, StageKeyword)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	added, err = store.Commit([]*Rule{dup})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if added != 0 {
		t.Errorf("duplicate commit added = %d, want 0", added)
	}
	if got := store.Snapshot().Len(); got != 2 {
		t.Errorf("snapshot len = %d, want 2", got)
	}
}

func TestStoreNoOpCommitKeepsVersion(t *testing.T) {
	store := NewEmptyStore()
	r, _ := NewRule("x", `\bxyz\b`, CategorySuspicion, SeverityLow, 0.5, SourceLearned, StageSuspicion)
	if _, err := store.Commit([]*Rule{r}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	v := store.Snapshot().Version

	if _, err := store.Commit([]*Rule{r}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := store.Snapshot().Version; got != v {
		t.Errorf("version changed on no-op commit: %d -> %d", v, got)
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewEmptyStore()
	before := store.Snapshot()

	r, _ := NewRule("added_later", `\bqqq\b`, CategorySuspicion, SeverityLow, 0.5, SourceLearned, StageSuspicion)
	if _, err := store.Commit([]*Rule{r}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if before.Len() != 0 {
		t.Errorf("old snapshot grew to %d rules", before.Len())
	}
	if store.Snapshot().Len() != 1 {
		t.Errorf("new snapshot len = %d, want 1", store.Snapshot().Len())
	}
}

func TestStoreRejectsBlankMatchingPattern(t *testing.T) {
	store := NewEmptyStore()
	r, err := NewRule("bad", `.*`, CategorySuspicion, SeverityLow, 0.5, SourceLearned, StageSuspicion)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	if _, err := store.Commit([]*Rule{r}); err == nil {
		t.Error("Commit accepted a pattern that matches empty input")
	}
}

func TestStoreConcurrentReadsDuringCommits(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			r, err := NewRule(
				fmt.Sprintf("learned_%d", i),
				fmt.Sprintf(`\bterm%d\b`, i),
				CategoryToxicHarassment, SeverityMedium, 0.7, SourceLearned, StageKeyword)
			if err != nil {
				t.Errorf("NewRule: %v", err)
				return
			}
			if _, err := store.Commit([]*Rule{r}); err != nil {
				t.Errorf("Commit: %v", err)
				return
			}
		}
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := store.Snapshot()
				if snap == nil {
					t.Error("nil snapshot")
					return
				}
				for _, r := range snap.Stage(StageKeyword) {
					_ = r.Regex.MatchString("probe text")
				}
			}
		}()
	}
	wg.Wait()
}

func TestSaveAndLoadLearned(t *testing.T) {
	store := NewStore()
	r, err := NewRule("learned_toxic_harassment_foo", `(?i)\bfoo\s+bar\b`, CategoryToxicHarassment, SeverityHigh, 0.8, SourceLearned, StageKeyword)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	if _, err := store.Commit([]*Rule{r}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	path := filepath.Join(t.TempDir(), "learned.yaml")
	if err := SaveLearned(store.Snapshot(), path); err != nil {
		t.Fatalf("SaveLearned: %v", err)
	}

	loaded, skipped, err := LoadLearned(path)
	if err != nil {
		t.Fatalf("LoadLearned: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d rules, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != r.ID || got.Pattern != r.Pattern || got.Category != r.Category {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, r)
	}
	if got.Source != SourceLearned {
		t.Errorf("source = %q, want learned", got.Source)
	}
}

func TestLoadLearnedMissingFile(t *testing.T) {
	loaded, skipped, err := LoadLearned(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadLearned: %v", err)
	}
	if loaded != nil || skipped != 0 {
		t.Errorf("got %d rules, %d skipped; want none", len(loaded), skipped)
	}
}
