package rules

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the rule set. Readers hold one for the
// duration of a request and never see a half-committed update.
type Snapshot struct {
	// Version increments on every commit that actually changed the set.
	Version uint64

	rules   []*Rule
	byStage map[Stage][]*Rule
	byKey   map[string]*Rule
}

// All returns every rule in the snapshot. Callers must not mutate.
func (s *Snapshot) All() []*Rule {
	return s.rules
}

// Stage returns the rules for one detector stage, in commit order.
func (s *Snapshot) Stage(stage Stage) []*Rule {
	return s.byStage[stage]
}

// Len reports the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Learned returns the learned-source rules in the snapshot.
func (s *Snapshot) Learned() []*Rule {
	var out []*Rule
	for _, r := range s.rules {
		if r.Source == SourceLearned {
			out = append(out, r)
		}
	}
	return out
}

func buildSnapshot(version uint64, rules []*Rule) *Snapshot {
	snap := &Snapshot{
		Version: version,
		rules:   rules,
		byStage: make(map[Stage][]*Rule),
		byKey:   make(map[string]*Rule, len(rules)),
	}
	for _, r := range rules {
		snap.byStage[r.Stage] = append(snap.byStage[r.Stage], r)
		snap.byKey[r.dedupeKey()] = r
	}
	return snap
}

// Store holds the live rule set behind an atomic snapshot pointer. Reads
// are lock-free; commits serialize on a mutex and swap a fresh snapshot in,
// so in-flight requests keep the set they started with.
type Store struct {
	current  atomic.Pointer[Snapshot]
	commitMu sync.Mutex
}

// NewStore builds a store preloaded with the builtin rule set.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(buildSnapshot(1, Builtin()))
	return s
}

// NewEmptyStore builds a store with no rules at all. Used by tests and by
// callers that load a full set from disk.
func NewEmptyStore() *Store {
	s := &Store{}
	s.current.Store(buildSnapshot(1, nil))
	return s
}

// Snapshot returns the current rule set. Never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Commit merges new rules into the live set and atomically publishes the
// result. Rules whose pattern+category already exist are skipped, which
// makes retried training runs idempotent. It returns the number of rules
// actually added.
func (s *Store) Commit(newRules []*Rule) (int, error) {
	for _, r := range newRules {
		if r.Regex == nil {
			return 0, fmt.Errorf("rule %q: not compiled", r.Name)
		}
		if err := CheckPattern(r.Pattern); err != nil {
			return 0, fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	prev := s.current.Load()
	merged := make([]*Rule, len(prev.rules), len(prev.rules)+len(newRules))
	copy(merged, prev.rules)

	seen := make(map[string]bool, len(prev.byKey))
	for k := range prev.byKey {
		seen[k] = true
	}

	added := 0
	for _, r := range newRules {
		key := r.dedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, r)
		added++
	}

	if added == 0 {
		return 0, nil
	}
	s.current.Store(buildSnapshot(prev.Version+1, merged))
	return added, nil
}

// Replace swaps in a completely new rule set, deduped by pattern+category
// with first occurrence winning. Startup path only.
func (s *Store) Replace(rules []*Rule) error {
	deduped := make([]*Rule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Regex == nil {
			return fmt.Errorf("rule %q: not compiled", r.Name)
		}
		key := r.dedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, r)
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	prev := s.current.Load()
	s.current.Store(buildSnapshot(prev.Version+1, deduped))
	return nil
}

// Stats summarizes the live set for the /rules surface.
type Stats struct {
	Version  uint64         `json:"version"`
	Total    int            `json:"total"`
	Builtin  int            `json:"builtin"`
	Learned  int            `json:"learned"`
	ByStage  map[Stage]int  `json:"by_stage"`
	Snapshot time.Time      `json:"snapshot_at"`
	BySource map[Source]int `json:"by_source"`
}

// Stats computes counts over the current snapshot.
func (s *Store) Stats() Stats {
	snap := s.current.Load()
	st := Stats{
		Version:  snap.Version,
		Total:    len(snap.rules),
		ByStage:  make(map[Stage]int),
		BySource: make(map[Source]int),
		Snapshot: time.Now().UTC(),
	}
	for _, r := range snap.rules {
		st.ByStage[r.Stage]++
		st.BySource[r.Source]++
		switch r.Source {
		case SourceBuiltin:
			st.Builtin++
		case SourceLearned:
			st.Learned++
		}
	}
	return st
}
