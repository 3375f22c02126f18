package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape for learned rules. Builtin rules are never
// persisted; they ship with the binary.
type ruleFile struct {
	SavedAt time.Time     `yaml:"saved_at"`
	Rules   []*ruleRecord `yaml:"rules"`
}

type ruleRecord struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Pattern     string    `yaml:"pattern"`
	Category    string    `yaml:"category"`
	Severity    Severity  `yaml:"severity"`
	Confidence  float64   `yaml:"confidence"`
	Stage       string    `yaml:"stage"`
	Explanation string    `yaml:"explanation,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
}

// SaveLearned writes the learned rules from the snapshot to path. The write
// goes through a temp file and rename so a crash never leaves a truncated
// rule file behind.
func SaveLearned(snap *Snapshot, path string) error {
	file := ruleFile{SavedAt: time.Now().UTC()}
	for _, r := range snap.Learned() {
		file.Rules = append(file.Rules, &ruleRecord{
			ID:          r.ID,
			Name:        r.Name,
			Pattern:     r.Pattern,
			Category:    string(r.Category),
			Severity:    r.Severity,
			Confidence:  r.Confidence,
			Stage:       string(r.Stage),
			Explanation: r.Explanation,
			CreatedAt:   r.CreatedAt,
		})
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshal learned rules: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create rule dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write learned rules: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadLearned reads learned rules from path. A missing file is not an
// error; it just means nothing has been learned yet. Records that no longer
// parse (renamed category, bad pattern) are skipped with the count of
// skipped records returned, so one bad line does not block startup.
func LoadLearned(path string) ([]*Rule, int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read learned rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, 0, fmt.Errorf("parse learned rules: %w", err)
	}

	var out []*Rule
	skipped := 0
	for _, rec := range file.Rules {
		cat, err := ParseCategory(rec.Category)
		if err != nil {
			skipped++
			continue
		}
		if err := CheckPattern(rec.Pattern); err != nil {
			skipped++
			continue
		}
		re, err := regexp.Compile(rec.Pattern)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, &Rule{
			ID:          ruleID(rec.Pattern, cat),
			Name:        rec.Name,
			Pattern:     rec.Pattern,
			Regex:       re,
			Category:    cat,
			Severity:    rec.Severity,
			Confidence:  rec.Confidence,
			Source:      SourceLearned,
			Stage:       Stage(rec.Stage),
			Explanation: rec.Explanation,
			CreatedAt:   rec.CreatedAt,
		})
	}
	return out, skipped, nil
}
