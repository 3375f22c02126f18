package detect

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// foldTransformer strips diacritic marks so "café" and "cafe" normalize to
// the same phrase.
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizePhrase lowercases, folds diacritics, replaces punctuation with
// spaces and collapses runs of whitespace. "Hello, how are you?" and
// "hello how are you" normalize identically.
func NormalizePhrase(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// SafePhraseSet answers the first pipeline question: is this text a known
// harmless phrase? A hit ends analysis immediately with zero detections,
// overriding every later stage. That is the point: known false-positive
// greetings must not reach the keyword matcher.
type SafePhraseSet struct {
	normalized map[string]bool
}

// NewSafePhraseSet normalizes and indexes the configured phrases.
func NewSafePhraseSet(phrases []string) *SafePhraseSet {
	set := &SafePhraseSet{normalized: make(map[string]bool, len(phrases))}
	for _, p := range phrases {
		if n := NormalizePhrase(p); n != "" {
			set.normalized[n] = true
		}
	}
	return set
}

// Match reports whether the whole text, after normalization, equals one of
// the safe phrases.
func (s *SafePhraseSet) Match(text string) bool {
	if len(s.normalized) == 0 {
		return false
	}
	return s.normalized[NormalizePhrase(text)]
}

// Len reports the number of indexed phrases.
func (s *SafePhraseSet) Len() int {
	return len(s.normalized)
}

// LoadSafePhrases reads additional phrases from a YAML file holding a flat
// list of strings. Blank entries are dropped.
func LoadSafePhrases(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading safe phrases: %w", err)
	}
	var raw []string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing safe phrases %s: %w", path, err)
	}
	out := raw[:0]
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// DefaultSafePhrases are greetings and small talk that trip suspicion
// heuristics often enough to be worth whitelisting outright.
func DefaultSafePhrases() []string {
	return []string{
		"hello how are you",
		"hi how are you",
		"hey how are you",
		"good morning",
		"good afternoon",
		"good evening",
		"good night",
		"thank you",
		"thanks a lot",
		"thank you so much",
		"you're welcome",
		"nice to meet you",
		"how is it going",
		"how are you doing",
		"what's up",
		"have a great day",
		"have a nice day",
		"see you later",
		"take care",
		"happy birthday",
		"congratulations",
	}
}
