package detect

import (
	"regexp"
	"strings"
)

// SanitizeResult reports what sanitization changed.
type SanitizeResult struct {
	Sanitized   string
	WasModified bool
	Removals    []string
}

type sanitizeRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer neutralizes text before it is sent to a fallback model. Even
// when injection detection misses something, the model never sees raw
// chat-template markers or instruction overrides.
type Sanitizer struct {
	rules     []sanitizeRule
	maxLength int
}

// zero-width and control characters that hide payloads from pattern
// matching while surviving into the model prompt.
var hiddenChars = []string{"\x00", "\x1b", "\u200B", "\u200C", "\u200D", "\uFEFF"}

// NewSanitizer builds the default sanitizer with a 10k character cap.
func NewSanitizer() *Sanitizer {
	defs := []struct{ name, pattern, replacement string }{
		// Chat template markers
		{"system_marker", `<\|?system\|?>`, "[SYS]"},
		{"user_marker", `<\|?user\|?>`, "[USR]"},
		{"assistant_marker", `<\|?assistant\|?>`, "[AST]"},
		{"inst_open", `\[INST\]`, "[INST_REMOVED]"},
		{"inst_close", `\[/INST\]`, "[/INST_REMOVED]"},
		{"sys_open", `<<SYS>>`, "[SYS_REMOVED]"},
		{"sys_close", `<</SYS>>`, "[/SYS_REMOVED]"},
		{"im_start", `<\|im_start\|>`, "[IM_START]"},
		{"im_end", `<\|im_end\|>`, "[IM_END]"},
		{"eot", `<\|endoftext\|>`, "[EOT]"},
		// Instruction overrides
		{"ignore_previous", `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`, "[BLOCKED]"},
		{"disregard", `(?i)disregard\s+(all\s+)?(previous|prior|above)`, "[BLOCKED]"},
		{"forget_above", `(?i)forget\s+(everything|all)\s+(above|before|previously)`, "[BLOCKED]"},
		{"new_instructions", `(?i)new\s+instructions?:`, "[BLOCKED]"},
		{"system_you_are", `(?i)system\s*:\s*you\s+are`, "[BLOCKED]"},
		{"from_now_on", `(?i)from\s+now\s+on,?\s+(you|ignore|act)`, "[BLOCKED]"},
		// Persona overrides
		{"you_are_now", `(?i)you\s+are\s+now\s+(a|an|the)\s+(new|different)`, "[BLOCKED]"},
		{"pretend", `(?i)pretend\s+(to\s+be|you'?re)`, "[BLOCKED]"},
		{"act_as_if", `(?i)act\s+as\s+(if|though)\s+you`, "[BLOCKED]"},
		// Encoding tricks
		{"base64", `(?i)base64\s*:`, "[BLOCKED]"},
		{"hex", `(?i)hex\s*:`, "[BLOCKED]"},
		{"rot13", `(?i)rot13\s*:`, "[BLOCKED]"},
		// Output manipulation
		{"repeat_after_me", `(?i)repeat\s+after\s+me`, "[BLOCKED]"},
		{"say_exactly", `(?i)say\s+exactly`, "[BLOCKED]"},
		{"output_only", `(?i)(output|respond\s+with)\s+only`, "[BLOCKED]"},
	}

	s := &Sanitizer{maxLength: 10000}
	for _, d := range defs {
		s.rules = append(s.rules, sanitizeRule{
			name:        d.name,
			pattern:     regexp.MustCompile(d.pattern),
			replacement: d.replacement,
		})
	}
	return s
}

// Sanitize returns a defanged copy of text, suitable for inclusion in a
// fallback-model prompt.
func (s *Sanitizer) Sanitize(text string) SanitizeResult {
	res := SanitizeResult{Sanitized: text}

	if len(res.Sanitized) > s.maxLength {
		res.Sanitized = res.Sanitized[:s.maxLength]
		res.Removals = append(res.Removals, "truncated")
	}

	for _, ch := range hiddenChars {
		if strings.Contains(res.Sanitized, ch) {
			res.Sanitized = strings.ReplaceAll(res.Sanitized, ch, "")
			res.Removals = append(res.Removals, "hidden_chars")
		}
	}

	for _, r := range s.rules {
		if r.pattern.MatchString(res.Sanitized) {
			res.Sanitized = r.pattern.ReplaceAllString(res.Sanitized, r.replacement)
			res.Removals = append(res.Removals, r.name)
		}
	}

	res.WasModified = len(res.Removals) > 0
	return res
}
