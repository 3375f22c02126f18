package fallback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TryMightyAI/restrictor/pkg/rules"
)

func chatServer(t *testing.T, content string, totalTokens int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"total_tokens": totalTokens},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestLLMClassifyFlagged(t *testing.T) {
	srv := chatServer(t, `{"category": "toxic_violence", "severity": "critical", "confidence": 0.93, "reason": "explicit threat"}`, 420)
	defer srv.Close()

	d := NewLLMDetector(LLMConfig{
		Provider:      ProviderOpenRouter,
		APIKey:        "test-key",
		BaseURL:       srv.URL,
		CostPerKToken: 0.002,
	})

	v, err := d.Classify(context.Background(), "some sanitized text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !v.Flagged {
		t.Error("verdict not flagged")
	}
	if v.Category != rules.CategoryToxicViolence || v.Severity != rules.SeverityCritical {
		t.Errorf("category/severity = %s/%s", v.Category, v.Severity)
	}
	if v.TokensUsed != 420 {
		t.Errorf("tokens = %d, want 420", v.TokensUsed)
	}
	if want := 420.0 / 1000 * 0.002; v.CostUSD != want {
		t.Errorf("cost = %v, want %v", v.CostUSD, want)
	}
}

func TestLLMClassifySafe(t *testing.T) {
	srv := chatServer(t, `{"category": "safe", "severity": "none", "confidence": 0.88, "reason": "ordinary conversation"}`, 100)
	defer srv.Close()

	d := NewLLMDetector(LLMConfig{Provider: ProviderOpenRouter, APIKey: "k", BaseURL: srv.URL})
	v, err := d.Classify(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Flagged {
		t.Error("safe verdict flagged")
	}
}

func TestLLMClassifyMarkdownWrappedJSON(t *testing.T) {
	srv := chatServer(t, "```json\n{\"category\": \"toxic_hate\", \"severity\": \"high\", \"confidence\": 0.8, \"reason\": \"x\"}\n```", 50)
	defer srv.Close()

	d := NewLLMDetector(LLMConfig{Provider: ProviderOpenRouter, APIKey: "k", BaseURL: srv.URL})
	v, err := d.Classify(context.Background(), "text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Category != rules.CategoryToxicHate {
		t.Errorf("category = %s", v.Category)
	}
}

func TestLLMClassifyGuardFormat(t *testing.T) {
	tests := []struct {
		name     string
		response string
		flagged  bool
		category rules.Category
	}{
		{"safe", "safe", false, ""},
		{"unsafe violence", "unsafe\nS1", true, rules.CategoryToxicViolence},
		{"unsafe hate", "unsafe\nS10", true, rules.CategoryToxicHate},
		{"unsafe self harm", "unsafe\nS11", true, rules.CategoryToxicSelfHarm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.response, 30)
			defer srv.Close()

			d := NewLLMDetector(LLMConfig{Provider: ProviderOpenRouter, APIKey: "k", BaseURL: srv.URL})
			v, err := d.Classify(context.Background(), "text")
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if v.Flagged != tt.flagged {
				t.Errorf("Flagged = %v, want %v", v.Flagged, tt.flagged)
			}
			if tt.flagged && v.Category != tt.category {
				t.Errorf("category = %s, want %s", v.Category, tt.category)
			}
		})
	}
}

func TestLLMClassifyUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewLLMDetector(LLMConfig{Provider: ProviderOpenRouter, APIKey: "k", BaseURL: srv.URL})
	d.maxRetries = 0
	if _, err := d.Classify(context.Background(), "text"); err == nil {
		t.Error("expected error on 429 response")
	}
}

func TestLLMNotReadyWithoutKey(t *testing.T) {
	d := NewLLMDetector(LLMConfig{Provider: ProviderOpenRouter})
	if d.IsReady() {
		t.Error("openrouter detector ready without key")
	}
	if _, err := d.Classify(context.Background(), "x"); err == nil {
		t.Error("Classify succeeded without key")
	}

	if !NewLLMDetector(LLMConfig{Provider: ProviderOllama}).IsReady() {
		t.Error("ollama detector should not need a key")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"Sure! Here you go: {\"a\": 1} hope that helps", `{"a": 1}`},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.input); got != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
