package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/TryMightyAI/restrictor/pkg/httputil"
)

// threatPhrase seeds the semantic index. These are paraphrase anchors, not
// exact matches; the embedding space catches rewordings the suspicion
// regexes miss.
type threatPhrase struct {
	Text     string
	Category string
}

var seedPhrases = []threatPhrase{
	{"you will regret crossing me", "veiled_threat"},
	{"I know exactly where your family lives", "location_threat"},
	{"accidents happen to people who talk too much", "veiled_threat"},
	{"people like you don't deserve to be in this country", "exclusion_speech"},
	{"they are animals and should be treated like animals", "dehumanizing_language"},
	{"I can't see any reason to keep going anymore", "suicidal_ideation"},
	{"everyone would be happier if I just disappeared", "suicidal_ideation"},
	{"this will be the last time anyone hears from me", "suicidal_ideation"},
	{"don't tell your parents about our conversations", "grooming_language"},
	{"you're so much more mature than other kids your age", "grooming_language"},
	{"the only language they understand is force", "violence_advocacy"},
	{"when the time comes we will make them pay", "radicalization_language"},
}

// SemanticEscalator scores text by embedding similarity against the seeded
// threat corpus. It satisfies SemanticScorer for the escalation classifier.
type SemanticEscalator struct {
	collection *chromem.Collection

	mu    sync.RWMutex
	ready bool
}

// NewSemanticEscalator builds an escalator on an in-process vector store
// with the given embedding function. Callers must Seed before use.
func NewSemanticEscalator(embed chromem.EmbeddingFunc) (*SemanticEscalator, error) {
	if embed == nil {
		return nil, fmt.Errorf("nil embedding func")
	}
	db := chromem.NewDB()
	collection, err := db.CreateCollection("threat_phrasings", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &SemanticEscalator{collection: collection}, nil
}

// Seed embeds the builtin threat corpus plus any extra phrases. Safe to
// call once at startup; the escalator reports not-ready until it succeeds.
func (e *SemanticEscalator) Seed(ctx context.Context, extra []string) error {
	phrases := make([]threatPhrase, len(seedPhrases), len(seedPhrases)+len(extra))
	copy(phrases, seedPhrases)
	for _, p := range extra {
		phrases = append(phrases, threatPhrase{Text: p, Category: "custom"})
	}

	docs := make([]chromem.Document, 0, len(phrases))
	for i, p := range phrases {
		docs = append(docs, chromem.Document{
			ID:       fmt.Sprintf("seed-%d", i),
			Content:  p.Text,
			Metadata: map[string]string{"category": p.Category},
		})
	}
	if err := e.collection.AddDocuments(ctx, docs, 2); err != nil {
		return fmt.Errorf("seed threat corpus: %w", err)
	}

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	return nil
}

// IsReady reports whether the corpus has been seeded.
func (e *SemanticEscalator) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Score returns the best similarity against the corpus and the category of
// the closest phrase.
func (e *SemanticEscalator) Score(ctx context.Context, text string) (float64, string, error) {
	if !e.IsReady() {
		return 0, "", fmt.Errorf("semantic escalator not seeded")
	}
	results, err := e.collection.Query(ctx, text, 1, nil, nil)
	if err != nil {
		return 0, "", fmt.Errorf("semantic query: %w", err)
	}
	if len(results) == 0 {
		return 0, "", nil
	}
	top := results[0]
	return float64(top.Similarity), top.Metadata["category"], nil
}

// NewOpenAIEmbeddingFunc builds an embedding function against any
// OpenAI-compatible /v1/embeddings endpoint.
func NewOpenAIEmbeddingFunc(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	client := httputil.Client(httputil.TierMedium)

	return func(ctx context.Context, text string) ([]float32, error) {
		body, err := json.Marshal(map[string]string{"model": model, "input": text})
		if err != nil {
			return nil, fmt.Errorf("marshal embedding request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("embedding request: %w", err)
		}
		defer httputil.DrainAndClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			msg, _ := httputil.ReadErrorBody(resp.Body)
			return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, msg)
		}

		raw, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
		if err != nil {
			return nil, fmt.Errorf("read embedding response: %w", err)
		}
		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("decode embedding response: %w", err)
		}
		if len(parsed.Data) == 0 {
			return nil, fmt.Errorf("embedding response contained no vectors")
		}
		return parsed.Data[0].Embedding, nil
	}
}
