package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/TryMightyAI/restrictor/pkg/httputil"
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// Provider selects the LLM backend. All of them speak the OpenAI chat
// completions wire format.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
	ProviderGroq       Provider = "groq"
)

// DefaultTemperature keeps classification near-deterministic.
const DefaultTemperature = 0.1

// LLMConfig configures the LLM fallback detector.
type LLMConfig struct {
	Provider    Provider
	APIKey      string // optional for Ollama
	Model       string
	BaseURL     string // optional override
	Temperature float64

	// CostPerKToken prices the call for budget accounting, USD per 1000
	// tokens. Zero means free (local models).
	CostPerKToken float64
}

// LLMDetector classifies sanitized text with a hosted or local LLM.
type LLMDetector struct {
	client        *http.Client
	provider      Provider
	baseURL       string
	apiKey        string
	model         string
	temperature   float64
	costPerKToken float64
	sem           *httputil.Semaphore
	breaker       *CircuitBreaker
	maxRetries    int
	retryBase     time.Duration
}

const classifySystemPrompt = `You are a content safety classifier. Analyze the INPUT and decide whether it is harmful.

Categories:
- toxic_hate: hate speech targeting a group
- toxic_harassment: personal attacks, slurs, bullying
- toxic_violence: threats or incitement of physical harm
- toxic_sexual: sexual content involving coercion or minors
- toxic_self_harm: suicidal ideation or encouragement of self-harm
- safe: none of the above

Consider veiled and indirect phrasing. Hindi/Hinglish slurs count as toxic_harassment.

Respond with JSON only:
{"category": "<one of the categories>", "severity": "none|low|medium|high|critical", "confidence": 0.0-1.0, "reason": "brief explanation"}`

// NewLLMDetector builds the detector with provider defaults filled in.
func NewLLMDetector(cfg LLMConfig) *LLMDetector {
	if cfg.Model == "" {
		if cfg.Provider == ProviderOllama {
			cfg.Model = "qwen2.5:7b"
		} else {
			cfg.Model = "meta-llama/llama-guard-3-8b"
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Provider {
		case ProviderOllama:
			baseURL = "http://localhost:11434/v1"
		case ProviderGroq:
			baseURL = "https://api.groq.com/openai/v1"
		default:
			baseURL = "https://openrouter.ai/api/v1"
		}
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	return &LLMDetector{
		client:        httputil.SlowClient(),
		provider:      cfg.Provider,
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		temperature:   temperature,
		costPerKToken: cfg.CostPerKToken,
		sem:           httputil.NewSemaphore(16),
		breaker:       NewCircuitBreaker("llm_" + string(cfg.Provider)),
		maxRetries:    2,
		retryBase:     500 * time.Millisecond,
	}
}

// Name implements Detector.
func (d *LLMDetector) Name() string { return "llm_" + string(d.provider) }

// IsReady reports whether the detector has what it needs to call out.
// Ollama needs no key; hosted providers do.
func (d *LLMDetector) IsReady() bool {
	return d.provider == ProviderOllama || d.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Classify sends the sanitized text for classification and maps the model's
// JSON answer onto the rule taxonomy.
func (d *LLMDetector) Classify(ctx context.Context, sanitized string) (*Verdict, error) {
	if !d.IsReady() {
		return nil, fmt.Errorf("llm detector: no API key configured for %s", d.provider)
	}
	if !d.breaker.Allow() {
		return nil, fmt.Errorf("llm detector: %w", ErrCircuitOpen)
	}
	if err := d.sem.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("llm detector: %w", err)
	}
	defer d.sem.Release()

	reqBody := chatRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: "INPUT: " + sanitized},
		},
		Temperature: d.temperature,
	}

	start := time.Now()
	var content string
	var tokens int
	err := retryWithBackoff(ctx, d.maxRetries, d.retryBase, 10*time.Second, func() error {
		var callErr error
		content, tokens, callErr = d.callLLM(ctx, reqBody)
		return callErr
	})
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		d.breaker.RecordFailure()
		return nil, err
	}
	d.breaker.RecordSuccess()

	verdict, err := d.parseVerdict(content)
	if err != nil {
		return nil, err
	}
	verdict.TokensUsed = tokens
	verdict.CostUSD = float64(tokens) / 1000 * d.costPerKToken
	verdict.LatencyMs = latency
	return verdict, nil
}

func (d *LLMDetector) parseVerdict(content string) (*Verdict, error) {
	var parsed struct {
		Category   string  `json:"category"`
		Severity   string  `json:"severity"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		// Llama Guard speaks "safe" / "unsafe\nS10" instead of JSON.
		lower := strings.TrimSpace(strings.ToLower(content))
		if strings.HasPrefix(lower, "safe") {
			return &Verdict{Flagged: false, Confidence: 1.0}, nil
		}
		if strings.HasPrefix(lower, "unsafe") {
			return &Verdict{
				Flagged:     true,
				Category:    guardCategory(lower),
				Severity:    rules.SeverityCritical,
				Confidence:  1.0,
				Explanation: "flagged unsafe: " + lower,
			}, nil
		}
		return nil, fmt.Errorf("llm detector: unparseable response %q", truncateForError(content))
	}

	if parsed.Category == "" || parsed.Category == "safe" {
		return &Verdict{Flagged: false, Confidence: parsed.Confidence, Explanation: parsed.Reason}, nil
	}
	cat, err := rules.ParseCategory(parsed.Category)
	if err != nil {
		return nil, fmt.Errorf("llm detector: %w", err)
	}
	sev, err := rules.ParseSeverity(parsed.Severity)
	if err != nil {
		sev = rules.SeverityHigh
	}
	return &Verdict{
		Flagged:     true,
		Category:    cat,
		Severity:    sev,
		Confidence:  parsed.Confidence,
		Explanation: parsed.Reason,
	}, nil
}

var guardCodePattern = regexp.MustCompile(`\bs\d+\b`)

// guardCategory maps Llama Guard hazard codes onto the taxonomy.
func guardCategory(resp string) rules.Category {
	for _, code := range guardCodePattern.FindAllString(resp, -1) {
		switch code {
		case "s1", "s9":
			return rules.CategoryToxicViolence
		case "s3", "s12":
			return rules.CategoryToxicSexual
		case "s4", "s10":
			return rules.CategoryToxicHate
		case "s11":
			return rules.CategoryToxicSelfHarm
		}
	}
	return rules.CategoryToxicHarassment
}

func (d *LLMDetector) callLLM(ctx context.Context, reqBody chatRequest) (string, int, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, err
	}

	endpoint := strings.TrimRight(d.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer httputil.DrainAndClose(resp.Body)

	// Providers are untrusted; bound the read.
	body, err := httputil.ReadResponseBody(resp.Body, 2*1024*1024)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("llm API error %d: %s", resp.StatusCode, truncateForError(string(body)))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", 0, fmt.Errorf("decode llm response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", 0, fmt.Errorf("llm response contained no choices")
	}
	return result.Choices[0].Message.Content, result.Usage.TotalTokens, nil
}

// extractJSON strips markdown fences and prose around a JSON object.
func extractJSON(content string) string {
	clean := strings.TrimSpace(content)
	if start := strings.Index(clean, "{"); start != -1 {
		clean = clean[start:]
	}
	if end := strings.LastIndex(clean, "}"); end != -1 {
		clean = clean[:end+1]
	}
	return clean
}

func truncateForError(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
