// Package config loads gateway settings from RESTRICTOR_* environment
// variables and provides tuned presets.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds global settings for the restrictor gateway. Everything can
// be set via environment variables or programmatically before startup.
type Config struct {
	// === Core ===
	ListenAddr     string // HTTP listen address (default ":8080")
	LogLevel       string // zap level for audit records: debug|info|warn|error
	APIKey         string // gateway API key; required in production
	MaxInputLength int    // hard cap on analyzable text, in bytes

	// === Rules ===
	LearnedRulesPath string   // YAML file for learned-rule persistence
	ExtraSafePhrases []string // safe phrases added to the builtin set
	SafePhrasesFile  string   // optional YAML file with more safe phrases

	// === Fallback LLM ===
	LLMProvider      string // "openrouter", "groq", "ollama", or "" for none
	LLMAPIKey        string
	LLMModel         string
	LLMBaseURL       string
	LLMCostPerKToken float64 // USD per 1k tokens, for budget charging
	LLMTimeout       time.Duration

	// === Local ONNX fallback ===
	EnableONNX    bool
	ONNXModelPath string

	// === Semantic escalation ===
	EnableSemantics  bool
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingAPIKey  string

	// === Escalation budget ===
	CallsPerMinute int     // fallback calls per tenant per minute
	DailyCostCap   float64 // USD per tenant per UTC day

	// === Storage ===
	RedisAddr        string // empty = in-memory feedback store
	RedisPassword    string
	RedisDB          int
	PostgresDSN      string // empty = no decision persistence
	FeedbackCacheTTL time.Duration
}

// NewDefaultConfig creates a Config with sensible defaults, every field
// overridable via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:     GetEnv("RESTRICTOR_LISTEN_ADDR", ":8080"),
		LogLevel:       GetEnv("RESTRICTOR_LOG_LEVEL", "info"),
		APIKey:         os.Getenv("RESTRICTOR_API_KEY"),
		MaxInputLength: GetEnvInt("RESTRICTOR_MAX_INPUT_LENGTH", 50000),

		LearnedRulesPath: GetEnv("RESTRICTOR_LEARNED_RULES", "learned_rules.yaml"),
		ExtraSafePhrases: GetEnvSlice("RESTRICTOR_SAFE_PHRASES", nil),
		SafePhrasesFile:  GetEnv("RESTRICTOR_SAFE_PHRASES_FILE", ""),

		LLMProvider:      detectLLMProvider(),
		LLMAPIKey:        GetEnv("RESTRICTOR_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		LLMModel:         GetEnv("RESTRICTOR_LLM_MODEL", ""),
		LLMBaseURL:       GetEnv("RESTRICTOR_LLM_BASE_URL", ""),
		LLMCostPerKToken: GetEnvFloat("RESTRICTOR_LLM_COST_PER_KTOKEN", 0.002),
		LLMTimeout:       time.Duration(GetEnvInt("RESTRICTOR_LLM_TIMEOUT_MS", 15000)) * time.Millisecond,

		EnableONNX:    GetEnvBool("RESTRICTOR_ENABLE_ONNX", false),
		ONNXModelPath: GetEnv("RESTRICTOR_ONNX_MODEL_PATH", "./models"),

		EnableSemantics:  GetEnvBool("RESTRICTOR_ENABLE_SEMANTICS", false),
		EmbeddingBaseURL: GetEnv("RESTRICTOR_EMBEDDING_BASE_URL", "http://localhost:11434/v1"),
		EmbeddingModel:   GetEnv("RESTRICTOR_EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingAPIKey:  GetEnv("RESTRICTOR_EMBEDDING_API_KEY", ""),

		CallsPerMinute: clampInt(GetEnvInt("RESTRICTOR_CALLS_PER_MINUTE", 30), 1, 10000),
		DailyCostCap:   GetEnvFloat("RESTRICTOR_DAILY_COST_CAP", 5.0),

		RedisAddr:        GetEnv("RESTRICTOR_REDIS_ADDR", ""),
		RedisPassword:    GetEnv("RESTRICTOR_REDIS_PASSWORD", ""),
		RedisDB:          GetEnvInt("RESTRICTOR_REDIS_DB", 0),
		PostgresDSN:      GetEnv("RESTRICTOR_POSTGRES_DSN", ""),
		FeedbackCacheTTL: time.Duration(GetEnvInt("RESTRICTOR_FEEDBACK_CACHE_TTL_S", 86400)) * time.Second,
	}
}

// NewLocalConfig is tuned for air-gapped or privacy-first deployments:
// local Ollama for the fallback model, no cloud keys.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LLMProvider = "ollama"
	cfg.LLMBaseURL = "http://localhost:11434/v1"
	cfg.LLMModel = "qwen2.5:7b"
	cfg.LLMAPIKey = ""
	return cfg
}

// NewHighSecurityConfig spends budget freely and prefers false positives
// over misses.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.CallsPerMinute = 120
	cfg.DailyCostCap = 25.0
	cfg.EnableSemantics = true
	return cfg
}

// NewHighUsabilityConfig throttles escalation hard; only the cheap
// detectors run at full strength.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.CallsPerMinute = 10
	cfg.DailyCostCap = 1.0
	return cfg
}

func detectLLMProvider() string {
	if p := os.Getenv("RESTRICTOR_LLM_PROVIDER"); p != "" {
		return p
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return "groq"
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("RESTRICTOR_LLM_API_KEY") != "" {
		return "openrouter"
	}
	return "ollama"
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing, exported for use by
// other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// RequiredSecret defines a required environment variable for startup validation.
type RequiredSecret struct {
	Name        string
	Description string
	Production  bool // required in production only (false = required always)
}

// CriticalSecrets returns the secrets the gateway needs to operate.
func CriticalSecrets() []RequiredSecret {
	return []RequiredSecret{
		{Name: "RESTRICTOR_API_KEY", Description: "API key for gateway authentication", Production: true},
	}
}

func isProduction() bool {
	env := strings.ToLower(os.Getenv("RESTRICTOR_ENV"))
	return env == "production" || env == "prod"
}

// Validate checks that required configuration is present. In production it
// returns an error for missing critical secrets; in development it logs
// warnings and allows startup.
func (c *Config) Validate() error {
	prod := isProduction()

	var missing []string
	for _, secret := range CriticalSecrets() {
		if os.Getenv(secret.Name) != "" {
			continue
		}
		if !secret.Production || prod {
			missing = append(missing, secret.Name+" ("+secret.Description+")")
		} else {
			log.Printf("[STARTUP] Warning: missing optional secret: %s (%s)", secret.Name, secret.Description)
		}
	}

	if c.MaxInputLength <= 0 {
		missing = append(missing, "RESTRICTOR_MAX_INPUT_LENGTH (must be positive)")
	}
	if c.DailyCostCap < 0 {
		missing = append(missing, "RESTRICTOR_DAILY_COST_CAP (must not be negative)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits on failure. Call at startup
// before serving.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}
