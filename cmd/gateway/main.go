package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TryMightyAI/restrictor/pkg/audit"
	"github.com/TryMightyAI/restrictor/pkg/budget"
	"github.com/TryMightyAI/restrictor/pkg/config"
	"github.com/TryMightyAI/restrictor/pkg/detect"
	"github.com/TryMightyAI/restrictor/pkg/engine"
	"github.com/TryMightyAI/restrictor/pkg/fallback"
	"github.com/TryMightyAI/restrictor/pkg/feedback"
	"github.com/TryMightyAI/restrictor/pkg/learn"
	"github.com/TryMightyAI/restrictor/pkg/rules"
)

const Version = "0.1.0"

// gateway bundles everything one running instance needs.
// Optional components degrade gracefully when unavailable.
type gateway struct {
	cfg      *config.Config
	engine   *engine.Engine
	rules    *rules.Store
	budget   *budget.Controller
	feedback feedback.Store
	learner  *learn.Learner
	logger   *zap.Logger
	pgStore  *audit.PostgresStore
}

func newGateway(cfg *config.Config) *gateway {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	logger := audit.MustLogger(cfg.LogLevel)

	// Rule store: builtins plus whatever previous training runs persisted.
	store := rules.NewStore()
	if cfg.LearnedRulesPath != "" {
		learned, skipped, err := rules.LoadLearned(cfg.LearnedRulesPath)
		if err != nil {
			log.Printf("[WARN] loading learned rules from %s: %v", cfg.LearnedRulesPath, err)
		} else if len(learned) > 0 {
			added, err := store.Commit(learned)
			if err != nil {
				log.Printf("[WARN] committing learned rules: %v", err)
			} else {
				log.Printf("✓ Loaded %d learned rules (%d skipped)", added, skipped)
			}
		}
	}

	controller := budget.NewController(budget.Limits{
		CallsPerWindow: cfg.CallsPerMinute,
		Window:         time.Minute,
		DailyCostCap:   cfg.DailyCostCap,
	})

	g := &gateway{
		cfg:    cfg,
		rules:  store,
		budget: controller,
		logger: logger,
	}

	g.feedback = newFeedbackStore(cfg)
	g.learner = learn.NewLearner(g.feedback, store, cfg.LearnedRulesPath)

	phrases := append(detect.DefaultSafePhrases(), cfg.ExtraSafePhrases...)
	if cfg.SafePhrasesFile != "" {
		extra, err := detect.LoadSafePhrases(cfg.SafePhrasesFile)
		if err != nil {
			log.Printf("○ Safe phrase file skipped: %v", err)
		} else {
			phrases = append(phrases, extra...)
			log.Printf("✓ Loaded %d safe phrases from %s", len(extra), cfg.SafePhrasesFile)
		}
	}

	eng := engine.NewEngine(store, controller).
		WithFeedback(g.feedback).
		WithMaxInputLength(cfg.MaxInputLength).
		WithFallbackTimeout(cfg.LLMTimeout).
		WithSafePhrases(phrases)

	if det := newFallbackDetector(cfg); det != nil {
		eng.WithFallback(det)
	}

	if cfg.EnableSemantics {
		embed := detect.NewOpenAIEmbeddingFunc(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
		semantic, err := detect.NewSemanticEscalator(embed)
		if err != nil {
			log.Printf("○ Semantic escalation disabled (init failed: %v)", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			if err := semantic.Seed(ctx, nil); err != nil {
				log.Printf("○ Semantic escalation disabled (seeding failed: %v)", err)
			} else {
				eng.WithEscalation(detect.NewEscalationClassifier().WithSemantic(semantic))
				log.Println("✓ Semantic escalation enabled (chromem-go embeddings)")
			}
			cancel()
		}
	}

	sinks := audit.MultiSink{audit.NewLogger(logger)}
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := audit.NewPostgresStore(ctx, cfg.PostgresDSN, logger)
		cancel()
		if err != nil {
			log.Printf("○ Decision persistence disabled (postgres: %v)", err)
		} else {
			g.pgStore = pg
			sinks = append(sinks, pg)
			log.Println("✓ Decision persistence enabled (postgres)")
		}
	}
	eng.WithAudit(sinks)

	g.engine = eng
	return g
}

func newFeedbackStore(cfg *config.Config) feedback.Store {
	if cfg.RedisAddr == "" {
		log.Println("○ Feedback store: in-memory (no RESTRICTOR_REDIS_ADDR)")
		return feedback.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := feedback.NewRedisStore(client, cfg.FeedbackCacheTTL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.Printf("○ Feedback store: in-memory (redis unreachable: %v)", err)
		return feedback.NewMemoryStore()
	}
	log.Println("✓ Feedback store: redis")
	return store
}

// newFallbackDetector prefers the local ONNX model when enabled and ready,
// then a configured LLM provider. Nil means the engine degrades to the
// escalation classifier's verdicts.
func newFallbackDetector(cfg *config.Config) fallback.Detector {
	if cfg.EnableONNX {
		onnxCfg := fallback.DefaultONNXConfig()
		if cfg.ONNXModelPath != "" {
			onnxCfg.ModelPath = cfg.ONNXModelPath
		}
		det := fallback.NewONNXDetector(onnxCfg)
		if det.IsReady() {
			log.Println("✓ Fallback detector: local ONNX model")
			return det
		}
		log.Println("○ Local ONNX model not ready, trying LLM provider")
	}

	if cfg.LLMProvider != "" {
		det := fallback.NewLLMDetector(fallback.LLMConfig{
			Provider:      fallback.Provider(cfg.LLMProvider),
			APIKey:        cfg.LLMAPIKey,
			Model:         cfg.LLMModel,
			BaseURL:       cfg.LLMBaseURL,
			CostPerKToken: cfg.LLMCostPerKToken,
		})
		if det.IsReady() {
			log.Printf("✓ Fallback detector: LLM (provider: %s)", cfg.LLMProvider)
			return det
		}
	}

	log.Println("○ No fallback detector (no ONNX model, no LLM key)")
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cfg := config.NewDefaultConfig()
		if len(os.Args) > 2 {
			cfg.ListenAddr = ":" + os.Args[2]
		}
		cfg.MustValidate()
		runHTTPServer(cfg)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: restrictor scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "train":
		runCLITrain()
	case "version":
		fmt.Printf("Restrictor v%s\n", Version)
		fmt.Println("Text safety decision engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Restrictor v%s - text safety decision engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  restrictor serve [port]   Start HTTP server (default: 8080)")
	fmt.Println("  restrictor scan <text>    Analyze text from the command line")
	fmt.Println("  restrictor train          Run one training pass over reviewed feedback")
	fmt.Println("  restrictor version        Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  RESTRICTOR_LLM_API_KEY     API key for the fallback LLM")
	fmt.Println("  RESTRICTOR_LLM_PROVIDER    Provider: ollama, openrouter, groq")
	fmt.Println("  RESTRICTOR_REDIS_ADDR      Redis address for the feedback store")
	fmt.Println("  RESTRICTOR_POSTGRES_DSN    Postgres DSN for decision persistence")
	fmt.Println("  RESTRICTOR_ENABLE_ONNX     Use a local ONNX toxicity model")
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

type analyzeRequest struct {
	Text     string         `json:"text"`
	TenantID string         `json:"tenant_id"`
	Policy   *engine.Policy `json:"policy,omitempty"`
}

func runHTTPServer(cfg *config.Config) {
	g := newGateway(cfg)
	defer func() { _ = g.logger.Sync() }()
	if g.pgStore != nil {
		defer func() { _ = g.pgStore.Close() }()
	}

	app := fiber.New(fiber.Config{
		AppName: "Restrictor",
	})

	if cfg.APIKey != "" {
		app.Use(func(c fiber.Ctx) error {
			if c.Path() == "/health" {
				return c.Next()
			}
			if c.Get("X-API-Key") != cfg.APIKey {
				return c.Status(401).JSON(fiber.Map{"error": "invalid api key"})
			}
			return c.Next()
		})
	}

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/analyze", func(c fiber.Ctx) error {
		var req analyzeRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.TenantID == "" {
			req.TenantID = "default"
		}
		policy := engine.DefaultPolicy()
		if req.Policy != nil {
			policy = *req.Policy
		}

		decision, err := g.engine.Analyze(c.Context(), req.Text, req.TenantID, policy)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(decision)
	})

	app.Post("/feedback", func(c fiber.Ctx) error {
		var sub feedback.Submission
		if err := c.Bind().Body(&sub); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if _, err := feedback.ParseType(string(sub.Type)); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}

		rec, err := g.feedback.Submit(c.Context(), sub)
		if errors.Is(err, feedback.ErrUnknownRequest) {
			return c.Status(404).JSON(fiber.Map{"error": "unknown request_id"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(rec)
	})

	app.Post("/feedback/:id/review", func(c fiber.Ctx) error {
		var req struct {
			Approved bool `json:"approved"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}

		rec, err := g.feedback.Review(c.Context(), c.Params("id"), req.Approved)
		switch {
		case errors.Is(err, feedback.ErrNotFound):
			return c.Status(404).JSON(fiber.Map{"error": "feedback not found"})
		case errors.Is(err, feedback.ErrAlreadyReviewed):
			return c.Status(409).JSON(fiber.Map{"error": "feedback already reviewed"})
		case err != nil:
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(rec)
	})

	app.Get("/feedback/pending", func(c fiber.Ctx) error {
		records, err := g.feedback.ListPending(c.Context(), 100)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"pending": records, "count": len(records)})
	})

	app.Get("/feedback/stats", func(c fiber.Ctx) error {
		stats, err := g.feedback.Stats(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(stats)
	})

	app.Post("/train", func(c fiber.Ctx) error {
		result, err := g.learner.Train(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(result)
	})

	app.Get("/rules/learned", func(c fiber.Ctx) error {
		learned := g.rules.Snapshot().Learned()
		return c.JSON(fiber.Map{"rules": learned, "count": len(learned)})
	})

	app.Get("/usage", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"tenants": g.budget.AllUsage()})
	})

	log.Printf("Restrictor HTTP server starting on %s", cfg.ListenAddr)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health               - Health check")
	log.Printf("  POST /analyze              - Analyze text, returns a decision")
	log.Printf("  POST /feedback             - Submit feedback for a decision")
	log.Printf("  POST /feedback/:id/review  - Approve or reject feedback")
	log.Printf("  GET  /feedback/pending     - Feedback awaiting review")
	log.Printf("  GET  /feedback/stats       - Feedback counters")
	log.Printf("  POST /train                - Learn rules from approved feedback")
	log.Printf("  GET  /rules/learned        - List learned rules")
	log.Printf("  GET  /usage                - Per-tenant escalation budget usage")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// ============================================================================
// CLI Mode
// ============================================================================

func runCLIScan(text string) {
	g := newGateway(config.NewDefaultConfig())
	defer func() { _ = g.logger.Sync() }()

	decision, err := g.engine.Analyze(context.Background(), text, "cli", engine.DefaultPolicy())
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}

	output, _ := json.MarshalIndent(decision, "", "  ")
	fmt.Println(string(output))
}

func runCLITrain() {
	g := newGateway(config.NewDefaultConfig())
	defer func() { _ = g.logger.Sync() }()

	result, err := g.learner.Train(context.Background())
	if err != nil {
		log.Fatalf("train: %v", err)
	}
	fmt.Printf("rules learned: %d, records consumed: %d, skipped: %d\n",
		result.RulesLearned, result.RecordsConsumed, result.RecordsSkipped)
}
