package fallback

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/TryMightyAI/restrictor/pkg/rules"
)

// ONNXConfig configures the local toxicity classifier.
type ONNXConfig struct {
	// ModelPath is a local ONNX model directory. When empty, ModelName is
	// downloaded into ./models on first use.
	ModelPath string
	ModelName string

	// OnnxLibraryPath points at libonnxruntime.so. Empty uses the pure Go
	// backend, which is slower but has no native dependency.
	OnnxLibraryPath string

	BatchSize int
	Timeout   time.Duration
}

// ModelToxicBERT is the default multilingual toxicity model.
const ModelToxicBERT = "unitary/multilingual-toxic-xlm-roberta"

// DefaultONNXConfig returns the standard local-model configuration.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		ModelName:       ModelToxicBERT,
		ModelPath:       "./models/toxicity",
		OnnxLibraryPath: defaultOnnxLibPath(),
		BatchSize:       32,
		Timeout:         30 * time.Second,
	}
}

func defaultOnnxLibPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// ONNXDetector runs a local text-classification model. It costs nothing per
// call, so budget Charge amounts are always zero; the escalation window
// still applies to bound CPU load.
type ONNXDetector struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	config   ONNXConfig

	mu    sync.RWMutex
	ready bool
}

// NewONNXDetector initializes the session and pipeline. Initialization
// failure degrades gracefully: the detector exists but reports not ready,
// and the engine falls back to the escalation verdict.
func NewONNXDetector(cfg ONNXConfig) *ONNXDetector {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &ONNXDetector{config: cfg}
	if err := d.initialize(); err != nil {
		log.Printf("[WARN] local model unavailable, degrading to escalation verdicts: %v", err)
	}
	return d
}

func (d *ONNXDetector) initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.createSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	modelPath, err := d.resolveModelPath()
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("resolve model: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "toxicity-classifier",
	})
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	d.session = session
	d.pipeline = pipeline
	d.ready = true
	log.Printf("local toxicity model ready (model: %s)", modelPath)
	return nil
}

func (d *ONNXDetector) createSession() (*hugot.Session, error) {
	if d.config.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(d.config.OnnxLibraryPath))
		if err == nil {
			return session, nil
		}
		log.Printf("[WARN] ONNX Runtime unavailable, using Go backend: %v", err)
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("go session: %w", err)
	}
	return session, nil
}

func (d *ONNXDetector) resolveModelPath() (string, error) {
	if d.config.ModelPath != "" {
		if _, err := os.Stat(filepath.Join(d.config.ModelPath, "model.onnx")); err == nil {
			return d.config.ModelPath, nil
		}
	}
	if d.config.ModelName == "" {
		return "", fmt.Errorf("no model path or name configured")
	}
	if err := os.MkdirAll("./models", 0o755); err != nil {
		return "", err
	}
	log.Printf("downloading model %s...", d.config.ModelName)
	return hugot.DownloadModel(d.config.ModelName, "./models", hugot.NewDownloadOptions())
}

// Name implements Detector.
func (d *ONNXDetector) Name() string { return "onnx_local" }

// IsReady implements Detector.
func (d *ONNXDetector) IsReady() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// toxicLabel maps model output labels to taxonomy categories. Unknown
// labels map to harassment, the broadest toxic bucket.
func toxicLabel(label string) (rules.Category, bool) {
	switch label {
	case "toxic", "toxicity", "LABEL_1":
		return rules.CategoryToxicHarassment, true
	case "severe_toxic", "threat":
		return rules.CategoryToxicViolence, true
	case "identity_hate", "identity_attack":
		return rules.CategoryToxicHate, true
	case "obscene", "sexual_explicit":
		return rules.CategoryToxicSexual, true
	case "insult":
		return rules.CategoryToxicHarassment, true
	default:
		return "", false
	}
}

// Classify implements Detector using local inference.
func (d *ONNXDetector) Classify(ctx context.Context, sanitized string) (*Verdict, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.ready || d.pipeline == nil {
		return nil, fmt.Errorf("onnx detector not ready")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := d.pipeline.RunPipeline([]string{sanitized})
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	latency := float64(time.Since(start).Milliseconds())

	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return nil, fmt.Errorf("onnx inference returned no outputs")
	}
	out := result.ClassificationOutputs[0][0]

	cat, flagged := toxicLabel(out.Label)
	if !flagged || float64(out.Score) < 0.5 {
		return &Verdict{Flagged: false, Confidence: float64(out.Score), LatencyMs: latency}, nil
	}

	sev := rules.SeverityHigh
	if out.Score >= 0.9 {
		sev = rules.SeverityCritical
	}
	return &Verdict{
		Flagged:     true,
		Category:    cat,
		Severity:    sev,
		Confidence:  float64(out.Score),
		Explanation: "local model label: " + out.Label,
		LatencyMs:   latency,
	}, nil
}

// Close releases the ONNX session.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		err := d.session.Destroy()
		d.session = nil
		d.ready = false
		return err
	}
	return nil
}
