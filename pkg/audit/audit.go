// Package audit emits one structured record per decision. Records carry the
// input's hash and length, never its text.
package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TryMightyAI/restrictor/pkg/engine"
)

// MustLogger builds a production JSON logger at the given level, panicking
// on misconfiguration. Intended for process startup.
func MustLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

// Logger writes audit records through zap.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log}
}

// RecordDecision logs one decision. Detector names and failure strings are
// included; matched text and the input itself are not.
func (l *Logger) RecordDecision(ctx context.Context, d *engine.Decision) {
	fields := []zap.Field{
		zap.String("request_id", d.RequestID),
		zap.String("tenant_id", d.TenantID),
		zap.String("input_hash", d.InputHash),
		zap.Int("input_length", d.InputLength),
		zap.String("action", string(d.Action)),
		zap.Strings("categories", d.Categories()),
		zap.Float64("max_confidence", d.MaxConfidence()),
		zap.Float64("latency_ms", d.LatencyMs),
		zap.Strings("detectors", detectorNames(d)),
		zap.Bool("escalated", d.Escalated),
		zap.Bool("fallback_invoked", d.FallbackInvoked),
	}
	if len(d.DetectorFailures) > 0 {
		fields = append(fields, zap.Strings("detector_failures", d.DetectorFailures))
	}
	l.log.Info("decision", fields...)
}

func detectorNames(d *engine.Decision) []string {
	seen := map[string]bool{}
	var out []string
	for _, det := range d.Detections {
		if !seen[det.Detector] {
			seen[det.Detector] = true
			out = append(out, det.Detector)
		}
	}
	return out
}

// MultiSink fans one decision out to several sinks.
type MultiSink []engine.AuditSink

func (m MultiSink) RecordDecision(ctx context.Context, d *engine.Decision) {
	for _, s := range m {
		s.RecordDecision(ctx, d)
	}
}
