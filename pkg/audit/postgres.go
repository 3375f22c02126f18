package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"

	"github.com/TryMightyAI/restrictor/pkg/engine"
)

const (
	auditBufferSize    = 10_000
	auditFlushInterval = 250 * time.Millisecond
	auditFlushBatch    = 500
	auditDrainTimeout  = 2 * time.Second
)

const decisionsSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	request_id       TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	input_hash       TEXT NOT NULL,
	input_length     INT NOT NULL,
	action           TEXT NOT NULL,
	categories       JSONB NOT NULL DEFAULT '[]',
	max_confidence   DOUBLE PRECISION NOT NULL,
	latency_ms       DOUBLE PRECISION NOT NULL,
	escalated        BOOLEAN NOT NULL,
	fallback_invoked BOOLEAN NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS decisions_tenant_created_idx ON decisions (tenant_id, created_at);
`

// PostgresStore persists decision records asynchronously. RecordDecision is
// non-blocking; rows are buffered and batch-inserted by a background
// goroutine, dropping on overflow rather than stalling the request path.
type PostgresStore struct {
	db      *sql.DB
	logger  *zap.Logger
	buffer  chan *engine.Decision
	done    chan struct{}
	flushed chan struct{}
}

// NewPostgresStore opens a pgx-backed pool, verifies connectivity, ensures
// the schema, and starts the flush loop.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, decisionsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure decisions schema: %w", err)
	}

	s := &PostgresStore{
		db:      db,
		logger:  logger,
		buffer:  make(chan *engine.Decision, auditBufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// RecordDecision queues the decision for insertion. Drops when the buffer
// is full.
func (s *PostgresStore) RecordDecision(ctx context.Context, d *engine.Decision) {
	select {
	case s.buffer <- d:
	default:
		s.logger.Warn("audit buffer full, dropping decision",
			zap.String("request_id", d.RequestID))
	}
}

// Close drains the buffer and closes the pool.
func (s *PostgresStore) Close() error {
	close(s.done)
	<-s.flushed
	return s.db.Close()
}

func (s *PostgresStore) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	batch := make([]*engine.Decision, 0, auditFlushBatch)

	for {
		select {
		case d := <-s.buffer:
			batch = append(batch, d)
			if len(batch) >= auditFlushBatch {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
			defer cancel()
		drain:
			for {
				select {
				case d := <-s.buffer:
					batch = append(batch, d)
				case <-drainCtx.Done():
					break drain
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *PostgresStore) flush(batch []*engine.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("audit flush begin failed", zap.Error(err), zap.Int("batch", len(batch)))
		return
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decisions (request_id, tenant_id, input_hash, input_length,
			action, categories, max_confidence, latency_ms, escalated, fallback_invoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (request_id) DO NOTHING
	`)
	if err != nil {
		s.logger.Error("audit flush prepare failed", zap.Error(err))
		return
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range batch {
		categories, _ := json.Marshal(d.Categories())
		_, err := stmt.ExecContext(ctx, d.RequestID, d.TenantID, d.InputHash,
			d.InputLength, string(d.Action), categories, d.MaxConfidence(),
			d.LatencyMs, d.Escalated, d.FallbackInvoked)
		if err != nil {
			s.logger.Error("audit insert failed", zap.Error(err),
				zap.String("request_id", d.RequestID))
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("audit flush commit failed", zap.Error(err), zap.Int("batch", len(batch)))
	}
}
