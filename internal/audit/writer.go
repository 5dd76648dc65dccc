// Package audit persists round and run records to Postgres so runs
// can be reconstructed and reported on after the fact. Writes flow
// through a buffered queue serviced by background workers; when the
// queue is full the write happens synchronously instead so records
// are never dropped.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/circuitbreaker"
	"github.com/colloquyhq/colloquy/internal/metrics"
)

// Config holds audit database configuration
type Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	QueueSize       int           `mapstructure:"queue_size"`
	Workers         int           `mapstructure:"workers"`
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.User == "" {
		c.User = "colloquy"
	}
	if c.Database == "" {
		c.Database = "colloquy"
	}
	if c.SSLMode == "" {
		c.SSLMode = "require"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 2
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
}

func (c Config) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type writeKind int

const (
	writeRound writeKind = iota
	writeResult
)

func (k writeKind) String() string {
	switch k {
	case writeRound:
		return "round_record"
	case writeResult:
		return "run_result"
	default:
		return "unknown"
	}
}

type writeRequest struct {
	kind   writeKind
	round  RoundRecord
	result RunRecord
}

// Writer persists audit records asynchronously
type Writer struct {
	db  *circuitbreaker.DatabaseWrapper
	log *zap.Logger

	writeQueue chan writeRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// NewWriter opens the audit database, ensures the schema exists and
// starts the background write workers.
func NewWriter(cfg Config, logger *zap.Logger) (*Writer, error) {
	cfg.applyDefaults()

	rawDB, err := sqlx.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	rawDB.SetMaxOpenConns(cfg.MaxConnections)
	rawDB.SetMaxIdleConns(cfg.IdleConnections)
	rawDB.SetConnMaxLifetime(cfg.MaxLifetime)

	w := newWriter(rawDB, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}
	if _, err := w.db.ExecContext(ctx, schema); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("audit: ensure schema: %w", err)
	}

	w.start()
	w.log.Info("Audit writer initialized",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("workers", w.workers),
	)
	return w, nil
}

func newWriter(db *sqlx.DB, cfg Config, logger *zap.Logger) *Writer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		db:         circuitbreaker.NewDatabaseWrapper(db, "audit", logger),
		log:        logger.Named("audit"),
		writeQueue: make(chan writeRequest, cfg.QueueSize),
		workers:    cfg.Workers,
		stopCh:     make(chan struct{}),
	}
}

func (w *Writer) start() {
	for i := 0; i < w.workers; i++ {
		w.workerWg.Add(1)
		go w.worker(i)
	}
}

func (w *Writer) worker(id int) {
	defer w.workerWg.Done()
	w.log.Debug("Audit worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-w.stopCh:
			w.drain()
			w.log.Debug("Audit worker stopped", zap.Int("worker_id", id))
			return
		case req := <-w.writeQueue:
			w.process(req)
			metrics.AuditQueueDepth.Set(float64(len(w.writeQueue)))
		}
	}
}

// drain processes remaining requests during shutdown
func (w *Writer) drain() {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case req := <-w.writeQueue:
			w.process(req)
		case <-timeout:
			w.log.Warn("Timeout draining audit queue",
				zap.Int("remaining", len(w.writeQueue)))
			return
		default:
			return
		}
	}
}

func (w *Writer) process(req writeRequest) {
	var err error
	switch req.kind {
	case writeRound:
		err = w.insertRound(context.Background(), req.round)
	case writeResult:
		err = w.insertResult(context.Background(), req.result)
	}
	if err != nil {
		w.log.Error("Failed to persist audit record",
			zap.String("kind", req.kind.String()),
			zap.Error(err),
		)
	}
}

// SaveRound queues one round record for persistence. ID and CreatedAt
// are filled when zero.
func (w *Writer) SaveRound(ctx context.Context, rec RoundRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return w.enqueue(ctx, writeRequest{kind: writeRound, round: rec})
}

// SaveResult queues the run outcome for persistence. Saving the same
// run twice overwrites the earlier row.
func (w *Writer) SaveResult(ctx context.Context, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return w.enqueue(ctx, writeRequest{kind: writeResult, result: rec})
}

func (w *Writer) enqueue(ctx context.Context, req writeRequest) error {
	select {
	case w.writeQueue <- req:
		metrics.AuditQueueDepth.Set(float64(len(w.writeQueue)))
		return nil
	default:
		// Queue is full - write synchronously to avoid dropping records
		w.log.Warn("Audit queue is full, falling back to synchronous write",
			zap.String("kind", req.kind.String()))
		metrics.AuditSyncFallbacks.Inc()

		switch req.kind {
		case writeRound:
			return w.insertRound(ctx, req.round)
		default:
			return w.insertResult(ctx, req.result)
		}
	}
}

const insertRoundSQL = `
	INSERT INTO round_records (
		id, run_id, round, role, prompt, raw_response,
		findings, questions, metadata, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (w *Writer) insertRound(ctx context.Context, rec RoundRecord) error {
	findings, err := marshalList(rec.Findings)
	if err != nil {
		metrics.RecordAuditWrite("round_record", "error")
		return fmt.Errorf("audit: encode findings: %w", err)
	}
	questions, err := marshalList(rec.Questions)
	if err != nil {
		metrics.RecordAuditWrite("round_record", "error")
		return fmt.Errorf("audit: encode questions: %w", err)
	}

	var raw []byte
	if len(rec.RawResponse) > 0 {
		raw = []byte(rec.RawResponse)
	}

	_, err = w.db.ExecContext(ctx, insertRoundSQL,
		rec.ID, rec.RunID, rec.Round, rec.Role, rec.Prompt, raw,
		findings, questions, JSONB(rec.Metadata), rec.CreatedAt,
	)
	if err != nil {
		metrics.RecordAuditWrite("round_record", "error")
		return fmt.Errorf("audit: insert round record: %w", err)
	}
	metrics.RecordAuditWrite("round_record", "ok")
	return nil
}

const insertResultSQL = `
	INSERT INTO run_results (
		run_id, status, findings, questions, metadata, message, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (run_id) DO UPDATE SET
		status = EXCLUDED.status,
		findings = EXCLUDED.findings,
		questions = EXCLUDED.questions,
		metadata = EXCLUDED.metadata,
		message = EXCLUDED.message`

func (w *Writer) insertResult(ctx context.Context, rec RunRecord) error {
	findings, err := marshalList(rec.Findings)
	if err != nil {
		metrics.RecordAuditWrite("run_result", "error")
		return fmt.Errorf("audit: encode findings: %w", err)
	}
	questions, err := marshalList(rec.Questions)
	if err != nil {
		metrics.RecordAuditWrite("run_result", "error")
		return fmt.Errorf("audit: encode questions: %w", err)
	}

	_, err = w.db.ExecContext(ctx, insertResultSQL,
		rec.RunID, rec.Status, findings, questions,
		JSONB(rec.Metadata), rec.Message, rec.CreatedAt,
	)
	if err != nil {
		metrics.RecordAuditWrite("run_result", "error")
		return fmt.Errorf("audit: insert run result: %w", err)
	}
	metrics.RecordAuditWrite("run_result", "ok")
	return nil
}

// marshalList encodes a slice as JSON, mapping nil to an empty array
// so jsonb columns never hold null
func marshalList(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return []byte("[]"), nil
	}
	return data, nil
}

// Close stops the workers, drains the queue and closes the database
func (w *Writer) Close() error {
	w.log.Info("Shutting down audit writer")

	close(w.stopCh)
	w.workerWg.Wait()

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("audit: close database: %w", err)
	}
	return nil
}

// Wrapper returns the circuit breaker protected database handle for
// health checks
func (w *Writer) Wrapper() *circuitbreaker.DatabaseWrapper {
	return w.db
}
