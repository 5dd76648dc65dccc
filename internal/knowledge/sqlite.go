package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/metrics"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	round      INTEGER NOT NULL DEFAULT 0,
	topic      TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id, id);
`

// SQLiteStore persists run entries in a local SQLite database. It is the
// default backend for single-node deployments and tests.
type SQLiteStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewSQLiteStore opens (and if needed creates) the database at path
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = "colloquy.db"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge sqlite: open %s: %w", path, err)
	}

	// An in-memory database exists per connection, so the pool must stay at one
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge sqlite: create schema: %w", err)
	}

	return &SQLiteStore{db: db, log: logger.Named("knowledge.sqlite")}, nil
}

// Write stores one entry as a JSON payload row
func (s *SQLiteStore) Write(ctx context.Context, entry Entry) error {
	start := time.Now()

	buf, err := json.Marshal(entry)
	if err != nil {
		metrics.RecordStoreOperation("sqlite", "write", "error", time.Since(start).Seconds())
		return fmt.Errorf("knowledge sqlite: encode entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (run_id, round, topic, payload) VALUES (?, ?, ?, ?)`,
		entry.RunID, entry.Round, entry.Topic, string(buf))
	if err != nil {
		metrics.RecordStoreOperation("sqlite", "write", "error", time.Since(start).Seconds())
		return fmt.Errorf("knowledge sqlite: write: %w", err)
	}

	metrics.RecordStoreOperation("sqlite", "write", "ok", time.Since(start).Seconds())
	return nil
}

// Query returns the run's entries in insertion order, narrowed by topic
func (s *SQLiteStore) Query(ctx context.Context, q QueryRequest) ([]Entry, error) {
	start := time.Now()

	var payloads []string
	err := s.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM entries WHERE run_id = ? ORDER BY id`, q.RunID)
	if err != nil {
		metrics.RecordStoreOperation("sqlite", "query", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("knowledge sqlite: query: %w", err)
	}

	entries := make([]Entry, 0, len(payloads))
	for _, p := range payloads {
		var e Entry
		if err := json.Unmarshal([]byte(p), &e); err != nil {
			metrics.RecordStoreOperation("sqlite", "query", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("knowledge sqlite: decode entry: %w", err)
		}
		entries = append(entries, e)
	}

	entries = tailLimit(filterByTopic(entries, q.Topic), q.Limit)
	metrics.RecordStoreOperation("sqlite", "query", "ok", time.Since(start).Seconds())
	return entries, nil
}

// Ping checks the database handle for health reporting
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
