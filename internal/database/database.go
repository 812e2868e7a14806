package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps sql.DB for the queue store.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewDB opens database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// BEGIN IMMEDIATE serializes writers; busy_timeout makes them wait instead of failing.
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", path)
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queue_entries (
            id TEXT PRIMARY KEY,
            customer_id TEXT NOT NULL,
            payment_id TEXT NOT NULL,
            payment_amount TEXT NOT NULL DEFAULT '0',
            payment_method TEXT NOT NULL DEFAULT '',
            position INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'waiting',
            queued_at DATETIME NOT NULL,
            started_at DATETIME,
            completed_at DATETIME,
            completed_by TEXT NOT NULL DEFAULT '',
            removed_by TEXT NOT NULL DEFAULT '',
            removal_reason TEXT NOT NULL DEFAULT '',
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            entry_id TEXT NOT NULL DEFAULT '',
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		// Позиции уникальны только среди активных записей
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_entries_active_position
            ON queue_entries(position) WHERE status IN ('waiting', 'in_progress')`,
		// Один платеж - одна неотмененная запись
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_entries_payment
            ON queue_entries(payment_id) WHERE status <> 'cancelled'`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_status ON queue_entries(status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_customer ON queue_entries(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", trimSQL(query), err)
		}
	}
	return nil
}

func trimSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 60 {
		return q[:60] + "..."
	}
	return q
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}
