package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	download_status TEXT NOT NULL DEFAULT 'pending',
	parse_status TEXT NOT NULL DEFAULT 'pending',
	index_status TEXT NOT NULL DEFAULT 'pending',
	deliver_status TEXT NOT NULL DEFAULT 'pending',
	cleanup_status TEXT NOT NULL DEFAULT 'pending',
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	artifact_id TEXT,
	lock_token TEXT,
	lock_acquired_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_completed ON documents(completed);
CREATE INDEX IF NOT EXISTS idx_documents_lock ON documents(lock_token) WHERE lock_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

CREATE TABLE IF NOT EXISTS extracted_contents (
	document_id TEXT PRIMARY KEY REFERENCES documents(id),
	title TEXT NOT NULL DEFAULT '',
	slug TEXT NOT NULL UNIQUE,
	content_text TEXT NOT NULL DEFAULT '',
	views BIGINT NOT NULL DEFAULT 0,
	downloads BIGINT NOT NULL DEFAULT 0,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	blocked BOOLEAN NOT NULL DEFAULT FALSE,
	blocked_reason TEXT,
	blocked_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_extracted_contents_blocked ON extracted_contents(blocked) WHERE blocked;

CREATE TABLE IF NOT EXISTS processing_errors (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL,
	attempt INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_errors_document ON processing_errors(document_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
