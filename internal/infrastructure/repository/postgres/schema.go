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

// EnsureSchema creates the tables on startup. The advisory lock serializes
// DDL across concurrent api/worker startups.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026062601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	title TEXT NOT NULL,
	raw_text TEXT NOT NULL,
	document_type TEXT NOT NULL,
	legal_domain TEXT NOT NULL,
	domain_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	named_entities JSONB NOT NULL DEFAULT '[]'::jsonb,
	summary TEXT,
	keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
	readability DOUBLE PRECISION NOT NULL DEFAULT 0,
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	published_date TIMESTAMPTZ,
	effective_date TIMESTAMPTZ,
	is_current BOOLEAN NOT NULL DEFAULT TRUE,
	source_url TEXT,
	source_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	ingested_at TIMESTAMPTZ NOT NULL,
	enriched_at TIMESTAMPTZ NOT NULL,
	UNIQUE (source_id, version)
);

CREATE INDEX IF NOT EXISTS idx_documents_source_id ON documents(source_id);
CREATE INDEX IF NOT EXISTS idx_documents_current ON documents(is_current) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_documents_domain ON documents(legal_domain);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	chunk_text TEXT NOT NULL,
	embedding_failed BOOLEAN NOT NULL DEFAULT FALSE,
	hierarchy TEXT,
	keywords JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_keywords ON chunks USING GIN (keywords);

CREATE TABLE IF NOT EXISTS watermarks (
	source TEXT PRIMARY KEY,
	last_id TEXT NOT NULL DEFAULT '',
	last_date TIMESTAMPTZ,
	last_page INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
