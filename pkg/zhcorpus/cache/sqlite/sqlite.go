// Package sqlite persists the cache manifest in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/cache"
)

// FileName is the manifest database name inside the cache directory.
const FileName = "manifest.db"

// manifestStore implements cache.Manifest using SQLite
type manifestStore struct {
	db *sql.DB
}

// Open opens a SQLite manifest with WAL mode enabled.
func Open(ctx context.Context, path string) (cache.Manifest, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL journal with a busy timeout.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &manifestStore{db: db}, nil
}

// Close releases the database handle.
func (s *manifestStore) Close() error {
	return s.db.Close()
}

// initSchema creates the manifest table on first use.
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS artifacts (
	stage TEXT NOT NULL,
	artifact TEXT NOT NULL,
	stage_key TEXT NOT NULL,
	digest TEXT NOT NULL,
	run_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY(stage, artifact)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Entries implements cache.Manifest.
func (s *manifestStore) Entries(ctx context.Context, stage string) ([]cache.Entry, error) {
	query := `SELECT stage, artifact, stage_key, digest, run_id, created_at FROM artifacts`
	var args []any
	if stage != "" {
		query += ` WHERE stage = ?`
		args = append(args, stage)
	}
	query += ` ORDER BY stage, artifact`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []cache.Entry
	for rows.Next() {
		var e cache.Entry
		var created string
		if err := rows.Scan(&e.Stage, &e.Artifact, &e.Key, &e.Digest, &e.RunID, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("artifact %s/%s: bad timestamp %q: %w", e.Stage, e.Artifact, created, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Replace implements cache.Manifest.
func (s *manifestStore) Replace(ctx context.Context, stage string, entries []cache.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE stage = ?`, stage); err != nil {
		return err
	}

	const stmt = `
INSERT INTO artifacts (stage, artifact, stage_key, digest, run_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`
	for _, e := range entries {
		if e.Stage != stage {
			return fmt.Errorf("artifact %s belongs to stage %s, not %s", e.Artifact, e.Stage, stage)
		}
		if _, err := tx.ExecContext(ctx, stmt,
			e.Stage,
			e.Artifact,
			e.Key,
			e.Digest,
			e.RunID,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Delete implements cache.Manifest.
func (s *manifestStore) Delete(ctx context.Context, stage string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE stage = ?`, stage)
	return err
}
