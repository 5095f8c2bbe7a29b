package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/hakken/internal/model"
)

// Cache persists classifier verdicts in a local SQLite file. Description
// pairs recur across runs whenever a snapshot is re-fetched unchanged, so a
// durable cache turns most stage-2 work into a lookup.
type Cache struct {
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS classifications (
	input_hash     TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	label          TEXT NOT NULL,
	confidence     REAL NOT NULL,
	rationale      TEXT NOT NULL,
	created_at     TEXT NOT NULL DEFAULT (datetime('now'))
)`

// OpenCache opens the cache at path, creating the file and schema on first
// use. WAL keeps readers cheap; the busy timeout rides out writer contention
// from overlapping runs.
func OpenCache(path string) (*Cache, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("gate: open cache %s: %w", path, err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("gate: init cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached verdict for inputHash under the given schema
// version. Entries written under other schema versions are invisible, not
// errors; a prompt change bumps the version and the cache refills.
func (c *Cache) Get(ctx context.Context, inputHash, schemaVersion string) (model.Classification, bool, error) {
	var cls model.Classification
	err := c.db.QueryRowContext(ctx,
		`SELECT schema_version, label, confidence, rationale
		 FROM classifications
		 WHERE input_hash = ? AND schema_version = ?`,
		inputHash, schemaVersion).
		Scan(&cls.SchemaVersion, &cls.Label, &cls.Confidence, &cls.Rationale)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Classification{}, false, nil
	}
	if err != nil {
		return model.Classification{}, false, fmt.Errorf("gate: read cache: %w", err)
	}
	cls.InputHash = inputHash
	cls.Cached = true
	return cls, true, nil
}

// Put stores a verdict, replacing any entry for the same input hash.
func (c *Cache) Put(ctx context.Context, cls model.Classification) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO classifications (input_hash, schema_version, label, confidence, rationale)
		 VALUES (?, ?, ?, ?, ?)`,
		cls.InputHash, cls.SchemaVersion, string(cls.Label), cls.Confidence, cls.Rationale)
	if err != nil {
		return fmt.Errorf("gate: write cache: %w", err)
	}
	return nil
}

// Size reports the number of cached verdicts across all schema versions.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM classifications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("gate: count cache: %w", err)
	}
	return n, nil
}

// Clear drops every cached verdict.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM classifications`); err != nil {
		return fmt.Errorf("gate: clear cache: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
