// Command rehash-content-hashes is a one-time migration script that recomputes
// content_hash for all signals in the database. Run this after moving the hash
// input from the raw source response (which churns on every fetch: view counts,
// result ordering) to the immutable source identity (source_api + source_id).
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./scripts/rehash-content-hashes
//
// The script connects to the database, reads every signal's source identity,
// recomputes the hash using the current algorithm, and updates any rows where
// the stored hash differs. Rows without a source_id are skipped; dedup falls
// back to signal_id for those. It prints the number of rows fixed and exits.
//
// Safe to run multiple times. Once all hashes match, it reports 0 updates and
// exits immediately.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/hakken/internal/model"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx,
		`SELECT id, source_api, source_id, content_hash
		 FROM signals
		 WHERE source_id <> ''
		 ORDER BY created_at ASC`)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	type staleRow struct {
		id   uuid.UUID
		hash string
	}

	var stale []staleRow
	var total int
	for rows.Next() {
		var (
			id         uuid.UUID
			sourceAPI  string
			sourceID   string
			storedHash string
		)
		if err := rows.Scan(&id, &sourceAPI, &sourceID, &storedHash); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		total++
		expected := model.ContentHash(sourceAPI, sourceID)
		if storedHash != expected {
			stale = append(stale, staleRow{id, expected})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}

	fmt.Printf("scanned %d signals, %d have stale hashes\n", total, len(stale))

	if len(stale) == 0 {
		fmt.Println("nothing to do")
		return nil
	}

	updated := 0
	for _, r := range stale {
		tag, err := pool.Exec(ctx,
			`UPDATE signals SET content_hash = $1 WHERE id = $2`,
			r.hash, r.id)
		if err != nil {
			log.Printf("update %s: %v", r.id, err)
			continue
		}
		if tag.RowsAffected() > 0 {
			updated++
		}
	}

	fmt.Printf("updated %d/%d stale hashes\n", updated, len(stale))
	return nil
}
