// Package database opens the two Postgres handles the server runs on:
// a database/sql handle for the conversation and user stores, and a
// pgx pool for the lock store and the River job queue.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// ResolveURL picks the database URL: an explicit value wins, otherwise
// the DATABASE_URL environment variable.
func ResolveURL(configured string) (string, error) {
	if url := strings.TrimSpace(configured); url != "" {
		return url, nil
	}
	if url := strings.TrimSpace(os.Getenv("DATABASE_URL")); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("no database URL configured; set database.url or DATABASE_URL")
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}

// NewPool creates a pgx connection pool
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}
