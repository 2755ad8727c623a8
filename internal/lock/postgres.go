package lock

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a dedicated locks table. The
// primary key on resource_id provides the atomic insert-if-absent; no
// advisory locks or transactions are needed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore { return &PostgresStore{pool: pool} }

// EnsureSchema creates the locks table when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS conversation_locks (
            resource_id TEXT PRIMARY KEY,
            token TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        )
    `)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
        INSERT INTO conversation_locks (resource_id, token, created_at, expires_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (resource_id) DO NOTHING
    `, rec.ResourceID, rec.Token, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, resourceID string, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
        DELETE FROM conversation_locks WHERE resource_id=$1 AND expires_at <= $2
    `, resourceID, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, resourceID, token string) error {
	_, err := s.pool.Exec(ctx, `
        DELETE FROM conversation_locks WHERE resource_id=$1 AND token=$2
    `, resourceID, token)
	return err
}
