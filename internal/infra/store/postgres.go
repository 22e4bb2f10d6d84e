package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentsTable = "agendabot_documents"

// PostgresBackend keeps documents as rows keyed by name.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgresBackend connects and ensures the schema exists.
func OpenPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b := NewPostgresBackend(pool)
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend wraps an existing pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// EnsureSchema creates the documents table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if b == nil || b.pool == nil {
		return fmt.Errorf("document store not initialized")
	}
	_, err := b.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+documentsTable+` (
    name TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("ensure document schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := b.pool.QueryRow(ctx, `SELECT body FROM `+documentsTable+` WHERE name = $1`, name).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (b *PostgresBackend) Save(ctx context.Context, name string, data []byte) error {
	_, err := b.pool.Exec(ctx, `
INSERT INTO `+documentsTable+` (name, body, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name)
DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
`, name, string(data))
	return err
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
