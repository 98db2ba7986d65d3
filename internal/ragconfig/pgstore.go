package ragconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool used by PostgresStore; pgxmock pools satisfy it too.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the config as a single JSONB row of the rag_config table.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore returns a store over db. The rag_config table is created by migrations.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	selectConfigSQL = `SELECT data FROM rag_config WHERE id = 1`
	upsertConfigSQL = `INSERT INTO rag_config (id, data, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
)

func (s *PostgresStore) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(ctx, selectConfigSQL).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rag config: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) Write(ctx context.Context, data []byte) error {
	if _, err := s.db.Exec(ctx, upsertConfigSQL, data); err != nil {
		return fmt.Errorf("failed to write rag config: %w", err)
	}
	return nil
}
