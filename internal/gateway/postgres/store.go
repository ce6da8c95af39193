// Package postgres stores documents in Postgres, one table per collection.
//
// Each collection table is expected to look like:
//
//	CREATE TABLE lead (
//		id         UUID PRIMARY KEY,
//		payload    JSONB NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lead-capture-api/internal/gateway"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const listTablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = current_schema()
ORDER BY table_name`

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes documents into Postgres.
type Store struct {
	pool  pool
	ids   gateway.IDGenerator
	clock gateway.Clock
}

// Open satisfies gateway.Opener.
func Open(ctx context.Context, s gateway.Settings) (gateway.Gateway, error) {
	store, err := New(ctx, s)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// New creates a pool-backed Store. DATABASE_NAME, when set, overrides the
// database named in the DSN. The pool connects lazily.
func New(ctx context.Context, s gateway.Settings) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if s.Name != "" {
		poolCfg.ConnConfig.Database = s.Name
	}
	if s.MaxConns > 0 {
		poolCfg.MaxConns = s.MaxConns
	}
	if s.MinConns > 0 {
		poolCfg.MinConns = s.MinConns
	}
	if s.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = s.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, s.IDs, s.Clock)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, ids gateway.IDGenerator, clock gateway.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	return &Store{pool: p, ids: ids, clock: clock}, nil
}

// CreateDocument inserts payload as a JSONB row in the category table.
func (s *Store) CreateDocument(ctx context.Context, category string, payload map[string]any) (string, error) {
	if !validTableName.MatchString(category) {
		return "", fmt.Errorf("invalid collection name %q", category)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate document id: %w", err)
	}
	now := s.clock.Now()
	query := fmt.Sprintf(`
INSERT INTO %s (id, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4)`, category)

	if _, err := s.pool.Exec(ctx, query, id, body, now, now); err != nil {
		return "", fmt.Errorf("insert %s document: %w", category, err)
	}
	return id, nil
}

// ListCollectionNames returns the tables visible in the current schema.
func (s *Store) ListCollectionNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
