// Package postgres implements storage.Store on Postgres using pgx v5.
//
// Each destination is a two-column table: the key attribute as a TEXT
// primary key and the sanitized record as a JSONB document. Writes upsert on
// the key, giving the same overwrite semantics as a key-value put.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lander/internal/records"
	"lander/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocColumn holds the JSONB document.
const DocColumn = "doc"

const (
	sqlStateDuplicateTable  = "42P07"
	sqlStateUndefinedTable  = "42P01"
	sqlStateUniqueViolation = "23505"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN    string // connection string for pgxpool
	Schema string // optional; defaults to the connection's current_schema()
}

// Repository is a Postgres-backed storage.Store.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	close := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg}, close, nil
}

// DescribeTable implements storage.Store. The key attribute is the table's
// single primary-key column.
func (r *Repository) DescribeTable(ctx context.Context, name string) (storage.TableInfo, error) {
	var key string
	err := r.pool.QueryRow(ctx, describeSQL, name, r.cfg.Schema).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.TableInfo{}, fmt.Errorf("postgres: describe %s: %w", name, storage.ErrTableNotFound)
	}
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("postgres: describe %s: %w", name, err)
	}
	return storage.TableInfo{Name: name, KeyAttr: key, Ready: true}, nil
}

const describeSQL = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_name = $1
  AND tc.table_schema = COALESCE(NULLIF($2, ''), current_schema())
LIMIT 1`

// CreateTable implements storage.Store.
func (r *Repository) CreateTable(ctx context.Context, name, keyAttr string) error {
	_, err := r.pool.Exec(ctx, createTableSQL(r.qualified(name), keyAttr))
	if err != nil {
		var pgErr *pgconn.PgError
		// Concurrent CREATE TABLE can also surface as a unique violation on pg_type.
		if errors.As(err, &pgErr) && (pgErr.Code == sqlStateDuplicateTable || pgErr.Code == sqlStateUniqueViolation) {
			return fmt.Errorf("postgres: create %s: %w", name, storage.ErrTableExists)
		}
		return fmt.Errorf("postgres: create %s: %w", name, err)
	}
	return nil
}

// WaitUntilReady implements storage.Store. Postgres DDL is transactional, so
// a created table is immediately writable; this only checks connectivity.
func (r *Repository) WaitUntilReady(ctx context.Context, name string) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: wait for %s: %w", name, err)
	}
	return nil
}

// BatchPut implements storage.Store. Items are upserted one statement at a
// time on the pool so a rejected item does not abort its siblings.
func (r *Repository) BatchPut(ctx context.Context, name, keyAttr string, items []records.Record) ([]error, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stmt := upsertSQL(r.qualified(name), keyAttr)
	itemErrs := make([]error, len(items))
	failed := 0
	for i, it := range items {
		doc, err := storage.EncodeDocument(it)
		if err == nil {
			_, err = r.pool.Exec(ctx, stmt, storage.KeyString(it[keyAttr]), doc)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("postgres: batch put %s: %w", name, ctx.Err())
			}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == sqlStateUndefinedTable {
				return nil, fmt.Errorf("postgres: batch put %s: %w: %w", name, storage.ErrTableNotFound, err)
			}
			itemErrs[i] = fmt.Errorf("postgres: upsert into %s: %w", name, err)
			failed++
		}
	}
	if failed == 0 {
		return nil, nil
	}
	return itemErrs, nil
}

// qualified quotes name, prefixed by the configured schema. Names are quoted
// whole since destination names may contain dots.
func (r *Repository) qualified(name string) string {
	if r.cfg.Schema == "" {
		return pgIdent(name)
	}
	return pgIdent(r.cfg.Schema) + "." + pgIdent(name)
}

func createTableSQL(fqn, keyAttr string) string {
	return fmt.Sprintf(
		"CREATE TABLE %s (%s TEXT PRIMARY KEY, %s JSONB NOT NULL)",
		fqn, pgIdent(keyAttr), pgIdent(DocColumn),
	)
}

func upsertSQL(fqn, keyAttr string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s",
		fqn, pgIdent(keyAttr), pgIdent(DocColumn),
		pgIdent(keyAttr), pgIdent(DocColumn), pgIdent(DocColumn),
	)
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
