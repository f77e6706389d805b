// Package sqlite implements storage.Store on SQLite using database/sql and
// the pure-Go modernc driver.
//
// Like the Postgres backend, each destination holds the key attribute as a
// TEXT primary key plus the record as a JSON document. Batches run inside one
// transaction; a statement that fails is rolled back on its own by SQLite,
// so sibling items still commit.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lander/internal/records"
	"lander/internal/storage"

	_ "modernc.org/sqlite"
)

// DocColumn holds the JSON document.
const DocColumn = "doc"

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:lander.db?cache=shared"
	//   ":memory:"
	DSN string
}

// Repository is a SQLite-backed storage.Store.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens a SQLite connection using the provided DSN and returns
// a Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	closeFn := func() { db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// DescribeTable implements storage.Store.
func (r *Repository) DescribeTable(ctx context.Context, name string) (storage.TableInfo, error) {
	var key string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM pragma_table_info(?) WHERE pk = 1`, name).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TableInfo{}, fmt.Errorf("sqlite: describe %s: %w", name, storage.ErrTableNotFound)
	}
	if err != nil {
		return storage.TableInfo{}, fmt.Errorf("sqlite: describe %s: %w", name, err)
	}
	return storage.TableInfo{Name: name, KeyAttr: key, Ready: true}, nil
}

// CreateTable implements storage.Store.
func (r *Repository) CreateTable(ctx context.Context, name, keyAttr string) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE %s (%s TEXT PRIMARY KEY NOT NULL, %s TEXT NOT NULL)",
		quoteIdent(name), quoteIdent(keyAttr), quoteIdent(DocColumn),
	)
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("sqlite: create %s: %w", name, storage.ErrTableExists)
		}
		return fmt.Errorf("sqlite: create %s: %w", name, err)
	}
	return nil
}

// WaitUntilReady implements storage.Store. SQLite tables are usable as soon
// as CREATE TABLE returns.
func (r *Repository) WaitUntilReady(ctx context.Context, name string) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: wait for %s: %w", name, err)
	}
	return nil
}

// BatchPut implements storage.Store.
func (r *Repository) BatchPut(ctx context.Context, name, keyAttr string, items []records.Record) ([]error, error) {
	if len(items) == 0 {
		return nil, nil
	}

	stmtSQL := fmt.Sprintf(
		"INSERT INTO %s (%s, %s) VALUES (?, ?) ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s",
		quoteIdent(name), quoteIdent(keyAttr), quoteIdent(DocColumn),
		quoteIdent(keyAttr), quoteIdent(DocColumn), quoteIdent(DocColumn),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		if strings.Contains(err.Error(), "no such table") {
			return nil, fmt.Errorf("sqlite: prepare upsert into %s: %w: %w", name, storage.ErrTableNotFound, err)
		}
		return nil, fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	itemErrs := make([]error, len(items))
	failed := false
	for i, it := range items {
		doc, err := storage.EncodeDocument(it)
		if err == nil {
			_, err = stmt.ExecContext(ctx, storage.KeyString(it[keyAttr]), string(doc))
		}
		if err != nil {
			if ctx.Err() != nil {
				_ = tx.Rollback()
				return nil, fmt.Errorf("sqlite: upsert: %w", ctx.Err())
			}
			itemErrs[i] = fmt.Errorf("sqlite: upsert into %s: %w", name, err)
			failed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	if !failed {
		return nil, nil
	}
	return itemErrs, nil
}

// Get returns the stored document for key, decoded back into a record.
func (r *Repository) Get(ctx context.Context, name, keyAttr, key string) (records.Record, error) {
	var doc string
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", quoteIdent(DocColumn), quoteIdent(name), quoteIdent(keyAttr))
	if err := r.db.QueryRowContext(ctx, q, key).Scan(&doc); err != nil {
		return nil, fmt.Errorf("sqlite: get %s[%s]: %w", name, key, err)
	}
	return storage.DecodeDocument([]byte(doc))
}

// Count returns the number of items stored in name.
func (r *Repository) Count(ctx context.Context, name string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM "+quoteIdent(name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", name, err)
	}
	return n, nil
}

func quoteIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
