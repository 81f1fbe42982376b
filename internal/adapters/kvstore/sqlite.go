// Package kvstore provides the durable key-value stores behind the
// persistence actor.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/vrabczak/BuildingRadar/internal/domain"
	"github.com/vrabczak/BuildingRadar/internal/ports/output"
)

const sqliteDriver = "sqlite3_buildingradar"

// Register the sqlite3 driver with the pragmas the store relies on.
func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			} {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return nil
		},
	})
}

// SQLite implements output.KVStore on a single SQLite table.
type SQLite struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLite creates a store backed by the database file at path. Use
// ":memory:" for a private in-memory database.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

// Init opens the database and creates the table.
func (s *SQLite) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriver, s.path)
	if err != nil {
		return err
	}
	// The actor is the only writer; one connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	const schema = `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLite) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, domain.ErrStorageUnavailable
	}
	return s.db, nil
}

// Get implements output.KVStore.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var value []byte
	err = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Keys implements output.KVStore.
func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	// substr avoids LIKE wildcards in the prefix.
	rows, err := db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Update implements output.KVStore.
func (s *SQLite) Update(ctx context.Context, fn func(tx output.KVTx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close implements output.KVStore.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) Put(key string, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (t *sqliteTx) Delete(key string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

var _ output.KVStore = (*SQLite)(nil)
