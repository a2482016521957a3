// Package sqlitestore implements storage.IndexedStore and storage.KVStore
// on top of github.com/jmoiron/sqlx and github.com/mattn/go-sqlite3,
// grounded on the single/multi-file SQLite indexed and keyvalue backends
// described in the original Rust implementation
// (storage/indexed/multi_sqlite.rs, storage/keyvalue/multi_sqlite.rs):
// one physical file, one table per concern, namespace+key as a composite
// index instead of sharding across files.
package sqlitestore

import (
	"context"
	"fmt"

	"github.com/golem-go/golem/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS indexed_entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	idx INTEGER NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (namespace, key, idx)
);
CREATE TABLE IF NOT EXISTS kv_entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE TABLE IF NOT EXISTS sorted_entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	member TEXT NOT NULL,
	score REAL NOT NULL,
	PRIMARY KEY (namespace, key, member)
);
`

// Store implements IndexedStore and KVStore over a single SQLite database.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) a SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, namespace, key string, value []byte) (uint64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var next uint64
	err = tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(idx), 0) + 1 FROM indexed_entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO indexed_entries (namespace, key, idx, value) VALUES (?, ?, ?, ?)`, namespace, key, next, value); err != nil {
		return 0, err
	}
	return next, tx.Commit()
}

func (s *Store) Read(ctx context.Context, namespace, key string, index uint64) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM indexed_entries WHERE namespace = ? AND key = ? AND idx = ?`, namespace, key, index)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return value, nil
}

func (s *Store) ReadRange(ctx context.Context, namespace, key string, from, to uint64) ([][]byte, error) {
	var values [][]byte
	rows, err := s.db.QueryxContext(ctx, `SELECT value FROM indexed_entries WHERE namespace = ? AND key = ? AND idx BETWEEN ? AND ? ORDER BY idx ASC`, namespace, key, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) Length(ctx context.Context, namespace, key string) (uint64, error) {
	var n uint64
	err := s.db.GetContext(ctx, &n, `SELECT COALESCE(MAX(idx), 0) FROM indexed_entries WHERE namespace = ? AND key = ?`, namespace, key)
	return n, err
}

func (s *Store) DeleteKey(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM indexed_entries WHERE namespace = ? AND key = ?`, namespace, key)
	return err
}

func (s *Store) Exists(ctx context.Context, namespace, key string) (bool, error) {
	n, err := s.Length(ctx, namespace, key)
	return n > 0, err
}

func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv_entries (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`, namespace, key, value)
	return err
}

func (s *Store) CompareAndSwap(ctx context.Context, namespace, key string, expected, value []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur []byte
	err = tx.GetContext(ctx, &cur, `SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil && len(expected) != 0 {
		return storage.ErrCASMismatch
	}
	if err == nil && string(cur) != string(expected) {
		return storage.ErrCASMismatch
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO kv_entries (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`, namespace, key, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE namespace = ? AND key = ?`, namespace, key)
	return err
}

func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `SELECT key FROM kv_entries WHERE namespace = ? ORDER BY key ASC`, namespace)
	return keys, err
}

func (s *Store) SortedSetAdd(ctx context.Context, namespace, key, member string, score float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sorted_entries (namespace, key, member, score) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key, member) DO UPDATE SET score = excluded.score`, namespace, key, member, score)
	return err
}

func (s *Store) SortedSetRemove(ctx context.Context, namespace, key, member string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sorted_entries WHERE namespace = ? AND key = ? AND member = ?`, namespace, key, member)
	return err
}

func (s *Store) SortedSetRange(ctx context.Context, namespace, key string, min, max float64) ([]string, error) {
	var members []string
	err := s.db.SelectContext(ctx, &members, `SELECT member FROM sorted_entries WHERE namespace = ? AND key = ? AND score BETWEEN ? AND ? ORDER BY score ASC`, namespace, key, min, max)
	return members, err
}

var (
	_ storage.IndexedStore = (*Store)(nil)
	_ storage.KVStore      = (*Store)(nil)
)
