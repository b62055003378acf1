package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresStore persists key-value pairs in a Postgres table for shared
// multi-node deployments.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects with the given DSN and migrates the kv table.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing handle and migrates the kv table.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BYTEA NOT NULL
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
	INSERT INTO kv (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *PostgresStore) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key)
	return err
}

// Close releases the underlying handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
