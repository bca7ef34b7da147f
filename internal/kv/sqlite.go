package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ Store = (*SQLite)(nil)

// SQLite stores entries in the kv table, scoped by store name.
type SQLite struct {
	db    *sql.DB
	store string
}

// NewSQLite wraps an open database (see db.Open). The store owns conn and
// closes it on Close.
func NewSQLite(conn *sql.DB, store string) *SQLite {
	return &SQLite{db: conn, store: store}
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE store = ? AND key = ?",
		s.store, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(store, key, value, updated_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(store, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.store, key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE store = ? AND key = ?", s.store, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE store = ?", s.store); err != nil {
		return fmt.Errorf("kv clear: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv WHERE store = ? ORDER BY key ASC", s.store)
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Drop(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv drop: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM kv"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("kv drop: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv drop: %w", err)
	}
	// Best effort.
	_, _ = s.db.ExecContext(ctx, "VACUUM")
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
