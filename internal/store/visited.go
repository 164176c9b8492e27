package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddVisited persists keys in one transaction. Keys already present are
// ignored.
func (s *Store) AddVisited(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.RunTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO visited (coord_key, sampled_at) VALUES (?, ?) ON CONFLICT(coord_key) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("store: prepare visited: %w", err)
		}
		defer stmt.Close()
		for _, k := range keys {
			if _, err := stmt.ExecContext(ctx, k, now); err != nil {
				return fmt.Errorf("store: insert visited %s: %w", k, err)
			}
		}
		return nil
	})
}

// LoadVisited streams every persisted key to fn.
func (s *Store) LoadVisited(ctx context.Context, fn func(key string)) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT coord_key FROM visited`)
	if err != nil {
		return fmt.Errorf("store: load visited: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return fmt.Errorf("store: scan visited: %w", err)
		}
		fn(k)
	}
	return rows.Err()
}

// HasVisited reports whether key was persisted.
func (s *Store) HasVisited(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM visited WHERE coord_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has visited: %w", err)
	}
	return true, nil
}

// CountVisited returns the number of persisted keys.
func (s *Store) CountVisited(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM visited`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count visited: %w", err)
	}
	return n, nil
}
