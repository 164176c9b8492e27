package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Discovery is one row of the discoveries table. StagesJSON carries the
// serialized cascade results and is opaque to the store.
type Discovery struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Hex         string    `json:"hex"`
	Wall        string    `json:"wall"`
	Shelf       int       `json:"shelf"`
	Volume      int       `json:"volume"`
	Page        int       `json:"page"`
	Score       float64   `json:"score"`
	TopPrompt   string    `json:"top_prompt"`
	StagesJSON  string    `json:"stages_json"`
	ImagePath   string    `json:"image_path"`
	ImageFormat string    `json:"image_format"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
}

const discoveryColumns = `id, coord_key, hex_name, wall, shelf, volume, page, score,
	top_prompt, stages_json, image_path, image_format, run_id, created_at`

// DiscoveryExists reports whether a discovery is indexed under key.
func (s *Store) DiscoveryExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM discoveries WHERE coord_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: discovery exists: %w", err)
	}
	return true, nil
}

// InsertDiscovery indexes d. It returns false without error when a row
// for the same key already exists.
func (s *Store) InsertDiscovery(ctx context.Context, d Discovery) (bool, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.StagesJSON == "" {
		d.StagesJSON = "[]"
	}
	res, err := s.exec(ctx, `
		INSERT INTO discoveries (coord_key, hex_name, wall, shelf, volume, page, score,
			top_prompt, stages_json, image_path, image_format, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(coord_key) DO NOTHING`,
		d.Key, d.Hex, d.Wall, d.Shelf, d.Volume, d.Page, d.Score,
		d.TopPrompt, d.StagesJSON, d.ImagePath, d.ImageFormat, d.RunID, toMillis(d.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("store: insert discovery %s: %w", d.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n == 1, nil
}

// GetDiscovery returns the discovery indexed under key or ErrNotFound.
func (s *Store) GetDiscovery(ctx context.Context, key string) (*Discovery, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+discoveryColumns+` FROM discoveries WHERE coord_key = ?`, key)
	d, err := scanDiscovery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get discovery: %w", err)
	}
	return d, nil
}

// ListDiscoveries returns up to limit discoveries, best score first.
// A non-positive limit returns all of them.
func (s *Store) ListDiscoveries(ctx context.Context, limit int) ([]Discovery, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+discoveryColumns+` FROM discoveries ORDER BY score DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list discoveries: %w", err)
	}
	defer rows.Close()

	var out []Discovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan discovery: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// CountDiscoveries returns the number of indexed discoveries.
func (s *Store) CountDiscoveries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM discoveries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count discoveries: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDiscovery(sc scanner) (*Discovery, error) {
	var d Discovery
	var created int64
	err := sc.Scan(&d.ID, &d.Key, &d.Hex, &d.Wall, &d.Shelf, &d.Volume, &d.Page, &d.Score,
		&d.TopPrompt, &d.StagesJSON, &d.ImagePath, &d.ImageFormat, &d.RunID, &created)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = fromMillis(created)
	return &d, nil
}
