package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ironsheep/babelia-scout/internal/stats"
)

// SaveRunStats upserts the snapshot under its run id.
func (s *Store) SaveRunStats(ctx context.Context, snap stats.Snapshot) error {
	updated := snap.TakenAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO run_stats (run_id, started_at, updated_at, sampled, noise_rejected,
			semantic_rejected, significance_rejected, discoveries, duplicates, errors, alerts_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			sampled = excluded.sampled,
			noise_rejected = excluded.noise_rejected,
			semantic_rejected = excluded.semantic_rejected,
			significance_rejected = excluded.significance_rejected,
			discoveries = excluded.discoveries,
			duplicates = excluded.duplicates,
			errors = excluded.errors,
			alerts_sent = excluded.alerts_sent`,
		snap.RunID, toMillis(snap.StartedAt), toMillis(updated), snap.Sampled, snap.NoiseRejected,
		snap.SemanticRejected, snap.SignificanceRejected, snap.Discoveries, snap.Duplicates,
		snap.Errors, snap.AlertsSent)
	if err != nil {
		return fmt.Errorf("store: save run stats: %w", err)
	}
	return nil
}

// LatestRunStats returns the most recently updated run or ErrNotFound.
func (s *Store) LatestRunStats(ctx context.Context) (stats.Snapshot, error) {
	var snap stats.Snapshot
	var started, updated int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT run_id, started_at, updated_at, sampled, noise_rejected, semantic_rejected,
			significance_rejected, discoveries, duplicates, errors, alerts_sent
		FROM run_stats ORDER BY updated_at DESC LIMIT 1`).Scan(
		&snap.RunID, &started, &updated, &snap.Sampled, &snap.NoiseRejected, &snap.SemanticRejected,
		&snap.SignificanceRejected, &snap.Discoveries, &snap.Duplicates, &snap.Errors, &snap.AlertsSent)
	if errors.Is(err, sql.ErrNoRows) {
		return stats.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("store: latest run stats: %w", err)
	}
	snap.StartedAt = fromMillis(started)
	snap.TakenAt = fromMillis(updated)
	return snap, nil
}

// SamplerState is the persisted cursor of one sampling mode. Position is
// the next sequential index, or the number of draws taken from a seeded
// random stream.
type SamplerState struct {
	Mode     string
	Seed     uint64
	Position uint64
}

// SaveSamplerState upserts the cursor for st.Mode.
func (s *Store) SaveSamplerState(ctx context.Context, st SamplerState) error {
	_, err := s.exec(ctx, `
		INSERT INTO sampler_state (mode, seed, position, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(mode) DO UPDATE SET
			seed = excluded.seed,
			position = excluded.position,
			updated_at = excluded.updated_at`,
		st.Mode, int64(st.Seed), int64(st.Position), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save sampler state: %w", err)
	}
	return nil
}

// LoadSamplerState returns the cursor for mode. ok is false when none was
// saved.
func (s *Store) LoadSamplerState(ctx context.Context, mode string) (st SamplerState, ok bool, err error) {
	var seed, pos int64
	err = s.DB.QueryRowContext(ctx,
		`SELECT seed, position FROM sampler_state WHERE mode = ?`, mode).Scan(&seed, &pos)
	if errors.Is(err, sql.ErrNoRows) {
		return SamplerState{Mode: mode}, false, nil
	}
	if err != nil {
		return SamplerState{}, false, fmt.Errorf("store: load sampler state: %w", err)
	}
	return SamplerState{Mode: mode, Seed: uint64(seed), Position: uint64(pos)}, true, nil
}
