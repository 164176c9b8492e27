package store

// Schema is applied on every Open. All statements are idempotent.
const Schema = `
-- Coordinates reserved by the sampler (resumability anchor)
CREATE TABLE IF NOT EXISTS visited (
    coord_key   TEXT PRIMARY KEY,
    sampled_at  INTEGER NOT NULL
) WITHOUT ROWID;

-- Accepted discoveries, at most one per coordinate
CREATE TABLE IF NOT EXISTS discoveries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    coord_key    TEXT NOT NULL UNIQUE,
    hex_name     TEXT NOT NULL,
    wall         TEXT NOT NULL,
    shelf        INTEGER NOT NULL,
    volume       INTEGER NOT NULL,
    page         INTEGER NOT NULL,
    score        REAL NOT NULL,
    top_prompt   TEXT NOT NULL DEFAULT '',
    stages_json  TEXT NOT NULL DEFAULT '[]',
    image_path   TEXT NOT NULL,
    image_format TEXT NOT NULL DEFAULT '',
    run_id       TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_discoveries_score ON discoveries(score DESC);

-- One row per run, overwritten on every flush
CREATE TABLE IF NOT EXISTS run_stats (
    run_id                TEXT PRIMARY KEY,
    started_at            INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL,
    sampled               INTEGER NOT NULL DEFAULT 0,
    noise_rejected        INTEGER NOT NULL DEFAULT 0,
    semantic_rejected     INTEGER NOT NULL DEFAULT 0,
    significance_rejected INTEGER NOT NULL DEFAULT 0,
    discoveries           INTEGER NOT NULL DEFAULT 0,
    duplicates            INTEGER NOT NULL DEFAULT 0,
    errors                INTEGER NOT NULL DEFAULT 0,
    alerts_sent           INTEGER NOT NULL DEFAULT 0
);

-- Sampler cursor per mode
CREATE TABLE IF NOT EXISTS sampler_state (
    mode        TEXT PRIMARY KEY,
    seed        INTEGER NOT NULL DEFAULT 0,
    position    INTEGER NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL
);
`
