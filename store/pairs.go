package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PairStore caches the selected pair set. One row, fixed TTL enforced by
// the caller; absence or expiry forces full recomputation.
type PairStore struct {
	db *sql.DB
}

func (s *PairStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pair_selection (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			pairs TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pair_selection table: %w", err)
	}
	return nil
}

// Save replaces the cached pair set.
func (s *PairStore) Save(pairs []string) error {
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to serialize pair list: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`
		INSERT INTO pair_selection (id, pairs, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET pairs = excluded.pairs, updated_at = excluded.updated_at
	`, string(data), now)
	if err != nil {
		return fmt.Errorf("failed to save pair selection: %w", err)
	}
	return nil
}

// Load returns the cached pairs and their timestamp. A nil slice means no
// cache exists yet.
func (s *PairStore) Load() ([]string, time.Time, error) {
	var raw string
	var updatedAt sql.NullString

	err := s.db.QueryRow(`SELECT pairs, updated_at FROM pair_selection WHERE id = 1`).
		Scan(&raw, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load pair selection: %w", err)
	}

	var pairs []string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse pair selection: %w", err)
	}

	var at time.Time
	if updatedAt.Valid {
		at, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return pairs, at, nil
}
