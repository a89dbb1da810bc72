package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GridStateRecord is one persisted grid state row. The payload is the grid
// package's JSON snapshot; keeping it opaque here avoids an import cycle
// between store and grid, and lets a newer engine read rows written by an
// older one (unknown fields are simply absent after unmarshal).
type GridStateRecord struct {
	Symbol      string    `json:"symbol"`
	Payload     string    `json:"payload"`
	RealizedPnL float64   `json:"realized_pnl"`
	SpacingPct  float64   `json:"spacing_pct"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GridStore persists per-symbol grid states.
type GridStore struct {
	db *sql.DB
}

func (s *GridStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS grid_states (
			symbol TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			realized_pnl REAL DEFAULT 0,
			spacing_pct REAL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create grid_states table: %w", err)
	}
	return nil
}

// Save upserts one grid state. Called after every mutating step, so the
// write is a single atomic statement.
func (s *GridStore) Save(rec *GridStateRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO grid_states (symbol, payload, realized_pnl, spacing_pct, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			payload = excluded.payload,
			realized_pnl = excluded.realized_pnl,
			spacing_pct = excluded.spacing_pct,
			updated_at = excluded.updated_at
	`, rec.Symbol, rec.Payload, rec.RealizedPnL, rec.SpacingPct, now)
	if err != nil {
		return fmt.Errorf("failed to save grid state for %s: %w", rec.Symbol, err)
	}
	return nil
}

// Load returns the persisted state for a symbol, or nil when none exists.
func (s *GridStore) Load(symbol string) (*GridStateRecord, error) {
	var rec GridStateRecord
	var updatedAt sql.NullString

	err := s.db.QueryRow(`
		SELECT symbol, payload, realized_pnl, spacing_pct, updated_at
		FROM grid_states WHERE symbol = ?
	`, symbol).Scan(&rec.Symbol, &rec.Payload, &rec.RealizedPnL, &rec.SpacingPct, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load grid state for %s: %w", symbol, err)
	}

	if updatedAt.Valid {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return &rec, nil
}

// Delete removes a symbol's state after its orders are confirmed cancelled
// and the position flat.
func (s *GridStore) Delete(symbol string) error {
	_, err := s.db.Exec(`DELETE FROM grid_states WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete grid state for %s: %w", symbol, err)
	}
	return nil
}

// ListSymbols returns every symbol with a persisted state.
func (s *GridStore) ListSymbols() ([]string, error) {
	rows, err := s.db.Query(`SELECT symbol FROM grid_states ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list grid states: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}
