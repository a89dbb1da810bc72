package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GridFill is one detected fill, logged for activity tracking and the
// status API.
type GridFill struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"` // BUY/SELL
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	RealizedPnL float64   `json:"realized_pnl"`
	OrderID     string    `json:"order_id"`
	FilledAt    time.Time `json:"filled_at"`
}

// FillStore logs grid fills.
type FillStore struct {
	db *sql.DB
}

func (s *FillStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS grid_fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			realized_pnl REAL DEFAULT 0,
			order_id TEXT DEFAULT '',
			filled_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create grid_fills table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_grid_fills_symbol ON grid_fills(symbol, filled_at DESC)`)
	if err != nil {
		return fmt.Errorf("failed to create grid_fills index: %w", err)
	}
	return nil
}

// Insert records one fill.
func (s *FillStore) Insert(fill *GridFill) error {
	if fill.FilledAt.IsZero() {
		fill.FilledAt = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO grid_fills (symbol, side, price, quantity, realized_pnl, order_id, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fill.Symbol, fill.Side, fill.Price, fill.Quantity, fill.RealizedPnL,
		fill.OrderID, fill.FilledAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert fill: %w", err)
	}
	fill.ID, _ = result.LastInsertId()
	return nil
}

// RecentBySymbol returns the latest fills for a symbol, newest first.
func (s *FillStore) RecentBySymbol(symbol string, limit int) ([]GridFill, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, side, price, quantity, realized_pnl, order_id, filled_at
		FROM grid_fills WHERE symbol = ?
		ORDER BY filled_at DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// LastFillTime returns the most recent fill time for a symbol. The zero
// time means the symbol has never filled.
func (s *FillStore) LastFillTime(symbol string) (time.Time, error) {
	var filledAt sql.NullString
	err := s.db.QueryRow(`
		SELECT filled_at FROM grid_fills WHERE symbol = ?
		ORDER BY filled_at DESC LIMIT 1
	`, symbol).Scan(&filledAt)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last fill: %w", err)
	}
	if !filledAt.Valid {
		return time.Time{}, nil
	}
	t, _ := time.Parse(time.RFC3339, filledAt.String)
	return t, nil
}

// TotalRealizedPnL sums realized PnL across all symbols.
func (s *FillStore) TotalRealizedPnL() (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(`SELECT SUM(realized_pnl) FROM grid_fills`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total.Float64, nil
}

func scanFills(rows *sql.Rows) ([]GridFill, error) {
	var fills []GridFill
	for rows.Next() {
		var f GridFill
		var filledAt sql.NullString
		if err := rows.Scan(&f.ID, &f.Symbol, &f.Side, &f.Price, &f.Quantity,
			&f.RealizedPnL, &f.OrderID, &filledAt); err != nil {
			return nil, err
		}
		if filledAt.Valid {
			f.FilledAt, _ = time.Parse(time.RFC3339, filledAt.String)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
