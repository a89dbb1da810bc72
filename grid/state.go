// Package grid implements the per-symbol grid state machine: level
// derivation, order placement, fill detection and crash recovery.
package grid

import (
	"encoding/json"
	"fmt"
	"time"

	"gridbot/store"
	"gridbot/trader"
)

// Level lifecycle. A level carries at most one resting order; a filled
// level flips to the opposite side at the adjacent price.
const (
	LevelEmpty   = "empty"
	LevelPending = "pending"
	LevelFilled  = "filled"
)

// Level is one rung of the ladder.
type Level struct {
	Price    float64 `json:"price"`
	Side     string  `json:"side"` // BUY/SELL
	State    string  `json:"state"`
	OrderID  string  `json:"order_id,omitempty"`
	ClientID string  `json:"client_id,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
}

// State is the persisted per-symbol grid. Owned exclusively by one
// engine; it is a cache of exchange truth, never the reverse.
type State struct {
	Symbol       string            `json:"symbol"`
	Market       trader.MarketType `json:"market"`
	Levels       []*Level          `json:"levels"`
	ActiveOrders map[string]string `json:"active_orders"` // price string -> order id
	RealizedPnL  float64           `json:"realized_pnl"`
	SpacingPct   float64           `json:"spacing_percentage"`
	LastUpdated  time.Time         `json:"last_updated"`
}

// normalize fills forward-compatible defaults after a load. Snapshots
// written by older versions may lack fields.
func (s *State) normalize() {
	if s.ActiveOrders == nil {
		s.ActiveOrders = make(map[string]string)
	}
	for _, lvl := range s.Levels {
		if lvl.State == "" {
			lvl.State = LevelEmpty
		}
	}
}

// levelByOrderID finds the level tracking the given order.
func (s *State) levelByOrderID(orderID string) *Level {
	for _, lvl := range s.Levels {
		if lvl.OrderID == orderID {
			return lvl
		}
	}
	return nil
}

// levelNearPrice matches a level by price within half a spacing step,
// used when adopting unknown exchange orders during recovery.
func (s *State) levelNearPrice(price float64) *Level {
	tolerance := price * s.SpacingPct / 100 / 4
	var best *Level
	bestDiff := tolerance
	for _, lvl := range s.Levels {
		diff := lvl.Price - price
		if diff < 0 {
			diff = -diff
		}
		if diff <= bestDiff {
			best = lvl
			bestDiff = diff
		}
	}
	return best
}

// pendingOrderIDs returns the set of order IDs the state believes are
// resting on the exchange.
func (s *State) pendingOrderIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, lvl := range s.Levels {
		if lvl.State == LevelPending && lvl.OrderID != "" {
			ids[lvl.OrderID] = true
		}
	}
	return ids
}

// loadState reads and decodes the persisted snapshot for a symbol.
// Returns nil when no snapshot exists.
func loadState(st *store.Store, symbol string) (*State, error) {
	rec, err := st.Grid().Load(symbol)
	if err != nil {
		return nil, fmt.Errorf("load grid state: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	var s State
	if err := json.Unmarshal([]byte(rec.Payload), &s); err != nil {
		return nil, fmt.Errorf("decode grid state for %s: %w", symbol, err)
	}
	s.normalize()
	return &s, nil
}

// saveState writes the snapshot. Called after every mutating step so a
// crash loses at most one transition, which reconciliation repairs.
func saveState(st *store.Store, s *State) error {
	s.LastUpdated = time.Now()
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode grid state for %s: %w", s.Symbol, err)
	}
	return st.Grid().Save(&store.GridStateRecord{
		Symbol:      s.Symbol,
		Payload:     string(payload),
		RealizedPnL: s.RealizedPnL,
		SpacingPct:  s.SpacingPct,
		UpdatedAt:   s.LastUpdated,
	})
}
