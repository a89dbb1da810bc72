package grid

import (
	"fmt"

	"gridbot/logger"
	"gridbot/trader"
)

// Recover reloads the persisted snapshot and reconciles it against the
// exchange's live open orders. The exchange is authoritative: orders it
// knows and we don't are adopted, orders we track that it no longer has
// are treated as filled and their levels flipped. Re-running against the
// same snapshot pair yields the same state.
func (e *Engine) Recover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loaded, err := loadState(e.st, e.symbol)
	if err != nil {
		// a corrupt snapshot is a reconciliation conflict; drop it and
		// rebuild from exchange truth on the next cycle
		logger.Errorf("❌ %s: %v (%v), discarding local state", e.symbol, err, trader.ErrReconciliationConflict)
		e.state = nil
		return nil
	}
	if loaded == nil {
		return nil
	}
	e.state = loaded

	open, err := e.gateway.GetOpenOrders(e.symbol)
	if err != nil {
		return fmt.Errorf("recover %s: %w", e.symbol, err)
	}
	live := make(map[string]bool, len(open))
	for _, o := range open {
		live[o.OrderID] = true
	}

	changed := false

	// orders we track that the exchange no longer has were filled or
	// cancelled while we were down; either way the level transitions
	for _, lvl := range e.state.Levels {
		if lvl.State != LevelPending || lvl.OrderID == "" || live[lvl.OrderID] {
			continue
		}
		logger.Warnf("🔄 %s: order %s at %.4f missing on exchange, marking level filled",
			e.symbol, lvl.OrderID, lvl.Price)
		e.markFilled(lvl)
		changed = true
	}

	// orders the exchange has that we don't track are adopted as-is
	for _, o := range open {
		if e.state.levelByOrderID(o.OrderID) != nil {
			continue
		}
		lvl := e.state.levelNearPrice(o.Price)
		if lvl != nil && lvl.State != LevelPending {
			lvl.Side = o.Side
			lvl.State = LevelPending
			lvl.OrderID = o.OrderID
			lvl.ClientID = o.ClientID
			lvl.Quantity = o.Quantity
		} else {
			e.state.Levels = append(e.state.Levels, &Level{
				Price:    o.Price,
				Side:     o.Side,
				State:    LevelPending,
				OrderID:  o.OrderID,
				ClientID: o.ClientID,
				Quantity: o.Quantity,
			})
		}
		e.state.ActiveOrders[priceKey(o.Price)] = o.OrderID
		logger.Warnf("🔄 %s: adopted unknown exchange order %s at %.4f", e.symbol, o.OrderID, o.Price)
		changed = true
	}

	if changed {
		return e.persist()
	}
	logger.Infof("✅ %s: recovered grid state, %d levels, realized pnl %.4f",
		e.symbol, len(e.state.Levels), e.state.RealizedPnL)
	return nil
}
