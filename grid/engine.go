package grid

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridbot/capital"
	"gridbot/config"
	"gridbot/logger"
	"gridbot/metrics"
	"gridbot/pairs"
	"gridbot/store"
	"gridbot/trader"
)

const maxPlaceRetries = 3

// PriceSource serves streamed prices. The engine prefers it over a REST
// round trip and falls back when no fresh entry exists for the symbol.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// Engine runs the grid state machine for one symbol. Each engine owns
// its GridState exclusively; the orchestrator drives RunCycle on a fixed
// interval from a dedicated goroutine.
type Engine struct {
	symbol  string
	gateway trader.Gateway
	st      *store.Store
	alloc   capital.Allocation
	tracker *pairs.ActivityTracker
	prices  PriceSource

	profitTakePct   float64
	perLevelAmount  float64 // quote notional per level, leverage applied
	leverageApplied bool

	mu      sync.Mutex
	state   *State
	filters *trader.SymbolFilters
}

// Snapshot is a read-only view of an engine's state for the status API.
type Snapshot struct {
	Symbol        string            `json:"symbol"`
	Market        trader.MarketType `json:"market"`
	RealizedPnL   float64           `json:"realized_pnl"`
	SpacingPct    float64           `json:"spacing_pct"`
	PendingOrders int               `json:"pending_orders"`
	Levels        int               `json:"levels"`
	LastUpdated   time.Time         `json:"last_updated"`
}

// NewEngine builds an engine from one cycle's allocation. The allocation
// is immutable; a changed budget next cycle means a new engine.
func NewEngine(gateway trader.Gateway, st *store.Store, alloc capital.Allocation, cfg *config.Config, tracker *pairs.ActivityTracker) *Engine {
	effective := alloc.AllocatedAmount
	if alloc.MarketType == trader.MarketFutures && alloc.Leverage > 1 {
		effective *= float64(alloc.Leverage)
	}
	levels := alloc.GridLevels
	if levels < 2 {
		levels = 2
	}
	return &Engine{
		symbol:         alloc.Symbol,
		gateway:        gateway,
		st:             st,
		alloc:          alloc,
		tracker:        tracker,
		profitTakePct:  cfg.ProfitTakePct,
		perLevelAmount: effective / float64(levels),
	}
}

func (e *Engine) Symbol() string { return e.symbol }

// SetPriceSource attaches a streamed price feed. Call before the first
// RunCycle; a nil source keeps the engine on REST pricing.
func (e *Engine) SetPriceSource(ps PriceSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices = ps
}

func (e *Engine) currentPrice() (float64, error) {
	if e.prices != nil {
		if p, ok := e.prices.Get(e.symbol); ok {
			return p, nil
		}
	}
	return e.gateway.GetMarketPrice(e.symbol)
}

// RunCycle executes one full grid pass: price, fill detection, order
// placement, opportunistic take-profit. Errors are returned for logging
// but never fatal; the next tick retries from scratch.
func (e *Engine) RunCycle() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, err := e.currentPrice()
	if err != nil {
		return fmt.Errorf("get price for %s: %w", e.symbol, err)
	}
	if err := e.ensureFilters(); err != nil {
		return err
	}

	if e.state == nil || len(e.state.Levels) == 0 {
		if err := e.initializeGrid(price); err != nil {
			return err
		}
	}

	if err := e.syncFills(); err != nil {
		return fmt.Errorf("sync fills for %s: %w", e.symbol, err)
	}

	e.placeMissingOrders()

	if err := e.maybeTakeProfit(price); err != nil {
		logger.Warnf("⚠️ Take-profit check failed for %s: %v", e.symbol, err)
	}

	metrics.CyclesTotal.WithLabelValues(e.symbol).Inc()
	return nil
}

func (e *Engine) ensureFilters() error {
	if e.filters != nil {
		return nil
	}
	f, err := e.gateway.GetSymbolFilters(e.symbol)
	if err != nil {
		return fmt.Errorf("get filters for %s: %w", e.symbol, err)
	}
	e.filters = f
	return nil
}

// initializeGrid derives fresh levels around the current price and, on
// futures, applies the allocated leverage.
func (e *Engine) initializeGrid(price float64) error {
	if e.alloc.MarketType == trader.MarketFutures && !e.leverageApplied {
		if err := e.gateway.SetLeverage(e.symbol, e.alloc.Leverage); err != nil {
			return fmt.Errorf("set leverage for %s: %w", e.symbol, err)
		}
		e.leverageApplied = true
	}

	e.state = &State{
		Symbol:       e.symbol,
		Market:       e.alloc.MarketType,
		Levels:       buildLevels(price, e.alloc.SpacingPct, e.alloc.GridLevels),
		ActiveOrders: make(map[string]string),
		SpacingPct:   e.alloc.SpacingPct,
	}
	logger.Infof("📊 %s: grid initialized with %d levels around %.4f (spacing %.2f%%)",
		e.symbol, len(e.state.Levels), price, e.alloc.SpacingPct)
	return e.persist()
}

// syncFills diffs tracked orders against the exchange's open orders. An
// order that vanished without a local cancel is a fill; its level
// realizes PnL and flips to the opposite side at the adjacent price.
func (e *Engine) syncFills() error {
	tracked := e.state.pendingOrderIDs()
	if len(tracked) == 0 {
		return nil
	}

	open, err := e.gateway.GetOpenOrders(e.symbol)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(open))
	for _, o := range open {
		live[o.OrderID] = true
	}

	changed := false
	for _, lvl := range e.state.Levels {
		if lvl.State != LevelPending || lvl.OrderID == "" || live[lvl.OrderID] {
			continue
		}
		e.markFilled(lvl)
		changed = true
	}
	if changed {
		return e.persist()
	}
	return nil
}

// markFilled realizes a level's fill and flips it. Sell fills realize the
// half-step spread against the adjacent lower level; buy fills realize
// when their paired sell completes.
func (e *Engine) markFilled(lvl *Level) {
	var pnl float64
	if lvl.Side == "SELL" {
		lower := adjacentPrice(lvl.Price, e.state.SpacingPct, false)
		pnl = (lvl.Price - lower) * lvl.Quantity
		e.state.RealizedPnL += pnl
		metrics.RealizedPnL.WithLabelValues(e.symbol).Add(pnl)
	}

	logger.Infof("✅ %s: %s fill detected at %.4f qty %.6f (pnl %+.4f)",
		e.symbol, lvl.Side, lvl.Price, lvl.Quantity, pnl)
	metrics.FillsTotal.WithLabelValues(e.symbol, lvl.Side).Inc()
	if e.tracker != nil {
		e.tracker.RecordFill(e.symbol)
	}

	if err := e.st.Fills().Insert(&store.GridFill{
		Symbol:      e.symbol,
		Side:        lvl.Side,
		Price:       lvl.Price,
		Quantity:    lvl.Quantity,
		RealizedPnL: pnl,
		OrderID:     lvl.OrderID,
		FilledAt:    time.Now(),
	}); err != nil {
		logger.Warnf("⚠️ Failed to record fill for %s: %v", e.symbol, err)
	}

	delete(e.state.ActiveOrders, priceKey(lvl.Price))

	filledBuy := lvl.Side == "BUY"
	lvl.Price = adjacentPrice(lvl.Price, e.state.SpacingPct, filledBuy)
	if filledBuy {
		lvl.Side = "SELL"
	} else {
		lvl.Side = "BUY"
	}
	lvl.State = LevelEmpty
	lvl.OrderID = ""
	lvl.ClientID = ""
	lvl.Quantity = 0
}

// placeMissingOrders submits one limit order per empty level. Failures
// skip the level for this cycle only.
func (e *Engine) placeMissingOrders() {
	placed := false
	for _, lvl := range e.state.Levels {
		if lvl.State != LevelEmpty {
			continue
		}
		if err := e.placeLevelOrder(lvl); err != nil {
			logger.Warnf("⚠️ %s: level %.4f skipped this cycle: %v", e.symbol, lvl.Price, err)
			continue
		}
		if lvl.State == LevelPending {
			placed = true
		}
	}
	if placed {
		if err := e.persist(); err != nil {
			logger.Errorf("❌ Failed to persist grid state for %s: %v", e.symbol, err)
		}
	}
}

// placeLevelOrder rounds, validates and submits one order with bounded
// backoff. A clock-skew error forces one time resync and a single retry.
func (e *Engine) placeLevelOrder(lvl *Level) error {
	priceStr := e.filters.RoundPrice(lvl.Price)
	qtyStr := e.filters.RoundQuantity(e.perLevelAmount / lvl.Price)
	if err := e.filters.Validate(priceStr, qtyStr); err != nil {
		metrics.OrdersRejected.WithLabelValues(e.symbol).Inc()
		return fmt.Errorf("rejected locally: %w", err)
	}

	price, _ := strconv.ParseFloat(priceStr, 64)
	qty, _ := strconv.ParseFloat(qtyStr, 64)
	req := &trader.LimitOrderRequest{
		Symbol:   e.symbol,
		Side:     lvl.Side,
		Price:    price,
		Quantity: qty,
		PostOnly: true,
		ClientID: "grid-" + uuid.NewString()[:8],
	}

	resynced := false
	for retry := 0; retry < maxPlaceRetries; retry++ {
		res, err := e.gateway.PlaceLimitOrder(req)
		if err == nil {
			lvl.State = LevelPending
			lvl.OrderID = res.OrderID
			lvl.ClientID = req.ClientID
			lvl.Quantity = qty
			e.state.ActiveOrders[priceKey(lvl.Price)] = res.OrderID
			metrics.OrdersPlaced.WithLabelValues(e.symbol, lvl.Side).Inc()
			logger.Infof("📝 %s: placed %s %.6f @ %s (order %s)", e.symbol, lvl.Side, qty, priceStr, res.OrderID)
			return nil
		}

		if trader.IsClockSkew(err) && !resynced {
			logger.Warnf("⏰ %s: clock skew on order placement, resyncing time", e.symbol)
			if syncErr := e.gateway.SyncTime(); syncErr != nil {
				return fmt.Errorf("time resync failed: %w", syncErr)
			}
			resynced = true
			continue
		}
		if trader.IsAuthError(err) {
			return err
		}
		if !trader.IsRetryable(err) {
			return err
		}
		backoff := trader.CalculateBackoff(retry)
		logger.Warnf("⚠️ %s: order placement attempt %d failed, backing off %s: %v",
			e.symbol, retry+1, backoff, err)
		time.Sleep(backoff)
	}
	return fmt.Errorf("placement retries exhausted")
}

// maybeTakeProfit places one extra reduce-only order closing the whole
// position when unrealized profit exceeds the configured threshold.
// Independent of the regular grid levels.
func (e *Engine) maybeTakeProfit(price float64) error {
	if e.alloc.MarketType != trader.MarketFutures {
		return nil
	}

	positions, err := e.gateway.GetPositions()
	if err != nil {
		return err
	}
	var pos *trader.Position
	for i := range positions {
		if positions[i].Symbol == e.symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil || pos.Quantity == 0 {
		return nil
	}

	threshold := e.alloc.AllocatedAmount * e.profitTakePct / 100
	if pos.UnrealizedPnL < threshold {
		return nil
	}

	// only one opportunistic take-profit at a time
	open, err := e.gateway.GetOpenOrders(e.symbol)
	if err != nil {
		return err
	}
	for _, o := range open {
		if len(o.ClientID) >= 3 && o.ClientID[:3] == "tp-" {
			return nil
		}
	}

	side := "SELL"
	if pos.Side == "SHORT" {
		side = "BUY"
	}
	priceStr := e.filters.RoundPrice(price)
	qtyStr := e.filters.RoundQuantity(pos.Quantity)
	if err := e.filters.Validate(priceStr, qtyStr); err != nil {
		return fmt.Errorf("take-profit rejected locally: %w", err)
	}
	tpPrice, _ := strconv.ParseFloat(priceStr, 64)
	tpQty, _ := strconv.ParseFloat(qtyStr, 64)

	_, err = e.gateway.PlaceLimitOrder(&trader.LimitOrderRequest{
		Symbol:     e.symbol,
		Side:       side,
		Price:      tpPrice,
		Quantity:   tpQty,
		ReduceOnly: true,
		ClientID:   "tp-" + uuid.NewString()[:8],
	})
	if err != nil {
		return err
	}
	logger.Infof("💵 %s: unrealized pnl %.4f over threshold %.4f, reduce-only close submitted",
		e.symbol, pos.UnrealizedPnL, threshold)
	return nil
}

// Shutdown stops the engine. With cancelOrders set, all resting grid
// orders are cancelled and their levels reset; the persisted snapshot
// stays so the symbol can resume later.
func (e *Engine) Shutdown(cancelOrders bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil || !cancelOrders {
		return nil
	}

	if err := e.gateway.CancelAllOrders(e.symbol); err != nil {
		return fmt.Errorf("cancel orders for %s: %w", e.symbol, err)
	}
	for _, lvl := range e.state.Levels {
		if lvl.State == LevelPending {
			lvl.State = LevelEmpty
			lvl.OrderID = ""
			lvl.ClientID = ""
		}
	}
	e.state.ActiveOrders = make(map[string]string)
	logger.Infof("🛑 %s: grid orders cancelled for shutdown", e.symbol)
	return e.persist()
}

// Snapshot returns a copy of the engine's current state for reporting.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Symbol: e.symbol,
		Market: e.alloc.MarketType,
	}
	if e.state != nil {
		snap.RealizedPnL = e.state.RealizedPnL
		snap.SpacingPct = e.state.SpacingPct
		snap.Levels = len(e.state.Levels)
		snap.LastUpdated = e.state.LastUpdated
		for _, lvl := range e.state.Levels {
			if lvl.State == LevelPending {
				snap.PendingOrders++
			}
		}
	}
	return snap
}

func (e *Engine) persist() error {
	return saveState(e.st, e.state)
}

func priceKey(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
