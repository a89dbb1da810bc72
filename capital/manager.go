// Package capital computes bounded, leverage-aware capital allocations
// across the spot and futures accounts.
package capital

import (
	"fmt"
	"sync"

	"gridbot/config"
	"gridbot/logger"
	"gridbot/trader"
)

// BalanceSnapshot is a point-in-time read of both accounts. Never cached
// across calls; every allocation decision re-reads it.
type BalanceSnapshot struct {
	Spot    float64 `json:"spot"`
	Futures float64 `json:"futures"`
	Total   float64 `json:"total"`
}

// Allocation assigns capital, market, leverage and grid shape to one symbol
// for one cycle. Recomputed once per orchestration cycle and read-only
// afterwards.
type Allocation struct {
	Symbol          string            `json:"symbol"`
	MarketType      trader.MarketType `json:"market_type"`
	AllocatedAmount float64           `json:"allocated_amount"`
	Leverage        int               `json:"leverage"`
	GridLevels      int               `json:"grid_levels"`
	SpacingPct      float64           `json:"spacing_pct"`
	MaxPositionSize float64           `json:"max_position_size"`
}

// Manager splits the shared capital budget across symbols.
type Manager struct {
	futures trader.Gateway
	spot    trader.Gateway
	cfg     *config.Config

	// capital committed by the current cycle's allocation pass, read by
	// CanTradeSymbol until the next pass replaces it
	mu        sync.Mutex
	committed map[trader.MarketType]float64
}

// NewManager creates a capital manager over both gateways.
func NewManager(futures, spot trader.Gateway, cfg *config.Config) *Manager {
	return &Manager{
		futures:   futures,
		spot:      spot,
		cfg:       cfg,
		committed: make(map[trader.MarketType]float64),
	}
}

// GetAvailableBalances issues a fresh query to both accounts. Failures
// propagate; stale data is never served as fresh.
func (m *Manager) GetAvailableBalances() (*BalanceSnapshot, error) {
	futBal, err := m.futures.GetBalance()
	if err != nil {
		return nil, fmt.Errorf("futures balance: %w", err)
	}
	spotBal, err := m.spot.GetBalance()
	if err != nil {
		return nil, fmt.Errorf("spot balance: %w", err)
	}

	return &BalanceSnapshot{
		Spot:    spotBal.Available,
		Futures: futBal.Available,
		Total:   spotBal.Available + futBal.Available,
	}, nil
}

// CalculateOptimalAllocations produces one immutable allocation per admitted
// symbol, iterating the requested symbols in order. Admission stops once the
// remaining buffered budget drops below MinCapitalPerPair; low-priority
// symbols are silently excluded rather than erroring.
//
// The sum of allocated amounts never exceeds total × SafetyBufferPct.
func (m *Manager) CalculateOptimalAllocations(symbols []string, marketHints map[string]trader.MarketType) ([]Allocation, error) {
	snap, err := m.GetAvailableBalances()
	if err != nil {
		return nil, err
	}

	remaining := map[trader.MarketType]float64{
		trader.MarketSpot:    snap.Spot * m.cfg.SafetyBufferPct,
		trader.MarketFutures: snap.Futures * m.cfg.SafetyBufferPct,
	}

	targetPairs := len(symbols)
	if targetPairs > m.cfg.MaxConcurrentPairs {
		targetPairs = m.cfg.MaxConcurrentPairs
	}
	if targetPairs == 0 {
		m.setCommitted(nil)
		return nil, nil
	}

	// even split across the target pair count, clamped to the per-symbol
	// floor and ceiling
	totalBudget := remaining[trader.MarketSpot] + remaining[trader.MarketFutures]
	perPair := totalBudget / float64(targetPairs)
	if maxPerPair := snap.Total * m.cfg.MaxAllocationPct; perPair > maxPerPair {
		perPair = maxPerPair
	}
	if perPair < m.cfg.MinCapitalPerPair {
		perPair = m.cfg.MinCapitalPerPair
	}

	var allocations []Allocation
	for _, symbol := range symbols {
		if len(allocations) >= m.cfg.MaxConcurrentPairs {
			break
		}

		market, ok := m.pickMarket(marketHints[symbol], remaining, allocations)
		if !ok {
			// admission control: neither account can fund another pair
			logger.Infof("💰 Allocation stopped at %d pairs, remaining budget below %.2f USDT",
				len(allocations), m.cfg.MinCapitalPerPair)
			break
		}

		amount := perPair
		if amount > remaining[market] {
			amount = remaining[market]
		}
		remaining[market] -= amount

		alloc := Allocation{
			Symbol:          symbol,
			MarketType:      market,
			AllocatedAmount: amount,
		}
		m.applyGridShape(&alloc)
		allocations = append(allocations, alloc)
	}

	m.setCommitted(allocations)

	logger.Infof("💰 Allocated %.2f USDT across %d pairs (total %.2f, buffer %.0f%%)",
		committedTotal(allocations), len(allocations), snap.Total, m.cfg.SafetyBufferPct*100)
	return allocations, nil
}

// pickMarket selects the target market for one symbol: the hinted market
// when it can fund the pair, otherwise the other one. Without a hint the
// configured spot share steers the split while both accounts are funded.
func (m *Manager) pickMarket(hint trader.MarketType, remaining map[trader.MarketType]float64, done []Allocation) (trader.MarketType, bool) {
	min := m.cfg.MinCapitalPerPair

	if hint == trader.MarketSpot || hint == trader.MarketFutures {
		if remaining[hint] >= min {
			return hint, true
		}
		other := otherMarket(hint)
		if remaining[other] >= min {
			return other, true
		}
		return "", false
	}

	preferred := trader.MarketFutures
	if remaining[trader.MarketSpot] >= min && remaining[trader.MarketFutures] >= min {
		spotShare := 0.0
		if total := committedTotal(done); total > 0 {
			spotShare = committedForMarket(done, trader.MarketSpot) / total
		}
		if spotShare < m.cfg.SpotAllocationPct {
			preferred = trader.MarketSpot
		}
	}

	if remaining[preferred] >= min {
		return preferred, true
	}
	if other := otherMarket(preferred); remaining[other] >= min {
		return other, true
	}
	return "", false
}

// applyGridShape derives the grid geometry from the allocation's buying
// power. More effective capital buys finer grids: more levels, tighter
// spacing. Spot uses coarser unleveraged tiers.
func (m *Manager) applyGridShape(alloc *Allocation) {
	baseLevels := m.cfg.GridLevels
	baseSpacing := m.cfg.GridSpacingPct

	if alloc.MarketType == trader.MarketFutures {
		alloc.Leverage = m.cfg.Leverage
		effective := alloc.AllocatedAmount * float64(alloc.Leverage)
		alloc.MaxPositionSize = effective

		switch {
		case effective < 50:
			alloc.GridLevels = baseLevels
			alloc.SpacingPct = baseSpacing * 0.5
		case effective < 200:
			alloc.GridLevels = baseLevels + 5
			alloc.SpacingPct = baseSpacing * 0.3
		default:
			alloc.GridLevels = minInt(25, baseLevels+10)
			alloc.SpacingPct = baseSpacing * 0.2
		}
		return
	}

	alloc.Leverage = 1
	alloc.MaxPositionSize = alloc.AllocatedAmount

	switch {
	case alloc.AllocatedAmount < 10:
		alloc.GridLevels = maxInt(2, baseLevels/2)
		alloc.SpacingPct = baseSpacing * 1.5
	case alloc.AllocatedAmount < 50:
		alloc.GridLevels = baseLevels
		alloc.SpacingPct = baseSpacing
	default:
		alloc.GridLevels = minInt(20, baseLevels+5)
		alloc.SpacingPct = baseSpacing * 0.8
	}
}

// CanTradeSymbol re-checks the live balance minus this cycle's committed
// allocations. Returns false (not an error) on insufficient funds; an error
// means the verification itself failed.
func (m *Manager) CanTradeSymbol(symbol string, requiredCapital float64, market trader.MarketType) (bool, error) {
	gw := m.futures
	if market == trader.MarketSpot {
		gw = m.spot
	}

	bal, err := gw.GetBalance()
	if err != nil {
		return false, fmt.Errorf("verify balance for %s: %w", symbol, err)
	}

	m.mu.Lock()
	committed := m.committed[market]
	m.mu.Unlock()

	free := bal.Available*m.cfg.SafetyBufferPct - committed
	if free < requiredCapital {
		logger.Debugf("💰 %s cannot trade on %s: free %.2f < required %.2f",
			symbol, market, free, requiredCapital)
		return false, nil
	}
	return true, nil
}

func (m *Manager) setCommitted(allocations []Allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = map[trader.MarketType]float64{
		trader.MarketSpot:    committedForMarket(allocations, trader.MarketSpot),
		trader.MarketFutures: committedForMarket(allocations, trader.MarketFutures),
	}
}

func committedTotal(allocations []Allocation) float64 {
	total := 0.0
	for _, a := range allocations {
		total += a.AllocatedAmount
	}
	return total
}

func committedForMarket(allocations []Allocation, market trader.MarketType) float64 {
	total := 0.0
	for _, a := range allocations {
		if a.MarketType == market {
			total += a.AllocatedAmount
		}
	}
	return total
}

func otherMarket(m trader.MarketType) trader.MarketType {
	if m == trader.MarketSpot {
		return trader.MarketFutures
	}
	return trader.MarketSpot
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
