// Package pairs decides which symbols are actively traded each cycle and
// flags rotation candidates.
package pairs

import (
	"fmt"
	"time"

	"gridbot/config"
	"gridbot/logger"
	"gridbot/store"
	"gridbot/trader"
)

// Selector maintains the active pair set. The result is cached with a
// fixed TTL to bound the cost of the discovery path.
type Selector struct {
	futures trader.Gateway
	spot    trader.Gateway
	st      *store.Store
	feed    *CandidateFeed
	cfg     *config.Config
}

// ProblemPair is one flagged symbol from the quality pass.
type ProblemPair struct {
	Symbol string  `json:"symbol"`
	Reason string  `json:"reason"`
	ATRPct float64 `json:"atr_pct"`
}

// RotationReport is advisory only. It is exposed on the status API; the
// engine never acts on it by itself.
type RotationReport struct {
	Problematic []ProblemPair     `json:"problematic"`
	Suggestions map[string]string `json:"suggestions"` // problem symbol -> replacement
	GeneratedAt time.Time         `json:"generated_at"`
}

// NewSelector creates a pair selector over both gateways.
func NewSelector(futures, spot trader.Gateway, st *store.Store, cfg *config.Config) *Selector {
	return &Selector{
		futures: futures,
		spot:    spot,
		st:      st,
		feed:    NewCandidateFeed(cfg.CandidateFeedURL),
		cfg:     cfg,
	}
}

// SelectedPairs returns the ordered active symbol set: every symbol with
// live exposure first, then the preferred list, then discovered candidates,
// cut at MaxConcurrentPairs. Symbols with an open position or order are
// never cut, regardless of preferences or capital; dropping them would
// orphan live exposure.
//
// forceUpdate bypasses the cache unconditionally.
func (s *Selector) SelectedPairs(forceUpdate bool) ([]string, error) {
	mustTrade, err := s.mustTradeSymbols()
	if err != nil {
		return nil, err
	}

	if !forceUpdate {
		cached, cachedAt, err := s.st.Pairs().Load()
		if err != nil {
			logger.Warnf("⚠️ Failed to load pair cache: %v", err)
		} else if cached != nil && time.Since(cachedAt) < s.cfg.PairCacheTTL {
			// must-trade symbols may have appeared since the cache was
			// written; union them in even on the cached path
			return mergePairs(mustTrade, cached, len(mustTrade)+len(cached)), nil
		}
	}

	selected := s.recompute(mustTrade)

	if err := s.st.Pairs().Save(selected); err != nil {
		logger.Warnf("⚠️ Failed to save pair cache: %v", err)
	}
	logger.Infof("🔍 Selected %d pairs: %v", len(selected), selected)
	return selected, nil
}

func (s *Selector) recompute(mustTrade []string) []string {
	max := s.cfg.MaxConcurrentPairs

	selected := mergePairs(mustTrade, s.cfg.PreferredPairs, max)
	if len(selected) >= max && len(selected) >= len(mustTrade) {
		return selected
	}

	// supplement with discovered candidates inside the volatility band
	seen := toSet(selected)
	for _, c := range s.feed.Fetch() {
		if len(selected) >= max {
			break
		}
		if seen[c.Symbol] {
			continue
		}
		atr, err := s.symbolATR(c.Symbol)
		if err != nil {
			logger.Debugf("🔍 Skipping candidate %s: %v", c.Symbol, err)
			continue
		}
		if atr < s.cfg.ATRMinPct || atr > s.cfg.ATRMaxPct {
			continue
		}
		selected = append(selected, c.Symbol)
		seen[c.Symbol] = true
	}
	return selected
}

// mustTradeSymbols returns every symbol with a live position or resting
// order on either account. Failures propagate; guessing here could orphan
// exposure.
func (s *Selector) mustTradeSymbols() ([]string, error) {
	var symbols []string
	seen := make(map[string]bool)

	positions, err := s.futures.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	for _, p := range positions {
		if !seen[p.Symbol] {
			symbols = append(symbols, p.Symbol)
			seen[p.Symbol] = true
		}
	}

	for _, gw := range []trader.Gateway{s.futures, s.spot} {
		orders, err := gw.GetOpenOrders("")
		if err != nil {
			return nil, fmt.Errorf("list %s open orders: %w", gw.Market(), err)
		}
		for _, o := range orders {
			if !seen[o.Symbol] {
				symbols = append(symbols, o.Symbol)
				seen[o.Symbol] = true
			}
		}
	}
	return symbols, nil
}

// MonitorATRQuality flags active symbols whose volatility left the
// configured band or that have gone a full inactivity timeout without a
// fill, and proposes one replacement per problem. Advisory only; the
// active set is never mutated here.
func (s *Selector) MonitorATRQuality(active []string, tracker *ActivityTracker) (*RotationReport, error) {
	report := &RotationReport{
		Suggestions: make(map[string]string),
		GeneratedAt: time.Now(),
	}

	for _, symbol := range active {
		atr, err := s.symbolATR(symbol)
		if err != nil {
			logger.Warnf("⚠️ ATR check failed for %s: %v", symbol, err)
			continue
		}

		switch {
		case atr < s.cfg.ATRMinPct:
			report.Problematic = append(report.Problematic, ProblemPair{
				Symbol: symbol, ATRPct: atr,
				Reason: fmt.Sprintf("volatility %.2f%% below band minimum %.2f%%", atr, s.cfg.ATRMinPct),
			})
		case atr > s.cfg.ATRMaxPct:
			report.Problematic = append(report.Problematic, ProblemPair{
				Symbol: symbol, ATRPct: atr,
				Reason: fmt.Sprintf("volatility %.2f%% above band maximum %.2f%%", atr, s.cfg.ATRMaxPct),
			})
		case tracker != nil && tracker.Inactive(symbol, s.cfg.InactivityTimeout):
			report.Problematic = append(report.Problematic, ProblemPair{
				Symbol: symbol, ATRPct: atr,
				Reason: fmt.Sprintf("no fills for over %s", s.cfg.InactivityTimeout),
			})
		}
	}

	if len(report.Problematic) == 0 {
		return report, nil
	}

	activeSet := toSet(active)
	candidates := s.feed.Fetch()
	used := make(map[string]bool)
	for _, problem := range report.Problematic {
		for _, c := range candidates {
			if activeSet[c.Symbol] || used[c.Symbol] {
				continue
			}
			atr, err := s.symbolATR(c.Symbol)
			if err != nil || atr < s.cfg.ATRMinPct || atr > s.cfg.ATRMaxPct {
				continue
			}
			report.Suggestions[problem.Symbol] = c.Symbol
			used[c.Symbol] = true
			break
		}
	}

	logger.Infof("🔄 Rotation advisory: %d problematic pairs, %d suggestions",
		len(report.Problematic), len(report.Suggestions))
	return report, nil
}

func (s *Selector) symbolATR(symbol string) (float64, error) {
	klines, err := s.futures.GetKlines(symbol, "1h", atrPeriod+10)
	if err != nil {
		return 0, err
	}
	atr := atrPercent(klines)
	if atr == 0 {
		return 0, fmt.Errorf("not enough kline data for %s", symbol)
	}
	return atr, nil
}

// mergePairs appends extra symbols to base up to max, deduplicating and
// preserving order. Base entries are never cut.
func mergePairs(base, extra []string, max int) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool)
	for _, s := range base {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	for _, s := range extra {
		if len(out) >= max {
			break
		}
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

func toSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}
