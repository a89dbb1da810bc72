// Package risk runs the global take-profit/stop-loss monitor: one
// background loop that guarantees every open position carries protective
// orders.
package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gridbot/config"
	"gridbot/logger"
	"gridbot/metrics"
	"gridbot/trader"
)

// TPSLManager watches all open positions and synthesizes protective
// orders for any that lack them. Exactly one instance exists per
// process; it is the sole authority for protective orders, so no
// cross-worker locking is needed when creating them.
type TPSLManager struct {
	gateway  trader.Gateway
	cfg      *config.Config
	interval time.Duration

	mu        sync.Mutex
	monitored map[string]time.Time // "SYMBOL|SIDE" -> last protective placement
	running   bool
	stopCh    chan struct{}
}

var (
	instance *TPSLManager
	once     sync.Once
)

// NewManager returns the process-wide manager, constructing it on the
// first call. Later calls return the same instance regardless of
// arguments.
func NewManager(gateway trader.Gateway, cfg *config.Config) *TPSLManager {
	once.Do(func() {
		instance = newManager(gateway, cfg)
	})
	return instance
}

func newManager(gateway trader.Gateway, cfg *config.Config) *TPSLManager {
	return &TPSLManager{
		gateway:   gateway,
		cfg:       cfg,
		interval:  cfg.TPSLInterval,
		monitored: make(map[string]time.Time),
	}
}

// StartMonitoring launches the background polling loop. Idempotent.
func (m *TPSLManager) StartMonitoring() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	logger.Infof("🛡️ TPSL monitor started (interval %s)", m.interval)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.poll()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
}

// StopMonitoring halts the polling loop. Idempotent.
func (m *TPSLManager) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	logger.Infof("🛡️ TPSL monitor stopped")
}

func (m *TPSLManager) poll() {
	if err := m.checkPositions(); err != nil {
		logger.Warnf("⚠️ TPSL poll failed: %v", err)
	}
}

// checkPositions lists every open position and places missing protective
// orders sized to the full quantity. A position gets at most one set of
// protective orders per polling interval.
func (m *TPSLManager) checkPositions() error {
	positions, err := m.gateway.GetPositions()
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	open, err := m.gateway.GetOpenOrders("")
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	hasTP := make(map[string]bool)
	hasSL := make(map[string]bool)
	for _, o := range open {
		// a protective SELL covers a LONG position and vice versa
		covered := "LONG"
		if o.Side == "BUY" {
			covered = "SHORT"
		}
		key := positionKey(o.Symbol, covered)
		switch o.Type {
		case "TAKE_PROFIT_MARKET":
			hasTP[key] = true
		case "STOP_MARKET":
			hasSL[key] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[string]bool, len(positions))
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		key := positionKey(pos.Symbol, pos.Side)
		active[key] = true

		if last, ok := m.monitored[key]; ok && time.Since(last) < m.interval {
			continue
		}
		if hasTP[key] && hasSL[key] {
			m.monitored[key] = time.Now()
			continue
		}

		tpPct, slPct := m.tierPercentages(pos.Quantity * pos.MarkPrice)
		tpPrice, slPrice := protectivePrices(&pos, tpPct, slPct)
		placed := false

		if !hasTP[key] {
			if err := m.gateway.SetTakeProfit(pos.Symbol, pos.Side, pos.Quantity, tpPrice); err != nil {
				logger.Warnf("⚠️ Failed to set take-profit for %s %s: %v", pos.Symbol, pos.Side, err)
			} else {
				metrics.ProtectiveOrders.WithLabelValues(pos.Symbol, "take_profit").Inc()
				logger.Infof("🛡️ %s %s: take-profit set at %.4f (%.2f%%)", pos.Symbol, pos.Side, tpPrice, tpPct)
				placed = true
			}
		}
		if !hasSL[key] {
			if err := m.gateway.SetStopLoss(pos.Symbol, pos.Side, pos.Quantity, slPrice); err != nil {
				logger.Warnf("⚠️ Failed to set stop-loss for %s %s: %v", pos.Symbol, pos.Side, err)
			} else {
				metrics.ProtectiveOrders.WithLabelValues(pos.Symbol, "stop_loss").Inc()
				logger.Infof("🛡️ %s %s: stop-loss set at %.4f (%.2f%%)", pos.Symbol, pos.Side, slPrice, slPct)
				placed = true
			}
		}
		if placed {
			m.monitored[key] = time.Now()
		}
	}

	// forget positions that have closed
	for key := range m.monitored {
		if !active[key] {
			delete(m.monitored, key)
		}
	}
	return nil
}

// tierPercentages picks tighter protective bands for small positions,
// where fee drag dominates, and the configured defaults above $100.
func (m *TPSLManager) tierPercentages(positionValue float64) (tpPct, slPct float64) {
	switch {
	case positionValue < 50:
		return 0.4, 0.6
	case positionValue < 100:
		return 0.3, 0.4
	default:
		return m.cfg.TakeProfitPct, m.cfg.StopLossPct
	}
}

func protectivePrices(pos *trader.Position, tpPct, slPct float64) (tpPrice, slPrice float64) {
	if pos.Side == "SHORT" {
		return pos.MarkPrice * (1 - tpPct/100), pos.MarkPrice * (1 + slPct/100)
	}
	return pos.MarkPrice * (1 + tpPct/100), pos.MarkPrice * (1 - slPct/100)
}

// Status reports the currently monitored positions as symbol|side keys.
func (m *TPSLManager) Status() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.monitored))
	for key := range m.monitored {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func positionKey(symbol, side string) string {
	return symbol + "|" + side
}
