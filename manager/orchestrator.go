// Package manager wires the engine together: it reads the selected pair
// set, snapshots capital allocations and runs one grid worker per
// symbol.
package manager

import (
	"context"
	"sync"
	"time"

	"gridbot/capital"
	"gridbot/config"
	"gridbot/grid"
	"gridbot/hook"
	"gridbot/logger"
	"gridbot/metrics"
	"gridbot/pairs"
	"gridbot/risk"
	"gridbot/store"
	"gridbot/trader"
)

// Orchestrator owns the worker lifecycle. Allocation happens once per
// cycle into an immutable snapshot; workers only read it, so no
// cross-worker locking is needed for the capital budget.
type Orchestrator struct {
	cfg     *config.Config
	futures trader.Gateway
	spot    trader.Gateway
	st      *store.Store

	selector *pairs.Selector
	capital  *capital.Manager
	tpsl     *risk.TPSLManager
	tracker  *pairs.ActivityTracker
	alerter  *hook.Alerter
	prices   grid.PriceSource

	mu       sync.Mutex
	workers  map[string]*worker
	allocs   []capital.Allocation
	rotation *pairs.RotationReport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// worker is one running grid engine plus its goroutine lifecycle.
type worker struct {
	engine *grid.Engine
	alloc  capital.Allocation
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the orchestrator and its collaborators.
func New(cfg *config.Config, futures, spot trader.Gateway, st *store.Store, alerter *hook.Alerter) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		futures:  futures,
		spot:     spot,
		st:       st,
		selector: pairs.NewSelector(futures, spot, st, cfg),
		capital:  capital.NewManager(futures, spot, cfg),
		tpsl:     risk.NewManager(futures, cfg),
		tracker:  pairs.NewActivityTracker(),
		alerter:  alerter,
		workers:  make(map[string]*worker),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetPriceSource attaches a streamed price feed passed on to every grid
// worker. Call before Start; workers fall back to REST without one.
func (o *Orchestrator) SetPriceSource(ps grid.PriceSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices = ps
}

// Start launches the TPSL monitor and the allocation cycle loop. The
// first cycle runs immediately.
func (o *Orchestrator) Start() {
	o.tpsl.StartMonitoring()

	o.runCycle()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.CycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-o.ctx.Done():
				return
			case <-ticker.C:
				o.runCycle()
			}
		}
	}()
	logger.Infof("🚀 Orchestrator started (cycle interval %s)", o.cfg.CycleInterval)
}

// runCycle recomputes the pair set and allocations, then reconciles the
// worker set: new symbols get workers, dropped symbols are rotated out.
func (o *Orchestrator) runCycle() {
	symbols, err := o.selector.SelectedPairs(false)
	if err != nil {
		logger.Errorf("❌ Pair selection failed, keeping current workers: %v", err)
		return
	}

	hints := o.marketHints()
	allocs, err := o.capital.CalculateOptimalAllocations(symbols, hints)
	if err != nil {
		logger.Errorf("❌ Allocation failed, keeping current workers: %v", err)
		return
	}

	o.mu.Lock()
	o.allocs = allocs

	allocated := make(map[string]capital.Allocation, len(allocs))
	for _, a := range allocs {
		allocated[a.Symbol] = a
	}

	var toStop []*worker
	for symbol, w := range o.workers {
		if _, ok := allocated[symbol]; !ok {
			toStop = append(toStop, w)
			delete(o.workers, symbol)
		}
	}
	var toStart []capital.Allocation
	for symbol, a := range allocated {
		if _, ok := o.workers[symbol]; !ok {
			toStart = append(toStart, a)
		}
	}
	o.mu.Unlock()

	for _, w := range toStop {
		o.retireWorker(w)
	}
	for _, a := range toStart {
		o.startWorker(a)
	}

	report, err := o.selector.MonitorATRQuality(symbols, o.tracker)
	if err != nil {
		logger.Warnf("⚠️ Rotation advisory failed: %v", err)
	} else {
		o.mu.Lock()
		o.rotation = report
		o.mu.Unlock()
	}
}

// marketHints keeps symbols on the market their running worker already
// trades, so a re-allocation never flips a live grid between accounts.
func (o *Orchestrator) marketHints() map[string]trader.MarketType {
	o.mu.Lock()
	defer o.mu.Unlock()
	hints := make(map[string]trader.MarketType, len(o.workers))
	for symbol, w := range o.workers {
		hints[symbol] = w.alloc.MarketType
	}
	return hints
}

func (o *Orchestrator) gatewayFor(market trader.MarketType) trader.Gateway {
	if market == trader.MarketSpot {
		return o.spot
	}
	return o.futures
}

func (o *Orchestrator) startWorker(alloc capital.Allocation) {
	gateway := o.gatewayFor(alloc.MarketType)
	engine := grid.NewEngine(gateway, o.st, alloc, o.cfg, o.tracker)

	o.mu.Lock()
	ps := o.prices
	o.mu.Unlock()
	if ps != nil {
		engine.SetPriceSource(ps)
	}

	ctx, cancel := context.WithCancel(o.ctx)
	w := &worker{
		engine: engine,
		alloc:  alloc,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.workers[alloc.Symbol] = w
	o.mu.Unlock()

	o.tracker.Track(alloc.Symbol)
	metrics.ActiveWorkers.Inc()
	logger.Infof("▶️ %s: worker started on %s (%.2f USDT, %d levels)",
		alloc.Symbol, alloc.MarketType, alloc.AllocatedAmount, alloc.GridLevels)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(w.done)
		defer metrics.ActiveWorkers.Dec()

		if err := engine.Recover(); err != nil {
			logger.Errorf("❌ %s: recovery failed: %v", alloc.Symbol, err)
		}

		ticker := time.NewTicker(o.cfg.GridInterval)
		defer ticker.Stop()
		for {
			if err := engine.RunCycle(); err != nil {
				// one symbol's failure never stalls the others
				logger.Warnf("⚠️ %s: cycle failed: %v", alloc.Symbol, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// retireWorker rotates a symbol out. If order cancellation fails, the
// residual position stays under the TPSL monitor's protection rather
// than being abandoned unmonitored.
func (o *Orchestrator) retireWorker(w *worker) {
	symbol := w.engine.Symbol()
	w.cancel()
	<-w.done

	if err := w.engine.Shutdown(true); err != nil {
		logger.Errorf("❌ %s: failed to cancel orders during rotation: %v", symbol, err)
		o.alerter.Alertf("%s rotated out but order cancellation failed; residual position remains under TPSL protection: %v", symbol, err)
	}
	o.tracker.Untrack(symbol)
	logger.Infof("⏹️ %s: worker retired", symbol)
}

// Stop shuts everything down. Resting grid orders are left in place;
// state is persisted and reconciliation restores it on the next start.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
	o.tpsl.StopMonitoring()
	logger.Info("🛑 Orchestrator stopped")
}

// Status returns a snapshot of every running worker.
func (o *Orchestrator) Status() []grid.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]grid.Snapshot, 0, len(o.workers))
	for _, w := range o.workers {
		out = append(out, w.engine.Snapshot())
	}
	return out
}

// Allocations returns the current cycle's immutable allocation snapshot.
func (o *Orchestrator) Allocations() []capital.Allocation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allocs
}

// Rotation returns the latest advisory rotation report, if any.
func (o *Orchestrator) Rotation() *pairs.RotationReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rotation
}

// TPSLStatus reports the positions currently under protective orders.
func (o *Orchestrator) TPSLStatus() []string {
	return o.tpsl.Status()
}
