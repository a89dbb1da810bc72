package manager

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gridbot/config"
	"gridbot/hook"
	"gridbot/store"
	"gridbot/trader"
)

// fakeGateway is safe for concurrent use; workers run on their own
// goroutines.
type fakeGateway struct {
	trader.Gateway

	market trader.MarketType

	mu        sync.Mutex
	available float64
	open      []trader.OpenOrder
	nextID    int
	cancelled []string
}

func (f *fakeGateway) Market() trader.MarketType { return f.market }

func (f *fakeGateway) GetBalance() (*trader.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &trader.Balance{Asset: "USDT", Available: f.available, Total: f.available}, nil
}

func (f *fakeGateway) GetPositions() ([]trader.Position, error) { return nil, nil }

func (f *fakeGateway) GetOpenOrders(symbol string) ([]trader.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]trader.OpenOrder(nil), f.open...), nil
}

func (f *fakeGateway) GetMarketPrice(symbol string) (float64, error) { return 100, nil }

func (f *fakeGateway) GetSymbolFilters(symbol string) (*trader.SymbolFilters, error) {
	return &trader.SymbolFilters{
		Symbol:      symbol,
		TickSize:    decimal.RequireFromString("0.01"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("1"),
	}, nil
}

func (f *fakeGateway) GetKlines(symbol, interval string, limit int) ([]trader.Kline, error) {
	return nil, nil
}

func (f *fakeGateway) SetLeverage(symbol string, leverage int) error { return nil }

func (f *fakeGateway) PlaceLimitOrder(req *trader.LimitOrderRequest) (*trader.LimitOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	f.open = append(f.open, trader.OpenOrder{
		OrderID: id, ClientID: req.ClientID, Symbol: req.Symbol,
		Side: req.Side, Price: req.Price, Quantity: req.Quantity,
	})
	return &trader.LimitOrderResult{OrderID: id, Symbol: req.Symbol}, nil
}

func (f *fakeGateway) CancelAllOrders(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, symbol)
	var keep []trader.OpenOrder
	for _, o := range f.open {
		if o.Symbol != symbol {
			keep = append(keep, o)
		}
	}
	f.open = keep
	return nil
}

func (f *fakeGateway) SetTakeProfit(symbol, side string, qty, price float64) error { return nil }
func (f *fakeGateway) SetStopLoss(symbol, side string, qty, price float64) error   { return nil }

func (f *fakeGateway) setAvailable(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewFromDB(db)
	require.NoError(t, err)
	return st
}

func orchestratorConfig() *config.Config {
	return &config.Config{
		GridLevels:         4,
		GridSpacingPct:     1.0,
		ProfitTakePct:      1.5,
		Leverage:           10,
		MinCapitalPerPair:  5,
		MaxConcurrentPairs: 2,
		SafetyBufferPct:    0.90,
		MaxAllocationPct:   0.50,
		SpotAllocationPct:  0.30,
		PreferredPairs:     []string{"BTCUSDT", "ETHUSDT"},
		PairCacheTTL:       6 * time.Hour,
		ATRMinPct:          0.5,
		ATRMaxPct:          8.0,
		InactivityTimeout:  time.Hour,
		GridInterval:       time.Hour, // workers tick once, then wait
		TPSLInterval:       time.Hour,
		CycleInterval:      time.Hour,
	}
}

func newTestOrchestrator(t *testing.T, futures, spot *fakeGateway) *Orchestrator {
	t.Helper()
	o := New(orchestratorConfig(), futures, spot, testStore(t), hook.NewAlerter("", 0))
	t.Cleanup(o.Stop)
	return o
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunCycle_StartsWorkersForAllocatedSymbols(t *testing.T) {
	futures := &fakeGateway{market: trader.MarketFutures, available: 100}
	spot := &fakeGateway{market: trader.MarketSpot}
	o := newTestOrchestrator(t, futures, spot)

	o.runCycle()

	assert.Len(t, o.Allocations(), 2)
	assert.Len(t, o.Status(), 2)

	// each worker builds its grid and places orders
	waitFor(t, func() bool {
		open, _ := futures.GetOpenOrders("")
		return len(open) >= 8
	}, "expected four resting orders per worker")
}

func TestRunCycle_RetiresWorkersWhenCapitalGone(t *testing.T) {
	futures := &fakeGateway{market: trader.MarketFutures, available: 100}
	spot := &fakeGateway{market: trader.MarketSpot}
	o := newTestOrchestrator(t, futures, spot)

	o.runCycle()
	require.Len(t, o.Status(), 2)

	futures.setAvailable(0)
	o.runCycle()

	assert.Empty(t, o.Status(), "no capital, no workers")
	futures.mu.Lock()
	defer futures.mu.Unlock()
	assert.NotEmpty(t, futures.cancelled, "rotation cancels the retired symbols' orders")
}

func TestRunCycle_SteadyStateKeepsWorkers(t *testing.T) {
	futures := &fakeGateway{market: trader.MarketFutures, available: 100}
	spot := &fakeGateway{market: trader.MarketSpot}
	o := newTestOrchestrator(t, futures, spot)

	o.runCycle()
	before := len(o.Status())
	require.Positive(t, before)

	// a second cycle with the same inputs is a no-op
	o.runCycle()
	assert.Len(t, o.Status(), before)
}
