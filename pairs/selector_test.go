package pairs

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gridbot/config"
	"gridbot/store"
	"gridbot/trader"
)

// fakeGateway overrides only the methods a test needs; everything else
// panics through the embedded nil interface.
type fakeGateway struct {
	trader.Gateway

	market    trader.MarketType
	positions []trader.Position
	orders    []trader.OpenOrder
	klines    map[string][]trader.Kline
}

func (f *fakeGateway) Market() trader.MarketType { return f.market }

func (f *fakeGateway) GetPositions() ([]trader.Position, error) { return f.positions, nil }

func (f *fakeGateway) GetOpenOrders(symbol string) ([]trader.OpenOrder, error) {
	return f.orders, nil
}

func (f *fakeGateway) GetKlines(symbol, interval string, limit int) ([]trader.Kline, error) {
	return f.klines[symbol], nil
}

// steadyKlines builds candles whose average true range sits near the given
// percentage of price.
func steadyKlines(price, atrPct float64, n int) []trader.Kline {
	spread := price * atrPct / 100
	out := make([]trader.Kline, n)
	for i := range out {
		out[i] = trader.Kline{
			OpenTime: time.Now().Add(-time.Duration(n-i) * time.Hour),
			Open:     price,
			High:     price + spread/2,
			Low:      price - spread/2,
			Close:    price,
		}
	}
	return out
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

func selectorConfig() *config.Config {
	return &config.Config{
		PreferredPairs:     []string{"BTCUSDT", "ETHUSDT"},
		MaxConcurrentPairs: 3,
		PairCacheTTL:       6 * time.Hour,
		ATRMinPct:          0.5,
		ATRMaxPct:          8.0,
		InactivityTimeout:  time.Hour,
	}
}

func TestSelectedPairs_OpenPositionAlwaysIncluded(t *testing.T) {
	futures := &fakeGateway{
		market: trader.MarketFutures,
		positions: []trader.Position{
			{Symbol: "DOGEUSDT", Side: "LONG", Quantity: 1000},
		},
	}
	spot := &fakeGateway{market: trader.MarketSpot}

	s := NewSelector(futures, spot, testStore(t), selectorConfig())

	pairs, err := s.SelectedPairs(true)
	require.NoError(t, err)

	// the position symbol comes first and is never cut, even though it is
	// in neither the preferred list nor the candidate feed
	assert.Contains(t, pairs, "DOGEUSDT")
	assert.Equal(t, "DOGEUSDT", pairs[0])
	assert.LessOrEqual(t, len(pairs), 3)
}

func TestSelectedPairs_OpenOrdersCountAsMustTrade(t *testing.T) {
	futures := &fakeGateway{market: trader.MarketFutures}
	spot := &fakeGateway{
		market: trader.MarketSpot,
		orders: []trader.OpenOrder{
			{Symbol: "ADAUSDT", Side: "BUY", Price: 0.5, Quantity: 100},
		},
	}

	s := NewSelector(futures, spot, testStore(t), selectorConfig())

	pairs, err := s.SelectedPairs(true)
	require.NoError(t, err)
	assert.Contains(t, pairs, "ADAUSDT")
}

func TestSelectedPairs_MustTradeExceedsLimit(t *testing.T) {
	// four live positions against a limit of three: all four stay
	futures := &fakeGateway{
		market: trader.MarketFutures,
		positions: []trader.Position{
			{Symbol: "AUSDT"}, {Symbol: "BUSDT"}, {Symbol: "CUSDT"}, {Symbol: "DUSDT"},
		},
	}
	spot := &fakeGateway{market: trader.MarketSpot}

	s := NewSelector(futures, spot, testStore(t), selectorConfig())

	pairs, err := s.SelectedPairs(true)
	require.NoError(t, err)
	assert.Equal(t, []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT"}, pairs)
}

func TestSelectedPairs_CachedResultGetsNewPositionsMergedIn(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.Pairs().Save([]string{"BTCUSDT", "ETHUSDT"}))

	futures := &fakeGateway{
		market:    trader.MarketFutures,
		positions: []trader.Position{{Symbol: "SOLUSDT"}},
	}
	spot := &fakeGateway{market: trader.MarketSpot}

	s := NewSelector(futures, spot, st, selectorConfig())

	pairs, err := s.SelectedPairs(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT", "BTCUSDT", "ETHUSDT"}, pairs)
}

func TestMonitorATRQuality_FlagsOutOfBandAndInactive(t *testing.T) {
	futures := &fakeGateway{
		market: trader.MarketFutures,
		klines: map[string][]trader.Kline{
			"BTCUSDT": steadyKlines(45000, 0.1, 30), // too calm
			"ETHUSDT": steadyKlines(3000, 2.0, 30),  // healthy
			"SOLUSDT": steadyKlines(150, 2.0, 30),   // healthy but inactive
		},
	}
	spot := &fakeGateway{market: trader.MarketSpot}

	cfg := selectorConfig()
	s := NewSelector(futures, spot, testStore(t), cfg)

	tracker := NewActivityTracker()
	tracker.Track("BTCUSDT")
	tracker.Track("ETHUSDT")
	tracker.Track("SOLUSDT")
	tracker.RecordFill("ETHUSDT")
	tracker.RecordFill("BTCUSDT")

	// SOLUSDT tracked long ago with no fills since
	tracker.entries["SOLUSDT"].trackedAt = time.Now().Add(-2 * time.Hour)

	report, err := s.MonitorATRQuality([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, tracker)
	require.NoError(t, err)

	flagged := make(map[string]bool)
	for _, p := range report.Problematic {
		flagged[p.Symbol] = true
	}
	assert.True(t, flagged["BTCUSDT"], "low-volatility pair should be flagged")
	assert.True(t, flagged["SOLUSDT"], "inactive pair should be flagged")
	assert.False(t, flagged["ETHUSDT"], "healthy active pair should not be flagged")
}
