package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/config"
	"gridbot/trader"
)

type fakeGateway struct {
	trader.Gateway

	positions []trader.Position
	open      []trader.OpenOrder

	tpCalls []string
	slCalls []string
}

func (f *fakeGateway) GetPositions() ([]trader.Position, error) { return f.positions, nil }

func (f *fakeGateway) GetOpenOrders(symbol string) ([]trader.OpenOrder, error) {
	return f.open, nil
}

func (f *fakeGateway) SetTakeProfit(symbol, side string, qty, price float64) error {
	f.tpCalls = append(f.tpCalls, positionKey(symbol, side))
	f.open = append(f.open, trader.OpenOrder{
		Symbol: symbol, Side: oppositeSide(side), Type: "TAKE_PROFIT_MARKET", StopPrice: price,
	})
	return nil
}

func (f *fakeGateway) SetStopLoss(symbol, side string, qty, price float64) error {
	f.slCalls = append(f.slCalls, positionKey(symbol, side))
	f.open = append(f.open, trader.OpenOrder{
		Symbol: symbol, Side: oppositeSide(side), Type: "STOP_MARKET", StopPrice: price,
	})
	return nil
}

func oppositeSide(positionSide string) string {
	if positionSide == "SHORT" {
		return "BUY"
	}
	return "SELL"
}

func tpslConfig() *config.Config {
	return &config.Config{
		TakeProfitPct: 0.25,
		StopLossPct:   0.35,
		TPSLInterval:  20 * time.Second,
	}
}

func TestNewManager_ReturnsSameInstance(t *testing.T) {
	gw := &fakeGateway{}
	first := NewManager(gw, tpslConfig())
	second := NewManager(&fakeGateway{}, tpslConfig())
	assert.Same(t, first, second)
}

func TestCheckPositions_PlacesMissingProtectiveOrders(t *testing.T) {
	gw := &fakeGateway{
		positions: []trader.Position{
			{Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.01, MarkPrice: 45000},
		},
	}
	m := newManager(gw, tpslConfig())

	require.NoError(t, m.checkPositions())

	assert.Equal(t, []string{"BTCUSDT|LONG"}, gw.tpCalls)
	assert.Equal(t, []string{"BTCUSDT|LONG"}, gw.slCalls)
	assert.Equal(t, []string{"BTCUSDT|LONG"}, m.Status())
}

func TestCheckPositions_NeverDuplicatesWithinInterval(t *testing.T) {
	gw := &fakeGateway{
		positions: []trader.Position{
			{Symbol: "ETHUSDT", Side: "SHORT", Quantity: 0.5, MarkPrice: 3000},
		},
	}
	m := newManager(gw, tpslConfig())

	require.NoError(t, m.checkPositions())
	require.NoError(t, m.checkPositions())

	assert.Len(t, gw.tpCalls, 1, "one take-profit per (symbol, side) per interval")
	assert.Len(t, gw.slCalls, 1, "one stop-loss per (symbol, side) per interval")
}

func TestCheckPositions_SkipsAlreadyProtected(t *testing.T) {
	gw := &fakeGateway{
		positions: []trader.Position{
			{Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.01, MarkPrice: 45000},
		},
		open: []trader.OpenOrder{
			{Symbol: "BTCUSDT", Side: "SELL", Type: "TAKE_PROFIT_MARKET"},
			{Symbol: "BTCUSDT", Side: "SELL", Type: "STOP_MARKET"},
		},
	}
	m := newManager(gw, tpslConfig())

	require.NoError(t, m.checkPositions())

	assert.Empty(t, gw.tpCalls)
	assert.Empty(t, gw.slCalls)
	assert.Equal(t, []string{"BTCUSDT|LONG"}, m.Status(), "protected position still monitored")
}

func TestCheckPositions_FillsInOnlyMissingSide(t *testing.T) {
	gw := &fakeGateway{
		positions: []trader.Position{
			{Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.01, MarkPrice: 45000},
		},
		open: []trader.OpenOrder{
			{Symbol: "BTCUSDT", Side: "SELL", Type: "STOP_MARKET"},
		},
	}
	m := newManager(gw, tpslConfig())

	require.NoError(t, m.checkPositions())

	assert.Equal(t, []string{"BTCUSDT|LONG"}, gw.tpCalls)
	assert.Empty(t, gw.slCalls)
}

func TestCheckPositions_ForgetsClosedPositions(t *testing.T) {
	gw := &fakeGateway{
		positions: []trader.Position{
			{Symbol: "SOLUSDT", Side: "LONG", Quantity: 10, MarkPrice: 150},
		},
	}
	m := newManager(gw, tpslConfig())
	require.NoError(t, m.checkPositions())
	require.Equal(t, []string{"SOLUSDT|LONG"}, m.Status())

	gw.positions = nil
	require.NoError(t, m.checkPositions())
	assert.Empty(t, m.Status())
}

func TestTierPercentages(t *testing.T) {
	m := newManager(&fakeGateway{}, tpslConfig())

	tests := []struct {
		value  float64
		wantTP float64
		wantSL float64
	}{
		{30, 0.4, 0.6},
		{75, 0.3, 0.4},
		{500, 0.25, 0.35},
	}
	for _, tt := range tests {
		tp, sl := m.tierPercentages(tt.value)
		assert.Equal(t, tt.wantTP, tp, "tp for value %.0f", tt.value)
		assert.Equal(t, tt.wantSL, sl, "sl for value %.0f", tt.value)
	}
}

func TestProtectivePrices_ShortInverts(t *testing.T) {
	pos := &trader.Position{Symbol: "BTCUSDT", Side: "SHORT", MarkPrice: 40000}
	tp, sl := protectivePrices(pos, 0.25, 0.35)
	assert.Less(t, tp, pos.MarkPrice, "short takes profit below the mark")
	assert.Greater(t, sl, pos.MarkPrice, "short stops out above the mark")
}
