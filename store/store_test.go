package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	st, err := NewFromDB(db)
	require.NoError(t, err)
	return st
}

func TestGridStore_SaveLoadRoundTrip(t *testing.T) {
	st := testStore(t)

	rec := &GridStateRecord{
		Symbol:      "BTCUSDT",
		Payload:     `{"symbol":"BTCUSDT","levels":[]}`,
		RealizedPnL: 12.5,
		SpacingPct:  1.0,
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, st.Grid().Save(rec))

	loaded, err := st.Grid().Load("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec.Payload, loaded.Payload)
	assert.Equal(t, 12.5, loaded.RealizedPnL)
}

func TestGridStore_SaveIsUpsert(t *testing.T) {
	st := testStore(t)

	require.NoError(t, st.Grid().Save(&GridStateRecord{Symbol: "ETHUSDT", Payload: "v1"}))
	require.NoError(t, st.Grid().Save(&GridStateRecord{Symbol: "ETHUSDT", Payload: "v2", RealizedPnL: 3}))

	loaded, err := st.Grid().Load("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "v2", loaded.Payload)
	assert.Equal(t, 3.0, loaded.RealizedPnL)

	symbols, err := st.Grid().ListSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT"}, symbols)
}

func TestGridStore_LoadMissingReturnsNil(t *testing.T) {
	st := testStore(t)
	loaded, err := st.Grid().Load("NOPE")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestGridStore_Delete(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.Grid().Save(&GridStateRecord{Symbol: "BTCUSDT", Payload: "x"}))
	require.NoError(t, st.Grid().Delete("BTCUSDT"))

	loaded, err := st.Grid().Load("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPairStore_RoundTrip(t *testing.T) {
	st := testStore(t)

	pairs, _, err := st.Pairs().Load()
	require.NoError(t, err)
	assert.Nil(t, pairs, "empty cache loads as nil")

	require.NoError(t, st.Pairs().Save([]string{"BTCUSDT", "ETHUSDT"}))

	pairs, at, err := st.Pairs().Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, pairs)
	assert.WithinDuration(t, time.Now(), at, time.Minute)
}

func TestFillStore_InsertAndQuery(t *testing.T) {
	st := testStore(t)

	for i, pnl := range []float64{0, 1.5, 2.5} {
		require.NoError(t, st.Fills().Insert(&GridFill{
			Symbol:      "BTCUSDT",
			Side:        "SELL",
			Price:       45000 + float64(i),
			Quantity:    0.01,
			RealizedPnL: pnl,
			OrderID:     "X",
			FilledAt:    time.Now(),
		}))
	}
	require.NoError(t, st.Fills().Insert(&GridFill{
		Symbol: "ETHUSDT", Side: "BUY", Price: 3000, Quantity: 0.1, FilledAt: time.Now(),
	}))

	fills, err := st.Fills().RecentBySymbol("BTCUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, fills, 3)

	total, err := st.Fills().TotalRealizedPnL()
	require.NoError(t, err)
	assert.InDelta(t, 4.0, total, 1e-9)
}

func TestFillStore_LastFillTime(t *testing.T) {
	st := testStore(t)

	never, err := st.Fills().LastFillTime("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, never.IsZero(), "no fills means zero time")

	require.NoError(t, st.Fills().Insert(&GridFill{
		Symbol: "BTCUSDT", Side: "BUY", Price: 45000, Quantity: 0.01, FilledAt: time.Now(),
	}))

	last, err := st.Fills().LastFillTime("BTCUSDT")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), last, time.Minute)
}
