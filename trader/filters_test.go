package trader

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFilters() *SymbolFilters {
	return &SymbolFilters{
		Symbol:      "BTCUSDT",
		TickSize:    decimal.RequireFromString("0.10"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("100"),
	}
}

func TestRoundPrice(t *testing.T) {
	f := testFilters()
	tests := []struct {
		in   float64
		want string
	}{
		{45123.456, "45123.4"},
		{45123.44, "45123.4"},
		{45000, "45000"},
		{0.05, "0"}, // below one tick rounds to zero, caught by Validate
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.RoundPrice(tt.in), "price %v", tt.in)
	}
}

func TestRoundQuantity(t *testing.T) {
	f := testFilters()
	assert.Equal(t, "0.123", f.RoundQuantity(0.12399))
	assert.Equal(t, "1", f.RoundQuantity(1.0009))
}

func TestValidate(t *testing.T) {
	f := testFilters()

	tests := []struct {
		name    string
		price   string
		qty     string
		wantErr string
	}{
		{"valid order", "45123.4", "0.01", ""},
		{"price off tick", "45123.45", "0.01", "tick size"},
		{"quantity off step", "45123.4", "0.0015", "step size"},
		{"quantity below minimum", "45123.4", "0", "below minimum"},
		{"notional below minimum", "45123.4", "0.002", "notional"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Validate(tt.price, tt.qty)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, KindInvalidParams, apiErr.Kind, "local rejections are invalid-params")
		})
	}
}

func TestParseRawFilters(t *testing.T) {
	raw := []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.10"},
		{"filterType": "LOT_SIZE", "stepSize": "0.001", "minQty": "0.001"},
		{"filterType": "MIN_NOTIONAL", "notional": "100"},
	}
	f, err := parseRawFilters("BTCUSDT", raw)
	require.NoError(t, err)
	assert.True(t, f.TickSize.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, f.MinNotional.Equal(decimal.RequireFromString("100")))
}

func TestParseRawFilters_SpotNotionalVariant(t *testing.T) {
	raw := []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
		{"filterType": "LOT_SIZE", "stepSize": "0.0001", "minQty": "0.0001"},
		{"filterType": "NOTIONAL", "minNotional": "5"},
	}
	f, err := parseRawFilters("ETHUSDT", raw)
	require.NoError(t, err)
	assert.True(t, f.MinNotional.Equal(decimal.RequireFromString("5")))
}

func TestParseRawFilters_IncompleteFails(t *testing.T) {
	_, err := parseRawFilters("XUSDT", []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
	})
	assert.Error(t, err)
}
