package trader

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolFilters holds the exchange-declared numeric constraints for one
// symbol. All price/quantity arithmetic that touches the wire goes through
// these methods; raw floats are never submitted.
type SymbolFilters struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// RoundPrice rounds a price down to the symbol's tick size and returns the
// wire string.
func (f *SymbolFilters) RoundPrice(price float64) string {
	return roundDown(decimal.NewFromFloat(price), f.TickSize).String()
}

// RoundQuantity rounds a quantity down to the symbol's step size and
// returns the wire string.
func (f *SymbolFilters) RoundQuantity(qty float64) string {
	return roundDown(decimal.NewFromFloat(qty), f.StepSize).String()
}

// Validate checks a rounded order against the symbol's filters. A failure
// is an invalid-params APIError and the order must not be submitted.
func (f *SymbolFilters) Validate(priceStr, qtyStr string) error {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return &APIError{Kind: KindInvalidParams, Op: "validate", Err: fmt.Errorf("bad price %q: %w", priceStr, err)}
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return &APIError{Kind: KindInvalidParams, Op: "validate", Err: fmt.Errorf("bad quantity %q: %w", qtyStr, err)}
	}

	if !f.TickSize.IsZero() && !price.Mod(f.TickSize).IsZero() {
		return &APIError{Kind: KindInvalidParams, Op: "validate",
			Err: fmt.Errorf("%s: price %s is not a multiple of tick size %s", f.Symbol, price, f.TickSize)}
	}
	if !f.StepSize.IsZero() && !qty.Mod(f.StepSize).IsZero() {
		return &APIError{Kind: KindInvalidParams, Op: "validate",
			Err: fmt.Errorf("%s: quantity %s is not a multiple of step size %s", f.Symbol, qty, f.StepSize)}
	}
	if qty.LessThan(f.MinQty) {
		return &APIError{Kind: KindInvalidParams, Op: "validate",
			Err: fmt.Errorf("%s: quantity %s below minimum %s", f.Symbol, qty, f.MinQty)}
	}
	if notional := price.Mul(qty); notional.LessThan(f.MinNotional) {
		return &APIError{Kind: KindInvalidParams, Op: "validate",
			Err: fmt.Errorf("%s: notional %s below minimum %s", f.Symbol, notional, f.MinNotional)}
	}
	return nil
}

func roundDown(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// parseRawFilters extracts SymbolFilters from the exchangeInfo filter list.
// Both spot and futures report filters as loosely typed maps; spot uses
// MIN_NOTIONAL or NOTIONAL depending on API version.
func parseRawFilters(symbol string, raw []map[string]interface{}) (*SymbolFilters, error) {
	f := &SymbolFilters{Symbol: symbol}
	for _, entry := range raw {
		switch entry["filterType"] {
		case "PRICE_FILTER":
			f.TickSize = decimalField(entry, "tickSize")
		case "LOT_SIZE":
			f.StepSize = decimalField(entry, "stepSize")
			f.MinQty = decimalField(entry, "minQty")
		case "MIN_NOTIONAL":
			// futures uses "notional", spot uses "minNotional"
			if v := decimalField(entry, "notional"); !v.IsZero() {
				f.MinNotional = v
			} else {
				f.MinNotional = decimalField(entry, "minNotional")
			}
		case "NOTIONAL":
			f.MinNotional = decimalField(entry, "minNotional")
		}
	}
	if f.TickSize.IsZero() || f.StepSize.IsZero() {
		return nil, fmt.Errorf("incomplete filters for %s", symbol)
	}
	return f, nil
}

func decimalField(entry map[string]interface{}, key string) decimal.Decimal {
	s, ok := entry[key].(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
