package trader

import "time"

// MarketType identifies which account an order or allocation targets.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// Balance is a point-in-time read of one account. Never cached; every
// allocation decision issues a fresh query.
type Balance struct {
	Asset     string  `json:"asset"`
	Available float64 `json:"available"`
	Total     float64 `json:"total"`
}

// Position is a live position as reported by the exchange. Always fetched
// fresh; local copies are never the source of truth.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // LONG/SHORT
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
}

// OpenOrder represents a resting order on the exchange.
type OpenOrder struct {
	OrderID   string  `json:"order_id"`
	ClientID  string  `json:"client_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // BUY/SELL
	Type      string  `json:"type"` // LIMIT/STOP_MARKET/TAKE_PROFIT_MARKET
	Price     float64 `json:"price"`
	StopPrice float64 `json:"stop_price"`
	Quantity  float64 `json:"quantity"`
	Status    string  `json:"status"`
}

// LimitOrderRequest carries one grid order to the exchange. Price and
// quantity must already be aligned to the symbol's filters; the gateway
// formats them but does not correct them.
type LimitOrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // BUY/SELL
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	PostOnly   bool    `json:"post_only"`
	ReduceOnly bool    `json:"reduce_only"`
	ClientID   string  `json:"client_id"`
}

// LimitOrderResult is the exchange's acknowledgement of a limit order.
type LimitOrderResult struct {
	OrderID  string  `json:"order_id"`
	ClientID string  `json:"client_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Status   string  `json:"status"`
}

// Kline is one candle, used for ATR-based pair quality checks.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Gateway is the unified exchange interface. One implementation per
// account type (spot, futures); both wrap the same credentials.
type Gateway interface {
	// Market reports which account this gateway trades.
	Market() MarketType

	// GetBalance issues a fresh balance query for the quote asset.
	GetBalance() (*Balance, error)

	// GetPositions returns all non-flat positions. Spot gateways return
	// an empty slice; spot exposure carries no liquidation risk.
	GetPositions() ([]Position, error)

	// GetOpenOrders lists resting orders. Empty symbol means all symbols.
	GetOpenOrders(symbol string) ([]OpenOrder, error)

	// GetMarketPrice returns the current price for a symbol.
	GetMarketPrice(symbol string) (float64, error)

	// GetSymbolFilters returns tick size, step size and minimum notional.
	// Results are cached; filters change rarely.
	GetSymbolFilters(symbol string) (*SymbolFilters, error)

	// GetKlines fetches recent candles for volatility checks.
	GetKlines(symbol, interval string, limit int) ([]Kline, error)

	// PlaceLimitOrder submits one limit order.
	PlaceLimitOrder(req *LimitOrderRequest) (*LimitOrderResult, error)

	// CancelOrder cancels a single order by exchange ID.
	CancelOrder(symbol, orderID string) error

	// CancelAllOrders cancels every resting order for the symbol.
	CancelAllOrders(symbol string) error

	// SetLeverage sets the leverage for a symbol. No-op on spot.
	SetLeverage(symbol string, leverage int) error

	// SetStopLoss places a protective stop order closing the given
	// position side at stopPrice.
	SetStopLoss(symbol, positionSide string, quantity, stopPrice float64) error

	// SetTakeProfit places a protective take-profit order closing the
	// given position side at takeProfitPrice.
	SetTakeProfit(symbol, positionSide string, quantity, takeProfitPrice float64) error

	// SyncTime resynchronizes the client clock against the exchange.
	// Called once after a signature/clock-skew error.
	SyncTime() error
}
