package trader

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"gridbot/logger"
)

// SpotTrader implements Gateway against the Binance spot API.
//
// Spot holdings carry no liquidation risk, so GetPositions reports nothing
// and protective orders are rejected; exposure is bounded by the resting
// grid sells themselves.
type SpotTrader struct {
	client      *binance.Client
	callTimeout time.Duration

	filtersMu sync.RWMutex
	filters   map[string]*SymbolFilters
}

// NewSpotTrader creates a spot gateway with the same credentials as the
// futures one.
func NewSpotTrader(apiKey, secretKey string) *SpotTrader {
	return &SpotTrader{
		client:      binance.NewClient(apiKey, secretKey),
		callTimeout: defaultCallTimeout,
		filters:     make(map[string]*SymbolFilters),
	}
}

func (t *SpotTrader) Market() MarketType {
	return MarketSpot
}

func (t *SpotTrader) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), t.callTimeout)
}

// GetBalance returns the free USDT spot balance. Always a fresh query.
func (t *SpotTrader) GetBalance() (*Balance, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	account, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapAPIError("spot.GetBalance", err)
	}

	for _, b := range account.Balances {
		if b.Asset != "USDT" {
			continue
		}
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		return &Balance{Asset: b.Asset, Available: free, Total: free + locked}, nil
	}
	return &Balance{Asset: "USDT"}, nil
}

// GetPositions always returns nil for spot.
func (t *SpotTrader) GetPositions() ([]Position, error) {
	return nil, nil
}

// GetOpenOrders lists resting spot orders. Empty symbol returns all symbols.
func (t *SpotTrader) GetOpenOrders(symbol string) ([]OpenOrder, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	svc := t.client.NewListOpenOrdersService()
	if symbol != "" {
		svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapAPIError("spot.GetOpenOrders", err)
	}

	out := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		out = append(out, OpenOrder{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			ClientID:  o.ClientOrderID,
			Symbol:    o.Symbol,
			Side:      string(o.Side),
			Type:      string(o.Type),
			Price:     price,
			StopPrice: stopPrice,
			Quantity:  qty,
			Status:    string(o.Status),
		})
	}
	return out, nil
}

// GetMarketPrice returns the current spot price.
func (t *SpotTrader) GetMarketPrice(symbol string) (float64, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	prices, err := t.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, wrapAPIError("spot.GetMarketPrice", err)
	}
	if len(prices) == 0 {
		return 0, &APIError{Kind: KindInvalidParams, Op: "spot.GetMarketPrice",
			Err: fmt.Errorf("no price for %s", symbol)}
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

// GetSymbolFilters returns the cached filters for a symbol.
func (t *SpotTrader) GetSymbolFilters(symbol string) (*SymbolFilters, error) {
	t.filtersMu.RLock()
	f, ok := t.filters[symbol]
	t.filtersMu.RUnlock()
	if ok {
		return f, nil
	}

	ctx, cancel := t.ctx()
	defer cancel()

	info, err := t.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, wrapAPIError("spot.GetSymbolFilters", err)
	}

	t.filtersMu.Lock()
	defer t.filtersMu.Unlock()
	for _, s := range info.Symbols {
		parsed, err := parseRawFilters(s.Symbol, s.Filters)
		if err != nil {
			continue
		}
		t.filters[s.Symbol] = parsed
	}

	f, ok = t.filters[symbol]
	if !ok {
		return nil, &APIError{Kind: KindInvalidParams, Op: "spot.GetSymbolFilters",
			Err: fmt.Errorf("unknown symbol %s", symbol)}
	}
	return f, nil
}

// GetKlines fetches recent spot candles.
func (t *SpotTrader) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	raw, err := t.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, wrapAPIError("spot.GetKlines", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closeP, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   volume,
		})
	}
	return klines, nil
}

// PlaceLimitOrder submits one spot limit order, LIMIT_MAKER when PostOnly.
func (t *SpotTrader) PlaceLimitOrder(req *LimitOrderRequest) (*LimitOrderResult, error) {
	filters, err := t.GetSymbolFilters(req.Symbol)
	if err != nil {
		return nil, err
	}

	priceStr := filters.RoundPrice(req.Price)
	qtyStr := filters.RoundQuantity(req.Quantity)
	if err := filters.Validate(priceStr, qtyStr); err != nil {
		return nil, err
	}

	ctx, cancel := t.ctx()
	defer cancel()

	side := binance.SideTypeBuy
	if req.Side == "SELL" {
		side = binance.SideTypeSell
	}

	svc := t.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Price(priceStr).
		Quantity(qtyStr)
	if req.PostOnly {
		svc.Type(binance.OrderTypeLimitMaker)
	} else {
		svc.Type(binance.OrderTypeLimit).TimeInForce(binance.TimeInForceTypeGTC)
	}
	if req.ClientID != "" {
		svc.NewClientOrderID(req.ClientID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapAPIError("spot.PlaceLimitOrder", err)
	}

	price, _ := strconv.ParseFloat(resp.Price, 64)
	qty, _ := strconv.ParseFloat(resp.OrigQuantity, 64)
	return &LimitOrderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Symbol:   resp.Symbol,
		Side:     string(resp.Side),
		Price:    price,
		Quantity: qty,
		Status:   string(resp.Status),
	}, nil
}

// CancelOrder cancels one spot order by exchange ID.
func (t *SpotTrader) CancelOrder(symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &APIError{Kind: KindInvalidParams, Op: "spot.CancelOrder",
			Err: fmt.Errorf("bad order id %q: %w", orderID, err)}
	}

	ctx, cancel := t.ctx()
	defer cancel()

	_, err = t.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return wrapAPIError("spot.CancelOrder", err)
	}
	return nil
}

// CancelAllOrders cancels every resting spot order for the symbol.
func (t *SpotTrader) CancelAllOrders(symbol string) error {
	ctx, cancel := t.ctx()
	defer cancel()

	_, err := t.client.NewCancelOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return wrapAPIError("spot.CancelAllOrders", err)
	}
	return nil
}

// SetLeverage is a no-op on spot.
func (t *SpotTrader) SetLeverage(symbol string, leverage int) error {
	return nil
}

// SetStopLoss is not supported on spot.
func (t *SpotTrader) SetStopLoss(symbol, positionSide string, quantity, stopPrice float64) error {
	return fmt.Errorf("protective orders are not supported on spot")
}

// SetTakeProfit is not supported on spot.
func (t *SpotTrader) SetTakeProfit(symbol, positionSide string, quantity, takeProfitPrice float64) error {
	return fmt.Errorf("protective orders are not supported on spot")
}

// SyncTime resynchronizes the client clock offset against the server.
func (t *SpotTrader) SyncTime() error {
	ctx, cancel := t.ctx()
	defer cancel()

	_, err := t.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return wrapAPIError("spot.SyncTime", err)
	}
	logger.Info("⏱️ Spot server time synced")
	return nil
}
