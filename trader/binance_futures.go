package trader

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"gridbot/logger"
)

const defaultCallTimeout = 10 * time.Second

// FuturesTrader implements Gateway against the Binance USDT-M futures API.
type FuturesTrader struct {
	client      *futures.Client
	callTimeout time.Duration

	// symbol filters change rarely; fetched once per process and reused
	filtersMu sync.RWMutex
	filters   map[string]*SymbolFilters

	// short-lived price cache to absorb bursts of lookups inside one cycle
	priceMu       sync.RWMutex
	priceCache    map[string]cachedPrice
	cacheDuration time.Duration
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// NewFuturesTrader creates a futures gateway. The server clock offset is
// synchronized on first use via SyncTime.
func NewFuturesTrader(apiKey, secretKey string) *FuturesTrader {
	return &FuturesTrader{
		client:        futures.NewClient(apiKey, secretKey),
		callTimeout:   defaultCallTimeout,
		filters:       make(map[string]*SymbolFilters),
		priceCache:    make(map[string]cachedPrice),
		cacheDuration: 5 * time.Second,
	}
}

func (t *FuturesTrader) Market() MarketType {
	return MarketFutures
}

func (t *FuturesTrader) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), t.callTimeout)
}

// GetBalance returns the USDT futures balance. Always a fresh query.
func (t *FuturesTrader) GetBalance() (*Balance, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	balances, err := t.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, wrapAPIError("futures.GetBalance", err)
	}

	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		total, _ := strconv.ParseFloat(b.Balance, 64)
		available, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		return &Balance{Asset: b.Asset, Available: available, Total: total}, nil
	}
	return &Balance{Asset: "USDT"}, nil
}

// GetPositions returns all non-flat positions.
func (t *FuturesTrader) GetPositions() ([]Position, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	risks, err := t.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, wrapAPIError("futures.GetPositions", err)
	}

	var positions []Position
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		unrealized, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		leverage, _ := strconv.Atoi(r.Leverage)

		side := "LONG"
		qty := amt
		if amt < 0 {
			side = "SHORT"
			qty = -amt
		}
		positions = append(positions, Position{
			Symbol:        r.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: unrealized,
			Leverage:      leverage,
		})
	}
	return positions, nil
}

// GetOpenOrders lists resting orders. Empty symbol returns all symbols.
func (t *FuturesTrader) GetOpenOrders(symbol string) ([]OpenOrder, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	svc := t.client.NewListOpenOrdersService()
	if symbol != "" {
		svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapAPIError("futures.GetOpenOrders", err)
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

// GetMarketPrice returns the current price, served from a short-lived cache
// when fresh enough.
func (t *FuturesTrader) GetMarketPrice(symbol string) (float64, error) {
	if t.cacheDuration > 0 {
		t.priceMu.RLock()
		cached, ok := t.priceCache[symbol]
		t.priceMu.RUnlock()
		if ok && time.Since(cached.at) < t.cacheDuration {
			return cached.price, nil
		}
	}

	ctx, cancel := t.ctx()
	defer cancel()

	prices, err := t.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, wrapAPIError("futures.GetMarketPrice", err)
	}
	if len(prices) == 0 {
		return 0, &APIError{Kind: KindInvalidParams, Op: "futures.GetMarketPrice",
			Err: fmt.Errorf("no price for %s", symbol)}
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", prices[0].Price, err)
	}

	t.priceMu.Lock()
	t.priceCache[symbol] = cachedPrice{price: price, at: time.Now()}
	t.priceMu.Unlock()

	return price, nil
}

// GetSymbolFilters returns the cached filters for a symbol, fetching the
// exchange info on first use.
func (t *FuturesTrader) GetSymbolFilters(symbol string) (*SymbolFilters, error) {
	t.filtersMu.RLock()
	f, ok := t.filters[symbol]
	t.filtersMu.RUnlock()
	if ok {
		return f, nil
	}

	ctx, cancel := t.ctx()
	defer cancel()

	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, wrapAPIError("futures.GetSymbolFilters", err)
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
		return nil, &APIError{Kind: KindInvalidParams, Op: "futures.GetSymbolFilters",
			Err: fmt.Errorf("unknown symbol %s", symbol)}
	}
	return f, nil
}

// GetKlines fetches recent candles.
func (t *FuturesTrader) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	ctx, cancel := t.ctx()
	defer cancel()

	raw, err := t.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, wrapAPIError("futures.GetKlines", err)
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

// PlaceLimitOrder submits one GTC limit order. Price and quantity are
// rounded to the symbol's filters and validated before the request leaves
// the process.
func (t *FuturesTrader) PlaceLimitOrder(req *LimitOrderRequest) (*LimitOrderResult, error) {
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

	side := futures.SideTypeBuy
	if req.Side == "SELL" {
		side = futures.SideTypeSell
	}
	tif := futures.TimeInForceTypeGTC
	if req.PostOnly {
		tif = futures.TimeInForceTypeGTX
	}

	svc := t.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(tif).
		Price(priceStr).
		Quantity(qtyStr)
	if req.ClientID != "" {
		svc.NewClientOrderID(req.ClientID)
	}
	if req.ReduceOnly {
		svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapAPIError("futures.PlaceLimitOrder", err)
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

// CancelOrder cancels one order by exchange ID.
func (t *FuturesTrader) CancelOrder(symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &APIError{Kind: KindInvalidParams, Op: "futures.CancelOrder",
			Err: fmt.Errorf("bad order id %q: %w", orderID, err)}
	}

	ctx, cancel := t.ctx()
	defer cancel()

	_, err = t.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return wrapAPIError("futures.CancelOrder", err)
	}
	return nil
}

// CancelAllOrders cancels every resting order for the symbol.
func (t *FuturesTrader) CancelAllOrders(symbol string) error {
	ctx, cancel := t.ctx()
	defer cancel()

	if err := t.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return wrapAPIError("futures.CancelAllOrders", err)
	}
	return nil
}

// SetLeverage sets the leverage for a symbol.
func (t *FuturesTrader) SetLeverage(symbol string, leverage int) error {
	ctx, cancel := t.ctx()
	defer cancel()

	_, err := t.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return wrapAPIError("futures.SetLeverage", err)
	}
	return nil
}

// SetStopLoss places a STOP_MARKET order closing the given position side.
func (t *FuturesTrader) SetStopLoss(symbol, positionSide string, quantity, stopPrice float64) error {
	return t.placeProtectiveOrder(symbol, positionSide, quantity, stopPrice, futures.OrderTypeStopMarket)
}

// SetTakeProfit places a TAKE_PROFIT_MARKET order closing the given
// position side.
func (t *FuturesTrader) SetTakeProfit(symbol, positionSide string, quantity, takeProfitPrice float64) error {
	return t.placeProtectiveOrder(symbol, positionSide, quantity, takeProfitPrice, futures.OrderTypeTakeProfitMarket)
}

func (t *FuturesTrader) placeProtectiveOrder(symbol, positionSide string, quantity, triggerPrice float64, orderType futures.OrderType) error {
	filters, err := t.GetSymbolFilters(symbol)
	if err != nil {
		return err
	}

	// closing a LONG sells, closing a SHORT buys
	side := futures.SideTypeSell
	if positionSide == "SHORT" {
		side = futures.SideTypeBuy
	}

	ctx, cancel := t.ctx()
	defer cancel()

	_, err = t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(orderType).
		StopPrice(filters.RoundPrice(triggerPrice)).
		Quantity(filters.RoundQuantity(quantity)).
		ReduceOnly(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return wrapAPIError("futures.placeProtectiveOrder", err)
	}
	return nil
}

// SyncTime resynchronizes the client clock offset against the server.
func (t *FuturesTrader) SyncTime() error {
	ctx, cancel := t.ctx()
	defer cancel()

	offset, err := t.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return wrapAPIError("futures.SyncTime", err)
	}
	logger.Infof("⏱️ Futures server time synced, offset %dms", offset)
	return nil
}
