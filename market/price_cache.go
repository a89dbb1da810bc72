package market

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"gridbot/logger"
)

// markPriceEvent is the futures markPrice stream payload.
type markPriceEvent struct {
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

type pricePoint struct {
	price float64
	at    time.Time
}

// PriceCache holds the latest streamed mark price per symbol. Reads are
// lock-cheap; entries older than the staleness window are treated as
// missing so callers fall back to a REST query.
type PriceCache struct {
	client    *CombinedStreamsClient
	staleness time.Duration

	mu     sync.RWMutex
	prices map[string]pricePoint

	wg   sync.WaitGroup
	done chan struct{}
}

// NewPriceCache builds a cache over an already connected stream client.
func NewPriceCache(client *CombinedStreamsClient, staleness time.Duration) *PriceCache {
	return &PriceCache{
		client:    client,
		staleness: staleness,
		prices:    make(map[string]pricePoint),
		done:      make(chan struct{}),
	}
}

// Start subscribes to mark price streams for the symbols and begins
// consuming updates.
func (p *PriceCache) Start(symbols []string) error {
	if err := p.client.SubscribeMarkPrices(symbols); err != nil {
		return err
	}
	for _, symbol := range symbols {
		ch := p.client.AddSubscriber(markPriceStream(symbol), 16)
		p.wg.Add(1)
		go p.consume(ch)
	}
	logger.Infof("📡 Price cache streaming %d symbols", len(symbols))
	return nil
}

func (p *PriceCache) consume(ch <-chan []byte) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			p.apply(raw)
		}
	}
}

func (p *PriceCache) apply(raw []byte) {
	var ev markPriceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		logger.Debugf("Failed to parse mark price event: %v", err)
		return
	}
	price, err := strconv.ParseFloat(ev.MarkPrice, 64)
	if err != nil || price <= 0 {
		return
	}

	p.mu.Lock()
	p.prices[ev.Symbol] = pricePoint{price: price, at: time.Now()}
	p.mu.Unlock()
}

// Get returns the latest price for a symbol and whether it is fresh
// enough to use.
func (p *PriceCache) Get(symbol string) (float64, bool) {
	p.mu.RLock()
	point, ok := p.prices[symbol]
	p.mu.RUnlock()

	if !ok || time.Since(point.at) > p.staleness {
		return 0, false
	}
	return point.price, true
}

// All returns every fresh price keyed by symbol.
func (p *PriceCache) All() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]float64, len(p.prices))
	for symbol, point := range p.prices {
		if time.Since(point.at) <= p.staleness {
			out[symbol] = point.price
		}
	}
	return out
}

func (p *PriceCache) Stop() {
	close(p.done)
	p.wg.Wait()
}
