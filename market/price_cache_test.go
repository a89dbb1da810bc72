package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriceCache_ApplyAndGet(t *testing.T) {
	p := NewPriceCache(nil, 10*time.Second)

	p.apply([]byte(`{"s":"BTCUSDT","p":"45123.45","E":1700000000000}`))

	price, ok := p.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 45123.45, price)

	_, ok = p.Get("ETHUSDT")
	assert.False(t, ok, "unknown symbol has no price")
}

func TestPriceCache_StaleEntriesAreMissing(t *testing.T) {
	p := NewPriceCache(nil, 50*time.Millisecond)

	p.apply([]byte(`{"s":"BTCUSDT","p":"45000"}`))
	time.Sleep(60 * time.Millisecond)

	_, ok := p.Get("BTCUSDT")
	assert.False(t, ok, "entries past the staleness window are dropped")
	assert.Empty(t, p.All())
}

func TestPriceCache_IgnoresMalformedEvents(t *testing.T) {
	p := NewPriceCache(nil, time.Second)

	p.apply([]byte(`not json`))
	p.apply([]byte(`{"s":"BTCUSDT","p":"zero"}`))
	p.apply([]byte(`{"s":"BTCUSDT","p":"-1"}`))

	_, ok := p.Get("BTCUSDT")
	assert.False(t, ok)
}
