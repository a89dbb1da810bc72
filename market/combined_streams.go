// Package market provides live price data over Binance combined
// websocket streams, with a staleness-aware cache in front.
package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridbot/logger"
)

const combinedStreamURL = "wss://fstream.binance.com/stream"

// CombinedStreamsClient multiplexes many symbol streams over one
// websocket connection. Subscriptions go out in batches to stay under
// the exchange's per-message limits.
type CombinedStreamsClient struct {
	conn        *websocket.Conn
	mu          sync.RWMutex
	subscribers map[string]chan []byte
	reconnect   bool
	done        chan struct{}
	batchSize   int
}

func NewCombinedStreamsClient(batchSize int) *CombinedStreamsClient {
	return &CombinedStreamsClient{
		subscribers: make(map[string]chan []byte),
		reconnect:   true,
		done:        make(chan struct{}),
		batchSize:   batchSize,
	}
}

func (c *CombinedStreamsClient) Connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(combinedStreamURL, nil)
	if err != nil {
		return fmt.Errorf("combined stream connection failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	logger.Info("📡 Combined stream connected")
	go c.readMessages()

	return nil
}

// SubscribeMarkPrices subscribes to 1s mark price updates for the given
// symbols, in batches.
func (c *CombinedStreamsClient) SubscribeMarkPrices(symbols []string) error {
	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = markPriceStream(symbol)
	}
	return c.batchSubscribe(streams)
}

func markPriceStream(symbol string) string {
	return strings.ToLower(symbol) + "@markPrice@1s"
}

func (c *CombinedStreamsClient) batchSubscribe(streams []string) error {
	for i := 0; i < len(streams); i += c.batchSize {
		end := i + c.batchSize
		if end > len(streams) {
			end = len(streams)
		}
		batch := streams[i:end]

		if err := c.subscribeStreams(batch); err != nil {
			return fmt.Errorf("batch subscription failed: %w", err)
		}
		if end < len(streams) {
			// delay between batches to avoid rate limiting
			time.Sleep(100 * time.Millisecond)
		}
	}
	return nil
}

func (c *CombinedStreamsClient) subscribeStreams(streams []string) error {
	subscribeMsg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	logger.Debugf("📡 Subscribing to streams: %v", streams)
	return c.conn.WriteJSON(subscribeMsg)
}

func (c *CombinedStreamsClient) readMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				time.Sleep(1 * time.Second)
				continue
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				logger.Warnf("⚠️ Failed to read combined stream message: %v", err)
				c.handleReconnect()
				return
			}

			c.dispatch(message)
		}
	}
}

func (c *CombinedStreamsClient) dispatch(message []byte) {
	var combinedMsg struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(message, &combinedMsg); err != nil {
		logger.Warnf("⚠️ Failed to parse combined message: %v", err)
		return
	}

	c.mu.RLock()
	ch, exists := c.subscribers[combinedMsg.Stream]
	c.mu.RUnlock()

	if exists {
		select {
		case ch <- combinedMsg.Data:
		default:
			logger.Debugf("Subscriber channel is full: %s", combinedMsg.Stream)
		}
	}
}

// AddSubscriber registers a buffered channel receiving raw payloads for
// one stream. Slow consumers drop messages rather than block the reader.
func (c *CombinedStreamsClient) AddSubscriber(stream string, bufferSize int) <-chan []byte {
	ch := make(chan []byte, bufferSize)
	c.mu.Lock()
	c.subscribers[stream] = ch
	c.mu.Unlock()
	return ch
}

func (c *CombinedStreamsClient) handleReconnect() {
	if !c.reconnect {
		return
	}

	logger.Warn("📡 Combined stream attempting to reconnect...")
	time.Sleep(3 * time.Second)

	if err := c.Connect(); err != nil {
		logger.Errorf("❌ Combined stream reconnection failed: %v", err)
		go c.handleReconnect()
	}
}

func (c *CombinedStreamsClient) Close() {
	c.reconnect = false
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	for stream, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, stream)
	}
}
