package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// DefaultStreamURL is the Binance combined-stream endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443/stream"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnects bounds reconnection attempts before the adapter gives
	// up on the live feed for the session.
	maxReconnects = 3
)

// tickerData is the normalized form of a Binance 24h ticker message.
type tickerData struct {
	Last      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Volume    decimal.Decimal
	ChangePct decimal.Decimal
}

// tickerHandler receives parsed ticker updates keyed by asset id.
type tickerHandler func(assetID string, t tickerData)

// binanceClient is a WebSocket client for Binance combined ticker streams.
type binanceClient struct {
	baseURL string
	streams map[string]string // exchange symbol → asset id

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	reconnects int
	onTicker   tickerHandler
	onDown     func(reason string)
	downOnce   sync.Once

	done chan struct{}
}

func newBinanceClient(baseURL string, streams map[string]string, onTicker tickerHandler, onDown func(string)) *binanceClient {
	return &binanceClient{
		baseURL:  baseURL,
		streams:  streams,
		onTicker: onTicker,
		onDown:   onDown,
		done:     make(chan struct{}),
	}
}

// streamURL builds the multiplexed subscription URL, e.g.
// .../stream?streams=btcusdt@ticker/ethusdt@ticker.
func (c *binanceClient) streamURL() string {
	names := make([]string, 0, len(c.streams))
	for sym := range c.streams {
		names = append(names, strings.ToLower(sym)+"@ticker")
	}
	sort.Strings(names)
	return c.baseURL + "?streams=" + strings.Join(names, "/")
}

// connect dials the stream and starts the read and ping loops.
func (c *binanceClient) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("feed: client is closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop(ctx)
	go c.pingLoop()

	return nil
}

// close shuts down the connection and suppresses further reconnects.
func (c *binanceClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.conn.Close()
	}
}

// readLoop reads messages until the connection drops, then hands off to
// the reconnect path.
func (c *binanceClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			c.reconnect(ctx)
			return
		}

		c.handleMessage(message)
	}
}

func (c *binanceClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamEnvelope is the combined-stream wrapper: {"stream": ..., "data": ...}.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerMsg is the Binance 24h ticker payload. Prices arrive as strings,
// which decode directly into decimals without a float round-trip.
type tickerMsg struct {
	Symbol    string          `json:"s"`
	Last      decimal.Decimal `json:"c"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Volume    decimal.Decimal `json:"v"`
	ChangePct decimal.Decimal `json:"P"`
}

func (c *binanceClient) handleMessage(raw []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if !strings.HasSuffix(envelope.Stream, "@ticker") {
		return
	}

	var msg tickerMsg
	if err := json.Unmarshal(envelope.Data, &msg); err != nil {
		return
	}

	assetID, ok := c.streams[msg.Symbol]
	if !ok {
		return
	}

	c.onTicker(assetID, tickerData{
		Last:      msg.Last,
		High:      msg.High,
		Low:       msg.Low,
		Volume:    msg.Volume,
		ChangePct: msg.ChangePct,
	})
}

// reconnect retries the connection with linear backoff. Once the budget
// is exhausted the onDown callback fires exactly once and the live feed
// stays down for the rest of the session.
func (c *binanceClient) reconnect(ctx context.Context) {
	for {
		c.mu.Lock()
		c.reconnects++
		attempt := c.reconnects
		c.mu.Unlock()

		if attempt > maxReconnects {
			c.downOnce.Do(func() { c.onDown("reconnect budget exhausted") })
			return
		}

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay * time.Duration(attempt)):
		}

		// The dialer's handshake timeout bounds the attempt; ctx stays the
		// long-lived session context so the read loop outlives the dial.
		if err := c.connect(ctx); err == nil {
			c.mu.Lock()
			c.reconnects = 0
			c.mu.Unlock()
			return
		}
	}
}
