// Package feed normalizes streaming market data into a canonical per-asset
// price snapshot and a subscription stream of price updates.
//
// The adapter prefers a live exchange WebSocket feed. When the connection
// cannot be established or is lost beyond the reconnect budget, it switches
// to a synthetic random-walk generator for the rest of the session, seeded
// from the last known live prices. The degraded mode is an explicit,
// observable state — callers read it via Status — but it is never surfaced
// as an error: showing a live-feeling price beats exposing a feed outage.
package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/metrics"
	"github.com/cdex/paper-engine/internal/model"
)

// Status reports which source is producing price updates.
type Status string

const (
	StatusLive      Status = "live"
	StatusSynthetic Status = "synthetic"
)

// PriceUpdate is one canonical feed event.
type PriceUpdate struct {
	AssetID   string          `json:"asset_id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// liveSymbols maps asset ids to exchange stream symbols. lsCSPR has no
// listed stream; it only moves while the synthetic generator runs.
var liveSymbols = map[string]string{
	"bitcoin":     "BTCUSDT",
	"ethereum":    "ETHUSDT",
	"solana":      "SOLUSDT",
	"avalanche-2": "AVAXUSDT",
}

// DefaultAssets is the fixed instrument catalog with seed prices used
// until the first feed tick arrives.
func DefaultAssets() []model.Asset {
	d := decimal.NewFromFloat
	return []model.Asset{
		{ID: "casper-network", Symbol: "lsCSPR", Name: "Liquid Staked CSPR", Price: d(0.0312), Change24h: d(5.2), High24h: d(0.0335), Low24h: d(0.0295), Volume24h: d(12400000)},
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Price: d(104500), Change24h: d(-0.8), High24h: d(106000), Low24h: d(103200), Volume24h: d(1200000000)},
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", Price: d(3450), Change24h: d(2.1), High24h: d(3520), Low24h: d(3380), Volume24h: d(847200000)},
		{ID: "solana", Symbol: "SOL", Name: "Solana", Price: d(220.5), Change24h: d(4.5), High24h: d(228), Low24h: d(210), Volume24h: d(234500000)},
		{ID: "avalanche-2", Symbol: "AVAX", Name: "Avalanche", Price: d(52.3), Change24h: d(3.2), High24h: d(54), Low24h: d(50), Volume24h: d(89200000)},
	}
}

// Adapter is the price feed adapter. It owns the latest asset snapshot and
// fans updates out to subscribers. It never touches the wallet or the
// position book.
type Adapter struct {
	mu      sync.RWMutex
	assets  map[string]model.Asset
	order   []string
	status  Status
	subs    map[int]chan PriceUpdate
	nextSub int

	wsURL         string
	syntheticOnly bool
	tickInterval  time.Duration
	rng           *rand.Rand
	now           func() time.Time

	client *binanceClient

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	synthMu sync.Mutex
	synthOn bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithURL overrides the exchange WebSocket endpoint.
func WithURL(url string) Option {
	return func(a *Adapter) { a.wsURL = url }
}

// SyntheticOnly skips the live connection entirely.
func SyntheticOnly() Option {
	return func(a *Adapter) { a.syntheticOnly = true }
}

// WithTickInterval overrides the synthetic generator cadence.
func WithTickInterval(d time.Duration) Option {
	return func(a *Adapter) { a.tickInterval = d }
}

// WithRand substitutes the randomness source driving the synthetic walk,
// so deterministic tests can fix the seed.
func WithRand(rng *rand.Rand) Option {
	return func(a *Adapter) { a.rng = rng }
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New creates an adapter over the given asset catalog.
func New(assets []model.Asset, opts ...Option) *Adapter {
	a := &Adapter{
		assets:       make(map[string]model.Asset, len(assets)),
		status:       StatusLive,
		subs:         make(map[int]chan PriceUpdate),
		wsURL:        DefaultStreamURL,
		tickInterval: 2 * time.Second,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
	}
	for _, asset := range assets {
		a.assets[asset.ID] = asset
		a.order = append(a.order, asset.ID)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins producing price updates. In live mode it dials the exchange
// stream; a failed dial or an exhausted reconnect budget flips the adapter
// to synthetic mode for the rest of the session. Start never returns a
// feed error to the caller.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if a.syntheticOnly {
		a.startSynthetic("configured")
		return
	}

	streams := make(map[string]string, len(liveSymbols)) // exchange symbol → asset id
	for assetID, sym := range liveSymbols {
		if _, ok := a.assets[assetID]; ok {
			streams[sym] = assetID
		}
	}

	a.client = newBinanceClient(a.wsURL, streams, a.onLiveTicker, func(reason string) {
		a.startSynthetic(reason)
	})
	if err := a.client.connect(a.ctx); err != nil {
		slog.Warn("live feed unavailable", "err", err)
		a.startSynthetic("dial failed")
	}
}

// Close tears down the live connection, the synthetic generator and all
// subscriber channels.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	client := a.client
	for id, ch := range a.subs {
		close(ch)
		delete(a.subs, id)
	}
	a.mu.Unlock()

	if client != nil {
		client.close()
	}
}

// Status reports the current source of price updates.
func (a *Adapter) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Subscribe returns a channel of price updates and a cancel function.
// Slow subscribers drop ticks rather than blocking the feed.
func (a *Adapter) Subscribe() (<-chan PriceUpdate, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan PriceUpdate, 64)
	a.subs[id] = ch

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if ch, ok := a.subs[id]; ok {
			close(ch)
			delete(a.subs, id)
		}
	}
	return ch, cancel
}

// Asset returns the latest snapshot for one asset.
func (a *Adapter) Asset(id string) (model.Asset, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	asset, ok := a.assets[id]
	return asset, ok
}

// Snapshot returns the latest snapshot for all assets in catalog order.
func (a *Adapter) Snapshot() []model.Asset {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.Asset, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.assets[id])
	}
	return out
}

// Prices returns the latest price per asset id.
func (a *Adapter) Prices() map[string]decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(a.assets))
	for id, asset := range a.assets {
		out[id] = asset.Price
	}
	return out
}

// onLiveTicker applies one exchange ticker message.
func (a *Adapter) onLiveTicker(assetID string, t tickerData) {
	a.mu.Lock()
	asset, ok := a.assets[assetID]
	if !ok {
		a.mu.Unlock()
		return
	}
	asset.Price = t.Last
	asset.High24h = t.High
	asset.Low24h = t.Low
	asset.Volume24h = t.Volume
	asset.Change24h = t.ChangePct
	asset.UpdatedAt = a.now().UTC()
	a.assets[assetID] = asset
	update := PriceUpdate{AssetID: assetID, Symbol: asset.Symbol, Price: asset.Price, Timestamp: asset.UpdatedAt}
	a.mu.Unlock()

	metrics.FeedTicks.WithLabelValues(string(StatusLive)).Inc()
	a.publish(update)
}

// applySynthetic applies one random-walk tick for an asset.
func (a *Adapter) applySynthetic(assetID string, price decimal.Decimal) {
	a.mu.Lock()
	asset, ok := a.assets[assetID]
	if !ok {
		a.mu.Unlock()
		return
	}
	prev := asset.Price
	asset.Price = price
	if price.GreaterThan(asset.High24h) {
		asset.High24h = price
	}
	if price.LessThan(asset.Low24h) {
		asset.Low24h = price
	}
	if prev.IsPositive() {
		step := price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
		asset.Change24h = asset.Change24h.Add(step.Mul(decimal.NewFromFloat(0.1)))
	}
	asset.UpdatedAt = a.now().UTC()
	a.assets[assetID] = asset
	update := PriceUpdate{AssetID: assetID, Symbol: asset.Symbol, Price: price, Timestamp: asset.UpdatedAt}
	a.mu.Unlock()

	metrics.FeedTicks.WithLabelValues(string(StatusSynthetic)).Inc()
	a.publish(update)
}

func (a *Adapter) publish(u PriceUpdate) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ch := range a.subs {
		select {
		case ch <- u:
		default:
			// Drop the tick for slow subscribers; the next one supersedes it.
		}
	}
}
