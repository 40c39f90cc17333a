// Package book owns the set of open leveraged positions and the P&L math
// derived from them. The book performs no balance validation — affordability
// is the engine's responsibility before a position is opened.
package book

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/model"
)

// UnrealizedPnL computes mark-to-market P&L for one position at the given
// price. Long profits when price rises above entry, short when it falls.
func UnrealizedPnL(p model.Position, price decimal.Decimal) decimal.Decimal {
	if p.Side == model.SideShort {
		return p.Entry.Sub(price).Mul(p.Size)
	}
	return price.Sub(p.Entry).Mul(p.Size)
}

// PnLPercent expresses P&L relative to the margin posted, not notional,
// so leverage amplifies the displayed percentage proportionally to the
// risk taken.
func PnLPercent(pnl, margin decimal.Decimal) decimal.Decimal {
	if !margin.IsPositive() {
		return decimal.Zero
	}
	return pnl.Div(margin).Mul(decimal.NewFromInt(100))
}

// Book is the in-memory set of open positions. A position's lifecycle is
// OPEN → CLOSED (terminal); there is no partial close and no mutation of
// entry, margin or leverage after creation.
type Book struct {
	mu        sync.RWMutex
	positions []model.Position // insertion order, oldest first
	now       func() time.Time
}

// Option configures a Book.
type Option func(*Book)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// New creates an empty position book.
func New(opts ...Option) *Book {
	b := &Book{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open appends a new position, assigning its id and open timestamp.
func (b *Book) Open(assetID, symbol string, side model.Side, entry, size decimal.Decimal, leverage int, margin decimal.Decimal, txRef string) model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := model.Position{
		ID:       uuid.New().String(),
		AssetID:  assetID,
		Symbol:   symbol,
		Side:     side,
		Entry:    entry,
		Size:     size,
		Leverage: leverage,
		Margin:   margin,
		OpenedAt: b.now().UTC(),
		TxRef:    txRef,
	}
	b.positions = append(b.positions, p)
	return p
}

// Close removes and returns the position. Closing an unknown or already
// closed id reports false and changes nothing, so repeated calls with the
// same id are safe no-ops.
func (b *Book) Close(id string) (model.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, p := range b.positions {
		if p.ID == id {
			b.positions = append(b.positions[:i], b.positions[i+1:]...)
			return p, true
		}
	}
	return model.Position{}, false
}

// Get returns the open position with the given id.
func (b *Book) Get(id string) (model.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, p := range b.positions {
		if p.ID == id {
			return p, true
		}
	}
	return model.Position{}, false
}

// Positions returns the open positions newest-first.
func (b *Book) Positions() []model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Position, len(b.positions))
	for i, p := range b.positions {
		out[len(b.positions)-1-i] = p
	}
	return out
}

// Len reports the number of open positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// TotalMargin sums the margin locked across open positions. Derived,
// never persisted independently.
func (b *Book) TotalMargin() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.Margin)
	}
	return total
}

// MarginByAsset sums the margin locked per asset id.
func (b *Book) MarginByAsset() map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]decimal.Decimal)
	for _, p := range b.positions {
		out[p.AssetID] = out[p.AssetID].Add(p.Margin)
	}
	return out
}

// TotalUnrealizedPnL sums mark-to-market P&L across all open positions
// using prices keyed by asset id. An asset momentarily absent from the
// feed is valued at its entry price — no movement rather than an error.
func (b *Book) TotalUnrealizedPnL(prices map[string]decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := decimal.Zero
	for _, p := range b.positions {
		price, ok := prices[p.AssetID]
		if !ok {
			price = p.Entry
		}
		total = total.Add(UnrealizedPnL(p, price))
	}
	return total
}

// Snapshot returns the persistable position list in insertion order.
func (b *Book) Snapshot() []model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Position, len(b.positions))
	copy(out, b.positions)
	return out
}

// Restore replaces the book's contents, typically at startup.
func (b *Book) Restore(positions []model.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = make([]model.Position, len(positions))
	copy(b.positions, positions)
}
