// Package engine coordinates the wallet ledger and the position book.
//
// It is the only component permitted to mutate both stores for a single
// user action: opening a position debits margin and creates the position
// as one unit of work, closing settles realized P&L back to the ledger and
// removes it. The wallet and the book share no mutable state; the engine's
// mutex serializes every unit of work so an affordability check is always
// followed immediately by its debit.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/book"
	"github.com/cdex/paper-engine/internal/feed"
	"github.com/cdex/paper-engine/internal/metrics"
	"github.com/cdex/paper-engine/internal/model"
	"github.com/cdex/paper-engine/internal/risk"
	"github.com/cdex/paper-engine/internal/store"
	"github.com/cdex/paper-engine/internal/wallet"
)

var (
	// ErrPositionNotFound is returned when closing an unknown or already
	// closed position. Callers treat it as a benign no-op.
	ErrPositionNotFound = errors.New("engine: position not found")

	// ErrUnknownAsset is returned when the asset id is not in the catalog.
	ErrUnknownAsset = errors.New("engine: unknown asset")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrInsufficientStake is returned when unstaking more than is staked.
	ErrInsufficientStake = errors.New("engine: insufficient staked amount")

	// ErrInsufficientVault is returned when withdrawing more than a vault holds.
	ErrInsufficientVault = errors.New("engine: insufficient vault balance")

	// ErrNoRewards is returned by ClaimRewards when nothing has accrued.
	ErrNoRewards = errors.New("engine: no rewards to claim")
)

// usdPerUnit is the fixed exchange rate between display USD and ledger
// units: one unit is priced at $0.025.
var usdPerUnit = decimal.NewFromFloat(0.025)

// feeRate is the taker fee applied to the USD amount on open (0.03%).
var feeRate = decimal.NewFromFloat(0.0003)

// rewardRatePerMin is the staking yield accrued per minute (0.01%, ~5% APY).
var rewardRatePerMin = decimal.NewFromFloat(0.0001)

// MarketData is the engine's read-only view of the price feed.
type MarketData interface {
	Asset(id string) (model.Asset, bool)
	Prices() map[string]decimal.Decimal
	Status() feed.Status
}

// PositionView is an open position with its derived mark-price fields.
// P&L percent is margin-relative: leverage amplifies it proportionally to
// the risk taken.
type PositionView struct {
	model.Position
	MarkPrice        decimal.Decimal `json:"mark_price"`
	UnrealizedPnLUSD decimal.Decimal `json:"unrealized_pnl_usd"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"` // ledger units
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
}

// CloseResult reports the settlement of a closed position.
type CloseResult struct {
	Position     model.Position    `json:"position"`
	RealizedPnL  decimal.Decimal   `json:"realized_pnl"` // ledger units, floored at -margin
	ReturnAmount decimal.Decimal   `json:"return_amount"`
	Transaction  model.Transaction `json:"transaction"`
}

// Engine is the reconciliation engine.
type Engine struct {
	mu      sync.Mutex
	ledger  *wallet.Ledger
	book    *book.Book
	limiter *risk.Limiter
	st      store.Store
	market  MarketData

	// Derived balances recomputed from the transaction log on restore.
	staked         decimal.Decimal
	vaults         map[string]decimal.Decimal
	pendingRewards decimal.Decimal

	accrualCancel context.CancelFunc
}

// New creates an engine over its collaborators and installs the
// write-through persistence hook on the ledger.
func New(ledger *wallet.Ledger, bk *book.Book, limiter *risk.Limiter, st store.Store, market MarketData) *Engine {
	e := &Engine{
		ledger:  ledger,
		book:    bk,
		limiter: limiter,
		st:      st,
		market:  market,
		vaults:  make(map[string]decimal.Decimal),
	}
	ledger.SetOnChange(e.persistWallet)
	return e
}

// Load restores wallet and position state from the persistence adapter.
// Missing or corrupt stored state yields empty stores, never an error.
func (e *Engine) Load(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.st.LoadWallet(ctx)
	if err != nil {
		slog.Warn("wallet state unavailable, starting empty", "err", err)
		state = model.WalletState{}
	}
	// A zero-value state means nothing was ever persisted; keep the
	// configured starting balance instead of restoring an empty wallet.
	if len(state.Transactions) > 0 || !state.Balance.IsZero() {
		e.ledger.Restore(state)
	}

	positions, err := e.st.LoadPositions(ctx)
	if err != nil {
		slog.Warn("position state unavailable, starting empty", "err", err)
		positions = nil
	}
	e.book.Restore(positions)

	// Staked and vault balances are derived from the transaction log, not
	// persisted separately.
	e.staked = decimal.Zero
	e.vaults = make(map[string]decimal.Decimal)
	for _, tx := range state.Transactions {
		switch tx.Type {
		case model.TxStake:
			e.staked = e.staked.Add(tx.Amount)
		case model.TxUnstake:
			e.staked = e.staked.Sub(tx.Amount)
		case model.TxVaultDeposit:
			if tx.Details != nil {
				e.vaults[tx.Details.VaultName] = e.vaults[tx.Details.VaultName].Add(tx.Amount)
			}
		case model.TxVaultWithdraw:
			if tx.Details != nil {
				e.vaults[tx.Details.VaultName] = e.vaults[tx.Details.VaultName].Sub(tx.Amount)
			}
		}
	}

	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	metrics.OpenPositions.Set(float64(e.book.Len()))

	slog.Info("state restored",
		"balance", e.ledger.Balance().String(),
		"transactions", len(state.Transactions),
		"positions", len(positions),
		"staked", e.staked.String(),
	)
}

// OpenPosition opens a leveraged position at the given mark price as one
// unit of work: affordability check, margin debit, trade transaction and
// position creation. A rejected open leaves both stores untouched.
//
// amountUSD is the USD notional the trader commits; the ledger is debited
// its unit equivalent plus the taker fee, and that whole debit is the
// position's margin. Size is amountUSD·leverage/price in the underlying.
func (e *Engine) OpenPosition(ctx context.Context, assetID string, side model.Side, amountUSD decimal.Decimal, leverage int, price decimal.Decimal) (model.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !side.Valid() {
		return model.Position{}, fmt.Errorf("engine: invalid side %q", side)
	}
	if !amountUSD.IsPositive() || !price.IsPositive() {
		return model.Position{}, ErrInvalidAmount
	}
	asset, ok := e.market.Asset(assetID)
	if !ok {
		return model.Position{}, ErrUnknownAsset
	}

	// USD → ledger units at the fixed rate, plus the taker fee. The full
	// debit is locked as margin.
	margin := amountUSD.Add(amountUSD.Mul(feeRate)).Div(usdPerUnit)

	if err := e.limiter.Check(assetID, margin, leverage, e.book.MarginByAsset()); err != nil {
		metrics.TradesRejected.WithLabelValues("risk_limit").Inc()
		return model.Position{}, err
	}

	// Check-then-debit happens under the engine mutex: no other unit of
	// work can observe the balance in between.
	if err := e.ledger.Debit(margin); err != nil {
		metrics.TradesRejected.WithLabelValues("insufficient_balance").Inc()
		return model.Position{}, err
	}

	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxTrade,
		Amount:      margin,
		Description: fmt.Sprintf("%s %s @ $%s with %dx leverage", strings.ToUpper(string(side)), asset.Symbol, price.StringFixed(2), leverage),
		Details:     &model.TxDetails{Leverage: leverage, Side: side},
	})

	size := amountUSD.Mul(decimal.NewFromInt(int64(leverage))).Div(price)
	p := e.book.Open(assetID, asset.Symbol, side, price, size, leverage, margin, tx.Hash)

	e.persistPositions(ctx)
	metrics.PositionsOpened.WithLabelValues(string(side)).Inc()
	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	metrics.OpenPositions.Set(float64(e.book.Len()))

	slog.Info("position opened",
		"id", p.ID,
		"asset", assetID,
		"side", side,
		"entry", price.String(),
		"size", size.String(),
		"leverage", leverage,
		"margin", margin.String(),
	)
	return p, nil
}

// ClosePosition settles a position at the given mark price. Realized P&L
// is floored at -margin — a trader never loses more than the margin
// posted. The settlement transaction is appended before the ledger credit
// so the audit trail always explains the balance change. Closing an
// unknown id mutates nothing.
func (e *Engine) ClosePosition(ctx context.Context, id string, price decimal.Decimal) (CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.book.Get(id)
	if !ok {
		return CloseResult{}, ErrPositionNotFound
	}

	pnlUSD := book.UnrealizedPnL(p, price)
	pnl := pnlUSD.Div(usdPerUnit)
	if pnl.LessThan(p.Margin.Neg()) {
		pnl = p.Margin.Neg()
		pnlUSD = pnl.Mul(usdPerUnit)
	}
	returnAmount := p.Margin.Add(pnl)

	outcome := "Profit"
	if pnlUSD.IsNegative() {
		outcome = "Loss"
	}
	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxTrade,
		Amount:      returnAmount,
		Description: fmt.Sprintf("Closed %s %s position - %s: $%s", strings.ToUpper(string(p.Side)), p.Symbol, outcome, pnlUSD.Abs().StringFixed(2)),
		Details:     &model.TxDetails{Leverage: p.Leverage, Side: p.Side},
	})
	if returnAmount.IsPositive() {
		e.ledger.Credit(returnAmount)
	}
	e.book.Close(id)

	e.persistPositions(ctx)
	if pnl.IsNegative() {
		metrics.PositionsClosed.WithLabelValues("loss").Inc()
	} else {
		metrics.PositionsClosed.WithLabelValues("profit").Inc()
	}
	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	metrics.OpenPositions.Set(float64(e.book.Len()))

	slog.Info("position closed",
		"id", id,
		"asset", p.AssetID,
		"exit", price.String(),
		"realized_pnl", pnl.String(),
		"returned", returnAmount.String(),
	)
	return CloseResult{Position: p, RealizedPnL: pnl, ReturnAmount: returnAmount, Transaction: tx}, nil
}

// Positions returns the open positions with derived P&L at current marks.
// An asset momentarily absent from the feed is valued at its entry price.
func (e *Engine) Positions() []PositionView {
	prices := e.market.Prices()

	var out []PositionView
	for _, p := range e.book.Positions() {
		price, ok := prices[p.AssetID]
		if !ok {
			price = p.Entry
		}
		pnlUSD := book.UnrealizedPnL(p, price)
		pnl := pnlUSD.Div(usdPerUnit)
		out = append(out, PositionView{
			Position:         p,
			MarkPrice:        price,
			UnrealizedPnLUSD: pnlUSD,
			UnrealizedPnL:    pnl,
			UnrealizedPnLPct: book.PnLPercent(pnl, p.Margin),
		})
	}
	return out
}

// Portfolio aggregates wallet and book state at current marks.
func (e *Engine) Portfolio() model.Portfolio {
	e.mu.Lock()
	pending := e.pendingRewards
	e.mu.Unlock()

	pnlUSD := e.book.TotalUnrealizedPnL(e.market.Prices())
	return model.Portfolio{
		Balance:        e.ledger.Balance(),
		PendingRewards: pending,
		TotalMargin:    e.book.TotalMargin(),
		UnrealizedPnL:  pnlUSD.Div(usdPerUnit),
		OpenPositions:  e.book.Len(),
		FeedStatus:     string(e.market.Status()),
	}
}

// Transactions returns the ledger history newest-first.
func (e *Engine) Transactions() []model.Transaction {
	return e.ledger.Transactions()
}

// Balance returns the spendable wallet balance.
func (e *Engine) Balance() decimal.Decimal {
	return e.ledger.Balance()
}

// Staked returns the amount currently staked.
func (e *Engine) Staked() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staked
}

// PendingRewards returns the accrued, unclaimed staking rewards.
func (e *Engine) PendingRewards() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingRewards
}

// VaultBalance returns the amount deposited in a named vault.
func (e *Engine) VaultBalance(name string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vaults[name]
}

// persistWallet writes through the wallet state after every ledger
// mutation, including asynchronous settlement transitions.
func (e *Engine) persistWallet() {
	if err := e.st.SaveWallet(context.Background(), e.ledger.Snapshot()); err != nil {
		slog.Error("wallet persistence failed", "err", err)
	}
}

func (e *Engine) persistPositions(ctx context.Context) {
	if err := e.st.SavePositions(ctx, e.book.Snapshot()); err != nil {
		slog.Error("position persistence failed", "err", err)
	}
}
