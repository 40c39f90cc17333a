// Package model defines the core domain types shared across the paper engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// TxType classifies ledger transactions.
type TxType string

const (
	TxTrade         TxType = "trade"
	TxStake         TxType = "stake"
	TxUnstake       TxType = "unstake"
	TxVaultDeposit  TxType = "vault_deposit"
	TxVaultWithdraw TxType = "vault_withdraw"
	TxIntent        TxType = "intent"
	TxClaim         TxType = "claim"
)

// TxStatus is the settlement state of a transaction. Transitions are
// monotonic: pending → completed or failed, never reversed.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Asset is the latest market snapshot for one tradable instrument.
// Replaced wholesale on every feed tick; never persisted.
type Asset struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TxDetails carries optional typed context for a transaction.
type TxDetails struct {
	Leverage   int    `json:"leverage,omitempty"`
	Side       Side   `json:"side,omitempty"`
	VaultName  string `json:"vault_name,omitempty"`
	IntentName string `json:"intent_name,omitempty"`
}

// Transaction is an append-only ledger record. Every wallet balance
// mutation corresponds to exactly one Transaction.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	Type        TxType          `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Token       string          `json:"token" db:"token"`
	Status      TxStatus        `json:"status" db:"status"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	Hash        string          `json:"hash" db:"hash"`
	Description string          `json:"description" db:"description"`
	Details     *TxDetails      `json:"details,omitempty" db:"details"`
}

// Position is one open leveraged position. Entry, margin and leverage
// are fixed at creation; unrealized P&L is always derived, never stored.
type Position struct {
	ID       string          `json:"id" db:"id"`
	AssetID  string          `json:"asset_id" db:"asset_id"`
	Symbol   string          `json:"symbol" db:"symbol"`
	Side     Side            `json:"side" db:"side"`
	Entry    decimal.Decimal `json:"entry" db:"entry"`
	Size     decimal.Decimal `json:"size" db:"size"`
	Leverage int             `json:"leverage" db:"leverage"`
	Margin   decimal.Decimal `json:"margin" db:"margin"` // ledger units locked at open
	OpenedAt time.Time       `json:"opened_at" db:"opened_at"`
	TxRef    string          `json:"tx_ref" db:"tx_ref"` // hash of the originating trade transaction
}

// WalletState is the persisted shape of the wallet ledger.
type WalletState struct {
	Balance      decimal.Decimal `json:"balance"`
	Transactions []Transaction   `json:"transactions"`
}

// Portfolio aggregates the wallet and the position book for one snapshot.
// Totals are recomputed from live state on every request.
type Portfolio struct {
	Balance        decimal.Decimal `json:"balance"`
	PendingRewards decimal.Decimal `json:"pending_rewards"`
	TotalMargin    decimal.Decimal `json:"total_margin"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	OpenPositions  int             `json:"open_positions"`
	FeedStatus     string          `json:"feed_status"`
}
