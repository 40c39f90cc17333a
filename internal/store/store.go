// Package store defines the persistence interface for the paper engine.
// Implementations include a local JSON file store (the default), PostgreSQL,
// Redis (read-through cache wrapper), and in-memory (for testing).
package store

import (
	"context"

	"github.com/cdex/paper-engine/internal/model"
)

// Store persists the wallet ledger and the position book as two
// independently loadable records. Loading missing state returns an empty
// value, not an error; corrupt stored state is discarded the same way so
// startup never fails on bad data.
type Store interface {
	// SaveWallet persists the full wallet state (balance + transaction log).
	SaveWallet(ctx context.Context, state model.WalletState) error

	// LoadWallet restores the wallet state. Absent → zero-value state.
	LoadWallet(ctx context.Context) (model.WalletState, error)

	// SavePositions persists the open position set.
	SavePositions(ctx context.Context, positions []model.Position) error

	// LoadPositions restores the open position set. Absent → empty.
	LoadPositions(ctx context.Context) ([]model.Position, error)
}
