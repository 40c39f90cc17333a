package store

import (
	"context"
	"sync"

	"github.com/cdex/paper-engine/internal/model"
)

// MemoryStore implements Store with in-memory copies. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	wallet    model.WalletState
	hasWallet bool
	positions []model.Position
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveWallet(_ context.Context, state model.WalletState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	txs := make([]model.Transaction, len(state.Transactions))
	copy(txs, state.Transactions)
	s.wallet = model.WalletState{Balance: state.Balance, Transactions: txs}
	s.hasWallet = true
	return nil
}

func (s *MemoryStore) LoadWallet(_ context.Context) (model.WalletState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasWallet {
		return model.WalletState{}, nil
	}
	txs := make([]model.Transaction, len(s.wallet.Transactions))
	copy(txs, s.wallet.Transactions)
	return model.WalletState{Balance: s.wallet.Balance, Transactions: txs}, nil
}

func (s *MemoryStore) SavePositions(_ context.Context, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions = make([]model.Position, len(positions))
	copy(s.positions, positions)
	return nil
}

func (s *MemoryStore) LoadPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Position, len(s.positions))
	copy(out, s.positions)
	return out, nil
}
