package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cdex/paper-engine/internal/model"
)

const (
	walletKey    = "paper:wallet"
	positionsKey = "paper:positions"
)

// CachedStore wraps a primary Store with a Redis cache. Writes go through
// to the primary and refresh the cache; reads check Redis first and fall
// back to the primary. A corrupt cached payload is treated as a miss.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveWallet(ctx context.Context, state model.WalletState) error {
	if err := s.primary.SaveWallet(ctx, state); err != nil {
		return err
	}
	s.cache(ctx, walletKey, state)
	return nil
}

func (s *CachedStore) LoadWallet(ctx context.Context) (model.WalletState, error) {
	data, err := s.rdb.Get(ctx, walletKey).Bytes()
	if err == nil {
		var state model.WalletState
		if json.Unmarshal(data, &state) == nil {
			return state, nil
		}
	}

	// Cache miss: read from primary.
	state, err := s.primary.LoadWallet(ctx)
	if err != nil {
		return model.WalletState{}, err
	}

	s.cache(ctx, walletKey, state)
	return state, nil
}

func (s *CachedStore) SavePositions(ctx context.Context, positions []model.Position) error {
	if err := s.primary.SavePositions(ctx, positions); err != nil {
		return err
	}
	s.cache(ctx, positionsKey, positions)
	return nil
}

func (s *CachedStore) LoadPositions(ctx context.Context) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.LoadPositions(ctx)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, positionsKey, positions)
	return positions, nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}
