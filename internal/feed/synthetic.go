package feed

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/metrics"
)

// Per-tick volatility bounds by asset. Large caps move less per tick than
// long-tail assets; everything stays inside ±0.3% per step.
var syntheticVolatility = map[string]float64{
	"bitcoin":  0.001,
	"ethereum": 0.002,
}

const defaultVolatility = 0.003

// startSynthetic switches the adapter to the random-walk generator for the
// rest of the session. The walk is seeded from the last known prices, so
// the handover from live data is seamless. Safe to call more than once.
func (a *Adapter) startSynthetic(reason string) {
	a.synthMu.Lock()
	if a.synthOn {
		a.synthMu.Unlock()
		return
	}
	a.synthOn = true
	a.synthMu.Unlock()

	a.mu.Lock()
	a.status = StatusSynthetic
	ctx := a.ctx
	a.mu.Unlock()

	slog.Warn("price feed degraded to synthetic mode", "reason", reason)
	metrics.FeedSynthetic.Set(1)

	go func() {
		ticker := time.NewTicker(a.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.syntheticTick()
			}
		}
	}()
}

// syntheticTick advances every asset one random-walk step.
func (a *Adapter) syntheticTick() {
	a.mu.RLock()
	ids := make([]string, len(a.order))
	copy(ids, a.order)
	prices := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		prices[id] = a.assets[id].Price
	}
	a.mu.RUnlock()

	for _, id := range ids {
		vol, ok := syntheticVolatility[id]
		if !ok {
			vol = defaultVolatility
		}

		// Uniform step in [-vol, +vol] around the previous price.
		step := (a.rng.Float64()*2 - 1) * vol
		next := prices[id].Mul(decimal.NewFromFloat(1 + step))
		a.applySynthetic(id, next)
	}
}
