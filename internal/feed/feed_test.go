package feed_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/feed"
	"github.com/cdex/paper-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testAssets() []model.Asset {
	return []model.Asset{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Price: d(100000), High24h: d(101000), Low24h: d(99000)},
		{ID: "casper-network", Symbol: "lsCSPR", Name: "Liquid Staked CSPR", Price: d(0.03), High24h: d(0.032), Low24h: d(0.028)},
	}
}

func TestSnapshot_CatalogOrder(t *testing.T) {
	a := feed.New(testAssets())

	snap := a.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(snap))
	}
	if snap[0].ID != "bitcoin" || snap[1].ID != "casper-network" {
		t.Error("expected catalog insertion order")
	}
}

func TestAsset(t *testing.T) {
	a := feed.New(testAssets())

	asset, ok := a.Asset("bitcoin")
	if !ok {
		t.Fatal("bitcoin not found")
	}
	if !asset.Price.Equal(d(100000)) {
		t.Errorf("expected seed price 100000, got %s", asset.Price)
	}
	if _, ok := a.Asset("dogecoin"); ok {
		t.Error("unexpected asset found")
	}
}

func TestStatus_BeforeStart(t *testing.T) {
	a := feed.New(testAssets())
	if a.Status() != feed.StatusLive {
		t.Errorf("expected live before start, got %s", a.Status())
	}
}

func TestSyntheticOnly_FlipsStatus(t *testing.T) {
	a := feed.New(testAssets(), feed.SyntheticOnly(), feed.WithTickInterval(time.Hour))
	defer a.Close()

	a.Start(context.Background())
	if a.Status() != feed.StatusSynthetic {
		t.Errorf("expected synthetic after configured start, got %s", a.Status())
	}
}

func TestSynthetic_PublishesBoundedTicks(t *testing.T) {
	a := feed.New(testAssets(),
		feed.SyntheticOnly(),
		feed.WithTickInterval(time.Millisecond),
		feed.WithRand(rand.New(rand.NewSource(7))),
	)
	defer a.Close()

	updates, cancel := a.Subscribe()
	defer cancel()

	a.Start(context.Background())

	seed := map[string]decimal.Decimal{
		"bitcoin":        d(100000),
		"casper-network": d(0.03),
	}
	// Per-tick step is bounded by the per-asset volatility (0.1% for
	// bitcoin, 0.3% default). Check the first few ticks stay in band.
	for i := 0; i < 6; i++ {
		select {
		case u := <-updates:
			prev := seed[u.AssetID]
			band := prev.Mul(d(0.003))
			if u.Price.Sub(prev).Abs().GreaterThan(band) {
				t.Errorf("tick for %s moved %s from %s, beyond band %s", u.AssetID, u.Price, prev, band)
			}
			if !u.Price.IsPositive() {
				t.Errorf("non-positive synthetic price %s", u.Price)
			}
			seed[u.AssetID] = u.Price
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for synthetic tick")
		}
	}
}

func TestSynthetic_UpdatesSnapshot(t *testing.T) {
	a := feed.New(testAssets(),
		feed.SyntheticOnly(),
		feed.WithTickInterval(time.Millisecond),
		feed.WithRand(rand.New(rand.NewSource(7))),
	)
	defer a.Close()

	updates, cancel := a.Subscribe()
	defer cancel()
	a.Start(context.Background())

	u := <-updates
	asset, ok := a.Asset(u.AssetID)
	if !ok {
		t.Fatalf("asset %s missing from snapshot", u.AssetID)
	}
	if !asset.Price.Equal(u.Price) {
		t.Errorf("snapshot price %s does not match published %s", asset.Price, u.Price)
	}
	if asset.UpdatedAt.IsZero() {
		t.Error("expected updated timestamp after tick")
	}
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	a := feed.New(testAssets(), feed.SyntheticOnly(), feed.WithTickInterval(time.Millisecond))
	defer a.Close()

	updates, cancel := a.Subscribe()
	a.Start(context.Background())

	<-updates
	cancel()

	// The channel is closed on cancel; drain until closed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestPrices(t *testing.T) {
	a := feed.New(testAssets())

	prices := a.Prices()
	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %d", len(prices))
	}
	if !prices["casper-network"].Equal(d(0.03)) {
		t.Errorf("expected 0.03, got %s", prices["casper-network"])
	}
}

func TestStart_DialFailureFallsBackToSynthetic(t *testing.T) {
	// An unreachable endpoint must degrade to synthetic mode, never error.
	a := feed.New(testAssets(),
		feed.WithURL("ws://127.0.0.1:1/stream"),
		feed.WithTickInterval(time.Hour),
	)
	defer a.Close()

	a.Start(context.Background())
	if a.Status() != feed.StatusSynthetic {
		t.Errorf("expected synthetic after dial failure, got %s", a.Status())
	}
}
