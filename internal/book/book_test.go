package book_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/book"
	"github.com/cdex/paper-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestUnrealizedPnL_Long(t *testing.T) {
	p := model.Position{Side: model.SideLong, Entry: d(100), Size: d(5)}

	// Long profits when price rises.
	if pnl := book.UnrealizedPnL(p, d(110)); !pnl.Equal(d(50)) {
		t.Errorf("expected +50, got %s", pnl)
	}
	if pnl := book.UnrealizedPnL(p, d(90)); !pnl.Equal(d(-50)) {
		t.Errorf("expected -50, got %s", pnl)
	}
	if pnl := book.UnrealizedPnL(p, d(100)); !pnl.IsZero() {
		t.Errorf("expected zero at entry, got %s", pnl)
	}
}

func TestUnrealizedPnL_Short(t *testing.T) {
	p := model.Position{Side: model.SideShort, Entry: d(100), Size: d(5)}

	// Short is the mirror image: profits when price falls.
	if pnl := book.UnrealizedPnL(p, d(90)); !pnl.Equal(d(50)) {
		t.Errorf("expected +50, got %s", pnl)
	}
	if pnl := book.UnrealizedPnL(p, d(110)); !pnl.Equal(d(-50)) {
		t.Errorf("expected -50, got %s", pnl)
	}
}

func TestUnrealizedPnL_LeverageAmplifies(t *testing.T) {
	// Same margin, 10x the size: the same price move yields 10x the P&L.
	small := model.Position{Side: model.SideLong, Entry: d(100), Size: d(1), Margin: d(100)}
	big := model.Position{Side: model.SideLong, Entry: d(100), Size: d(10), Margin: d(100)}

	pnlSmall := book.UnrealizedPnL(small, d(101))
	pnlBig := book.UnrealizedPnL(big, d(101))

	if !pnlBig.Equal(pnlSmall.Mul(d(10))) {
		t.Errorf("expected 10x amplification, got %s vs %s", pnlBig, pnlSmall)
	}
}

func TestPnLPercent(t *testing.T) {
	if pct := book.PnLPercent(d(50), d(100)); !pct.Equal(d(50)) {
		t.Errorf("expected 50%%, got %s", pct)
	}
	if pct := book.PnLPercent(d(-25), d(100)); !pct.Equal(d(-25)) {
		t.Errorf("expected -25%%, got %s", pct)
	}
	// Zero or negative margin yields zero, never a division panic.
	if pct := book.PnLPercent(d(50), decimal.Zero); !pct.IsZero() {
		t.Errorf("expected 0 for zero margin, got %s", pct)
	}
}

func TestPnL_FiveXLong(t *testing.T) {
	// Margin 200 at 5x, entry 100: size = 200*5/100 = 10.
	p := model.Position{Side: model.SideLong, Entry: d(100), Size: d(10), Leverage: 5, Margin: d(200)}

	// +10% move: pnl = 100, half the margin.
	pnl := book.UnrealizedPnL(p, d(110))
	if !pnl.Equal(d(100)) {
		t.Errorf("expected pnl 100 at 110, got %s", pnl)
	}
	if pct := book.PnLPercent(pnl, p.Margin); !pct.Equal(d(50)) {
		t.Errorf("expected 50%% of margin, got %s", pct)
	}

	// -10% move: pnl = -100, so closing returns 200 - 100 = 100.
	pnl = book.UnrealizedPnL(p, d(90))
	if !pnl.Equal(d(-100)) {
		t.Errorf("expected pnl -100 at 90, got %s", pnl)
	}
	if ret := p.Margin.Add(pnl); !ret.Equal(d(100)) {
		t.Errorf("expected return 100, got %s", ret)
	}
}

func TestOpenAndGet(t *testing.T) {
	b := book.New()

	p := b.Open("bitcoin", "BTC", model.SideLong, d(104500), d(0.01), 10, d(4000), "0xabc")

	if p.ID == "" {
		t.Error("expected assigned position id")
	}
	if p.OpenedAt.IsZero() {
		t.Error("expected assigned open timestamp")
	}

	got, ok := b.Get(p.ID)
	if !ok {
		t.Fatal("position not found after open")
	}
	if got.TxRef != "0xabc" {
		t.Errorf("expected tx ref 0xabc, got %s", got.TxRef)
	}
}

func TestClose_Idempotent(t *testing.T) {
	b := book.New()
	p := b.Open("bitcoin", "BTC", model.SideLong, d(100), d(1), 2, d(50), "0x1")

	if _, ok := b.Close(p.ID); !ok {
		t.Fatal("first close should succeed")
	}
	// A second close of the same id is a no-op.
	if _, ok := b.Close(p.ID); ok {
		t.Error("second close should report false")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty book, got %d", b.Len())
	}
}

func TestPositions_NewestFirst(t *testing.T) {
	b := book.New()
	first := b.Open("bitcoin", "BTC", model.SideLong, d(100), d(1), 1, d(10), "0x1")
	second := b.Open("ethereum", "ETH", model.SideShort, d(3450), d(1), 1, d(10), "0x2")

	out := b.Positions()
	if len(out) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(out))
	}
	if out[0].ID != second.ID || out[1].ID != first.ID {
		t.Error("expected newest-first ordering")
	}
}

func TestTotals(t *testing.T) {
	b := book.New()
	b.Open("bitcoin", "BTC", model.SideLong, d(100), d(2), 5, d(400), "0x1")
	b.Open("bitcoin", "BTC", model.SideShort, d(100), d(1), 2, d(100), "0x2")
	b.Open("ethereum", "ETH", model.SideLong, d(200), d(3), 3, d(300), "0x3")

	if !b.TotalMargin().Equal(d(800)) {
		t.Errorf("expected total margin 800, got %s", b.TotalMargin())
	}

	byAsset := b.MarginByAsset()
	if !byAsset["bitcoin"].Equal(d(500)) {
		t.Errorf("expected bitcoin margin 500, got %s", byAsset["bitcoin"])
	}
	if !byAsset["ethereum"].Equal(d(300)) {
		t.Errorf("expected ethereum margin 300, got %s", byAsset["ethereum"])
	}
}

func TestTotalUnrealizedPnL(t *testing.T) {
	b := book.New()
	b.Open("bitcoin", "BTC", model.SideLong, d(100), d(2), 5, d(400), "0x1")
	b.Open("ethereum", "ETH", model.SideShort, d(200), d(3), 3, d(300), "0x2")

	prices := map[string]decimal.Decimal{
		"bitcoin":  d(110), // long: +10 * 2 = +20
		"ethereum": d(190), // short: +10 * 3 = +30
	}
	if total := b.TotalUnrealizedPnL(prices); !total.Equal(d(50)) {
		t.Errorf("expected +50, got %s", total)
	}
}

func TestTotalUnrealizedPnL_MissingPriceFallsBackToEntry(t *testing.T) {
	b := book.New()
	b.Open("casper-network", "lsCSPR", model.SideLong, d(0.03), d(1000), 1, d(100), "0x1")

	// No price for the asset: it is valued at entry, contributing zero.
	if total := b.TotalUnrealizedPnL(map[string]decimal.Decimal{}); !total.IsZero() {
		t.Errorf("expected zero with missing price, got %s", total)
	}
}

func TestSnapshotRestore(t *testing.T) {
	b := book.New()
	p1 := b.Open("bitcoin", "BTC", model.SideLong, d(100), d(1), 2, d(50), "0x1")
	p2 := b.Open("ethereum", "ETH", model.SideShort, d(200), d(2), 3, d(75), "0x2")

	snap := b.Snapshot()

	restored := book.New()
	restored.Restore(snap)

	if restored.Len() != 2 {
		t.Fatalf("expected 2 restored positions, got %d", restored.Len())
	}
	if _, ok := restored.Get(p1.ID); !ok {
		t.Error("first position missing after restore")
	}
	got, ok := restored.Get(p2.ID)
	if !ok {
		t.Fatal("second position missing after restore")
	}
	if got.Side != model.SideShort || !got.Margin.Equal(d(75)) {
		t.Errorf("restored position mismatch: %+v", got)
	}
}
