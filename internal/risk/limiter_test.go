package risk_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/risk"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheck_WithinLimits(t *testing.T) {
	l := risk.NewLimiter(50, d(1000), d(5000))

	err := l.Check("bitcoin", d(500), 10, nil)
	if err != nil {
		t.Errorf("expected trade within limits to pass, got %v", err)
	}
}

func TestCheck_LeverageRange(t *testing.T) {
	l := risk.NewLimiter(50, d(1000), d(5000))

	if err := l.Check("bitcoin", d(1), 51, nil); err != risk.ErrLeverageExceeded {
		t.Errorf("expected ErrLeverageExceeded above max, got %v", err)
	}
	if err := l.Check("bitcoin", d(1), 0, nil); err != risk.ErrLeverageExceeded {
		t.Errorf("expected ErrLeverageExceeded below 1, got %v", err)
	}
	if err := l.Check("bitcoin", d(1), 50, nil); err != nil {
		t.Errorf("expected max leverage to pass, got %v", err)
	}
	if err := l.Check("bitcoin", d(1), 1, nil); err != nil {
		t.Errorf("expected 1x to pass, got %v", err)
	}
}

func TestCheck_PerAssetLimit(t *testing.T) {
	l := risk.NewLimiter(50, d(1000), d(5000))
	existing := map[string]decimal.Decimal{"bitcoin": d(800)}

	// 800 + 300 exceeds the 1000 per-asset cap.
	if err := l.Check("bitcoin", d(300), 2, existing); err != risk.ErrPerAssetMarginExceeded {
		t.Errorf("expected ErrPerAssetMarginExceeded, got %v", err)
	}
	// Exactly at the cap is allowed.
	if err := l.Check("bitcoin", d(200), 2, existing); err != nil {
		t.Errorf("expected margin at cap to pass, got %v", err)
	}
	// Another asset has its own budget.
	if err := l.Check("ethereum", d(1000), 2, existing); err != nil {
		t.Errorf("expected fresh asset to pass, got %v", err)
	}
}

func TestCheck_TotalLimit(t *testing.T) {
	l := risk.NewLimiter(50, d(3000), d(5000))
	existing := map[string]decimal.Decimal{
		"bitcoin":  d(2500),
		"ethereum": d(2000),
	}

	// Per-asset would allow 600 on solana, but the aggregate cap blocks it.
	if err := l.Check("solana", d(600), 2, existing); err != risk.ErrTotalMarginExceeded {
		t.Errorf("expected ErrTotalMarginExceeded, got %v", err)
	}
	if err := l.Check("solana", d(500), 2, existing); err != nil {
		t.Errorf("expected aggregate at cap to pass, got %v", err)
	}
}

func TestNewLimiter_ClampsLeverage(t *testing.T) {
	l := risk.NewLimiter(0, d(1000), d(5000))
	if l.MaxLeverage != 1 {
		t.Errorf("expected max leverage clamped to 1, got %d", l.MaxLeverage)
	}
}
