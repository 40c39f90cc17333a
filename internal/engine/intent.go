package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/metrics"
	"github.com/cdex/paper-engine/internal/model"
	"github.com/cdex/paper-engine/internal/wallet"
)

// ExecuteIntent settles a named execution intent: the USD amount converts
// to ledger units at the fixed rate and is debited as a single intent
// transaction. Unlike a trade, nothing is locked — the debit is the whole
// effect, so a rejected intent leaves the ledger untouched.
func (e *Engine) ExecuteIntent(ctx context.Context, name string, amountUSD decimal.Decimal) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amountUSD.IsPositive() {
		return model.Transaction{}, ErrInvalidAmount
	}

	amount := amountUSD.Div(usdPerUnit)
	if err := e.ledger.Debit(amount); err != nil {
		return model.Transaction{}, err
	}

	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxIntent,
		Amount:      amount,
		Description: fmt.Sprintf("Executed %s for $%s", name, amountUSD.StringFixed(2)),
		Details:     &model.TxDetails{IntentName: name},
	})

	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	slog.Info("intent executed", "name", name, "amount_usd", amountUSD.String(), "amount", amount.String())
	return tx, nil
}
