package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/metrics"
	"github.com/cdex/paper-engine/internal/model"
	"github.com/cdex/paper-engine/internal/wallet"
)

// Stake locks spendable balance into the staking pool.
func (e *Engine) Stake(ctx context.Context, amount decimal.Decimal) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return model.Transaction{}, ErrInvalidAmount
	}
	if err := e.ledger.Debit(amount); err != nil {
		return model.Transaction{}, err
	}

	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxStake,
		Amount:      amount,
		Description: fmt.Sprintf("Staked %s", amount.StringFixed(2)),
	})
	e.staked = e.staked.Add(amount)

	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	slog.Info("staked", "amount", amount.String(), "total_staked", e.staked.String())
	return tx, nil
}

// Unstake returns staked balance to the spendable pool.
func (e *Engine) Unstake(ctx context.Context, amount decimal.Decimal) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return model.Transaction{}, ErrInvalidAmount
	}
	if amount.GreaterThan(e.staked) {
		return model.Transaction{}, ErrInsufficientStake
	}

	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxUnstake,
		Amount:      amount,
		Description: fmt.Sprintf("Unstaked %s", amount.StringFixed(2)),
	})
	e.ledger.Credit(amount)
	e.staked = e.staked.Sub(amount)

	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	slog.Info("unstaked", "amount", amount.String(), "total_staked", e.staked.String())
	return tx, nil
}

// VaultDeposit moves spendable balance into a named vault.
func (e *Engine) VaultDeposit(ctx context.Context, name string, amount decimal.Decimal) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return model.Transaction{}, ErrInvalidAmount
	}
	if err := e.ledger.Debit(amount); err != nil {
		return model.Transaction{}, err
	}

	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxVaultDeposit,
		Amount:      amount,
		Description: fmt.Sprintf("Deposited %s into %s", amount.StringFixed(2), name),
		Details:     &model.TxDetails{VaultName: name},
	})
	e.vaults[name] = e.vaults[name].Add(amount)

	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	return tx, nil
}

// VaultWithdraw moves vault balance back to the spendable pool.
func (e *Engine) VaultWithdraw(ctx context.Context, name string, amount decimal.Decimal) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return model.Transaction{}, ErrInvalidAmount
	}
	if amount.GreaterThan(e.vaults[name]) {
		return model.Transaction{}, ErrInsufficientVault
	}

	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxVaultWithdraw,
		Amount:      amount,
		Description: fmt.Sprintf("Withdrew %s from %s", amount.StringFixed(2), name),
		Details:     &model.TxDetails{VaultName: name},
	})
	e.ledger.Credit(amount)
	e.vaults[name] = e.vaults[name].Sub(amount)

	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	return tx, nil
}

// ClaimRewards credits accrued staking rewards to the spendable balance.
// Accrual itself never touches the ledger, so the transaction/balance
// correspondence holds: the claim is the single ledger event.
func (e *Engine) ClaimRewards(ctx context.Context) (model.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pendingRewards.IsPositive() {
		return model.Transaction{}, ErrNoRewards
	}
	amount := e.pendingRewards
	e.pendingRewards = decimal.Zero

	tx := e.ledger.Append(wallet.Draft{
		Type:        model.TxClaim,
		Amount:      amount,
		Description: fmt.Sprintf("Claimed %s staking rewards", amount.StringFixed(4)),
	})
	e.ledger.Credit(amount)

	metrics.WalletBalance.Set(e.ledger.Balance().InexactFloat64())
	slog.Info("rewards claimed", "amount", amount.String())
	return tx, nil
}

// StartRewardAccrual launches the reward ticker: every interval the staked
// amount yields rewardRatePerMin into the pending-rewards accumulator.
// The ticker stops when ctx is cancelled or StopRewardAccrual runs.
func (e *Engine) StartRewardAccrual(ctx context.Context, interval time.Duration) {
	e.mu.Lock()
	if e.accrualCancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.accrualCancel = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.accrue()
			}
		}
	}()
}

// StopRewardAccrual cancels the reward ticker.
func (e *Engine) StopRewardAccrual() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.accrualCancel != nil {
		e.accrualCancel()
		e.accrualCancel = nil
	}
}

// accrue advances pending rewards by one interval's yield.
func (e *Engine) accrue() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.staked.IsPositive() {
		return
	}
	e.pendingRewards = e.pendingRewards.Add(e.staked.Mul(rewardRatePerMin))
}
