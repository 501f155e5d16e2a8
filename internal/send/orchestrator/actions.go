package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReduceAmountBy lowers the entered amount by value, not below zero
func (o *Orchestrator) ReduceAmountBy(value decimal.Decimal) {
	if !o.behaviour.amountEditable {
		o.operatorError("reduce amount")
		return
	}
	current, ok := o.amount.Crypto()
	if !ok {
		return
	}
	o.amount.SetCrypto(decimal.Max(current.Sub(value), decimal.Zero))
}

// ReduceAmountTo replaces the entered amount with value
func (o *Orchestrator) ReduceAmountTo(value decimal.Decimal) {
	if !o.behaviour.amountEditable {
		o.operatorError("reduce amount")
		return
	}
	o.amount.SetCrypto(value)
}

// LeaveAmount sets the amount so that value stays on the account
func (o *Orchestrator) LeaveAmount(ctx context.Context, value decimal.Decimal) error {
	if !o.behaviour.amountEditable {
		o.operatorError("leave amount")
		return nil
	}
	if o.deps.Balances == nil {
		return fmt.Errorf("no balance source configured")
	}

	balance, err := o.deps.Balances.SpendableBalance(ctx, o.opts.AssetID)
	if err != nil {
		return fmt.Errorf("failed to load spendable balance: %w", err)
	}
	o.amount.SetCrypto(decimal.Max(balance.Sub(value), decimal.Zero))
	return nil
}

// RefreshFee reloads fee information for the current inputs
func (o *Orchestrator) RefreshFee(ctx context.Context) {
	o.log.Debug("fee refresh requested")
	if o.behaviour.staking {
		o.recomputeStaking(true)
		return
	}
	o.forgetFeeKey()
	o.recomputeTransfer()
}

// UpdateFees is the fee loader entry point; it behaves like RefreshFee
func (o *Orchestrator) UpdateFees(ctx context.Context) {
	if ctx.Err() != nil {
		o.log.Debug("fee update skipped", zap.Error(ctx.Err()))
		return
	}
	o.RefreshFee(ctx)
}
