// Package feeinclusion decides whether a fee is subtracted from the requested amount
package feeinclusion

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// Decision is the outcome of the fee-inclusion policy
type Decision struct {
	// Included is true when the fee is taken out of the requested amount
	Included bool
	// Amount is what the transaction actually sends
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

// Decide applies the policy to known values. The fee is included when it is paid in
// the sent asset, the amount covers it and amount plus fee reaches the balance.
// balance == amount + fee includes the fee.
func Decide(amount, fee, balance decimal.Decimal, feeInSameAsset bool) Decision {
	d := Decision{Amount: amount, Fee: fee}
	if !feeInSameAsset || fee.IsZero() {
		return d
	}
	if amount.LessThan(fee) || amount.GreaterThan(balance) {
		return d
	}
	if amount.Add(fee).GreaterThanOrEqual(balance) {
		d.Included = true
		d.Amount = amount.Sub(fee)
	}
	return d
}

// Policy reads the spendable balance and applies Decide
type Policy struct {
	balances interfaces.BalanceSource
	assetID  string
	feeAsset string
	log      *zap.Logger
}

// NewPolicy creates a policy for assetID whose fees are paid in feeAssetID.
// A nil balance source disables fee inclusion.
func NewPolicy(balances interfaces.BalanceSource, assetID, feeAssetID string, log *zap.Logger) *Policy {
	return &Policy{
		balances: balances,
		assetID:  assetID,
		feeAsset: feeAssetID,
		log:      log.Named("fee_inclusion"),
	}
}

// Decide loads the balance and decides whether fee is included in amount
func (p *Policy) Decide(ctx context.Context, amount, fee decimal.Decimal) (Decision, error) {
	if p.balances == nil || p.assetID != p.feeAsset {
		return Decision{Amount: amount, Fee: fee}, nil
	}

	balance, err := p.balances.SpendableBalance(ctx, p.assetID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load spendable balance of %s: %w", p.assetID, err)
	}

	d := Decide(amount, fee, balance, true)
	if d.Included {
		p.log.Debug("fee included in amount",
			zap.Stringer("amount", amount),
			zap.Stringer("fee", fee),
			zap.Stringer("balance", balance))
	}
	return d, nil
}
