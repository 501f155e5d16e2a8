// Package allowance decides whether a token approval must precede a staking action
package allowance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// Status of an allowance evaluation
type Status string

const (
	StatusNotApplicable    Status = "notApplicable"
	StatusSufficient       Status = "sufficientAllowance"
	StatusApprovalRequired Status = "approvalRequired"
	StatusApprovalPending  Status = "approvalPending"
)

// Result of Evaluate. Approval is set only for StatusApprovalRequired.
type Result struct {
	Status    Status
	Allowance decimal.Decimal
	Approval  *interfaces.ApprovalDescriptor
}

// Evaluator is stateless; pending approvals are tracked by the provider
type Evaluator struct {
	provider interfaces.AllowanceProvider
	log      *zap.Logger
}

// NewEvaluator creates an evaluator. A nil provider makes every evaluation notApplicable.
func NewEvaluator(provider interfaces.AllowanceProvider, log *zap.Logger) *Evaluator {
	return &Evaluator{provider: provider, log: log.Named("allowance")}
}

// Applicable reports whether the chain has an approval concept for spender
func (e *Evaluator) Applicable(spender string) bool {
	return e.provider != nil && e.provider.SupportsAllowance() && spender != ""
}

// Evaluate queries the on-chain allowance of spender and compares it with amount.
// An allowance equal to amount is sufficient.
func (e *Evaluator) Evaluate(ctx context.Context, amount decimal.Decimal, spender string, policy interfaces.ApprovePolicy) (Result, error) {
	if !e.Applicable(spender) {
		return Result{Status: StatusNotApplicable}, nil
	}

	allowance, err := e.provider.Allowance(ctx, spender)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load allowance for %s: %w", spender, err)
	}

	if allowance.GreaterThanOrEqual(amount) {
		return Result{Status: StatusSufficient, Allowance: allowance}, nil
	}

	if e.provider.HasPendingApproval(spender) {
		e.log.Debug("approval pending",
			zap.String("spender", spender),
			zap.Stringer("allowance", allowance),
			zap.Stringer("amount", amount))
		return Result{Status: StatusApprovalPending, Allowance: allowance}, nil
	}

	approval, err := e.provider.BuildApproval(ctx, spender, amount, policy)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build approval for %s: %w", spender, err)
	}

	return Result{Status: StatusApprovalRequired, Allowance: allowance, Approval: approval}, nil
}

// ApprovalTransactionSent marks an approval for spender as outstanding
func (e *Evaluator) ApprovalTransactionSent(spender string) {
	if e.provider == nil {
		return
	}
	e.provider.DidSendApproveTransaction(spender)
	e.log.Info("approval transaction sent", zap.String("spender", spender))
}
