package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/internal/send/state"
	"github.com/Aidin1998/walletsend/pkg/errors"
)

// Analytics sources
const (
	SourceSend    = "send"
	SourceStaking = "staking"
)

// PerformAction dispatches the prepared transaction. It is not re-entrant: a call
// made while another one runs fails with ErrActionInProcessing. Failures are
// *interfaces.DispatchError values.
func (o *Orchestrator) PerformAction(ctx context.Context) (*interfaces.DispatchResult, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, interfaces.ErrActionInProcessing
	}
	defer o.inFlight.Store(false)

	o.loading.Set(true)
	defer o.loading.Set(false)

	if o.behaviour.staking {
		return o.performStaking(ctx)
	}
	return o.performTransfer(ctx)
}

func (o *Orchestrator) performTransfer(ctx context.Context) (*interfaces.DispatchResult, error) {
	if err := o.guard.Check(ctx); err != nil {
		return nil, err
	}

	tx, err := o.sendableCandidate()
	if err != nil {
		return nil, err
	}

	result, err := o.gateway.Send(ctx, interfaces.TransferDispatch(tx))
	if err != nil {
		o.dispatchFailed(ctx, err)
		return nil, err
	}

	memo := interfaces.AdditionalFieldNotSupported
	if o.destination != nil {
		memo = o.destination.Get().AdditionalField.Kind
	}
	o.dispatched(ctx, result, tx.FeeOption, tx.Amount, memo)
	return result, nil
}

func (o *Orchestrator) performStaking(ctx context.Context) (*interfaces.DispatchResult, error) {
	current := o.staking.Get()
	if !current.IsReady() {
		return nil, interfaces.NewDispatchError(interfaces.DispatchTransactionNotFound, interfaces.ErrReadyToStakeNotFound)
	}
	ready := *current.Ready

	requested, _, err := o.stakingAction()
	if err != nil {
		return nil, interfaces.NewDispatchError(interfaces.DispatchTransactionNotFound, err)
	}
	action := requested
	action.Amount = ready.Amount

	if err := o.guard.Check(ctx); err != nil {
		return nil, err
	}

	info, err := o.deps.StakingManager.Transaction(ctx, action)
	if err != nil {
		var de *interfaces.DispatchError
		if errors.As(err, &de) {
			o.dispatchFailed(ctx, de)
			return nil, de
		}
		return nil, interfaces.NewDispatchError(interfaces.DispatchLoadTransactionInfo, err)
	}

	if total := info.TotalFee(); ready.FeeIncluded && total.GreaterThan(ready.Fee) {
		o.log.Info("staking fee increased",
			zap.Stringer("shown", ready.Fee),
			zap.Stringer("actual", total))
		o.refreshStakeState(ctx, requested, total)
		return nil, interfaces.NewDispatchError(interfaces.DispatchInformationRelevanceFeeIncrease, nil)
	}

	result, err := o.gateway.Send(ctx, interfaces.StakingDispatch(info))
	if err != nil {
		o.dispatchFailed(ctx, err)
		return nil, err
	}

	o.deps.StakingManager.TransactionDidSend(action)
	o.dispatched(ctx, result, interfaces.FeeOptionMarket, ready.Amount, interfaces.AdditionalFieldNotSupported)
	return result, nil
}

// SendApproveTransaction dispatches the approval of a readyToApprove stake and polls
// until the allowance is visible on chain
func (o *Orchestrator) SendApproveTransaction(ctx context.Context) error {
	if !o.behaviour.allowance {
		o.operatorError("approve transaction")
		return interfaces.ErrOperationForbidden.Explain("%s has no approvals", o.opts.Kind)
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return interfaces.ErrActionInProcessing
	}
	defer o.inFlight.Store(false)

	o.loading.Set(true)
	defer o.loading.Set(false)

	current := o.staking.Get()
	if current.Kind != state.KindReadyToApprove || current.Approval == nil {
		return interfaces.ErrApproveDataNotFound
	}
	approval := current.Approval

	tx, err := o.approvalTransaction(ctx, approval)
	if err != nil {
		return interfaces.NewDispatchError(interfaces.DispatchLoadTransactionInfo, err)
	}
	if _, err := o.gateway.Send(ctx, interfaces.TransferDispatch(tx)); err != nil {
		o.dispatchFailed(ctx, err)
		return err
	}

	o.evaluator.ApprovalTransactionSent(approval.Spender)
	o.recomputeStaking(true)
	o.timer.Restart()
	return nil
}

func (o *Orchestrator) approvalTransaction(ctx context.Context, approval *interfaces.ApprovalDescriptor) (*interfaces.Transaction, error) {
	req := interfaces.TransactionRequest{
		AssetID:         o.opts.AssetID,
		Amount:          decimal.Zero,
		Fee:             approval.Fee,
		FeeOption:       interfaces.FeeOptionMarket,
		Destination:     approval.TokenContract,
		ContractAddress: approval.TokenContract,
		Data:            approval.Data,
	}
	if o.deps.Creator != nil {
		return o.deps.Creator.CreateTransaction(ctx, req)
	}

	return &interfaces.Transaction{
		ID:              uuid.New(),
		AssetID:         req.AssetID,
		Amount:          req.Amount,
		Fee:             req.Fee,
		FeeOption:       req.FeeOption,
		Destination:     req.Destination,
		ContractAddress: req.ContractAddress,
		Data:            req.Data,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// InitializeAccount sends the account initialization of a chain that requires one and
// re-derives the stake afterwards with the initialization fee subtracted
func (o *Orchestrator) InitializeAccount(ctx context.Context) error {
	if o.deps.AccountInit == nil || o.opts.Kind != KindStake {
		o.operatorError("account initialization")
		return interfaces.ErrOperationForbidden.Explain("%s has no account initialization", o.opts.Kind)
	}

	current := o.staking.Get()
	if current.Kind != state.KindAccountInitializationRequired {
		return interfaces.ErrOperationForbidden.Explain("account initialization is not required")
	}
	if !o.initializing.CompareAndSwap(false, true) {
		return interfaces.ErrActionInProcessing
	}

	o.runner.Reset(func() {
		if err := o.staking.TransitionTo(state.AccountInitializationInProgress()); err == nil {
			o.ready.Set(false)
		}
	})

	err := o.deps.AccountInit.InitializeAccount(ctx, current.InitFee)
	o.initializing.Store(false)
	if err != nil {
		o.log.Warn("account initialization failed", zap.Error(err))
		o.recomputeStaking(true)
		return err
	}

	o.mu.Lock()
	o.initPaid = current.InitFee
	o.mu.Unlock()

	o.log.Info("account initialized", zap.Stringer("init_fee", current.InitFee))
	o.recomputeStaking(true)
	return nil
}

func (o *Orchestrator) source() string {
	if o.behaviour.staking {
		return SourceStaking
	}
	return SourceSend
}

func (o *Orchestrator) dispatched(ctx context.Context, result *interfaces.DispatchResult, option interfaces.FeeOption, sent decimal.Decimal, memo interfaces.AdditionalFieldKind) {
	now := time.Now().UTC()
	o.sentAt.Set(now)
	o.url.Set(result.URL)

	if o.deps.Analytics == nil {
		return
	}

	event := interfaces.TransactionSentEvent{
		Source:      o.source(),
		Token:       o.opts.AssetID,
		Blockchain:  o.opts.Blockchain,
		FeeOption:   option,
		SignerType:  result.SignerType,
		Memo:        memo.AnalyticsValue(),
		Amount:      sent,
		CurrentHost: result.CurrentHost,
		SentAt:      now,
	}
	if a := o.amount.Get(); a != nil {
		event.AmountKind = a.Kind
	}
	o.deps.Analytics.LogTransactionSent(ctx, event)
}

// dispatchFailed reports network rejections; every other failure is silent
func (o *Orchestrator) dispatchFailed(ctx context.Context, err error) {
	if o.deps.Analytics == nil || !interfaces.IsDispatchKind(err, interfaces.DispatchSendTxError) {
		return
	}
	o.deps.Analytics.LogTransactionRejected(ctx, interfaces.TransactionRejectedEvent{
		Source: o.source(),
		Token:  o.opts.AssetID,
		Error:  err.Error(),
	})
}
