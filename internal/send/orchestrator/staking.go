package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/walletsend/internal/send/allowance"
	"github.com/Aidin1998/walletsend/internal/send/derivation"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/internal/send/state"
	"github.com/Aidin1998/walletsend/pkg/errors"
)

var errStakingManagerFailed = errors.Network.Reason("stakingManagerFailed").Explain("staking manager failed to load")

type stakingResult struct {
	state     state.StakingState
	allowance allowance.Status
}

// stakingAction builds the action of the current inputs. A stake subtracts the fee
// of an account initialization paid during this session.
func (o *Orchestrator) stakingAction() (interfaces.StakingAction, bool, error) {
	value, hasAmount := o.amount.Crypto()
	action := interfaces.StakingAction{
		Amount:        value,
		Validator:     o.validator.Get(),
		Type:          o.behaviour.actionType,
		PassthroughID: o.opts.Action.PassthroughID,
	}
	if o.opts.Kind != KindStake {
		return action, true, nil
	}

	if !hasAmount || !value.IsPositive() {
		return action, false, nil
	}
	o.mu.Lock()
	action.Amount = value.Sub(o.initPaid)
	o.mu.Unlock()

	if action.Validator == "" {
		return action, true, interfaces.ErrValidatorNotFound
	}
	return action, true, nil
}

// recomputeStaking re-derives the staking state. Input changes reset the state to
// loading first; polling ticks keep the current state until the new one is known.
func (o *Orchestrator) recomputeStaking(reset bool) {
	ctx := o.context()
	if ctx.Err() != nil {
		return
	}

	if reset {
		o.runner.Reset(func() {
			o.staking.Reset()
			o.ready.Set(false)
			o.feeIncluded.Set(false)
		})
	}

	switch o.deps.StakingManager.State() {
	case interfaces.StakingManagerLoading:
		return
	case interfaces.StakingManagerFailed:
		o.runner.Reset(func() { o.applyStakingLocked(stakingResult{state: state.NetworkError(errStakingManagerFailed)}) })
		return
	}

	action, complete, err := o.stakingAction()
	if !complete {
		return
	}
	if err != nil {
		o.runner.Reset(func() { o.applyStakingLocked(stakingResult{state: state.ValidationError(err, decimal.Zero)}) })
		return
	}

	policy := o.policy.Get()
	derivation.Start(o.runner, ctx, func(ctx context.Context) (stakingResult, error) {
		return o.deriveStaking(ctx, action, policy)
	}, func(res stakingResult, err error) {
		if err != nil {
			o.log.Warn("staking derivation failed", zap.Error(err))
			res = stakingResult{state: state.NetworkError(err)}
		}
		o.applyStakingLocked(res)
	})
}

// applyStakingLocked publishes a derived state. Called with the runner lock held.
func (o *Orchestrator) applyStakingLocked(res stakingResult) {
	if err := o.staking.TransitionTo(res.state); err != nil {
		return
	}

	switch res.allowance {
	case allowance.StatusApprovalRequired, allowance.StatusSufficient:
		o.timer.Stop()
	case allowance.StatusApprovalPending:
		if !o.timer.Running() {
			o.timer.Restart()
		}
	}

	o.ready.Set(res.state.IsReady() || res.state.Kind == state.KindReadyToApprove)
	if res.state.Ready != nil {
		o.feeIncluded.Set(res.state.Ready.FeeIncluded)
	} else {
		o.feeIncluded.Set(false)
	}
}

func (o *Orchestrator) deriveStaking(ctx context.Context, action interfaces.StakingAction, policy interfaces.ApprovePolicy) (stakingResult, error) {
	if o.opts.Kind != KindStake {
		return o.deriveSingleAction(ctx, action)
	}

	spender := o.deps.StakingManager.AllowanceAddress()

	var (
		eval   = allowance.Result{Status: allowance.StatusNotApplicable}
		fee    decimal.Decimal
		feeErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	if o.evaluator.Applicable(spender) {
		g.Go(func() error {
			r, err := o.evaluator.Evaluate(gctx, action.Amount, spender, policy)
			eval = r
			return err
		})
	}
	g.Go(func() error {
		// estimation may legitimately fail while an approval is missing
		fee, feeErr = o.deps.StakingManager.EstimateFee(gctx, action)
		return nil
	})
	if err := g.Wait(); err != nil {
		return stakingResult{}, err
	}

	res := stakingResult{allowance: eval.Status}
	switch eval.Status {
	case allowance.StatusApprovalRequired:
		if s, invalid := o.validateAction(action.Amount, eval.Approval.Fee); invalid {
			res.state = s
			return res, nil
		}
		res.state = state.ReadyToApprove(eval.Approval)
		return res, nil

	case allowance.StatusApprovalPending:
		var stakingFee decimal.NullDecimal
		if feeErr == nil {
			stakingFee = decimal.NewNullDecimal(fee)
		} else {
			o.log.Debug("staking fee unavailable while approval is pending", zap.Error(feeErr))
		}
		res.state = state.ApproveInProgress(stakingFee)
		return res, nil
	}

	if feeErr != nil {
		return res, fmt.Errorf("failed to estimate staking fee: %w", feeErr)
	}

	if s, required, err := o.accountInitialization(ctx, fee); err != nil || required {
		res.state = s
		return res, err
	}

	s, err := o.readyToStake(ctx, action, fee)
	res.state = s
	return res, err
}

// deriveSingleAction handles unstake, restake and pending actions. Their amount is
// fixed, so only the fee is validated.
func (o *Orchestrator) deriveSingleAction(ctx context.Context, action interfaces.StakingAction) (stakingResult, error) {
	fee, err := o.deps.StakingManager.EstimateFee(ctx, action)
	if err != nil {
		return stakingResult{}, fmt.Errorf("failed to estimate %s fee: %w", action.Type, err)
	}

	if o.opts.Kind == KindRestake {
		if s, invalid := o.checkMinimum(action.Amount, fee); invalid {
			return stakingResult{state: s}, nil
		}
	}

	if s, invalid := o.validateAction(decimal.Zero, fee); invalid {
		return stakingResult{state: s}, nil
	}

	return stakingResult{state: state.Ready(state.ReadyToStake{
		Amount:      action.Amount,
		Fee:         fee,
		StakesCount: o.stakesCount(action.Validator),
	})}, nil
}

func (o *Orchestrator) accountInitialization(ctx context.Context, txFee decimal.Decimal) (state.StakingState, bool, error) {
	if o.deps.AccountInit == nil {
		return state.StakingState{}, false, nil
	}

	initialized, err := o.deps.AccountInit.IsAccountInitialized(ctx)
	if err != nil {
		return state.StakingState{}, false, fmt.Errorf("failed to check account initialization: %w", err)
	}
	if initialized {
		return state.StakingState{}, false, nil
	}
	if o.initializing.Load() {
		return state.AccountInitializationInProgress(), true, nil
	}

	initFee, err := o.deps.AccountInit.EstimateInitializationFee(ctx)
	if err != nil {
		return state.StakingState{}, false, fmt.Errorf("failed to estimate initialization fee: %w", err)
	}
	o.log.Info("account is not initialized", zap.Stringer("init_fee", initFee))
	return state.AccountInitializationRequired(initFee, txFee), true, nil
}

// readyToStake applies fee inclusion, the minimum requirement and validation to a stake
func (o *Orchestrator) readyToStake(ctx context.Context, action interfaces.StakingAction, fee decimal.Decimal) (state.StakingState, error) {
	decision, err := o.inclusion.Decide(ctx, action.Amount, fee)
	if err != nil {
		return state.StakingState{}, err
	}

	if s, invalid := o.checkMinimum(decision.Amount, fee); invalid {
		return s, nil
	}
	if s, invalid := o.validateAction(decision.Amount, fee); invalid {
		return s, nil
	}

	ready := state.ReadyToStake{
		Amount:                    decision.Amount,
		Fee:                       fee,
		FeeIncluded:               decision.Included,
		StakeOnDifferentValidator: o.stakedElsewhere(action.Validator),
		StakesCount:               o.stakesCount(action.Validator),
	}
	if decision.Included {
		minimal := decimal.Zero
		if o.deps.MinimalBalance != nil {
			minimal = o.deps.MinimalBalance.MinimalBalance()
		}
		ready.AmountToReduce = decimal.NewNullDecimal(fee.Mul(o.opts.ReduceAmountMultiplier).Add(minimal))
	}
	return state.Ready(ready), nil
}

func (o *Orchestrator) checkMinimum(amount, fee decimal.Decimal) (state.StakingState, bool) {
	minimum := o.deps.StakingManager.MinimumRequirement()
	if !minimum.IsPositive() || amount.GreaterThanOrEqual(minimum) {
		return state.StakingState{}, false
	}
	err := interfaces.NewValidationError(interfaces.ValidationMinimumRequirement,
		"amount %s is below the minimum requirement %s", amount, minimum)
	return state.ValidationError(err, fee), true
}

// validateAction maps validator failures onto validationError, or networkError when
// the failure is not a user facing one
func (o *Orchestrator) validateAction(amount, fee decimal.Decimal) (state.StakingState, bool) {
	if o.deps.Validator == nil {
		return state.StakingState{}, false
	}
	err := o.deps.Validator.Validate(amount, fee)
	if err == nil {
		return state.StakingState{}, false
	}
	if _, ok := interfaces.ValidationKind(err); ok {
		return state.ValidationError(err, fee), true
	}
	return state.NetworkError(err), true
}

func (o *Orchestrator) stakedElsewhere(validator string) bool {
	for _, b := range o.deps.StakingManager.Balances() {
		if b.Type == interfaces.BalanceTypeActive && b.Validator != validator {
			return true
		}
	}
	return false
}

func (o *Orchestrator) stakesCount(validator string) int {
	if validator == "" {
		return 0
	}
	return o.deps.StakingManager.StakesCount(validator)
}

// refreshStakeState replaces the state after the built transaction reported a higher fee
func (o *Orchestrator) refreshStakeState(ctx context.Context, action interfaces.StakingAction, fee decimal.Decimal) {
	s, err := o.readyToStake(ctx, action, fee)
	if err != nil {
		s = state.NetworkError(err)
	}
	o.runner.Reset(func() {
		o.applyStakingLocked(stakingResult{state: s})
	})
}
