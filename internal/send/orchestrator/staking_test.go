package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/walletsend/internal/send/dispatch"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/internal/send/state"
)

// StakingTestSuite covers stake, unstake and restake orchestrators
type StakingTestSuite struct {
	suite.Suite
	log *zap.Logger
	ctx context.Context

	balance    *balances
	validator  *balanceValidator
	manager    *stakingManager
	dispatcher *dispatcher
	analytics  *analytics
	creator    *creator
}

func (s *StakingTestSuite) SetupTest() {
	s.log = zaptest.NewLogger(s.T())
	s.ctx = context.Background()

	s.balance = &balances{value: dec("1000")}
	s.validator = &balanceValidator{balance: s.balance}
	s.manager = newStakingManager("0.1")
	s.dispatcher = &dispatcher{}
	s.analytics = &analytics{}
	s.creator = &creator{}
}

func (s *StakingTestSuite) deps() Dependencies {
	return Dependencies{
		Gateway:        dispatch.NewGateway(s.dispatcher, s.log),
		Rates:          fixedRates{rate: dec("1")},
		Balances:       s.balance,
		Validator:      s.validator,
		Analytics:      s.analytics,
		Creator:        s.creator,
		StakingManager: s.manager,
	}
}

func (s *StakingTestSuite) start(opts Options, deps Dependencies) *Orchestrator {
	if opts.AssetID == "" {
		opts.AssetID = "POL"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}

	o, err := New(opts, deps, s.log)
	s.Require().NoError(err)
	o.Start(s.ctx)
	s.T().Cleanup(o.Close)
	return o
}

func (s *StakingTestSuite) waitKind(o *Orchestrator, kind state.Kind) {
	s.Require().Eventually(func() bool { return o.StakingState().Kind == kind }, waitFor, tick,
		"last state %s", o.StakingState())
}

func (s *StakingTestSuite) TestStakeWithoutAllowance() {
	s.manager.scheduleSet = true
	s.manager.stakes["validator-1"] = 1
	s.manager.balances = []interfaces.StakingBalance{
		{Amount: dec("3"), Type: interfaces.BalanceTypeActive, Validator: "validator-2"},
	}

	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, s.deps())
	s.Equal(state.KindLoading, o.StakingState().Kind)

	o.AmountDidChange(cryptoAmount("5"))
	s.waitKind(o, state.KindReadyToStake)

	ready := o.StakingState().Ready
	s.True(ready.Amount.Equal(dec("5")))
	s.True(ready.Fee.Equal(dec("0.1")))
	s.False(ready.FeeIncluded)
	s.True(ready.StakeOnDifferentValidator)
	s.Equal(1, ready.StakesCount)
	s.False(ready.AmountToReduce.Valid)
	s.True(o.Ready().Get())

	fee := o.SelectedFee()
	s.Equal(interfaces.FeeOptionMarket, fee.Option)
	value, ok := fee.Value.Loaded()
	s.True(ok)
	s.True(value.Equal(dec("0.1")))

	summary := o.Summary()
	s.Require().NotNil(summary)
	s.Equal(SummaryStaking, summary.Kind)
	s.Equal(interfaces.RewardSchedule("daily"), summary.Schedule)

	result, err := o.PerformAction(s.ctx)
	s.Require().NoError(err)
	s.Equal("0xhash", result.Hash)

	calls := s.dispatcher.calls()
	s.Require().Len(calls, 1)
	s.Equal(interfaces.DispatchStaking, calls[0].Kind)
	s.Require().Len(s.manager.sentActions(), 1)
	s.Equal("validator-1", s.manager.sentActions()[0].Validator)

	sent, _ := s.analytics.counts()
	s.Equal(1, sent)
	s.Equal(SourceStaking, s.analytics.sent[0].Source)
	s.Equal("null", s.analytics.sent[0].Memo)
}

func (s *StakingTestSuite) TestStakeBelowAllowanceNeedsApproval() {
	s.manager.spender = "0xspender"
	provider := &allowanceProvider{allowance: dec("50")}
	deps := s.deps()
	deps.Allowance = provider

	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, deps)

	var (
		mu   sync.Mutex
		seen []state.Kind
	)
	states, cancel := o.StakingStateCell().Subscribe()
	defer cancel()
	go func() {
		for st := range states {
			mu.Lock()
			seen = append(seen, st.Kind)
			mu.Unlock()
		}
	}()

	o.AmountDidChange(cryptoAmount("100"))
	s.waitKind(o, state.KindReadyToApprove)

	mu.Lock()
	for _, kind := range seen {
		s.Contains([]state.Kind{state.KindLoading, state.KindReadyToApprove}, kind)
	}
	mu.Unlock()

	approval := o.StakingState().Approval
	s.Require().NotNil(approval)
	s.Equal("0xspender", approval.Spender)
	s.True(o.Ready().Get())

	// a stake can not be performed before the approval
	_, err := o.PerformAction(s.ctx)
	s.True(interfaces.IsDispatchKind(err, interfaces.DispatchTransactionNotFound))
	s.ErrorIs(err, interfaces.ErrReadyToStakeNotFound)

	s.Require().NoError(o.SendApproveTransaction(s.ctx))
	calls := s.dispatcher.calls()
	s.Require().Len(calls, 1)
	s.Equal(interfaces.DispatchTransfer, calls[0].Kind)
	s.Equal("0xtoken", calls[0].Transfer.ContractAddress)
	s.True(calls[0].Transfer.Amount.IsZero())
	s.True(calls[0].Transfer.Fee.Equal(dec("0.002")))

	s.waitKind(o, state.KindApproveInProgress)
	s.True(o.timer.Running())
	s.ErrorIs(o.SendApproveTransaction(s.ctx), interfaces.ErrApproveDataNotFound)

	// the polling timer picks up the confirmed allowance
	provider.setAllowance("100")
	s.waitKind(o, state.KindReadyToStake)
	s.Require().Eventually(func() bool { return !o.timer.Running() }, waitFor, tick)
}

func (s *StakingTestSuite) TestDroppedApprovalIsOfferedAgain() {
	s.manager.spender = "0xspender"
	provider := &allowanceProvider{allowance: dec("50")}
	deps := s.deps()
	deps.Allowance = provider

	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, deps)
	o.AmountDidChange(cryptoAmount("100"))
	s.waitKind(o, state.KindReadyToApprove)

	s.Require().NoError(o.SendApproveTransaction(s.ctx))
	s.waitKind(o, state.KindApproveInProgress)
	s.False(o.Ready().Get())
	s.True(o.timer.Running())

	// the approval never lands and the allowance stays at 50
	provider.dropPending()
	s.waitKind(o, state.KindReadyToApprove)
	s.Require().Eventually(func() bool { return o.Ready().Get() && !o.timer.Running() }, waitFor, tick)
	s.Require().NotNil(o.StakingState().Approval)

	s.Require().NoError(o.SendApproveTransaction(s.ctx))
	s.waitKind(o, state.KindApproveInProgress)
	s.Equal(2, provider.approvalCount())
	s.Len(s.dispatcher.calls(), 2)
}

func (s *StakingTestSuite) TestApprovePolicyChangeRebuildsApproval() {
	s.manager.spender = "0xspender"
	provider := &allowanceProvider{allowance: dec("10")}
	deps := s.deps()
	deps.Allowance = provider

	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, deps)
	o.AmountDidChange(cryptoAmount("20"))
	s.waitKind(o, state.KindReadyToApprove)
	s.Equal(interfaces.ApprovePolicyUnlimited, provider.lastPolicy())

	o.UpdateApprovePolicy(interfaces.ApprovePolicyExact)
	s.Require().Eventually(func() bool {
		return provider.lastPolicy() == interfaces.ApprovePolicyExact &&
			o.StakingState().Kind == state.KindReadyToApprove
	}, waitFor, tick)
}

func (s *StakingTestSuite) TestFeeIncludedStakeDetectsFeeIncrease() {
	s.balance.value = dec("10")
	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, s.deps())

	o.AmountDidChange(cryptoAmount("10"))
	s.waitKind(o, state.KindReadyToStake)

	ready := o.StakingState().Ready
	s.True(ready.FeeIncluded)
	s.True(ready.Amount.Equal(dec("9.9")))
	s.Require().True(ready.AmountToReduce.Valid)
	s.True(ready.AmountToReduce.Decimal.Equal(dec("0.3")))
	s.True(o.FeeIncluded().Get())

	s.manager.mu.Lock()
	s.manager.txFee = dec("0.2")
	s.manager.mu.Unlock()

	_, err := o.PerformAction(s.ctx)
	s.True(interfaces.IsDispatchKind(err, interfaces.DispatchInformationRelevanceFeeIncrease))
	s.Empty(s.dispatcher.calls())

	refreshed := o.StakingState()
	s.Require().True(refreshed.IsReady())
	s.True(refreshed.Ready.Fee.Equal(dec("0.2")))
	s.True(refreshed.Ready.Amount.Equal(dec("9.8")))
}

func (s *StakingTestSuite) TestInjectedRelevanceGuardsStake() {
	s.manager.scheduleSet = true
	rel := &relevanceService{}
	rel.On("IsActual").Return(false)
	rel.On("UpdateInformation", mock.Anything).Return(interfaces.RelevanceFeeWasIncreased, nil)
	deps := s.deps()
	deps.Relevance = rel

	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, deps)
	o.AmountDidChange(cryptoAmount("5"))
	s.waitKind(o, state.KindReadyToStake)

	_, err := o.PerformAction(s.ctx)
	s.True(interfaces.IsDispatchKind(err, interfaces.DispatchInformationRelevanceFeeIncrease), "got %v", err)
	s.Empty(s.dispatcher.calls())
	s.Empty(s.manager.sentActions())
	rel.AssertExpectations(s.T())
}

func (s *StakingTestSuite) TestMissingValidator() {
	o := s.start(Options{Kind: KindStake}, s.deps())
	o.AmountDidChange(cryptoAmount("5"))

	s.waitKind(o, state.KindValidationError)
	s.ErrorIs(o.StakingState().Err, interfaces.ErrValidatorNotFound)

	o.SelectValidator("validator-9")
	s.waitKind(o, state.KindReadyToStake)
}

func (s *StakingTestSuite) TestStakingManagerLoading() {
	s.manager.state = interfaces.StakingManagerLoading
	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, s.deps())
	o.AmountDidChange(cryptoAmount("5"))
	o.Wait()

	s.Equal(state.KindLoading, o.StakingState().Kind)
	s.True(o.ActionInProcessing())
}

func (s *StakingTestSuite) TestAccountInitialization() {
	initSvc := &accountInit{fee: dec("0.5")}
	deps := s.deps()
	deps.AccountInit = initSvc

	o := s.start(Options{Kind: KindStake, Validator: "validator-1"}, deps)
	o.AmountDidChange(cryptoAmount("5"))
	s.waitKind(o, state.KindAccountInitializationRequired)

	current := o.StakingState()
	s.True(current.InitFee.Equal(dec("0.5")))
	value, ok := current.SendFee().Loaded()
	s.True(ok)
	s.True(value.Equal(dec("0.1")))

	s.Require().NoError(o.InitializeAccount(s.ctx))
	s.waitKind(o, state.KindReadyToStake)
	s.True(o.StakingState().Ready.Amount.Equal(dec("4.5")))
	s.True(s.manager.lastEstimate().Amount.Equal(dec("4.5")))
	s.Len(initSvc.paid, 1)
}

func (s *StakingTestSuite) TestUnstakeAmountIsFixed() {
	s.manager.stakes["validator-1"] = 2
	action := interfaces.StakingAction{
		Amount:    dec("50"),
		Validator: "validator-1",
		Type:      interfaces.StakingActionUnstake,
	}
	o := s.start(Options{Kind: KindUnstake, Action: action}, s.deps())
	s.waitKind(o, state.KindReadyToStake)

	ready := o.StakingState().Ready
	s.True(ready.Amount.Equal(dec("50")))
	s.Equal(2, ready.StakesCount)
	call := s.validator.lastCall()
	s.True(call[0].IsZero(), "unstake validates the fee only")
	s.True(call[1].Equal(dec("0.1")))

	o.AmountDidChange(cryptoAmount("1"))
	value, _ := o.amount.Crypto()
	s.True(value.Equal(dec("50")))
	s.Nil(o.Summary())
	s.NotPanics(func() { o.FeeDidChange(interfaces.FeeOptionFast) })

	_, err := o.PerformAction(s.ctx)
	s.Require().NoError(err)
	s.Equal(interfaces.StakingActionUnstake, s.manager.sentActions()[0].Type)
	s.True(s.manager.sentActions()[0].Amount.Equal(dec("50")))
}

func (s *StakingTestSuite) TestUnstakeOperatorErrorsPanicInDevelopment() {
	action := interfaces.StakingAction{Amount: dec("50"), Validator: "validator-1", Type: interfaces.StakingActionUnstake}
	o := s.start(Options{Kind: KindUnstake, Action: action, Development: true}, s.deps())

	s.Panics(func() { o.AmountDidChange(cryptoAmount("1")) })
	s.Panics(func() { o.FeeDidChange(interfaces.FeeOptionFast) })
	s.Panics(func() { o.DestinationAddress() })
	s.Panics(func() { o.SelectValidator("validator-2") })
}

func (s *StakingTestSuite) TestRestakeBelowMinimum() {
	s.manager.minimum = dec("10")
	action := interfaces.StakingAction{Amount: dec("4"), Validator: "validator-1", Type: interfaces.StakingActionRestake}
	o := s.start(Options{Kind: KindRestake, Action: action}, s.deps())

	s.waitKind(o, state.KindValidationError)
	s.Equal(interfaces.ValidationMinimumRequirement, o.StakingState().ValidationKind)
	s.False(o.Ready().Get())
}

func (s *StakingTestSuite) TestPendingActionValidationFailure() {
	s.balance.value = dec("0.01")
	action := interfaces.StakingAction{Amount: decimal.Zero, Type: interfaces.StakingActionPending, PassthroughID: "claim-1"}
	o := s.start(Options{Kind: KindPendingAction, Action: action}, s.deps())

	s.waitKind(o, state.KindValidationError)
	s.Equal(interfaces.ValidationInsufficientBalance, o.StakingState().ValidationKind)

	s.balance.mu.Lock()
	s.balance.value = dec("1")
	s.balance.mu.Unlock()
	o.RefreshFee(s.ctx)
	s.waitKind(o, state.KindReadyToStake)
	s.Equal("claim-1", s.manager.lastEstimate().PassthroughID)
}

func TestStakingTestSuite(t *testing.T) {
	suite.Run(t, new(StakingTestSuite))
}
