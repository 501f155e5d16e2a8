// Package orchestrator drives one send or staking operation from user input to dispatch.
//
// An Orchestrator owns the input cells of its operation, combines their latest values
// into a transaction candidate (transfer) or a staking action state (stake, unstake,
// restake, pending action) and dispatches the result through the gateway.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/allowance"
	"github.com/Aidin1998/walletsend/internal/send/amount"
	"github.com/Aidin1998/walletsend/internal/send/cell"
	"github.com/Aidin1998/walletsend/internal/send/derivation"
	"github.com/Aidin1998/walletsend/internal/send/destination"
	"github.com/Aidin1998/walletsend/internal/send/dispatch"
	"github.com/Aidin1998/walletsend/internal/send/fee"
	"github.com/Aidin1998/walletsend/internal/send/feeinclusion"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/internal/send/polling"
	"github.com/Aidin1998/walletsend/internal/send/relevance"
	"github.com/Aidin1998/walletsend/internal/send/staleness"
	"github.com/Aidin1998/walletsend/internal/send/state"
)

// Orchestrator is the per-operation model. Create it with New, call Start once and
// Close when the operation is abandoned or finished.
type Orchestrator struct {
	opts      Options
	deps      Dependencies
	behaviour behaviour
	session   uuid.UUID
	log       *zap.Logger

	amount      *amount.Cell
	destination *destination.Cell
	fees        *fee.Cell
	staking     *state.Machine
	validator   *cell.Cell[string]
	policy      *cell.Cell[interfaces.ApprovePolicy]

	candidate   *cell.Cell[*interfaces.Candidate]
	feeIncluded *cell.Cell[bool]
	ready       *cell.Cell[bool]
	loading     *cell.Cell[bool]
	sentAt      *cell.Cell[time.Time]
	url         *cell.Cell[string]

	runner    *derivation.Runner
	guard     *staleness.Guard
	gateway   *dispatch.Gateway
	evaluator *allowance.Evaluator
	inclusion *feeinclusion.Policy
	timer     *polling.Timer
	relevance *relevance.Service

	inFlight     atomic.Bool
	initializing atomic.Bool

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	feeKey   string
	built    *builtCandidate
	initPaid decimal.Decimal
}

// New validates opts, checks that deps carries what the kind needs and builds the
// orchestrator's cells. Nothing runs until Start.
func New(opts Options, deps Dependencies, log *zap.Logger) (*Orchestrator, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if err := deps.check(opts.Kind); err != nil {
		return nil, err
	}

	session := uuid.New()
	log = log.Named("orchestrator").With(
		zap.String("kind", string(opts.Kind)),
		zap.String("asset_id", opts.AssetID),
		zap.Stringer("session_id", session),
	)

	o := &Orchestrator{
		opts:        opts,
		deps:        deps,
		behaviour:   behaviours[opts.Kind],
		session:     session,
		log:         log,
		amount:      amount.NewCell(opts.CurrencyID, deps.Rates, opts.CryptoDecimals, *opts.FiatDecimals, log),
		validator:   cell.New(opts.Validator),
		policy:      cell.New(opts.ApprovePolicy),
		candidate:   cell.New[*interfaces.Candidate](nil),
		feeIncluded: cell.New(false),
		ready:       cell.New(false),
		loading:     cell.New(false),
		sentAt:      cell.New(time.Time{}),
		url:         cell.New(""),
		runner:      derivation.NewRunner(string(opts.Kind), log),
		gateway:     deps.Gateway,
		inclusion:   feeinclusion.NewPolicy(deps.Balances, opts.AssetID, opts.FeeAssetID, log),
		initPaid:    decimal.Zero,
	}

	if o.behaviour.staking {
		o.staking = state.NewMachine(log)
		o.evaluator = allowance.NewEvaluator(deps.Allowance, log)
		o.timer = polling.NewTimer(string(opts.Kind), opts.PollInterval, func(context.Context) {
			o.recomputeStaking(false)
		}, log)

		if !o.behaviour.amountEditable {
			o.amount.SetCrypto(opts.Action.Amount)
			if opts.Action.Validator != "" {
				o.validator.Set(opts.Action.Validator)
			}
		}
	}

	if o.behaviour.destination {
		o.destination = destination.NewCell(deps.Addresses, deps.Resolver, deps.FieldParser, log)
	}

	if o.behaviour.staking {
		// staking fees are re-checked against the built transaction; an injected
		// relevance service runs on top of that
		o.guard = staleness.NewGuard(deps.Relevance, log)
	} else {
		o.fees = fee.NewCell(deps.FeeSource, o.behaviour.feeOptions, log)
		rel := deps.Relevance
		if rel == nil {
			o.relevance = relevance.NewService(o.fees, o.feeRequest, opts.RelevanceWindow, log)
			rel = o.relevance
		}
		o.guard = staleness.NewGuard(rel, log)
	}

	return o, nil
}

// Start begins combining inputs. It is a no-op when called twice.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.ctx, o.cancel = context.WithCancel(ctx)
	ctx = o.ctx
	o.mu.Unlock()

	if o.behaviour.staking {
		o.timer.Bind(ctx)
		cell.Watch(ctx, func() { o.recomputeStaking(true) }, o.amount, o.validator, o.policy)
		o.recomputeStaking(true)
	} else {
		if o.relevance != nil {
			o.relevance.Track(ctx)
		}
		cell.Watch(ctx, o.recomputeTransfer, o.amount, o.destination, o.fees)
		o.recomputeTransfer()
	}

	o.log.Info("orchestrator started")
}

// Close stops background work. Cells keep their last values.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
		o.timer.Wait()
	}
	o.runner.Cancel()
	o.runner.Wait()
	if o.destination != nil {
		o.destination.Close()
	}
	if o.fees != nil {
		o.fees.Close()
	}

	o.log.Info("orchestrator closed")
}

// Wait blocks until in-flight derivations and validations finished. Used by tests and the sandbox.
func (o *Orchestrator) Wait() {
	if o.destination != nil {
		o.destination.Wait()
	}
	if o.fees != nil {
		o.fees.Wait()
	}
	o.runner.Wait()
}

// Kind returns the operation kind
func (o *Orchestrator) Kind() OperationKind {
	return o.opts.Kind
}

// Session identifies this orchestrator in logs and snapshots
func (o *Orchestrator) Session() uuid.UUID {
	return o.session
}

func (o *Orchestrator) context() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil {
		return context.Background()
	}
	return o.ctx
}

// operatorError reports a call the operation kind does not support. It panics in
// development builds and is ignored in production.
func (o *Orchestrator) operatorError(operation string) {
	err := interfaces.ErrOperationForbidden.Explain("%s is not supported by %s", operation, o.opts.Kind)
	if o.opts.Development {
		panic(err)
	}
	o.log.Warn("forbidden operation ignored", zap.String("operation", operation))
}

// Amount returns the current amount, nil when none was entered
func (o *Orchestrator) Amount() *interfaces.Amount {
	return o.amount.Get()
}

// AmountCell exposes the amount for subscription
func (o *Orchestrator) AmountCell() *cell.Cell[*interfaces.Amount] {
	return o.amount.Cell
}

// AmountDidChange stores a user edited amount. A nil amount clears it.
func (o *Orchestrator) AmountDidChange(a *interfaces.Amount) {
	if !o.behaviour.amountEditable {
		o.operatorError("amount change")
		return
	}
	o.setAmount(a)
}

func (o *Orchestrator) setAmount(a *interfaces.Amount) {
	if a == nil {
		o.amount.Clear()
		return
	}
	if a.Kind == interfaces.AmountKindAlternative {
		if fiat, ok := a.FiatValue(); ok {
			o.amount.SetFiat(fiat)
			return
		}
	}
	if crypto, ok := a.CryptoValue(); ok {
		o.amount.SetCrypto(crypto)
		return
	}
	o.amount.Clear()
}

// DestinationDidChange validates a new destination input
func (o *Orchestrator) DestinationDidChange(ctx context.Context, raw string, provenance interfaces.Provenance) {
	if o.destination == nil {
		o.operatorError("destination change")
		return
	}
	o.destination.SetAddress(ctx, raw, provenance)
}

// AdditionalFieldDidChange parses memo or destination tag input
func (o *Orchestrator) AdditionalFieldDidChange(raw string) {
	if o.destination == nil {
		o.operatorError("additional field change")
		return
	}
	o.destination.SetAdditionalField(raw)
}

// DestinationAddress returns the validated destination, empty when there is none
func (o *Orchestrator) DestinationAddress() string {
	if o.destination == nil {
		o.operatorError("destination access")
		return ""
	}
	if d := o.destination.Get().Destination; d != nil {
		return d.Address
	}
	return ""
}

// Destination returns the full destination state of a transfer
func (o *Orchestrator) Destination() (destination.State, bool) {
	if o.destination == nil {
		return destination.State{}, false
	}
	return o.destination.Get(), true
}

// SelectedFee returns the fee shown to the user. Staking kinds derive it from the staking state.
func (o *Orchestrator) SelectedFee() interfaces.Fee {
	if o.staking != nil {
		return interfaces.Fee{Option: interfaces.FeeOptionMarket, Value: o.staking.Get().SendFee()}
	}
	return o.fees.Selected()
}

// Fees returns every offered fee option
func (o *Orchestrator) Fees() []interfaces.Fee {
	if o.staking != nil {
		return []interfaces.Fee{o.SelectedFee()}
	}
	return o.fees.Get().Options
}

// FeeDidChange selects another fee option
func (o *Orchestrator) FeeDidChange(option interfaces.FeeOption) {
	if o.fees == nil {
		o.operatorError("fee change")
		return
	}
	if err := o.fees.Select(option); err != nil {
		o.log.Warn("fee option rejected", zap.String("option", string(option)), zap.Error(err))
	}
}

// SetCustomFee selects a user defined fee
func (o *Orchestrator) SetCustomFee(value decimal.Decimal) {
	if o.fees == nil {
		o.operatorError("custom fee")
		return
	}
	if err := o.fees.SetCustom(value); err != nil {
		o.log.Warn("custom fee rejected", zap.Error(err))
	}
}

// Candidate returns the latest transfer candidate, nil while none is derived
func (o *Orchestrator) Candidate() *interfaces.Candidate {
	return o.candidate.Get()
}

// CandidateCell exposes the candidate for subscription
func (o *Orchestrator) CandidateCell() *cell.Cell[*interfaces.Candidate] {
	return o.candidate
}

// StakingState returns the current staking state; transfer orchestrators always report loading
func (o *Orchestrator) StakingState() state.StakingState {
	if o.staking == nil {
		return state.Loading()
	}
	return o.staking.Get()
}

// StakingStateCell exposes the staking state for subscription, nil for transfers
func (o *Orchestrator) StakingStateCell() *cell.Cell[state.StakingState] {
	if o.staking == nil {
		return nil
	}
	return o.staking.Cell
}

// Ready publishes whether the operation can be sent
func (o *Orchestrator) Ready() *cell.Cell[bool] {
	return o.ready
}

// FeeIncluded publishes whether the fee is taken out of the entered amount
func (o *Orchestrator) FeeIncluded() *cell.Cell[bool] {
	return o.feeIncluded
}

// ActionInProcessing reports a running PerformAction or a loading staking manager
func (o *Orchestrator) ActionInProcessing() bool {
	if o.loading.Get() {
		return true
	}
	return o.deps.StakingManager != nil && o.deps.StakingManager.State() == interfaces.StakingManagerLoading
}

// TransactionSentAt returns the time of the last successful dispatch
func (o *Orchestrator) TransactionSentAt() (time.Time, bool) {
	t := o.sentAt.Get()
	return t, !t.IsZero()
}

// TransactionURL returns the explorer URL of the last successful dispatch
func (o *Orchestrator) TransactionURL() string {
	return o.url.Get()
}

// SelectValidator changes the staking target of a stake
func (o *Orchestrator) SelectValidator(address string) {
	if o.opts.Kind != KindStake {
		o.operatorError("validator selection")
		return
	}
	o.validator.Set(address)
	o.restartTimerIfRunning()
}

// UpdateApprovePolicy changes the approval size and forces recomputation
func (o *Orchestrator) UpdateApprovePolicy(policy interfaces.ApprovePolicy) {
	if !o.behaviour.allowance {
		o.operatorError("approve policy")
		return
	}
	o.policy.Set(policy)
	o.restartTimerIfRunning()
}

func (o *Orchestrator) restartTimerIfRunning() {
	if o.timer != nil && o.timer.Running() {
		o.timer.Restart()
	}
}
