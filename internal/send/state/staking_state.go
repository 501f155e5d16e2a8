// Package state provides the staking action state and its transition rules
package state

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/cell"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/pkg/metrics"
)

// Kind tags the staking action state variant
type Kind string

const (
	KindLoading                         Kind = "loading"
	KindReadyToApprove                  Kind = "readyToApprove"
	KindApproveInProgress               Kind = "approveInProgress"
	KindReadyToStake                    Kind = "readyToStake"
	KindValidationError                 Kind = "validationError"
	KindNetworkError                    Kind = "networkError"
	KindAccountInitializationRequired   Kind = "accountInitializationRequired"
	KindAccountInitializationInProgress Kind = "accountInitializationInProgress"
)

// ReadyToStake is the payload of the ready state. Unstake, restake and pending
// actions use it as their ready state too.
type ReadyToStake struct {
	Amount                    decimal.Decimal
	Fee                       decimal.Decimal
	FeeIncluded               bool
	StakeOnDifferentValidator bool
	// AmountToReduce is set when the fee is included
	AmountToReduce decimal.NullDecimal
	StakesCount    int
}

// StakingState is a tagged variant; only the fields of Kind are meaningful
type StakingState struct {
	Kind Kind

	Approval *interfaces.ApprovalDescriptor
	Ready    *ReadyToStake

	// Fee is carried by approveInProgress, validationError and accountInitializationRequired
	Fee     decimal.NullDecimal
	InitFee decimal.Decimal

	ValidationKind string
	Err            error
}

func Loading() StakingState { return StakingState{Kind: KindLoading} }

func ReadyToApprove(approval *interfaces.ApprovalDescriptor) StakingState {
	return StakingState{Kind: KindReadyToApprove, Approval: approval}
}

func ApproveInProgress(fee decimal.NullDecimal) StakingState {
	return StakingState{Kind: KindApproveInProgress, Fee: fee}
}

func Ready(ready ReadyToStake) StakingState {
	return StakingState{Kind: KindReadyToStake, Ready: &ready}
}

func ValidationError(err error, fee decimal.Decimal) StakingState {
	kind, _ := interfaces.ValidationKind(err)
	return StakingState{Kind: KindValidationError, ValidationKind: kind, Err: err, Fee: decimal.NewNullDecimal(fee)}
}

func NetworkError(err error) StakingState {
	return StakingState{Kind: KindNetworkError, Err: err}
}

func AccountInitializationRequired(initFee, txFee decimal.Decimal) StakingState {
	return StakingState{Kind: KindAccountInitializationRequired, InitFee: initFee, Fee: decimal.NewNullDecimal(txFee)}
}

func AccountInitializationInProgress() StakingState {
	return StakingState{Kind: KindAccountInitializationInProgress}
}

// IsReady reports whether the action may be performed
func (s StakingState) IsReady() bool {
	return s.Kind == KindReadyToStake && s.Ready != nil
}

// SendFee maps the state onto the fee shown to the user
func (s StakingState) SendFee() interfaces.FeeValue {
	switch s.Kind {
	case KindLoading, KindAccountInitializationInProgress:
		return interfaces.LoadingFee()
	case KindReadyToApprove:
		if s.Approval != nil {
			return interfaces.LoadedFee(s.Approval.Fee)
		}
	case KindReadyToStake:
		return interfaces.LoadedFee(s.Ready.Fee)
	case KindNetworkError:
		return interfaces.FailedFee(s.Err)
	}
	if s.Fee.Valid {
		return interfaces.LoadedFee(s.Fee.Decimal)
	}
	return interfaces.LoadingFee()
}

func (s StakingState) String() string {
	if s.Kind == KindValidationError && s.ValidationKind != "" {
		return fmt.Sprintf("%s(%s)", s.Kind, s.ValidationKind)
	}
	return string(s.Kind)
}

// ValidTransitions defines allowed state transitions; every kind may also move to itself.
// A pending approval falls back to readyToApprove when it was dropped or reverted; the
// allowance provider's pending tracking keeps at most one approval outstanding.
var ValidTransitions = map[Kind][]Kind{
	KindLoading: {
		KindReadyToApprove,
		KindApproveInProgress,
		KindReadyToStake,
		KindValidationError,
		KindNetworkError,
		KindAccountInitializationRequired,
		KindAccountInitializationInProgress,
	},
	KindReadyToApprove: {
		KindLoading,
		KindApproveInProgress,
		KindReadyToStake,
		KindValidationError,
		KindNetworkError,
	},
	KindApproveInProgress: {
		KindLoading,
		KindReadyToApprove,
		KindReadyToStake,
		KindValidationError,
		KindNetworkError,
		KindAccountInitializationRequired,
	},
	KindReadyToStake: {
		KindLoading,
		KindReadyToApprove,
		KindApproveInProgress,
		KindValidationError,
		KindNetworkError,
		KindAccountInitializationRequired,
	},
	KindValidationError: {
		KindLoading,
		KindReadyToApprove,
		KindApproveInProgress,
		KindReadyToStake,
		KindNetworkError,
		KindAccountInitializationRequired,
	},
	KindNetworkError: {
		KindLoading,
		KindReadyToApprove,
		KindApproveInProgress,
		KindReadyToStake,
		KindValidationError,
		KindAccountInitializationRequired,
	},
	KindAccountInitializationRequired: {
		KindLoading,
		KindAccountInitializationInProgress,
		KindValidationError,
		KindNetworkError,
	},
	KindAccountInitializationInProgress: {
		KindLoading,
		KindAccountInitializationRequired,
		KindReadyToApprove,
		KindApproveInProgress,
		KindReadyToStake,
		KindValidationError,
		KindNetworkError,
	},
}

// IsValidTransition checks if a state transition is valid
func IsValidTransition(from, to Kind) bool {
	if from == to {
		return true
	}
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine holds the current staking state and enforces the transition rules
type Machine struct {
	*cell.Cell[StakingState]

	log *zap.Logger
}

// NewMachine creates a machine in the loading state
func NewMachine(log *zap.Logger) *Machine {
	return &Machine{Cell: cell.New(Loading()), log: log.Named("staking_state")}
}

// TransitionTo moves to next if the transition is valid
func (m *Machine) TransitionTo(next StakingState) error {
	current, ok := m.UpdateIf(func(current StakingState) (StakingState, bool) {
		return next, IsValidTransition(current.Kind, next.Kind)
	})

	if !ok {
		metrics.InvalidTransitions.WithLabelValues(string(current.Kind), string(next.Kind)).Inc()
		m.log.Warn("invalid state transition attempted",
			zap.Stringer("from_state", current),
			zap.Stringer("to_state", next))
		return fmt.Errorf("invalid staking state transition from %s to %s", current.Kind, next.Kind)
	}

	m.log.Debug("staking state transition completed", zap.Stringer("state", next))
	return nil
}

// Reset moves back to loading, which is valid from every state
func (m *Machine) Reset() {
	if err := m.TransitionTo(Loading()); err != nil {
		m.log.Error("reset failed", zap.Error(err))
	}
}
