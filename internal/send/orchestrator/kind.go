package orchestrator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/walletsend/internal/send/dispatch"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// OperationKind is the closed set of operations an orchestrator can drive
type OperationKind string

const (
	KindTransfer      OperationKind = "transfer"
	KindStake         OperationKind = "stake"
	KindUnstake       OperationKind = "unstake"
	KindRestake       OperationKind = "restake"
	KindPendingAction OperationKind = "pendingAction"
)

// behaviour is the per-kind capability row
type behaviour struct {
	amountEditable bool
	feeOptions     []interfaces.FeeOption
	destination    bool
	allowance      bool
	staking        bool
	actionType     interfaces.StakingActionType
}

var marketOnly = []interfaces.FeeOption{interfaces.FeeOptionMarket}

var behaviours = map[OperationKind]behaviour{
	KindTransfer: {
		amountEditable: true,
		feeOptions: []interfaces.FeeOption{
			interfaces.FeeOptionSlow,
			interfaces.FeeOptionMarket,
			interfaces.FeeOptionFast,
			interfaces.FeeOptionCustom,
		},
		destination: true,
	},
	KindStake: {
		amountEditable: true,
		feeOptions:     marketOnly,
		allowance:      true,
		staking:        true,
		actionType:     interfaces.StakingActionStake,
	},
	KindUnstake: {
		feeOptions: marketOnly,
		staking:    true,
		actionType: interfaces.StakingActionUnstake,
	},
	KindRestake: {
		feeOptions: marketOnly,
		staking:    true,
		actionType: interfaces.StakingActionRestake,
	},
	KindPendingAction: {
		feeOptions: marketOnly,
		staking:    true,
		actionType: interfaces.StakingActionPending,
	},
}

// DefaultFiatDecimals is the fiat precision used when none is configured
const DefaultFiatDecimals int32 = 2

// DefaultReduceAmountMultiplier scales the fee in the amount-to-reduce hint
var DefaultReduceAmountMultiplier = decimal.NewFromInt(3)

// Options is the explicit configuration of one orchestrator
type Options struct {
	Kind OperationKind `validate:"required,oneof=transfer stake unstake restake pendingAction"`
	// AssetID identifies the sent asset towards collaborators and analytics
	AssetID string `validate:"required"`
	// FeeAssetID is the asset fees are paid in; defaults to AssetID
	FeeAssetID string
	// CurrencyID is the rate lookup key of the asset; defaults to AssetID
	CurrencyID     string
	Blockchain     string
	CryptoDecimals int32 `validate:"gte=0,lte=36"`
	// FiatDecimals defaults to DefaultFiatDecimals when nil. Zero is valid for
	// currencies without minor units.
	FiatDecimals *int32 `validate:"omitempty,gte=0,lte=8"`

	// Development makes operator errors panic
	Development bool

	ApprovePolicy          interfaces.ApprovePolicy `validate:"omitempty,oneof=unlimited exact"`
	PollInterval           time.Duration            `validate:"gte=0"`
	RelevanceWindow        time.Duration            `validate:"gte=0"`
	ReduceAmountMultiplier decimal.Decimal

	// Validator preselects the staking target of a stake
	Validator string
	// Action is the fixed action of unstake, restake and pending actions
	Action interfaces.StakingAction
}

// Dependencies are the injected collaborators. Which ones are required depends on the kind.
type Dependencies struct {
	Gateway *dispatch.Gateway

	Rates          interfaces.RateProvider
	Balances       interfaces.BalanceSource
	Validator      interfaces.TransactionValidator
	Analytics      interfaces.AnalyticsLogger
	MinimalBalance interfaces.MinimalBalanceProvider

	// transfer
	Creator     interfaces.TransactionCreator
	FeeSource   interfaces.FeeQuoteSource
	Relevance   interfaces.InformationRelevanceService
	Addresses   interfaces.AddressService
	Resolver    interfaces.AddressResolver
	FieldParser interfaces.AdditionalFieldParser

	// staking
	StakingManager interfaces.StakingManager
	Allowance      interfaces.AllowanceProvider
	AccountInit    interfaces.AccountInitializationService
}

var validate = validator.New()

func (o *Options) normalize() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid orchestrator options: %w", err)
	}
	if o.FeeAssetID == "" {
		o.FeeAssetID = o.AssetID
	}
	if o.CurrencyID == "" {
		o.CurrencyID = o.AssetID
	}
	if o.FiatDecimals == nil {
		fiat := DefaultFiatDecimals
		o.FiatDecimals = &fiat
	}
	if o.ApprovePolicy == "" {
		o.ApprovePolicy = interfaces.ApprovePolicyUnlimited
	}
	if o.ReduceAmountMultiplier.IsZero() {
		o.ReduceAmountMultiplier = DefaultReduceAmountMultiplier
	}
	return nil
}

func (d Dependencies) check(kind OperationKind) error {
	missing := func(name string) error {
		return fmt.Errorf("%s orchestrator requires %s", kind, name)
	}

	if d.Gateway == nil {
		return missing("a dispatch gateway")
	}
	switch kind {
	case KindTransfer:
		if d.Creator == nil {
			return missing("a transaction creator")
		}
		if d.FeeSource == nil {
			return missing("a fee quote source")
		}
		if d.Addresses == nil {
			return missing("an address service")
		}
	default:
		if d.StakingManager == nil {
			return missing("a staking manager")
		}
	}
	return nil
}
