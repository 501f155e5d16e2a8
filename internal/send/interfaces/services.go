package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateProvider looks up the fiat rate of a currency
type RateProvider interface {
	GetRate(currencyID string) (decimal.Decimal, error)
}

// BalanceSource reports spendable balances; used by the fee-inclusion policy
type BalanceSource interface {
	SpendableBalance(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// TransactionCreator builds concrete, chain specific transactions
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error)
}

// TransactionValidator checks amount and fee against protocol minimums and balances.
// It returns an input-category *errors.Error for user facing problems.
type TransactionValidator interface {
	Validate(amount, fee decimal.Decimal) error
}

// FeeQuoteSource supplies fee option values
type FeeQuoteSource interface {
	GetFees(ctx context.Context, req FeeRequest) ([]FeeQuote, error)
}

// InformationRelevanceService reports whether the last fetched fee is still current
type InformationRelevanceService interface {
	IsActual() bool
	UpdateInformation(ctx context.Context) (RelevanceResult, error)
}

// StakingManager is the staking backend of one yield
type StakingManager interface {
	State() StakingManagerState
	EstimateFee(ctx context.Context, action StakingAction) (decimal.Decimal, error)
	Transaction(ctx context.Context, action StakingAction) (*StakingTransactionInfo, error)
	TransactionDidSend(action StakingAction)
	Balances() []StakingBalance
	// AllowanceAddress is the spender that needs an approval, empty when none
	AllowanceAddress() string
	RewardSchedule() (RewardSchedule, bool)
	// MinimumRequirement is the minimal amount to enter the yield, zero when none
	MinimumRequirement() decimal.Decimal
	StakesCount(validator string) int
}

// AllowanceProvider queries and tracks on-chain spend allowances
type AllowanceProvider interface {
	SupportsAllowance() bool
	Allowance(ctx context.Context, spender string) (decimal.Decimal, error)
	HasPendingApproval(spender string) bool
	BuildApproval(ctx context.Context, spender string, amount decimal.Decimal, policy ApprovePolicy) (*ApprovalDescriptor, error)
	DidSendApproveTransaction(spender string)
}

// Dispatcher signs and broadcasts finished transactions
type Dispatcher interface {
	Send(ctx context.Context, tx DispatchTransaction) (*DispatchResult, error)
}

// AddressService validates raw address syntax and knows the wallet's own addresses
type AddressService interface {
	IsValid(address string) bool
	// Canonical returns the canonical spelling of a valid address
	Canonical(address string) string
	OwnAddresses() []string
}

// AddressResolver resolves human-readable names to canonical addresses
type AddressResolver interface {
	CanResolve(input string) bool
	Resolve(ctx context.Context, name string) (string, error)
}

// AdditionalFieldParser handles memo / destination tag input for a chain
type AdditionalFieldParser interface {
	// Extract splits an additional field embedded in an address
	Extract(address string) (clean string, raw string, ok bool)
	Parse(raw string) (TransactionParams, error)
}

// AccountInitializationService handles chains whose accounts need an initializing transaction
type AccountInitializationService interface {
	IsAccountInitialized(ctx context.Context) (bool, error)
	EstimateInitializationFee(ctx context.Context) (decimal.Decimal, error)
	InitializeAccount(ctx context.Context, fee decimal.Decimal) error
}

// MinimalBalanceProvider reports the balance that must stay on the account
type MinimalBalanceProvider interface {
	MinimalBalance() decimal.Decimal
}

// TransactionSentEvent is logged after a successful dispatch
type TransactionSentEvent struct {
	Source      string          `json:"source"`
	Token       string          `json:"token"`
	Blockchain  string          `json:"blockchain"`
	FeeOption   FeeOption       `json:"fee_type"`
	SignerType  string          `json:"wallet_form"`
	Memo        string          `json:"memo"`
	AmountKind  AmountKind      `json:"amount_kind,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	CurrentHost string          `json:"current_host,omitempty"`
	SentAt      time.Time       `json:"sent_at"`
}

// TransactionRejectedEvent is logged when the network rejected a transaction
type TransactionRejectedEvent struct {
	Source string `json:"source"`
	Token  string `json:"token"`
	Error  string `json:"error"`
}

// AnalyticsLogger receives dispatch outcome events
type AnalyticsLogger interface {
	LogTransactionSent(ctx context.Context, event TransactionSentEvent)
	LogTransactionRejected(ctx context.Context, event TransactionRejectedEvent)
}
