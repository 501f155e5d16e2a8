// Package interfaces provides types and collaborator contracts for the send pipeline
package interfaces

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountKind tells which side of an Amount drives the other
type AmountKind string

const (
	// AmountKindTypical means the crypto value was entered and fiat is derived
	AmountKindTypical AmountKind = "typical"
	// AmountKindAlternative means the fiat value was entered and crypto is derived
	AmountKindAlternative AmountKind = "alternative"
)

// Amount is a crypto/fiat pair. A derived side without a rate is absent, not zero.
type Amount struct {
	Crypto decimal.NullDecimal `json:"crypto"`
	Fiat   decimal.NullDecimal `json:"fiat"`
	Kind   AmountKind          `json:"kind"`
}

// CryptoValue returns the crypto side if present
func (a Amount) CryptoValue() (decimal.Decimal, bool) {
	return a.Crypto.Decimal, a.Crypto.Valid
}

// FiatValue returns the fiat side if present
func (a Amount) FiatValue() (decimal.Decimal, bool) {
	return a.Fiat.Decimal, a.Fiat.Valid
}

// Provenance records how a destination was entered
type Provenance string

const (
	ProvenanceOwnWallet        Provenance = "ownWallet"
	ProvenanceRecentAddress    Provenance = "recentAddress"
	ProvenancePasteAction      Provenance = "pasteAction"
	ProvenanceQRScan           Provenance = "qrScan"
	ProvenanceTextEntry        Provenance = "textEntry"
	ProvenanceExternalProvider Provenance = "externalProvider"
)

// Destination is a validated recipient
type Destination struct {
	Address    string     `json:"address"`
	Provenance Provenance `json:"provenance"`
}

// TransactionParams are protocol specific parameters such as a memo or destination tag
type TransactionParams map[string]string

// AdditionalFieldKind enumerates the memo/tag slot states
type AdditionalFieldKind string

const (
	AdditionalFieldNotSupported AdditionalFieldKind = "notSupported"
	AdditionalFieldEmpty        AdditionalFieldKind = "empty"
	AdditionalFieldFilled       AdditionalFieldKind = "filled"
)

// AnalyticsValue reports the slot as null, empty or full without leaking its content
func (k AdditionalFieldKind) AnalyticsValue() string {
	switch k {
	case AdditionalFieldEmpty:
		return "empty"
	case AdditionalFieldFilled:
		return "full"
	default:
		return "null"
	}
}

// AdditionalField is the memo / destination tag slot
type AdditionalField struct {
	Kind   AdditionalFieldKind `json:"kind"`
	Raw    string              `json:"raw,omitempty"`
	Params TransactionParams   `json:"params,omitempty"`
}

// FeeOption is a fee speed tier
type FeeOption string

const (
	FeeOptionSlow   FeeOption = "slow"
	FeeOptionMarket FeeOption = "market"
	FeeOptionFast   FeeOption = "fast"
	FeeOptionCustom FeeOption = "custom"
)

// Rank orders fee options from cheapest to user-defined
func (o FeeOption) Rank() int {
	switch o {
	case FeeOptionSlow:
		return 0
	case FeeOptionMarket:
		return 1
	case FeeOptionFast:
		return 2
	default:
		return 3
	}
}

// LoadState is the loading status of a fee value
type LoadState string

const (
	LoadStateLoading LoadState = "loading"
	LoadStateLoaded  LoadState = "loaded"
	LoadStateFailed  LoadState = "failedToLoad"
)

// FeeValue is Loading | Loaded(amount) | FailedToLoad(err)
type FeeValue struct {
	State  LoadState       `json:"state"`
	Amount decimal.Decimal `json:"amount"`
	Err    error           `json:"-"`
}

func LoadingFee() FeeValue { return FeeValue{State: LoadStateLoading} }

func LoadedFee(amount decimal.Decimal) FeeValue {
	return FeeValue{State: LoadStateLoaded, Amount: amount}
}

func FailedFee(err error) FeeValue { return FeeValue{State: LoadStateFailed, Err: err} }

// Loaded returns the fee amount when the value finished loading
func (v FeeValue) Loaded() (decimal.Decimal, bool) {
	return v.Amount, v.State == LoadStateLoaded
}

// Fee is the selected fee option and its value
type Fee struct {
	Option FeeOption `json:"option"`
	Value  FeeValue  `json:"value"`
}

// FeeQuote is one option returned by a fee quote source
type FeeQuote struct {
	Option FeeOption       `json:"option"`
	Amount decimal.Decimal `json:"amount"`
}

// FeeRequest describes what a fee quote is for
type FeeRequest struct {
	AssetID     string          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

// TransactionRequest is handed to the transaction creator
type TransactionRequest struct {
	AssetID         string
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	FeeOption       FeeOption
	Destination     string
	ContractAddress string
	Data            []byte
	Params          TransactionParams
}

// Transaction is a concrete, chain specific transaction ready for signing
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	AssetID         string            `json:"asset_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Fee             decimal.Decimal   `json:"fee"`
	FeeOption       FeeOption         `json:"fee_option"`
	Destination     string            `json:"destination"`
	ContractAddress string            `json:"contract_address,omitempty"`
	Data            []byte            `json:"data,omitempty"`
	Params          TransactionParams `json:"params,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Candidate is Result<Transaction, error>. Exactly one field is set.
type Candidate struct {
	Transaction *Transaction
	Err         error
}

// OK reports whether the candidate holds a transaction
func (c *Candidate) OK() bool {
	return c != nil && c.Transaction != nil && c.Err == nil
}

// ValidatorInfo is a staking target
type ValidatorInfo struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Preferred bool   `json:"preferred"`
}

// BalanceType is the lifecycle bucket of a staking balance
type BalanceType string

const (
	BalanceTypeActive       BalanceType = "active"
	BalanceTypeUnstaking    BalanceType = "unstaking"
	BalanceTypeWithdrawable BalanceType = "withdrawable"
	BalanceTypeRewards      BalanceType = "rewards"
	BalanceTypeLocked       BalanceType = "locked"
)

// StakingBalance is a position held with a validator
type StakingBalance struct {
	Amount    decimal.Decimal `json:"amount"`
	Type      BalanceType     `json:"type"`
	Validator string          `json:"validator"`
}

// StakingActionType enumerates the staking operations
type StakingActionType string

const (
	StakingActionStake   StakingActionType = "stake"
	StakingActionUnstake StakingActionType = "unstake"
	StakingActionRestake StakingActionType = "restake"
	StakingActionPending StakingActionType = "pending"
)

// StakingAction describes one staking operation
type StakingAction struct {
	Amount        decimal.Decimal   `json:"amount"`
	Validator     string            `json:"validator"`
	Type          StakingActionType `json:"type"`
	PassthroughID string            `json:"passthrough_id,omitempty"`
}

// StakingTransaction is one of possibly several transactions of a staking action
type StakingTransaction struct {
	ID      string          `json:"id"`
	Fee     decimal.Decimal `json:"fee"`
	Payload []byte          `json:"payload"`
}

// StakingTransactionInfo groups the transactions built for a staking action
type StakingTransactionInfo struct {
	ID           uuid.UUID            `json:"id"`
	Action       StakingAction        `json:"action"`
	Transactions []StakingTransaction `json:"transactions"`
}

// TotalFee sums the fee of every transaction
func (i *StakingTransactionInfo) TotalFee() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range i.Transactions {
		total = total.Add(tx.Fee)
	}
	return total
}

// RewardSchedule is shown in the stake summary
type RewardSchedule string

// ApprovePolicy controls the size of a token approval
type ApprovePolicy string

const (
	ApprovePolicyUnlimited ApprovePolicy = "unlimited"
	ApprovePolicyExact     ApprovePolicy = "exact"
)

// ApprovalDescriptor describes an approval transaction the caller may dispatch
type ApprovalDescriptor struct {
	Spender       string          `json:"spender"`
	TokenContract string          `json:"token_contract"`
	Data          []byte          `json:"data"`
	ApproveAmount *big.Int        `json:"approve_amount"`
	Fee           decimal.Decimal `json:"fee"`
}

// DispatchTransactionKind distinguishes transfer and staking payloads
type DispatchTransactionKind string

const (
	DispatchTransfer DispatchTransactionKind = "transfer"
	DispatchStaking  DispatchTransactionKind = "staking"
)

// DispatchTransaction is what the dispatcher signs and broadcasts
type DispatchTransaction struct {
	Kind     DispatchTransactionKind
	Transfer *Transaction
	Staking  *StakingTransactionInfo
}

// TransferDispatch wraps a transfer transaction
func TransferDispatch(tx *Transaction) DispatchTransaction {
	return DispatchTransaction{Kind: DispatchTransfer, Transfer: tx}
}

// StakingDispatch wraps a staking transaction set
func StakingDispatch(info *StakingTransactionInfo) DispatchTransaction {
	return DispatchTransaction{Kind: DispatchStaking, Staking: info}
}

// DispatchResult is the outcome of a successful dispatch
type DispatchResult struct {
	SignerType  string `json:"signer_type"`
	Hash        string `json:"hash"`
	URL         string `json:"url,omitempty"`
	CurrentHost string `json:"current_host,omitempty"`
}

// RelevanceResult is the outcome of refreshing fee information
type RelevanceResult string

const (
	RelevanceOK              RelevanceResult = "ok"
	RelevanceFeeWasIncreased RelevanceResult = "feeWasIncreased"
)

// StakingManagerState is the manager level readiness
type StakingManagerState string

const (
	StakingManagerLoading StakingManagerState = "loading"
	StakingManagerReady   StakingManagerState = "ready"
	StakingManagerFailed  StakingManagerState = "failed"
)
