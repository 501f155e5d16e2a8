package interfaces

import (
	stderrors "errors"
	"fmt"

	"github.com/Aidin1998/walletsend/pkg/errors"
)

// Destination errors
var (
	ErrSameAsOwnWallet          = errors.Input.Reason("sameAsOwnWallet").Explain("destination is one of the wallet's own addresses")
	ErrInvalidFormat            = errors.Input.Reason("invalidFormat").Explain("destination address has an invalid format")
	ErrResolutionFailed         = errors.Network.Reason("resolutionFailed").Explain("destination name could not be resolved")
	ErrMalformedAdditionalField = errors.Protocol.Reason("malformedAdditionalField").Explain("memo or destination tag is malformed")
)

// Validation error kinds produced by a TransactionValidator
const (
	ValidationInsufficientBalance    = "insufficientBalance"
	ValidationInsufficientFeeBalance = "insufficientFeeBalance"
	ValidationDustAmount             = "dustAmount"
	ValidationMinimumRequirement     = "minimumRequirement"
	ValidationInvalidAmount          = "invalidAmount"
)

// NewValidationError builds a typed, user-facing validation error
func NewValidationError(kind, message string, args ...any) *errors.Error {
	return errors.Input.Reason(kind).Explain(message, args...)
}

// ValidationKind returns the kind of an input-category error
func ValidationKind(err error) (string, bool) {
	var e *errors.Error
	if errors.As(err, &e) && e.Category == errors.CategoryInput {
		return e.Kind, true
	}
	return "", false
}

// Orchestrator errors
var (
	ErrActionInProcessing    = errors.Terminal.Reason("actionInProcessing").Explain("an action is already being performed")
	ErrReadyToStakeNotFound  = errors.Protocol.Reason("readyToStakeNotFound").Explain("staking state is not ready")
	ErrApproveDataNotFound   = errors.Protocol.Reason("approveDataNotFound").Explain("no approval is required")
	ErrValidatorNotFound     = errors.Input.Reason("validatorNotFound").Explain("no validator selected")
	ErrAccountNotInitialized = errors.Protocol.Reason("accountIsNotInitialized").Explain("blockchain account is not initialized")
	ErrFeeNotLoaded          = errors.Network.Reason("feeNotLoaded").Explain("fee options failed to load")
	ErrCandidateOutdated     = errors.Stale.Reason("candidateOutdated").Explain("inputs changed after the transaction was built")
	ErrOperationForbidden    = errors.Operator.Reason("operationForbidden")
)

// Sentinel errors a Dispatcher may return; the gateway maps them to DispatchError kinds
var (
	ErrUserCancelled      = stderrors.New("user cancelled")
	ErrDemoMode           = stderrors.New("demo mode")
	ErrActionNotSupported = stderrors.New("action not supported")
)

// DispatchErrorKind enumerates the typed dispatch failures
type DispatchErrorKind string

const (
	DispatchDemoAlert                       DispatchErrorKind = "demoAlert"
	DispatchUserCancelled                   DispatchErrorKind = "userCancelled"
	DispatchInformationRelevanceError       DispatchErrorKind = "informationRelevanceServiceError"
	DispatchInformationRelevanceFeeIncrease DispatchErrorKind = "informationRelevanceServiceFeeWasIncreased"
	DispatchTransactionNotFound             DispatchErrorKind = "transactionNotFound"
	DispatchLoadTransactionInfo             DispatchErrorKind = "loadTransactionInfo"
	DispatchActionNotSupported              DispatchErrorKind = "actionNotSupported"
	DispatchSendTxError                     DispatchErrorKind = "sendTxError"
)

// Category maps a dispatch failure kind onto the pipeline error taxonomy
func (k DispatchErrorKind) Category() errors.Category {
	switch k {
	case DispatchDemoAlert, DispatchUserCancelled:
		return errors.CategoryTerminal
	case DispatchInformationRelevanceFeeIncrease:
		return errors.CategoryStaleness
	case DispatchInformationRelevanceError, DispatchSendTxError, DispatchLoadTransactionInfo:
		return errors.CategoryNetwork
	default:
		return errors.CategoryProtocol
	}
}

// DispatchError is the typed failure of PerformAction and the dispatch gateway
type DispatchError struct {
	Kind        DispatchErrorKind
	Transaction *DispatchTransaction
	Err         error
}

var _ error = (*DispatchError)(nil)

func NewDispatchError(kind DispatchErrorKind, cause error) *DispatchError {
	return &DispatchError{Kind: kind, Err: cause}
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("[%s]", e.Kind)
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another DispatchError by kind
func (e *DispatchError) Is(target error) bool {
	if other, ok := target.(*DispatchError); ok {
		return other.Kind == e.Kind
	}
	return false
}

// IsDispatchKind reports whether err carries a DispatchError of the given kind
func IsDispatchKind(err error, kind DispatchErrorKind) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Kind == kind
}
