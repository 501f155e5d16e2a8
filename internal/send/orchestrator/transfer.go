package orchestrator

import (
	"context"
	"fmt"
	"maps"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/derivation"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

type transferInputs struct {
	amount  decimal.Decimal
	fee     interfaces.Fee
	address string
	field   interfaces.AdditionalField
}

// matches reports whether two input sets would build the same transaction
func (in transferInputs) matches(other transferInputs) bool {
	if !in.amount.Equal(other.amount) || in.address != other.address {
		return false
	}
	if in.fee.Option != other.fee.Option || in.fee.Value.State != other.fee.Value.State ||
		!in.fee.Value.Amount.Equal(other.fee.Value.Amount) {
		return false
	}
	if in.field.Kind != other.field.Kind || in.field.Raw != other.field.Raw {
		return false
	}
	return maps.Equal(in.field.Params, other.field.Params)
}

// builtCandidate is a published candidate together with the inputs it was built from
type builtCandidate struct {
	in        transferInputs
	candidate *interfaces.Candidate
}

type transferResult struct {
	tx          *interfaces.Transaction
	feeIncluded bool
}

// feeRequest describes the fee quote for the current amount and destination
func (o *Orchestrator) feeRequest() interfaces.FeeRequest {
	req := interfaces.FeeRequest{AssetID: o.opts.AssetID}
	if value, ok := o.amount.Crypto(); ok {
		req.Amount = value
	}
	if o.destination != nil {
		if d := o.destination.Get().Destination; d != nil {
			req.Destination = d.Address
		}
	}
	return req
}

// feeRequestKey identifies a fee request. Addresses are already canonical, so they
// are compared as is.
func feeRequestKey(req interfaces.FeeRequest) string {
	return fmt.Sprintf("%s|%s|%s", req.AssetID, req.Amount.String(), req.Destination)
}

// currentTransferInputs reads the cells; ok is false while an input is missing,
// invalid or still validating
func (o *Orchestrator) currentTransferInputs() (transferInputs, bool) {
	value, hasAmount := o.amount.Crypto()
	dest := o.destination.Get()
	if !hasAmount || !value.IsPositive() || !dest.Usable() {
		return transferInputs{}, false
	}
	return transferInputs{
		amount:  value,
		fee:     o.fees.Selected(),
		address: dest.Destination.Address,
		field:   dest.AdditionalField,
	}, true
}

// recomputeTransfer combines the latest amount, destination and fee into a candidate
func (o *Orchestrator) recomputeTransfer() {
	ctx := o.context()
	if ctx.Err() != nil {
		return
	}

	in, ok := o.currentTransferInputs()
	if !ok {
		o.clearCandidate()
		return
	}

	req := interfaces.FeeRequest{AssetID: o.opts.AssetID, Amount: in.amount, Destination: in.address}
	if o.swapFeeKey(feeRequestKey(req)) {
		o.clearCandidate()
		o.fees.Load(ctx, req)
		return
	}

	switch in.fee.Value.State {
	case interfaces.LoadStateLoading:
		o.clearCandidate()
		return
	case interfaces.LoadStateFailed:
		o.runner.Reset(func() {
			o.publishCandidateLocked(nil, &interfaces.Candidate{Err: in.fee.Value.Err}, false)
		})
		return
	}

	if o.deriving(in) {
		return
	}

	derivation.Restart(o.runner, ctx, func() {
		o.publishCandidateLocked(&in, nil, false)
	}, func(ctx context.Context) (transferResult, error) {
		return o.deriveTransfer(ctx, in)
	}, func(res transferResult, err error) {
		if err != nil {
			o.publishCandidateLocked(&in, &interfaces.Candidate{Err: err}, res.feeIncluded)
			return
		}
		o.publishCandidateLocked(&in, &interfaces.Candidate{Transaction: res.tx}, res.feeIncluded)
	})
}

// deriving reports whether a derivation of exactly these inputs is running or published
func (o *Orchestrator) deriving(in transferInputs) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.built != nil && o.built.in.matches(in)
}

// publishCandidateLocked replaces the candidate and the inputs it belongs to. in is
// nil when the candidate does not stem from a derivation. Called with the runner lock held.
func (o *Orchestrator) publishCandidateLocked(in *transferInputs, candidate *interfaces.Candidate, feeIncluded bool) {
	o.mu.Lock()
	if in != nil {
		o.built = &builtCandidate{in: *in, candidate: candidate}
	} else {
		o.built = nil
	}
	o.mu.Unlock()

	o.candidate.Set(candidate)
	o.feeIncluded.Set(feeIncluded)
	o.ready.Set(candidate.OK())
}

// sendableCandidate returns the published transaction if it was built from the
// inputs the cells hold right now
func (o *Orchestrator) sendableCandidate() (*interfaces.Transaction, error) {
	o.mu.Lock()
	built := o.built
	o.mu.Unlock()

	current := o.candidate.Get()
	if built == nil || built.candidate == nil || built.candidate != current {
		var cause error
		if current != nil {
			cause = current.Err
		}
		return nil, interfaces.NewDispatchError(interfaces.DispatchTransactionNotFound, cause)
	}
	if !built.candidate.OK() {
		return nil, interfaces.NewDispatchError(interfaces.DispatchTransactionNotFound, built.candidate.Err)
	}

	in, ok := o.currentTransferInputs()
	if !ok || !built.in.matches(in) {
		return nil, interfaces.NewDispatchError(interfaces.DispatchTransactionNotFound, interfaces.ErrCandidateOutdated)
	}
	return built.candidate.Transaction, nil
}

func (o *Orchestrator) deriveTransfer(ctx context.Context, in transferInputs) (transferResult, error) {
	decision, err := o.inclusion.Decide(ctx, in.amount, in.fee.Value.Amount)
	if err != nil {
		return transferResult{}, err
	}
	res := transferResult{feeIncluded: decision.Included}

	if o.deps.Validator != nil {
		if err := o.deps.Validator.Validate(decision.Amount, decision.Fee); err != nil {
			return res, err
		}
	}

	tx, err := o.deps.Creator.CreateTransaction(ctx, interfaces.TransactionRequest{
		AssetID:     o.opts.AssetID,
		Amount:      decision.Amount,
		Fee:         decision.Fee,
		FeeOption:   in.fee.Option,
		Destination: in.address,
		Params:      in.field.Params,
	})
	if err != nil {
		return res, fmt.Errorf("failed to create transaction: %w", err)
	}

	if len(in.field.Params) > 0 {
		if tx.Params == nil {
			tx.Params = make(interfaces.TransactionParams, len(in.field.Params))
		}
		for k, v := range in.field.Params {
			tx.Params[k] = v
		}
	}

	res.tx = tx
	o.log.Debug("transaction candidate derived",
		zap.Stringer("amount", decision.Amount),
		zap.Stringer("fee", decision.Fee),
		zap.Bool("fee_included", decision.Included))
	return res, nil
}

func (o *Orchestrator) clearCandidate() {
	o.runner.Reset(func() {
		o.publishCandidateLocked(nil, nil, false)
	})
}

// swapFeeKey stores key and reports whether it differs from the previous one
func (o *Orchestrator) swapFeeKey(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.feeKey == key {
		return false
	}
	o.feeKey = key
	return true
}

func (o *Orchestrator) forgetFeeKey() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feeKey = ""
}
