package orchestrator

import (
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// SummaryKind distinguishes the summary variants
type SummaryKind string

const (
	SummarySend    SummaryKind = "send"
	SummaryStaking SummaryKind = "staking"
)

// Summary is the transaction data shown before confirmation
type Summary struct {
	Kind        SummaryKind               `json:"kind"`
	Amount      *interfaces.Amount        `json:"amount"`
	Fee         interfaces.Fee            `json:"fee"`
	Destination string                    `json:"destination,omitempty"`
	Schedule    interfaces.RewardSchedule `json:"schedule,omitempty"`
}

// Summary returns the confirmation data, nil when the operation shows none
func (o *Orchestrator) Summary() *Summary {
	a := o.amount.Get()
	if a == nil {
		return nil
	}

	switch o.opts.Kind {
	case KindTransfer:
		s := &Summary{Kind: SummarySend, Amount: a, Fee: o.fees.Selected()}
		if d := o.destination.Get().Destination; d != nil {
			s.Destination = d.Address
		}
		return s
	case KindStake:
		schedule, ok := o.deps.StakingManager.RewardSchedule()
		if !ok {
			return nil
		}
		return &Summary{Kind: SummaryStaking, Amount: a, Fee: o.SelectedFee(), Schedule: schedule}
	default:
		return nil
	}
}
