// Package staleness re-validates fee information before a transaction is dispatched
package staleness

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/pkg/metrics"
)

// Guard runs on every send attempt
type Guard struct {
	relevance interfaces.InformationRelevanceService
	log       *zap.Logger
}

// NewGuard creates a guard. A nil relevance service treats information as always actual.
func NewGuard(relevance interfaces.InformationRelevanceService, log *zap.Logger) *Guard {
	return &Guard{relevance: relevance, log: log.Named("staleness")}
}

// Check returns nil when the shown fee may be used. Otherwise it returns a
// *interfaces.DispatchError of kind informationRelevanceServiceError or
// informationRelevanceServiceFeeWasIncreased.
func (g *Guard) Check(ctx context.Context) error {
	if g.relevance == nil || g.relevance.IsActual() {
		return nil
	}

	result, err := g.relevance.UpdateInformation(ctx)
	if err != nil {
		metrics.StalenessAborts.WithLabelValues("update_failed").Inc()
		g.log.Warn("failed to refresh fee information", zap.Error(err))
		return interfaces.NewDispatchError(interfaces.DispatchInformationRelevanceError, err)
	}

	switch result {
	case interfaces.RelevanceFeeWasIncreased:
		metrics.StalenessAborts.WithLabelValues("fee_increased").Inc()
		g.log.Info("fee increased since it was shown, aborting send")
		return interfaces.NewDispatchError(interfaces.DispatchInformationRelevanceFeeIncrease, nil)
	default:
		return nil
	}
}
