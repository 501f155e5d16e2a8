// Package relevance tracks how fresh the shown fee is
package relevance

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/cell"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// DefaultWindow is how long a loaded fee is considered actual
const DefaultWindow = time.Minute

// Fees is the part of the fee cell the service reads
type Fees interface {
	cell.Notifier
	Selected() interfaces.Fee
	Reload(ctx context.Context, req interfaces.FeeRequest) (decimal.Decimal, error)
}

// RequestFunc returns the fee request of the current inputs
type RequestFunc func() interfaces.FeeRequest

// Service implements interfaces.InformationRelevanceService on top of a fee cell
type Service struct {
	fees    Fees
	request RequestFunc
	window  time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu        sync.Mutex
	updatedAt time.Time
}

var _ interfaces.InformationRelevanceService = (*Service)(nil)

// NewService creates a relevance service; a zero window uses DefaultWindow
func NewService(fees Fees, request RequestFunc, window time.Duration, log *zap.Logger) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		fees:    fees,
		request: request,
		window:  window,
		now:     time.Now,
		log:     log.Named("relevance"),
	}
}

// Track marks the information fresh whenever the fee cell publishes a loaded
// selection, until ctx is done
func (s *Service) Track(ctx context.Context) {
	cell.Watch(ctx, func() {
		if _, ok := s.fees.Selected().Value.Loaded(); ok {
			s.MarkUpdated()
		}
	}, s.fees)
}

// MarkUpdated records a fee refresh
func (s *Service) MarkUpdated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = s.now()
}

// IsActual reports whether the last refresh is within the window
func (s *Service) IsActual() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.updatedAt.IsZero() && s.now().Sub(s.updatedAt) < s.window
}

// UpdateInformation reloads the fee and compares the selected option with the
// value shown before the reload
func (s *Service) UpdateInformation(ctx context.Context) (interfaces.RelevanceResult, error) {
	shown, hadShown := s.fees.Selected().Value.Loaded()

	fresh, err := s.fees.Reload(ctx, s.request())
	if err != nil {
		return interfaces.RelevanceOK, err
	}
	s.MarkUpdated()

	if hadShown && fresh.GreaterThan(shown) {
		s.log.Info("fee was increased",
			zap.Stringer("shown", shown),
			zap.Stringer("current", fresh))
		return interfaces.RelevanceFeeWasIncreased, nil
	}
	return interfaces.RelevanceOK, nil
}
