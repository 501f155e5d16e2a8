package staleness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

type mockRelevance struct {
	mock.Mock
}

func (m *mockRelevance) IsActual() bool {
	return m.Called().Bool(0)
}

func (m *mockRelevance) UpdateInformation(ctx context.Context) (interfaces.RelevanceResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.RelevanceResult), args.Error(1)
}

func TestGuard(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("nil service is always actual", func(t *testing.T) {
		assert.NoError(t, NewGuard(nil, log).Check(ctx))
	})

	t.Run("actual information skips the refresh", func(t *testing.T) {
		r := &mockRelevance{}
		r.On("IsActual").Return(true)

		assert.NoError(t, NewGuard(r, log).Check(ctx))
		r.AssertNotCalled(t, "UpdateInformation", mock.Anything)
	})

	t.Run("refresh without change proceeds", func(t *testing.T) {
		r := &mockRelevance{}
		r.On("IsActual").Return(false)
		r.On("UpdateInformation", ctx).Return(interfaces.RelevanceOK, nil)

		assert.NoError(t, NewGuard(r, log).Check(ctx))
		r.AssertExpectations(t)
	})

	t.Run("fee increase aborts", func(t *testing.T) {
		r := &mockRelevance{}
		r.On("IsActual").Return(false)
		r.On("UpdateInformation", ctx).Return(interfaces.RelevanceFeeWasIncreased, nil)

		err := NewGuard(r, log).Check(ctx)
		assert.True(t, interfaces.IsDispatchKind(err, interfaces.DispatchInformationRelevanceFeeIncrease))
	})

	t.Run("refresh failure aborts", func(t *testing.T) {
		cause := errors.New("fee source down")
		r := &mockRelevance{}
		r.On("IsActual").Return(false)
		r.On("UpdateInformation", ctx).Return(interfaces.RelevanceOK, cause)

		err := NewGuard(r, log).Check(ctx)
		assert.True(t, interfaces.IsDispatchKind(err, interfaces.DispatchInformationRelevanceError))
		assert.ErrorIs(t, err, cause)
	})
}
