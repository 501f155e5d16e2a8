package allowance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) SupportsAllowance() bool {
	return m.Called().Bool(0)
}

func (m *mockProvider) Allowance(ctx context.Context, spender string) (decimal.Decimal, error) {
	args := m.Called(ctx, spender)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockProvider) HasPendingApproval(spender string) bool {
	return m.Called(spender).Bool(0)
}

func (m *mockProvider) BuildApproval(ctx context.Context, spender string, amount decimal.Decimal, policy interfaces.ApprovePolicy) (*interfaces.ApprovalDescriptor, error) {
	args := m.Called(ctx, spender, amount, policy)
	approval, _ := args.Get(0).(*interfaces.ApprovalDescriptor)
	return approval, args.Error(1)
}

func (m *mockProvider) DidSendApproveTransaction(spender string) {
	m.Called(spender)
}

const spender = "0x00000000000000000000000000000000000000aa"

func TestEvaluate(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("no provider", func(t *testing.T) {
		res, err := NewEvaluator(nil, log).Evaluate(ctx, decimal.NewFromInt(100), spender, interfaces.ApprovePolicyUnlimited)
		require.NoError(t, err)
		assert.Equal(t, StatusNotApplicable, res.Status)
	})

	t.Run("no spender", func(t *testing.T) {
		p := &mockProvider{}
		p.On("SupportsAllowance").Return(true)
		res, err := NewEvaluator(p, log).Evaluate(ctx, decimal.NewFromInt(100), "", interfaces.ApprovePolicyUnlimited)
		require.NoError(t, err)
		assert.Equal(t, StatusNotApplicable, res.Status)
		p.AssertNotCalled(t, "Allowance", mock.Anything, mock.Anything)
	})

	t.Run("equal allowance is sufficient", func(t *testing.T) {
		p := &mockProvider{}
		p.On("SupportsAllowance").Return(true)
		p.On("Allowance", ctx, spender).Return(decimal.NewFromInt(100), nil)

		res, err := NewEvaluator(p, log).Evaluate(ctx, decimal.NewFromInt(100), spender, interfaces.ApprovePolicyExact)
		require.NoError(t, err)
		assert.Equal(t, StatusSufficient, res.Status)
		assert.Nil(t, res.Approval)
		p.AssertNotCalled(t, "BuildApproval", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("insufficient allowance requires approval", func(t *testing.T) {
		approval := &interfaces.ApprovalDescriptor{
			Spender:       spender,
			ApproveAmount: big.NewInt(100),
			Fee:           decimal.RequireFromString("0.002"),
		}
		p := &mockProvider{}
		p.On("SupportsAllowance").Return(true)
		p.On("Allowance", ctx, spender).Return(decimal.NewFromInt(50), nil)
		p.On("HasPendingApproval", spender).Return(false)
		p.On("BuildApproval", ctx, spender, decimal.NewFromInt(100), interfaces.ApprovePolicyExact).Return(approval, nil)

		res, err := NewEvaluator(p, log).Evaluate(ctx, decimal.NewFromInt(100), spender, interfaces.ApprovePolicyExact)
		require.NoError(t, err)
		assert.Equal(t, StatusApprovalRequired, res.Status)
		assert.Same(t, approval, res.Approval)
		assert.True(t, res.Allowance.Equal(decimal.NewFromInt(50)))
		p.AssertExpectations(t)
	})

	t.Run("pending approval", func(t *testing.T) {
		p := &mockProvider{}
		p.On("SupportsAllowance").Return(true)
		p.On("Allowance", ctx, spender).Return(decimal.NewFromInt(50), nil)
		p.On("HasPendingApproval", spender).Return(true)

		res, err := NewEvaluator(p, log).Evaluate(ctx, decimal.NewFromInt(100), spender, interfaces.ApprovePolicyUnlimited)
		require.NoError(t, err)
		assert.Equal(t, StatusApprovalPending, res.Status)
		p.AssertNotCalled(t, "BuildApproval", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("allowance query failure", func(t *testing.T) {
		p := &mockProvider{}
		p.On("SupportsAllowance").Return(true)
		p.On("Allowance", ctx, spender).Return(decimal.Zero, errors.New("rpc down"))

		_, err := NewEvaluator(p, log).Evaluate(ctx, decimal.NewFromInt(100), spender, interfaces.ApprovePolicyUnlimited)
		assert.ErrorContains(t, err, "rpc down")
	})
}

func TestApprovalTransactionSent(t *testing.T) {
	p := &mockProvider{}
	p.On("DidSendApproveTransaction", spender).Return()

	NewEvaluator(p, zaptest.NewLogger(t)).ApprovalTransactionSent(spender)
	p.AssertExpectations(t)

	// nil provider is a no-op
	NewEvaluator(nil, zaptest.NewLogger(t)).ApprovalTransactionSent(spender)
}
