package feeinclusion

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedBalance struct {
	value decimal.Decimal
	err   error
}

func (b fixedBalance) SpendableBalance(context.Context, string) (decimal.Decimal, error) {
	return b.value, b.err
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		fee      string
		balance  string
		same     bool
		included bool
		sent     string
	}{
		{"plenty of balance", "2.5", "0.1", "10", true, false, "2.5"},
		{"exact boundary includes the fee", "9.9", "0.1", "10", true, true, "9.8"},
		{"full balance", "10", "0.1", "10", true, true, "9.9"},
		{"one unit short of the boundary", "9.8", "0.1", "10", true, false, "9.8"},
		{"amount above balance is left for the validator", "11", "0.1", "10", true, false, "11"},
		{"amount below fee", "0.05", "0.1", "0.1", true, false, "0.05"},
		{"fee in another asset", "10", "0.1", "10", false, false, "10"},
		{"zero fee", "10", "0", "10", true, false, "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(d(tt.amount), d(tt.fee), d(tt.balance), tt.same)
			assert.Equal(t, tt.included, got.Included)
			assert.True(t, got.Amount.Equal(d(tt.sent)), "sent %s", got.Amount)
			assert.True(t, got.Fee.Equal(d(tt.fee)))
		})
	}
}

func TestPolicy(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("reads the balance", func(t *testing.T) {
		p := NewPolicy(fixedBalance{value: d("2.6")}, "eth", "eth", log)
		got, err := p.Decide(ctx, d("2.5"), d("0.1"))
		require.NoError(t, err)
		assert.True(t, got.Included)
		assert.True(t, got.Amount.Equal(d("2.4")))
	})

	t.Run("token fees are never included", func(t *testing.T) {
		p := NewPolicy(fixedBalance{value: d("2.5")}, "usdt", "eth", log)
		got, err := p.Decide(ctx, d("2.5"), d("0.1"))
		require.NoError(t, err)
		assert.False(t, got.Included)
	})

	t.Run("balance failure", func(t *testing.T) {
		p := NewPolicy(fixedBalance{err: errors.New("timeout")}, "eth", "eth", log)
		_, err := p.Decide(ctx, d("2.5"), d("0.1"))
		assert.Error(t, err)
	})

	t.Run("no balance source", func(t *testing.T) {
		p := NewPolicy(nil, "eth", "eth", log)
		got, err := p.Decide(ctx, d("2.5"), d("0.1"))
		require.NoError(t, err)
		assert.False(t, got.Included)
	})
}
