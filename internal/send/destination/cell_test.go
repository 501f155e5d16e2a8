package destination

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

type testAddresses struct {
	own []string
}

func (a testAddresses) IsValid(address string) bool {
	return strings.HasPrefix(address, "0x") && len(address) == 6
}

func (a testAddresses) Canonical(address string) string { return strings.ToLower(address) }

func (a testAddresses) OwnAddresses() []string { return a.own }

// testResolver resolves "*.eth" names; names listed in gates block until released
type testResolver struct {
	names map[string]string
	gates map[string]chan struct{}
}

func (r *testResolver) CanResolve(input string) bool { return strings.HasSuffix(input, ".eth") }

func (r *testResolver) Resolve(ctx context.Context, name string) (string, error) {
	if gate, ok := r.gates[name]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	address, ok := r.names[name]
	if !ok {
		return "", errors.New("no such name")
	}
	return address, nil
}

type memoParser struct{}

func (memoParser) Extract(address string) (string, string, bool) {
	clean, memo, ok := strings.Cut(address, "?memo=")
	return clean, memo, ok
}

func (memoParser) Parse(raw string) (interfaces.TransactionParams, error) {
	if _, err := strconv.ParseUint(raw, 10, 32); err != nil {
		return nil, err
	}
	return interfaces.TransactionParams{"memo": raw}, nil
}

// base58Addresses treats addresses as case sensitive, so Canonical leaves them alone
type base58Addresses struct {
	own []string
}

func (a base58Addresses) IsValid(address string) bool { return len(address) == 8 }

func (a base58Addresses) Canonical(address string) string { return address }

func (a base58Addresses) OwnAddresses() []string { return a.own }

func settled(c *Cell) func() bool {
	return func() bool { return !c.Get().Busy }
}

func TestDestinationValidation(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()
	addresses := testAddresses{own: []string{"0xAAAA"}}

	t.Run("valid address is published canonically", func(t *testing.T) {
		c := NewCell(addresses, nil, nil, log)
		c.SetAddress(ctx, " 0xBEEF ", interfaces.ProvenancePasteAction)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)

		s := c.Get()
		require.True(t, s.Usable())
		assert.Equal(t, "0xbeef", s.Destination.Address)
		assert.Equal(t, interfaces.ProvenancePasteAction, s.Destination.Provenance)
		assert.Equal(t, interfaces.AdditionalFieldNotSupported, s.AdditionalField.Kind)
	})

	t.Run("invalid format", func(t *testing.T) {
		c := NewCell(addresses, nil, nil, log)
		c.SetAddress(ctx, "nope", interfaces.ProvenanceTextEntry)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)

		s := c.Get()
		assert.False(t, s.Usable())
		assert.ErrorIs(t, s.Err, interfaces.ErrInvalidFormat)
	})

	t.Run("own wallet is rejected", func(t *testing.T) {
		c := NewCell(addresses, nil, nil, log)
		c.SetAddress(ctx, "0xaaaa", interfaces.ProvenanceTextEntry)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)
		assert.ErrorIs(t, c.Get().Err, interfaces.ErrSameAsOwnWallet)
	})

	t.Run("case sensitive address differing from own wallet only in case", func(t *testing.T) {
		c := NewCell(base58Addresses{own: []string{"9xQeWvG8"}}, nil, nil, log)
		c.SetAddress(ctx, "9XqEwVg8", interfaces.ProvenanceTextEntry)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)

		s := c.Get()
		require.True(t, s.Usable(), "err %v", s.Err)
		assert.Equal(t, "9XqEwVg8", s.Destination.Address)

		c.SetAddress(ctx, "9xQeWvG8", interfaces.ProvenanceTextEntry)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)
		assert.ErrorIs(t, c.Get().Err, interfaces.ErrSameAsOwnWallet)
	})

	t.Run("name resolution replaces the raw input", func(t *testing.T) {
		resolver := &testResolver{names: map[string]string{"bob.eth": "0xB0B0"}}
		c := NewCell(addresses, resolver, nil, log)
		c.SetAddress(ctx, "bob.eth", interfaces.ProvenanceTextEntry)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)

		s := c.Get()
		require.True(t, s.Usable())
		assert.Equal(t, "0xb0b0", s.Destination.Address)
		assert.Equal(t, "bob.eth", s.Raw)
	})

	t.Run("resolution failure is typed", func(t *testing.T) {
		c := NewCell(addresses, &testResolver{}, nil, log)
		c.SetAddress(ctx, "ghost.eth", interfaces.ProvenanceTextEntry)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)
		assert.ErrorIs(t, c.Get().Err, interfaces.ErrResolutionFailed)
	})

	t.Run("busy while resolving", func(t *testing.T) {
		gate := make(chan struct{})
		resolver := &testResolver{
			names: map[string]string{"slow.eth": "0x5105"},
			gates: map[string]chan struct{}{"slow.eth": gate},
		}
		c := NewCell(addresses, resolver, nil, log)
		c.SetAddress(ctx, "slow.eth", interfaces.ProvenanceTextEntry)

		s := c.Get()
		assert.True(t, s.Busy)
		assert.False(t, s.Usable())

		close(gate)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)
		assert.True(t, c.Get().Usable())
	})

	t.Run("superseded validation never lands", func(t *testing.T) {
		gate := make(chan struct{})
		resolver := &testResolver{
			names: map[string]string{"old.eth": "0x01d0", "new.eth": "0x0e30"},
			gates: map[string]chan struct{}{"old.eth": gate},
		}
		c := NewCell(addresses, resolver, nil, log)
		c.SetAddress(ctx, "old.eth", interfaces.ProvenanceTextEntry)
		c.SetAddress(ctx, "new.eth", interfaces.ProvenanceTextEntry)
		close(gate)
		c.Wait()

		s := c.Get()
		require.True(t, s.Usable())
		assert.Equal(t, "0x0e30", s.Destination.Address)
	})

	t.Run("embedded memo surfaces with the address", func(t *testing.T) {
		c := NewCell(addresses, nil, memoParser{}, log)
		assert.Equal(t, interfaces.AdditionalFieldEmpty, c.Get().AdditionalField.Kind)

		c.SetAddress(ctx, "0xBEEF?memo=42", interfaces.ProvenanceQRScan)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)

		s := c.Get()
		require.True(t, s.Usable())
		assert.Equal(t, "0xbeef", s.Destination.Address)
		assert.Equal(t, interfaces.AdditionalFieldFilled, s.AdditionalField.Kind)
		assert.Equal(t, "42", s.AdditionalField.Params["memo"])
	})

	t.Run("malformed memo blocks usage", func(t *testing.T) {
		c := NewCell(addresses, nil, memoParser{}, log)
		c.SetAddress(ctx, "0xBEEF", interfaces.ProvenanceTextEntry)
		require.Eventually(t, settled(c), time.Second, time.Millisecond)

		c.SetAdditionalField("abc")
		s := c.Get()
		assert.ErrorIs(t, s.FieldErr, interfaces.ErrMalformedAdditionalField)
		assert.False(t, s.Usable())

		c.SetAdditionalField("")
		assert.True(t, c.Get().Usable())
		assert.Equal(t, interfaces.AdditionalFieldEmpty, c.Get().AdditionalField.Kind)
	})

	t.Run("clearing the address", func(t *testing.T) {
		c := NewCell(addresses, nil, nil, log)
		c.SetAddress(ctx, "0xBEEF", interfaces.ProvenanceTextEntry)
		c.SetAddress(ctx, "", interfaces.ProvenanceTextEntry)
		c.Wait()
		s := c.Get()
		assert.Nil(t, s.Destination)
		assert.False(t, s.Busy)
	})
}
