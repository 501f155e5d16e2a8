// Package destination validates and holds the recipient of a transfer
package destination

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/cell"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// State is published atomically: the address and any memo extracted from it
// appear together.
type State struct {
	Raw             string
	Destination     *interfaces.Destination
	AdditionalField interfaces.AdditionalField
	// Busy is true while validation or name resolution is running
	Busy bool
	// Err is the address validation failure, FieldErr the memo/tag parse failure
	Err      error
	FieldErr error
}

// Usable reports whether derivation may consume this state
func (s State) Usable() bool {
	return !s.Busy && s.Err == nil && s.FieldErr == nil && s.Destination != nil && s.Destination.Address != ""
}

// Cell validates destination input asynchronously with cancel-and-replace semantics
type Cell struct {
	*cell.Cell[State]

	addresses interfaces.AddressService
	resolver  interfaces.AddressResolver
	parser    interfaces.AdditionalFieldParser
	log       *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCell creates a destination cell. resolver and parser are optional.
func NewCell(addresses interfaces.AddressService, resolver interfaces.AddressResolver, parser interfaces.AdditionalFieldParser, log *zap.Logger) *Cell {
	field := interfaces.AdditionalField{Kind: interfaces.AdditionalFieldNotSupported}
	if parser != nil {
		field.Kind = interfaces.AdditionalFieldEmpty
	}

	return &Cell{
		Cell:      cell.New(State{AdditionalField: field}),
		addresses: addresses,
		resolver:  resolver,
		parser:    parser,
		log:       log.Named("destination"),
	}
}

// SetAddress starts validating raw. A previous validation still in flight is cancelled
// and its result discarded.
func (c *Cell) SetAddress(ctx context.Context, raw string, provenance interfaces.Provenance) {
	raw = strings.TrimSpace(raw)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if raw == "" {
		c.Update(func(s State) State {
			s.Raw, s.Destination, s.Busy, s.Err = "", nil, false, nil
			return s
		})
		c.mu.Unlock()
		return
	}

	vctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.Update(func(s State) State {
		s.Raw, s.Destination, s.Busy, s.Err = raw, nil, true, nil
		return s
	})
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()
		c.validate(vctx, gen, raw, provenance)
	}()
}

// SetAdditionalField parses memo / destination tag input typed by the user
func (c *Cell) SetAdditionalField(raw string) {
	if c.parser == nil {
		c.log.Debug("additional field not supported, input ignored")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	field, err := c.parseField(strings.TrimSpace(raw))
	c.Update(func(s State) State {
		s.AdditionalField, s.FieldErr = field, err
		return s
	})
}

// Wait blocks until in-flight validations finished
func (c *Cell) Wait() {
	c.wg.Wait()
}

// Close cancels any in-flight validation
func (c *Cell) Close() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cell) validate(ctx context.Context, gen uint64, raw string, provenance interfaces.Provenance) {
	address := raw
	var (
		embedded    string
		hasEmbedded bool
	)
	if c.parser != nil {
		if clean, field, ok := c.parser.Extract(raw); ok {
			address, embedded, hasEmbedded = clean, field, true
		}
	}

	resolved, err := c.check(ctx, address)
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.log.Debug("discarding superseded validation", zap.String("raw", raw))
		return
	}

	c.Update(func(s State) State {
		s.Busy = false
		s.Err = err
		if err != nil {
			s.Destination = nil
			return s
		}
		s.Destination = &interfaces.Destination{Address: resolved, Provenance: provenance}
		if hasEmbedded {
			s.AdditionalField, s.FieldErr = c.parseField(embedded)
		}
		return s
	})

	if err != nil {
		c.log.Debug("destination rejected", zap.String("raw", raw), zap.Error(err))
	}
}

func (c *Cell) check(ctx context.Context, address string) (string, error) {
	if c.resolver != nil && c.resolver.CanResolve(address) {
		resolved, err := c.resolver.Resolve(ctx, address)
		if err != nil {
			return "", interfaces.ErrResolutionFailed.Wrap(err)
		}
		address = resolved
	}

	if !c.addresses.IsValid(address) {
		return "", interfaces.ErrInvalidFormat
	}

	canonical := c.addresses.Canonical(address)
	for _, own := range c.addresses.OwnAddresses() {
		if c.addresses.Canonical(own) == canonical {
			return "", interfaces.ErrSameAsOwnWallet
		}
	}

	return canonical, nil
}

func (c *Cell) parseField(raw string) (interfaces.AdditionalField, error) {
	if raw == "" {
		return interfaces.AdditionalField{Kind: interfaces.AdditionalFieldEmpty}, nil
	}

	params, err := c.parser.Parse(raw)
	if err != nil {
		return interfaces.AdditionalField{Kind: interfaces.AdditionalFieldFilled, Raw: raw},
			interfaces.ErrMalformedAdditionalField.Wrap(err)
	}
	return interfaces.AdditionalField{Kind: interfaces.AdditionalFieldFilled, Raw: raw, Params: params}, nil
}
