// Package fee holds fee option quotes and the current fee selection
package fee

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/cell"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// State is the published fee view: the current selection and every offered option
type State struct {
	Selected interfaces.Fee
	Options  []interfaces.Fee
}

// Cell loads fee quotes and tracks which option is selected
type Cell struct {
	*cell.Cell[State]

	source  interfaces.FeeQuoteSource
	allowed map[interfaces.FeeOption]bool
	log     *zap.Logger

	mu     sync.Mutex
	quotes *btree.Map[int, interfaces.FeeQuote]
	failed error
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCell creates a fee cell offering the given options. The first allowed option
// that is market (or the first one) starts selected.
func NewCell(source interfaces.FeeQuoteSource, allowed []interfaces.FeeOption, log *zap.Logger) *Cell {
	if len(allowed) == 0 {
		allowed = []interfaces.FeeOption{interfaces.FeeOptionMarket}
	}

	selected := allowed[0]
	set := make(map[interfaces.FeeOption]bool, len(allowed))
	for _, option := range allowed {
		set[option] = true
		if option == interfaces.FeeOptionMarket {
			selected = option
		}
	}

	c := &Cell{
		source:  source,
		allowed: set,
		log:     log.Named("fee"),
		quotes:  btree.NewMap[int, interfaces.FeeQuote](8),
	}
	c.Cell = cell.New(c.buildLocked(selected))
	return c
}

// Allowed reports whether option may be selected
func (c *Cell) Allowed(option interfaces.FeeOption) bool {
	return c.allowed[option]
}

// Load fetches quotes in the background, replacing any in-flight load.
// The selection shows Loading until the quotes arrive.
func (c *Cell) Load(ctx context.Context, req interfaces.FeeRequest) {
	c.mu.Lock()
	gen, lctx := c.beginLocked(ctx)
	c.Cell.Set(c.buildLocked(c.Get().Selected.Option))
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		quotes, err := c.source.GetFees(lctx, req)
		if lctx.Err() != nil {
			return
		}
		c.apply(gen, quotes, err)
	}()
}

// Reload fetches quotes synchronously and returns the selected option's new value.
// A source implementing Refresher is asked past its cache.
func (c *Cell) Reload(ctx context.Context, req interfaces.FeeRequest) (decimal.Decimal, error) {
	c.mu.Lock()
	gen, lctx := c.beginLocked(ctx)
	c.mu.Unlock()

	fetch := c.source.GetFees
	if r, ok := c.source.(Refresher); ok {
		fetch = r.RefreshFees
	}
	quotes, err := fetch(lctx, req)
	if !c.apply(gen, quotes, err) {
		return decimal.Zero, fmt.Errorf("fee reload superseded")
	}
	if err != nil {
		return decimal.Zero, err
	}

	value, ok := c.Get().Selected.Value.Loaded()
	if !ok {
		return decimal.Zero, interfaces.ErrFeeNotLoaded
	}
	return value, nil
}

// Select switches the current option
func (c *Cell) Select(option interfaces.FeeOption) error {
	if !c.allowed[option] {
		return interfaces.ErrOperationForbidden.Explain("fee option %s is not offered", option)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cell.Set(c.buildLocked(option))
	return nil
}

// SetCustom stores a user defined fee and selects it
func (c *Cell) SetCustom(value decimal.Decimal) error {
	if !c.allowed[interfaces.FeeOptionCustom] {
		return interfaces.ErrOperationForbidden.Explain("custom fee is not offered")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes.Set(interfaces.FeeOptionCustom.Rank(), interfaces.FeeQuote{Option: interfaces.FeeOptionCustom, Amount: value})
	c.Cell.Set(c.buildLocked(interfaces.FeeOptionCustom))
	return nil
}

// Selected returns the current selection
func (c *Cell) Selected() interfaces.Fee {
	return c.Get().Selected
}

// Wait blocks until background loads finished
func (c *Cell) Wait() {
	c.wg.Wait()
}

// Close cancels any in-flight load
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

func (c *Cell) beginLocked(ctx context.Context) (uint64, context.Context) {
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
	lctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// keep a custom fee, drop network quotes
	custom, hasCustom := c.quotes.Get(interfaces.FeeOptionCustom.Rank())
	c.quotes = btree.NewMap[int, interfaces.FeeQuote](8)
	if hasCustom {
		c.quotes.Set(custom.Option.Rank(), custom)
	}
	c.failed = nil
	return c.gen, lctx
}

func (c *Cell) apply(gen uint64, quotes []interfaces.FeeQuote, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.log.Debug("discarding superseded fee quotes")
		return false
	}

	if err != nil {
		c.log.Warn("failed to load fees", zap.Error(err))
		c.failed = interfaces.ErrFeeNotLoaded.Wrap(err)
	} else {
		for _, q := range quotes {
			if q.Option == interfaces.FeeOptionCustom || !c.allowed[q.Option] {
				continue
			}
			c.quotes.Set(q.Option.Rank(), q)
		}
	}

	c.Cell.Set(c.buildLocked(c.Get().Selected.Option))
	return true
}

func (c *Cell) buildLocked(selected interfaces.FeeOption) State {
	state := State{Selected: interfaces.Fee{Option: selected, Value: c.valueLocked(selected)}}

	options := []interfaces.FeeOption{
		interfaces.FeeOptionSlow, interfaces.FeeOptionMarket, interfaces.FeeOptionFast, interfaces.FeeOptionCustom,
	}
	for _, option := range options {
		if !c.allowed[option] {
			continue
		}
		state.Options = append(state.Options, interfaces.Fee{Option: option, Value: c.valueLocked(option)})
	}
	return state
}

func (c *Cell) valueLocked(option interfaces.FeeOption) interfaces.FeeValue {
	if q, ok := c.quotes.Get(option.Rank()); ok {
		return interfaces.LoadedFee(q.Amount)
	}
	if c.failed != nil && option != interfaces.FeeOptionCustom {
		return interfaces.FailedFee(c.failed)
	}
	return interfaces.LoadingFee()
}
