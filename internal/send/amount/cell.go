// Package amount holds the crypto/fiat amount pair of an operation
package amount

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/cell"
	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// Cell converts between crypto and fiat through a rate lookup and publishes the full pair.
// A nil value means no amount has been entered.
type Cell struct {
	*cell.Cell[*interfaces.Amount]

	currencyID     string
	rates          interfaces.RateProvider
	cryptoDecimals int32
	fiatDecimals   int32
	log            *zap.Logger
}

// NewCell creates an amount cell for the given currency identifier
func NewCell(currencyID string, rates interfaces.RateProvider, cryptoDecimals, fiatDecimals int32, log *zap.Logger) *Cell {
	return &Cell{
		Cell:           cell.New[*interfaces.Amount](nil),
		currencyID:     currencyID,
		rates:          rates,
		cryptoDecimals: cryptoDecimals,
		fiatDecimals:   fiatDecimals,
		log:            log.Named("amount"),
	}
}

// SetCrypto sets the crypto side and derives fiat
func (c *Cell) SetCrypto(value decimal.Decimal) {
	c.Set(c.FromCrypto(value))
}

// SetFiat sets the fiat side and derives crypto
func (c *Cell) SetFiat(value decimal.Decimal) {
	c.Set(c.FromFiat(value))
}

// Clear publishes "no amount"
func (c *Cell) Clear() {
	c.Set(nil)
}

// Crypto returns the crypto value if an amount with a crypto side is present
func (c *Cell) Crypto() (decimal.Decimal, bool) {
	a := c.Get()
	if a == nil {
		return decimal.Zero, false
	}
	return a.CryptoValue()
}

// FromCrypto builds a typical amount without publishing it
func (c *Cell) FromCrypto(value decimal.Decimal) *interfaces.Amount {
	a := &interfaces.Amount{
		Crypto: decimal.NewNullDecimal(value),
		Kind:   interfaces.AmountKindTypical,
	}
	if rate, ok := c.rate(); ok {
		a.Fiat = decimal.NewNullDecimal(value.Mul(rate).Round(c.fiatDecimals))
	}
	return a
}

// FromFiat builds an alternative amount without publishing it
func (c *Cell) FromFiat(value decimal.Decimal) *interfaces.Amount {
	a := &interfaces.Amount{
		Fiat: decimal.NewNullDecimal(value),
		Kind: interfaces.AmountKindAlternative,
	}
	if rate, ok := c.rate(); ok {
		a.Crypto = decimal.NewNullDecimal(value.Div(rate).Round(c.cryptoDecimals))
	}
	return a
}

func (c *Cell) rate() (decimal.Decimal, bool) {
	if c.rates == nil {
		return decimal.Zero, false
	}
	rate, err := c.rates.GetRate(c.currencyID)
	if err != nil {
		c.log.Debug("no fiat rate", zap.String("currency_id", c.currencyID), zap.Error(err))
		return decimal.Zero, false
	}
	if !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}
