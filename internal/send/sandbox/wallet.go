// Package sandbox provides in-memory wallet collaborators for demos and
// integration tests. Nothing here talks to a real chain.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// Wallet is an in-memory ledger of spendable balances per asset
type Wallet struct {
	mu        sync.RWMutex
	balances  map[string]decimal.Decimal
	rates     map[string]decimal.Decimal
	minimal   map[string]decimal.Decimal
	feeAssets map[string]string
}

func NewWallet() *Wallet {
	return &Wallet{
		balances:  make(map[string]decimal.Decimal),
		rates:     make(map[string]decimal.Decimal),
		minimal:   make(map[string]decimal.Decimal),
		feeAssets: make(map[string]string),
	}
}

// Fund credits value to the asset balance
func (w *Wallet) Fund(assetID string, value decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[assetID] = w.balances[assetID].Add(value)
}

// SetRate sets the fiat price of one unit of currencyID
func (w *Wallet) SetRate(currencyID string, rate decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rates[currencyID] = rate
}

// SetFeeAsset makes fees of assetID payable in feeAssetID, as for tokens
func (w *Wallet) SetFeeAsset(assetID, feeAssetID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.feeAssets[assetID] = feeAssetID
}

func (w *Wallet) feeAsset(assetID string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if fee, ok := w.feeAssets[assetID]; ok {
		return fee
	}
	return assetID
}

// SetMinimalBalance sets the amount that must stay on the account
func (w *Wallet) SetMinimalBalance(assetID string, value decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.minimal[assetID] = value
}

func (w *Wallet) SpendableBalance(_ context.Context, assetID string) (decimal.Decimal, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[assetID], nil
}

func (w *Wallet) GetRate(currencyID string) (decimal.Decimal, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rate, ok := w.rates[currencyID]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s", currencyID)
	}
	return rate, nil
}

// debit removes amount and fee from the ledger
func (w *Wallet) debit(assetID, feeAssetID string, amount, fee decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if assetID == feeAssetID {
		if w.balances[assetID].LessThan(amount.Add(fee)) {
			return fmt.Errorf("insufficient funds on %s", assetID)
		}
		w.balances[assetID] = w.balances[assetID].Sub(amount).Sub(fee)
		return nil
	}

	if w.balances[assetID].LessThan(amount) {
		return fmt.Errorf("insufficient funds on %s", assetID)
	}
	if w.balances[feeAssetID].LessThan(fee) {
		return fmt.Errorf("insufficient funds on %s", feeAssetID)
	}
	w.balances[assetID] = w.balances[assetID].Sub(amount)
	w.balances[feeAssetID] = w.balances[feeAssetID].Sub(fee)
	return nil
}

// MinimalBalance returns a provider bound to one asset
func (w *Wallet) MinimalBalance(assetID string) interfaces.MinimalBalanceProvider {
	return minimalBalance{wallet: w, assetID: assetID}
}

type minimalBalance struct {
	wallet  *Wallet
	assetID string
}

func (m minimalBalance) MinimalBalance() decimal.Decimal {
	m.wallet.mu.RLock()
	defer m.wallet.mu.RUnlock()
	return m.wallet.minimal[m.assetID]
}

// Validator checks transactions of one asset against the ledger
func (w *Wallet) Validator(assetID, feeAssetID string, dust decimal.Decimal) interfaces.TransactionValidator {
	return &validator{wallet: w, assetID: assetID, feeAssetID: feeAssetID, dust: dust}
}

type validator struct {
	wallet     *Wallet
	assetID    string
	feeAssetID string
	dust       decimal.Decimal
}

func (v *validator) Validate(amount, fee decimal.Decimal) error {
	if amount.IsNegative() || fee.IsNegative() {
		return interfaces.NewValidationError(interfaces.ValidationInvalidAmount, "amount and fee must not be negative")
	}
	if amount.IsPositive() && amount.LessThan(v.dust) {
		return interfaces.NewValidationError(interfaces.ValidationDustAmount, "amount is below %s", v.dust)
	}

	v.wallet.mu.RLock()
	balance := v.wallet.balances[v.assetID]
	feeBalance := v.wallet.balances[v.feeAssetID]
	minimal := v.wallet.minimal[v.assetID]
	v.wallet.mu.RUnlock()

	if v.assetID == v.feeAssetID {
		if amount.Add(fee).Add(minimal).GreaterThan(balance) {
			return interfaces.NewValidationError(interfaces.ValidationInsufficientBalance, "amount and fee exceed the balance")
		}
		return nil
	}
	if amount.Add(minimal).GreaterThan(balance) {
		return interfaces.NewValidationError(interfaces.ValidationInsufficientBalance, "amount exceeds the balance")
	}
	if fee.GreaterThan(feeBalance) {
		return interfaces.NewValidationError(interfaces.ValidationInsufficientFeeBalance, "fee exceeds the %s balance", v.feeAssetID)
	}
	return nil
}

// Creator builds unsigned transactions
type Creator struct{}

func (Creator) CreateTransaction(_ context.Context, req interfaces.TransactionRequest) (*interfaces.Transaction, error) {
	if req.Amount.IsNegative() {
		return nil, interfaces.NewValidationError(interfaces.ValidationInvalidAmount, "amount must not be negative")
	}
	return &interfaces.Transaction{
		ID:              uuid.New(),
		AssetID:         req.AssetID,
		Amount:          req.Amount,
		Fee:             req.Fee,
		FeeOption:       req.FeeOption,
		Destination:     req.Destination,
		ContractAddress: req.ContractAddress,
		Data:            req.Data,
		Params:          req.Params,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// FeeSource quotes slow, market and fast fees around a base market fee
type FeeSource struct {
	mu     sync.RWMutex
	market map[string]decimal.Decimal
}

func NewFeeSource() *FeeSource {
	return &FeeSource{market: make(map[string]decimal.Decimal)}
}

func (s *FeeSource) SetMarketFee(assetID string, fee decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market[assetID] = fee
}

func (s *FeeSource) GetFees(ctx context.Context, req interfaces.FeeRequest) ([]interfaces.FeeQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	market, ok := s.market[req.AssetID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no fee market for %s", req.AssetID)
	}

	return []interfaces.FeeQuote{
		{Option: interfaces.FeeOptionSlow, Amount: market.Mul(decimal.RequireFromString("0.8"))},
		{Option: interfaces.FeeOptionMarket, Amount: market},
		{Option: interfaces.FeeOptionFast, Amount: market.Mul(decimal.RequireFromString("1.5"))},
	}, nil
}

// MemoParser reads numeric memos written as "<address>?memo=<digits>"
type MemoParser struct{}

func (MemoParser) Extract(address string) (string, string, bool) {
	return strings.Cut(address, "?memo=")
}

func (MemoParser) Parse(raw string) (interfaces.TransactionParams, error) {
	if raw == "" {
		return nil, interfaces.ErrMalformedAdditionalField
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil, interfaces.ErrMalformedAdditionalField
		}
	}
	return interfaces.TransactionParams{"memo": raw}, nil
}
