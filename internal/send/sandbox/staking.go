package sandbox

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// StakingManager keeps delegations of one asset in memory
type StakingManager struct {
	mu        sync.RWMutex
	wallet    *Wallet
	assetID   string
	fee       decimal.Decimal
	minimum   decimal.Decimal
	spender   string
	schedule  interfaces.RewardSchedule
	state     interfaces.StakingManagerState
	delegated map[string]decimal.Decimal
	rewards   map[string]decimal.Decimal
	stakes    map[string]int
}

// StakingOptions configures a StakingManager
type StakingOptions struct {
	AssetID  string
	Fee      decimal.Decimal
	Minimum  decimal.Decimal
	Spender  string
	Schedule interfaces.RewardSchedule
}

func NewStakingManager(wallet *Wallet, opts StakingOptions) *StakingManager {
	return &StakingManager{
		wallet:    wallet,
		assetID:   opts.AssetID,
		fee:       opts.Fee,
		minimum:   opts.Minimum,
		spender:   opts.Spender,
		schedule:  opts.Schedule,
		state:     interfaces.StakingManagerReady,
		delegated: make(map[string]decimal.Decimal),
		rewards:   make(map[string]decimal.Decimal),
		stakes:    make(map[string]int),
	}
}

// SetState switches the manager between loading, ready and failed
func (m *StakingManager) SetState(state interfaces.StakingManagerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// AddRewards credits claimable rewards for a validator
func (m *StakingManager) AddRewards(validator string, value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[validator] = m.rewards[validator].Add(value)
}

func (m *StakingManager) State() interfaces.StakingManagerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *StakingManager) EstimateFee(ctx context.Context, action interfaces.StakingAction) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != interfaces.StakingManagerReady {
		return decimal.Zero, fmt.Errorf("staking manager is %s", m.state)
	}
	return m.fee, nil
}

func (m *StakingManager) Transaction(ctx context.Context, action interfaces.StakingAction) (*interfaces.StakingTransactionInfo, error) {
	fee, err := m.EstimateFee(ctx, action)
	if err != nil {
		return nil, err
	}
	return &interfaces.StakingTransactionInfo{
		ID:     uuid.New(),
		Action: action,
		Transactions: []interfaces.StakingTransaction{
			{ID: uuid.NewString(), Fee: fee, Payload: []byte(string(action.Type) + ":" + action.Validator)},
		},
	}, nil
}

func (m *StakingManager) TransactionDidSend(action interfaces.StakingAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakes[action.Validator]++
}

func (m *StakingManager) Balances() []interfaces.StakingBalance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := make([]interfaces.StakingBalance, 0, len(m.delegated)+len(m.rewards))
	for validator, amount := range m.delegated {
		if amount.IsPositive() {
			balances = append(balances, interfaces.StakingBalance{Amount: amount, Type: interfaces.BalanceTypeActive, Validator: validator})
		}
	}
	for validator, amount := range m.rewards {
		if amount.IsPositive() {
			balances = append(balances, interfaces.StakingBalance{Amount: amount, Type: interfaces.BalanceTypeRewards, Validator: validator})
		}
	}
	return balances
}

func (m *StakingManager) AllowanceAddress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spender
}

func (m *StakingManager) RewardSchedule() (interfaces.RewardSchedule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schedule, m.schedule != ""
}

func (m *StakingManager) MinimumRequirement() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.minimum
}

func (m *StakingManager) StakesCount(validator string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stakes[validator]
}

// settle applies a dispatched staking transaction to the ledger
func (m *StakingManager) settle(info *interfaces.StakingTransactionInfo) error {
	action := info.Action
	fee := info.TotalFee()
	feeAsset := m.wallet.feeAsset(m.assetID)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch action.Type {
	case interfaces.StakingActionStake:
		if err := m.wallet.debit(m.assetID, feeAsset, action.Amount, fee); err != nil {
			return err
		}
		m.delegated[action.Validator] = m.delegated[action.Validator].Add(action.Amount)
	case interfaces.StakingActionUnstake:
		if m.delegated[action.Validator].LessThan(action.Amount) {
			return fmt.Errorf("only %s is delegated to %s", m.delegated[action.Validator], action.Validator)
		}
		if err := m.wallet.debit(m.assetID, feeAsset, decimal.Zero, fee); err != nil {
			return err
		}
		m.delegated[action.Validator] = m.delegated[action.Validator].Sub(action.Amount)
		m.wallet.Fund(m.assetID, action.Amount)
	case interfaces.StakingActionRestake, interfaces.StakingActionPending:
		if err := m.wallet.debit(m.assetID, feeAsset, decimal.Zero, fee); err != nil {
			return err
		}
		rewards := m.rewards[action.Validator]
		delete(m.rewards, action.Validator)
		if action.Type == interfaces.StakingActionRestake {
			m.delegated[action.Validator] = m.delegated[action.Validator].Add(rewards)
		} else {
			m.wallet.Fund(m.assetID, rewards)
		}
	default:
		return interfaces.ErrActionNotSupported
	}
	return nil
}

var _ interfaces.StakingManager = (*StakingManager)(nil)

// Allowance is an in-memory ERC-20 style allowance book. A sent approval
// stays pending until Confirm moves it on-chain.
type Allowance struct {
	mu       sync.Mutex
	token    common.Address
	decimals int32
	fee      decimal.Decimal
	approved map[string]decimal.Decimal
	built    map[string]decimal.Decimal
	pending  map[string]decimal.Decimal
}

func NewAllowance(token string, decimals int32, fee decimal.Decimal) *Allowance {
	return &Allowance{
		token:    common.HexToAddress(token),
		decimals: decimals,
		fee:      fee,
		approved: make(map[string]decimal.Decimal),
		built:    make(map[string]decimal.Decimal),
		pending:  make(map[string]decimal.Decimal),
	}
}

func (a *Allowance) SupportsAllowance() bool { return true }

func (a *Allowance) Allowance(ctx context.Context, spender string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.approved[key(spender)], nil
}

func (a *Allowance) HasPendingApproval(spender string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[key(spender)]
	return ok
}

func (a *Allowance) BuildApproval(_ context.Context, spender string, amount decimal.Decimal, policy interfaces.ApprovePolicy) (*interfaces.ApprovalDescriptor, error) {
	if !common.IsHexAddress(spender) {
		return nil, fmt.Errorf("invalid spender %q", spender)
	}

	approve := amount.Shift(a.decimals).BigInt()
	if policy == interfaces.ApprovePolicyUnlimited {
		approve = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	}

	a.mu.Lock()
	a.built[key(spender)] = decimal.NewFromBigInt(approve, -a.decimals)
	a.mu.Unlock()

	data := append([]byte{0x09, 0x5e, 0xa7, 0xb3}, common.LeftPadBytes(common.HexToAddress(spender).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(approve.Bytes(), 32)...)

	return &interfaces.ApprovalDescriptor{
		Spender:       spender,
		TokenContract: a.token.Hex(),
		Data:          data,
		ApproveAmount: approve,
		Fee:           a.fee,
	}, nil
}

// DidSendApproveTransaction keeps the last built approval pending until Confirm
func (a *Allowance) DidSendApproveTransaction(spender string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[key(spender)] = a.built[key(spender)]
	delete(a.built, key(spender))
}

// Confirm moves the pending approval of spender on-chain
func (a *Allowance) Confirm(spender string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value, ok := a.pending[key(spender)]; ok {
		a.approved[key(spender)] = value
		delete(a.pending, key(spender))
	}
}

func key(address string) string {
	return common.HexToAddress(address).Hex()
}

var _ interfaces.AllowanceProvider = (*Allowance)(nil)

// AccountInit models chains whose accounts need an activation transaction
type AccountInit struct {
	mu          sync.Mutex
	wallet      *Wallet
	assetID     string
	fee         decimal.Decimal
	initialized bool
}

func NewAccountInit(wallet *Wallet, assetID string, fee decimal.Decimal) *AccountInit {
	return &AccountInit{wallet: wallet, assetID: assetID, fee: fee}
}

func (a *AccountInit) IsAccountInitialized(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized, nil
}

func (a *AccountInit) EstimateInitializationFee(context.Context) (decimal.Decimal, error) {
	return a.fee, nil
}

func (a *AccountInit) InitializeAccount(ctx context.Context, fee decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}
	if err := a.wallet.debit(a.assetID, a.assetID, decimal.Zero, fee); err != nil {
		return err
	}
	a.initialized = true
	return nil
}

var _ interfaces.AccountInitializationService = (*AccountInit)(nil)
