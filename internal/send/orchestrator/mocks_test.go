package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cryptoAmount(s string) *interfaces.Amount {
	return &interfaces.Amount{Crypto: decimal.NewNullDecimal(dec(s)), Kind: interfaces.AmountKindTypical}
}

type fixedRates struct{ rate decimal.Decimal }

func (r fixedRates) GetRate(string) (decimal.Decimal, error) { return r.rate, nil }

type balances struct {
	mu    sync.Mutex
	value decimal.Decimal
}

func (b *balances) SpendableBalance(context.Context, string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, nil
}

type creator struct {
	mu       sync.Mutex
	requests []interfaces.TransactionRequest
	gate     chan struct{}
	waiting  int
}

// holdBuilds makes later builds block until the returned release is called
func (c *creator) holdBuilds() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.gate = nil
		c.mu.Unlock()
		close(gate)
	}
}

func (c *creator) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

func (c *creator) CreateTransaction(ctx context.Context, req interfaces.TransactionRequest) (*interfaces.Transaction, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	gate := c.gate
	if gate != nil {
		c.waiting++
	}
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
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
		CreatedAt:       time.Now(),
	}, nil
}

// balanceValidator rejects amount + fee above the balance
type balanceValidator struct {
	balance *balances
	mu      sync.Mutex
	calls   [][2]decimal.Decimal
}

func (v *balanceValidator) Validate(amount, fee decimal.Decimal) error {
	v.mu.Lock()
	v.calls = append(v.calls, [2]decimal.Decimal{amount, fee})
	v.mu.Unlock()

	balance, _ := v.balance.SpendableBalance(context.Background(), "")
	if amount.Add(fee).GreaterThan(balance) {
		return interfaces.NewValidationError(interfaces.ValidationInsufficientBalance, "amount and fee exceed the balance")
	}
	return nil
}

func (v *balanceValidator) lastCall() [2]decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[len(v.calls)-1]
}

type feeSource struct {
	mu     sync.Mutex
	market decimal.Decimal
	err    error
}

func (s *feeSource) setMarket(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.market = dec(value)
}

func (s *feeSource) GetFees(context.Context, interfaces.FeeRequest) ([]interfaces.FeeQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []interfaces.FeeQuote{
		{Option: interfaces.FeeOptionSlow, Amount: s.market.Div(decimal.NewFromInt(2))},
		{Option: interfaces.FeeOptionMarket, Amount: s.market},
		{Option: interfaces.FeeOptionFast, Amount: s.market.Mul(decimal.NewFromInt(2))},
	}, nil
}

type addresses struct{}

func (addresses) IsValid(address string) bool {
	return strings.HasPrefix(address, "0x") && len(address) > 4
}

func (addresses) Canonical(address string) string { return strings.ToLower(address) }

func (addresses) OwnAddresses() []string { return []string{"0xown"} }

// memoParser accepts numeric memos
type memoParser struct{}

func (memoParser) Extract(address string) (string, string, bool) {
	clean, memo, ok := strings.Cut(address, "?memo=")
	return clean, memo, ok
}

func (memoParser) Parse(raw string) (interfaces.TransactionParams, error) {
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil, interfaces.ErrMalformedAdditionalField
		}
	}
	return interfaces.TransactionParams{"memo": raw}, nil
}

type dispatcher struct {
	mu      sync.Mutex
	sent    []interfaces.DispatchTransaction
	err     error
	entered chan struct{}
	release chan struct{}
}

func (d *dispatcher) Send(_ context.Context, tx interfaces.DispatchTransaction) (*interfaces.DispatchResult, error) {
	d.mu.Lock()
	d.sent = append(d.sent, tx)
	err := d.err
	entered, release := d.entered, d.release
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &interfaces.DispatchResult{
		SignerType:  "card",
		Hash:        "0xhash",
		URL:         "https://explorer.example/tx/0xhash",
		CurrentHost: "node.example",
	}, nil
}

func (d *dispatcher) calls() []interfaces.DispatchTransaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]interfaces.DispatchTransaction(nil), d.sent...)
}

type analytics struct {
	mu       sync.Mutex
	sent     []interfaces.TransactionSentEvent
	rejected []interfaces.TransactionRejectedEvent
}

func (a *analytics) LogTransactionSent(_ context.Context, e interfaces.TransactionSentEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, e)
}

func (a *analytics) LogTransactionRejected(_ context.Context, e interfaces.TransactionRejectedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, e)
}

func (a *analytics) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent), len(a.rejected)
}

type stakingManager struct {
	mu          sync.Mutex
	state       interfaces.StakingManagerState
	fee         decimal.Decimal
	txFee       decimal.Decimal
	balances    []interfaces.StakingBalance
	spender     string
	minimum     decimal.Decimal
	stakes      map[string]int
	estimated   []interfaces.StakingAction
	didSend     []interfaces.StakingAction
	scheduleSet bool
}

func newStakingManager(fee string) *stakingManager {
	return &stakingManager{
		state:  interfaces.StakingManagerReady,
		fee:    dec(fee),
		txFee:  dec(fee),
		stakes: map[string]int{},
	}
}

func (m *stakingManager) State() interfaces.StakingManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stakingManager) EstimateFee(_ context.Context, action interfaces.StakingAction) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimated = append(m.estimated, action)
	return m.fee, nil
}

func (m *stakingManager) Transaction(_ context.Context, action interfaces.StakingAction) (*interfaces.StakingTransactionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &interfaces.StakingTransactionInfo{
		ID:     uuid.New(),
		Action: action,
		Transactions: []interfaces.StakingTransaction{
			{ID: "tx-1", Fee: m.txFee, Payload: []byte{0x01}},
		},
	}, nil
}

func (m *stakingManager) TransactionDidSend(action interfaces.StakingAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.didSend = append(m.didSend, action)
}

func (m *stakingManager) Balances() []interfaces.StakingBalance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances
}

func (m *stakingManager) AllowanceAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spender
}

func (m *stakingManager) RewardSchedule() (interfaces.RewardSchedule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return "daily", m.scheduleSet
}

func (m *stakingManager) MinimumRequirement() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minimum
}

func (m *stakingManager) StakesCount(validator string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stakes[validator]
}

func (m *stakingManager) lastEstimate() interfaces.StakingAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimated[len(m.estimated)-1]
}

func (m *stakingManager) sentActions() []interfaces.StakingAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interfaces.StakingAction(nil), m.didSend...)
}

type allowanceProvider struct {
	mu        sync.Mutex
	allowance decimal.Decimal
	pending   bool
	approvals int
	policies  []interfaces.ApprovePolicy
}

func (p *allowanceProvider) setAllowance(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowance = dec(value)
	if p.allowance.IsPositive() {
		p.pending = false
	}
}

// dropPending forgets a sent approval, as if it was dropped from the mempool or reverted
func (p *allowanceProvider) dropPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = false
}

func (p *allowanceProvider) approvalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.approvals
}

func (p *allowanceProvider) SupportsAllowance() bool { return true }

func (p *allowanceProvider) Allowance(context.Context, string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowance, nil
}

func (p *allowanceProvider) HasPendingApproval(string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *allowanceProvider) BuildApproval(_ context.Context, spender string, _ decimal.Decimal, policy interfaces.ApprovePolicy) (*interfaces.ApprovalDescriptor, error) {
	p.mu.Lock()
	p.policies = append(p.policies, policy)
	p.mu.Unlock()
	return &interfaces.ApprovalDescriptor{
		Spender:       spender,
		TokenContract: "0xtoken",
		Data:          []byte{0x09, 0x5e, 0xa7, 0xb3},
		Fee:           dec("0.002"),
	}, nil
}

func (p *allowanceProvider) lastPolicy() interfaces.ApprovePolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.policies) == 0 {
		return ""
	}
	return p.policies[len(p.policies)-1]
}

func (p *allowanceProvider) DidSendApproveTransaction(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = true
	p.approvals++
}

type accountInit struct {
	mu          sync.Mutex
	initialized bool
	fee         decimal.Decimal
	paid        []decimal.Decimal
}

func (a *accountInit) IsAccountInitialized(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized, nil
}

func (a *accountInit) EstimateInitializationFee(context.Context) (decimal.Decimal, error) {
	return a.fee, nil
}

func (a *accountInit) InitializeAccount(_ context.Context, fee decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paid = append(a.paid, fee)
	a.initialized = true
	return nil
}

type relevanceService struct {
	mock.Mock
}

func (m *relevanceService) IsActual() bool {
	return m.Called().Bool(0)
}

func (m *relevanceService) UpdateInformation(ctx context.Context) (interfaces.RelevanceResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.RelevanceResult), args.Error(1)
}
