package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// nativeDecimals is the decimals of the chain's fee currency
const nativeDecimals = 18

// ContractCaller is the subset of *ethclient.Client the allowance provider uses
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

var _ ContractCaller = (*ethclient.Client)(nil)

// Dial connects to an EVM JSON-RPC endpoint
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// AllowanceProvider reads and builds ERC-20 approvals of one token for one owner
type AllowanceProvider struct {
	client   ContractCaller
	abi      abi.ABI
	owner    common.Address
	token    common.Address
	decimals int32
	log      *zap.Logger

	mu sync.Mutex
	// pending maps a spender to its allowance when the approval was sent
	pending map[common.Address]*big.Int
	last    map[common.Address]*big.Int
}

// NewAllowanceProvider creates a provider for token held by owner
func NewAllowanceProvider(client ContractCaller, owner, token string, decimals int32, log *zap.Logger) (*AllowanceProvider, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	if !common.IsHexAddress(owner) || !common.IsHexAddress(token) {
		return nil, interfaces.ErrInvalidFormat.Explain("owner %q or token %q is not an address", owner, token)
	}

	return &AllowanceProvider{
		client:   client,
		abi:      parsed,
		owner:    common.HexToAddress(owner),
		token:    common.HexToAddress(token),
		decimals: decimals,
		log:      log.Named("evm_allowance"),
		pending:  make(map[common.Address]*big.Int),
		last:     make(map[common.Address]*big.Int),
	}, nil
}

// SupportsAllowance implements interfaces.AllowanceProvider
func (p *AllowanceProvider) SupportsAllowance() bool {
	return true
}

// Allowance returns the current allowance of spender in token units
func (p *AllowanceProvider) Allowance(ctx context.Context, spender string) (decimal.Decimal, error) {
	spenderAddr := common.HexToAddress(spender)
	data, err := p.abi.Pack("allowance", p.owner, spenderAddr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	out, err := p.client.CallContract(ctx, ethereum.CallMsg{From: p.owner, To: &p.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to call allowance: %w", err)
	}

	values, err := p.abi.Unpack("allowance", out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to unpack allowance: %w", err)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected allowance output %T", values[0])
	}

	p.mu.Lock()
	p.last[spenderAddr] = value
	if before, ok := p.pending[spenderAddr]; ok && value.Cmp(before) > 0 {
		delete(p.pending, spenderAddr)
		p.log.Info("approval confirmed", zap.String("spender", spenderAddr.Hex()), zap.Stringer("allowance", value))
	}
	p.mu.Unlock()

	return decimal.NewFromBigInt(value, -p.decimals), nil
}

// HasPendingApproval reports whether an approval was sent and not yet observed on chain
func (p *AllowanceProvider) HasPendingApproval(spender string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[common.HexToAddress(spender)]
	return ok
}

// BuildApproval encodes approve(spender, amount). The unlimited policy approves the maximum uint256.
func (p *AllowanceProvider) BuildApproval(ctx context.Context, spender string, amount decimal.Decimal, policy interfaces.ApprovePolicy) (*interfaces.ApprovalDescriptor, error) {
	spenderAddr := common.HexToAddress(spender)

	approveAmount := amount.Shift(p.decimals).BigInt()
	if policy == interfaces.ApprovePolicyUnlimited {
		approveAmount = new(big.Int).Set(math.MaxBig256)
	}

	data, err := p.abi.Pack("approve", spenderAddr, approveAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve call: %w", err)
	}

	call := ethereum.CallMsg{From: p.owner, To: &p.token, Data: data}
	gas, err := p.client.EstimateGas(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate approve gas: %w", err)
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)

	return &interfaces.ApprovalDescriptor{
		Spender:       spenderAddr.Hex(),
		TokenContract: p.token.Hex(),
		Data:          data,
		ApproveAmount: approveAmount,
		Fee:           decimal.NewFromBigInt(fee, -nativeDecimals),
	}, nil
}

// DidSendApproveTransaction records an outstanding approval for spender
func (p *AllowanceProvider) DidSendApproveTransaction(spender string) {
	spenderAddr := common.HexToAddress(spender)

	p.mu.Lock()
	defer p.mu.Unlock()
	before, ok := p.last[spenderAddr]
	if !ok {
		before = new(big.Int)
	}
	p.pending[spenderAddr] = before
}
