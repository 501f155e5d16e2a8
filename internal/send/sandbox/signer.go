package sandbox

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
)

// Signer is an in-memory key holder that signs and "broadcasts" transactions
// by settling them on the Wallet ledger.
type Signer struct {
	mu       sync.Mutex
	key      *ecdsa.PrivateKey
	wallet   *Wallet
	staking  *StakingManager
	explorer string
	demo     bool
	signed   []string
	log      *zap.Logger
}

// NewSigner generates a fresh key. explorer is the URL prefix of transaction links.
func NewSigner(wallet *Wallet, staking *StakingManager, explorer string, log *zap.Logger) (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &Signer{
		key:      key,
		wallet:   wallet,
		staking:  staking,
		explorer: explorer,
		log:      log.Named("sandbox-signer"),
	}, nil
}

// Address is the hex address of the signing key
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// SetDemo makes every Send fail with interfaces.ErrDemoMode
func (s *Signer) SetDemo(demo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demo = demo
}

// Signed lists the hashes of every settled transaction
func (s *Signer) Signed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signed...)
}

func (s *Signer) Send(ctx context.Context, tx interfaces.DispatchTransaction) (*interfaces.DispatchResult, error) {
	s.mu.Lock()
	demo := s.demo
	s.mu.Unlock()
	if demo {
		return nil, interfaces.ErrDemoMode
	}
	if err := ctx.Err(); err != nil {
		return nil, interfaces.ErrUserCancelled
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	hash := crypto.Keccak256Hash(payload)
	if _, err := crypto.Sign(hash.Bytes(), s.key); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.settle(tx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.signed = append(s.signed, hash.Hex())
	s.mu.Unlock()

	s.log.Debug("transaction settled",
		zap.String("kind", string(tx.Kind)),
		zap.String("hash", hash.Hex()),
		zap.String("payload", hexutil.Encode(payload[:min(len(payload), 16)])))

	return &interfaces.DispatchResult{
		SignerType:  "sandbox",
		Hash:        hash.Hex(),
		URL:         s.explorer + hash.Hex(),
		CurrentHost: "sandbox",
	}, nil
}

func (s *Signer) settle(tx interfaces.DispatchTransaction) error {
	switch tx.Kind {
	case interfaces.DispatchTransfer:
		t := tx.Transfer
		if t == nil {
			return fmt.Errorf("transfer dispatch without a transaction")
		}
		return s.wallet.debit(t.AssetID, s.wallet.feeAsset(t.AssetID), t.Amount, t.Fee)
	case interfaces.DispatchStaking:
		info := tx.Staking
		if info == nil || s.staking == nil {
			return interfaces.ErrActionNotSupported
		}
		return s.staking.settle(info)
	default:
		return interfaces.ErrActionNotSupported
	}
}

var _ interfaces.Dispatcher = (*Signer)(nil)
