// Package ledger wraps the remote ledger node RPC for the escrow engine:
// balance and nonce queries, gas estimation with a fallback ceiling,
// transaction construction and submission, bounded receipt polling and
// historical scans.
//
// The deployment profile is a private network with a zero gas price. Gas
// limits still matter: an under-provisioned transaction aborts after the
// nonce is consumed, so estimation errs high and falls back to a fixed
// ceiling when the node refuses to simulate.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidConfig = errors.New("ledger: invalid config")
	ErrInvalidIntent = errors.New("ledger: invalid transaction intent")

	// ErrReceiptTimeout means the receipt was not observed within the bound.
	// The outcome is unknown: the transaction may still confirm later, so the
	// caller must not re-submit the same intent without checking chain state.
	ErrReceiptTimeout = errors.New("ledger: receipt wait timed out, outcome unknown")

	// ErrRejected is matched by RejectionError via errors.Is.
	ErrRejected = errors.New("ledger: transaction rejected")
)

// Gas ceilings used when the node cannot estimate. Value-carrying contract
// calls get the highest ceiling; plain calls and transfers progressively less.
const (
	PaymentCallGasCeiling uint64 = 300000
	ContractCallGasCeiling uint64 = 200000
	TransferGasCeiling     uint64 = 100000
)

// RejectionError is a terminal application failure: the receipt reported
// status != success. The nonce has been consumed; retrying the same intent
// requires a fresh nonce.
type RejectionError struct {
	TxHash common.Hash
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("ledger: transaction %s rejected", e.TxHash)
	}
	return fmt.Sprintf("ledger: transaction %s rejected: %s", e.TxHash, e.Reason)
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

// Backend is the remote node RPC surface the gateway consumes.
// *ethclient.Client satisfies it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

type Config struct {
	ChainID *big.Int

	// GasMargin multiplies successful estimates; defaults to 1.2.
	GasMargin float64

	// ReceiptPollInterval defaults to 2s.
	ReceiptPollInterval time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Gateway is an explicitly constructed handle on one contract deployment.
// It holds no signing keys and no global state.
type Gateway struct {
	backend  Backend
	contract common.Address
	cfg      Config
}

// TxIntent describes a transaction before nonce and gas are attached.
type TxIntent struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte

	// GasLimit overrides estimation when non-zero.
	GasLimit uint64
	// FallbackGas is the ceiling used when estimation fails; zero selects
	// ContractCallGasCeiling.
	FallbackGas uint64
}

func New(backend Backend, contract common.Address, cfg Config) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidConfig)
	}
	if cfg.GasMargin == 0 {
		cfg.GasMargin = 1.2
	}
	if cfg.GasMargin < 1 {
		return nil, fmt.Errorf("%w: gas margin below 1", ErrInvalidConfig)
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Gateway{backend: backend, contract: contract, cfg: cfg}, nil
}

// Contract returns the escrow contract address this gateway targets.
func (g *Gateway) Contract() common.Address { return g.contract }

// ChainID returns the fixed deployment chain id.
func (g *Gateway) ChainID() *big.Int { return new(big.Int).Set(g.cfg.ChainID) }

func (g *Gateway) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := g.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance of %s: %w", account, err)
	}
	return bal, nil
}

func (g *Gateway) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	n, err := g.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("ledger: nonce of %s: %w", account, err)
	}
	return n, nil
}

// EstimateGas simulates the intent and applies the configured margin. When
// the node refuses to estimate (which happens for valid-but-stateful calls),
// the intent's fallback ceiling is returned instead of an error.
func (g *Gateway) EstimateGas(ctx context.Context, intent TxIntent) uint64 {
	fallback := intent.FallbackGas
	if fallback == 0 {
		fallback = ContractCallGasCeiling
	}
	to := intent.To
	est, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  intent.From,
		To:    &to,
		Value: intent.Value,
		Data:  intent.Data,
	})
	if err != nil {
		return fallback
	}
	return applyGasMargin(est, g.cfg.GasMargin)
}

// BuildTransaction attaches nonce and gas to the intent and returns the
// unsigned transaction. Gas price is fixed at zero for the private-network
// deployment profile.
func (g *Gateway) BuildTransaction(ctx context.Context, intent TxIntent) (*types.Transaction, error) {
	if (intent.From == common.Address{}) {
		return nil, fmt.Errorf("%w: missing from address", ErrInvalidIntent)
	}
	if (intent.To == common.Address{}) {
		return nil, fmt.Errorf("%w: missing to address", ErrInvalidIntent)
	}
	value := intent.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrInvalidIntent)
	}

	gasLimit := intent.GasLimit
	if gasLimit == 0 {
		gasLimit = g.EstimateGas(ctx, intent)
	}

	nonce, err := g.Nonce(ctx, intent.From)
	if err != nil {
		return nil, err
	}

	to := intent.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(0),
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     intent.Data,
	}), nil
}

// Submit broadcasts a signed transaction. Once this returns the action is
// final from the engine's perspective; there is no mid-flight cancellation.
func (g *Gateway) Submit(ctx context.Context, signed *types.Transaction) (common.Hash, error) {
	if signed == nil {
		return common.Hash{}, fmt.Errorf("%w: nil transaction", ErrInvalidIntent)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("ledger: submit: %w", err)
	}
	return signed.Hash(), nil
}

// AwaitReceipt polls for the receipt until it appears or the timeout
// elapses. Timeout means unknown outcome, not failure.
func (g *Gateway) AwaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: non-positive timeout", ErrInvalidConfig)
	}
	deadline := g.cfg.Now().Add(timeout)
	for {
		receipt, err := g.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("ledger: receipt of %s: %w", txHash, err)
		}
		if !g.cfg.Now().Add(g.cfg.ReceiptPollInterval).Before(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, txHash, timeout)
		}
		if err := g.cfg.Sleep(ctx, g.cfg.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
}

// CheckReceipt converts a failed receipt into a RejectionError, replaying the
// transaction as a call at the receipt's block to extract the revert reason
// when the node allows it. Success yields nil.
func (g *Gateway) CheckReceipt(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: nil receipt", ErrInvalidIntent)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return nil
	}
	return &RejectionError{
		TxHash: receipt.TxHash,
		Reason: g.revertReason(ctx, tx, receipt),
	}
}

func (g *Gateway) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	if tx == nil || receipt.BlockNumber == nil {
		return ""
	}
	from, err := types.Sender(types.LatestSignerForChainID(g.cfg.ChainID), tx)
	if err != nil {
		return ""
	}
	data, err := g.backend.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, receipt.BlockNumber)
	if err != nil {
		// Some nodes surface the revert string in the call error itself.
		return err.Error()
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return ""
	}
	return reason
}

// Call executes a read-only contract call against the latest block.
func (g *Gateway) Call(ctx context.Context, from common.Address, calldata []byte) ([]byte, error) {
	to := g.contract
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: contract call: %w", err)
	}
	return out, nil
}

// DecodeEvent extracts one argument of one emitted event from a receipt.
// Absence of the event (or the argument) is an expected condition and is
// reported as ok == false, never as an error.
func (g *Gateway) DecodeEvent(contract abi.ABI, receipt *types.Receipt, eventName, argKey string) (any, bool) {
	if receipt == nil {
		return nil, false
	}
	event, ok := contract.Events[eventName]
	if !ok {
		return nil, false
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		args := make(map[string]any)
		indexed := make(abi.Arguments, 0, len(event.Inputs))
		for _, in := range event.Inputs {
			if in.Indexed {
				indexed = append(indexed, in)
			}
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			continue
		}
		if err := event.Inputs.UnpackIntoMap(args, lg.Data); err != nil {
			continue
		}
		v, ok := args[argKey]
		return v, ok
	}
	return nil, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func applyGasMargin(est uint64, margin float64) uint64 {
	if margin <= 1 {
		return est
	}
	out := uint64(math.Ceil(float64(est) * margin))
	if out < est {
		// overflow or float error; fall back to the estimate.
		return est
	}
	return out
}
