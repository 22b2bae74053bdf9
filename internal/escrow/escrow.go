// Package escrow orchestrates the on-chain job escrow lifecycle on behalf of
// custodial wallet users: it resolves signing keys, pins metadata, builds and
// signs contract transactions, waits for receipts and emits lifecycle events.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gigmarket/escrow-engine/internal/escrowabi"
	"github.com/gigmarket/escrow-engine/internal/job"
	"github.com/gigmarket/escrow-engine/internal/ledger"
	"github.com/gigmarket/escrow-engine/internal/metastore"
	"github.com/gigmarket/escrow-engine/internal/notify"
	"github.com/gigmarket/escrow-engine/internal/wallet"
)

var (
	ErrInvalidConfig = errors.New("escrow: invalid config")
	ErrInvalidInput  = errors.New("escrow: invalid input")
	ErrNotFound      = errors.New("escrow: not found")

	// ErrForbidden is returned when the caller's wallet is not the party
	// allowed to perform the operation on this job.
	ErrForbidden = errors.New("escrow: caller not permitted")

	// ErrInsufficientFunds is returned before submission when the wallet
	// balance cannot cover the required escrow value.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")

	// ErrWrongState is returned when the job's on-chain status does not
	// admit the requested transition.
	ErrWrongState = errors.New("escrow: job state does not allow this operation")
)

const (
	// Receipt wait for transactions that move funds into or out of escrow.
	defaultPaymentReceiptTimeout = 60 * time.Second
	// Receipt wait for plain state transitions.
	defaultCallReceiptTimeout = 30 * time.Second
)

type Config struct {
	Gateway  *ledger.Gateway
	Wallets  *wallet.Directory
	Metadata metastore.Store

	// Notifier is optional; a nil notifier drops events.
	Notifier *notify.Notifier
	Logger   *slog.Logger

	PaymentReceiptTimeout time.Duration
	CallReceiptTimeout    time.Duration
}

type Orchestrator struct {
	gateway  *ledger.Gateway
	wallets  *wallet.Directory
	meta     metastore.Store
	notifier *notify.Notifier
	logger   *slog.Logger

	paymentTimeout time.Duration
	callTimeout    time.Duration
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrInvalidConfig)
	}
	if cfg.Wallets == nil {
		return nil, fmt.Errorf("%w: wallet directory is required", ErrInvalidConfig)
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	paymentTimeout := cfg.PaymentReceiptTimeout
	if paymentTimeout <= 0 {
		paymentTimeout = defaultPaymentReceiptTimeout
	}
	callTimeout := cfg.CallReceiptTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallReceiptTimeout
	}
	return &Orchestrator{
		gateway:        cfg.Gateway,
		wallets:        cfg.Wallets,
		meta:           cfg.Metadata,
		notifier:       cfg.Notifier,
		logger:         logger,
		paymentTimeout: paymentTimeout,
		callTimeout:    callTimeout,
	}, nil
}

// TxResult reports the outcome of a submitted transaction.
type TxResult struct {
	TxHash common.Hash
}

// signerFor authenticates the user and wraps their signing key.
func (o *Orchestrator) signerFor(ctx context.Context, userID, password string) (ledger.Signer, error) {
	key, err := o.wallets.RevealSigningKey(ctx, userID, password)
	if err != nil {
		return nil, err
	}
	return ledger.NewKeySigner(key), nil
}

// requireBalance rejects the operation up front when the wallet cannot fund
// it. Gas is free on the deployment network, so value is the whole cost.
func (o *Orchestrator) requireBalance(ctx context.Context, account common.Address, value *big.Int) error {
	if value == nil || value.Sign() <= 0 {
		return nil
	}
	balance, err := o.gateway.Balance(ctx, account)
	if err != nil {
		return err
	}
	if balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds,
			ledger.FromBaseUnits(value), ledger.FromBaseUnits(balance))
	}
	return nil
}

// submit signs, broadcasts and awaits one contract transaction, then folds a
// failed receipt into a rejection error. A receipt timeout surfaces as
// ledger.ErrReceiptTimeout with the hash in the result: the outcome is
// unknown, not failed.
func (o *Orchestrator) submit(ctx context.Context, signer ledger.Signer, intent ledger.TxIntent, timeout time.Duration) (TxResult, *types.Receipt, error) {
	intent.From = signer.Address()
	tx, err := o.gateway.BuildTransaction(ctx, intent)
	if err != nil {
		return TxResult{}, nil, err
	}
	signed, err := signer.SignTx(tx, o.gateway.ChainID())
	if err != nil {
		return TxResult{}, nil, fmt.Errorf("escrow: sign transaction: %w", err)
	}
	hash, err := o.gateway.Submit(ctx, signed)
	if err != nil {
		return TxResult{}, nil, err
	}
	result := TxResult{TxHash: hash}

	receipt, err := o.gateway.AwaitReceipt(ctx, hash, timeout)
	if err != nil {
		return result, nil, err
	}
	if err := o.gateway.CheckReceipt(ctx, signed, receipt); err != nil {
		return result, receipt, err
	}
	return result, receipt, nil
}

func (o *Orchestrator) emit(ctx context.Context, ev notify.Event) {
	if o.notifier == nil {
		return
	}
	o.notifier.Emit(ctx, ev)
}

// unpinLoud releases a pinned payload after a failed submission, logging
// when even the cleanup fails.
func (o *Orchestrator) unpinLoud(ctx context.Context, contentID string) {
	if err := o.meta.Unpin(ctx, contentID); err != nil {
		o.logger.Warn("escrow: unpin orphaned metadata", "content_id", contentID, "err", err)
	}
}

// releaseOnFailure unpins a payload after a failed submit, but only when the
// transaction never reached the chain or the receipt confirmed a rejection.
// Any other post-broadcast error (receipt timeout, a lost receipt lookup,
// cancellation mid-poll) leaves the pin alone: the transaction may still
// confirm with this content id on-chain.
func (o *Orchestrator) releaseOnFailure(ctx context.Context, contentID string, res TxResult, err error) {
	if res.TxHash != (common.Hash{}) && !errors.Is(err, ledger.ErrRejected) {
		return
	}
	o.unpinLoud(ctx, contentID)
}

// GetJob fetches the on-chain job projection.
func (o *Orchestrator) GetJob(ctx context.Context, jobID job.ID) (job.Job, error) {
	calldata, err := escrowabi.PackGetJob(jobID)
	if err != nil {
		return job.Job{}, err
	}
	out, err := o.gateway.Call(ctx, common.Address{}, calldata)
	if err != nil {
		return job.Job{}, err
	}
	j, err := escrowabi.DecodeJob(out)
	if err != nil {
		return job.Job{}, err
	}
	if j.Status == job.StatusNone {
		return job.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return j, nil
}

// GetProposal fetches the on-chain proposal projection.
func (o *Orchestrator) GetProposal(ctx context.Context, proposalID job.ID) (job.Proposal, error) {
	calldata, err := escrowabi.PackGetProposal(proposalID)
	if err != nil {
		return job.Proposal{}, err
	}
	out, err := o.gateway.Call(ctx, common.Address{}, calldata)
	if err != nil {
		return job.Proposal{}, err
	}
	p, err := escrowabi.DecodeProposal(out)
	if err != nil {
		return job.Proposal{}, err
	}
	if p.Status == job.ProposalNone {
		return job.Proposal{}, fmt.Errorf("%w: proposal %s", ErrNotFound, proposalID)
	}
	return p, nil
}

// JobProposals lists all proposals submitted against a job.
func (o *Orchestrator) JobProposals(ctx context.Context, jobID job.ID) ([]job.Proposal, error) {
	calldata, err := escrowabi.PackGetJobProposals(jobID)
	if err != nil {
		return nil, err
	}
	out, err := o.gateway.Call(ctx, common.Address{}, calldata)
	if err != nil {
		return nil, err
	}
	ids, err := escrowabi.DecodeJobProposals(out)
	if err != nil {
		return nil, err
	}
	proposals := make([]job.Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := o.GetProposal(ctx, id)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// JobMetadata resolves the off-chain payload referenced by the job.
func (o *Orchestrator) JobMetadata(ctx context.Context, jobID job.ID) (metastore.Payload, error) {
	j, err := o.GetJob(ctx, jobID)
	if err != nil {
		return metastore.Payload{}, err
	}
	if j.ContentID == "" {
		return metastore.Payload{}, fmt.Errorf("%w: job %s has no metadata", ErrNotFound, jobID)
	}
	return o.meta.Get(ctx, j.ContentID)
}

// PlatformFee asks the contract what fee it will charge on an escrow amount.
func (o *Orchestrator) PlatformFee(ctx context.Context, amount *big.Int) (*big.Int, error) {
	calldata, err := escrowabi.PackCalculatePlatformFee(amount)
	if err != nil {
		return nil, err
	}
	out, err := o.gateway.Call(ctx, common.Address{}, calldata)
	if err != nil {
		return nil, err
	}
	return escrowabi.DecodePlatformFee(out)
}

// Balance returns the user's on-chain balance in base units.
func (o *Orchestrator) Balance(ctx context.Context, userID string) (*big.Int, error) {
	addr, err := o.wallets.Address(ctx, userID)
	if err != nil {
		return nil, err
	}
	return o.gateway.Balance(ctx, addr)
}

// TransactionHistory scans recent blocks for transfers touching the user's
// wallet.
func (o *Orchestrator) TransactionHistory(ctx context.Context, userID string, startBlock uint64) ([]ledger.TransactionRecord, error) {
	addr, err := o.wallets.Address(ctx, userID)
	if err != nil {
		return nil, err
	}
	return o.gateway.History(ctx, addr, startBlock)
}
