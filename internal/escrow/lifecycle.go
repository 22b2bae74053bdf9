package escrow

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmarket/escrow-engine/internal/escrowabi"
	"github.com/gigmarket/escrow-engine/internal/job"
	"github.com/gigmarket/escrow-engine/internal/ledger"
	"github.com/gigmarket/escrow-engine/internal/metastore"
	"github.com/gigmarket/escrow-engine/internal/notify"
)

// CreateJobParams creates a fixed-price job assigned to a known provider.
type CreateJobParams struct {
	UserID   string
	Password string

	Provider    common.Address
	Amount      *big.Int
	Deadline    uint64
	ServiceType string
	Metadata    metastore.Payload
}

type CreateJobResult struct {
	TxResult
	JobID       job.ID
	PlatformFee *big.Int
	Total       *big.Int
	ContentID   string
}

// CreateJob escrows amount plus the platform fee and opens the job on-chain.
// Metadata is pinned before submission. The pin is released only when the
// transaction never reached the chain or a receipt confirmed its rejection;
// any outcome still in doubt keeps the pin, because the job may yet confirm.
func (o *Orchestrator) CreateJob(ctx context.Context, p CreateJobParams) (CreateJobResult, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return CreateJobResult{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	if (p.Provider == common.Address{}) {
		return CreateJobResult{}, fmt.Errorf("%w: provider address is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.ServiceType) == "" {
		return CreateJobResult{}, fmt.Errorf("%w: service type is required", ErrInvalidInput)
	}
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return CreateJobResult{}, err
	}

	fee, err := o.PlatformFee(ctx, p.Amount)
	if err != nil {
		return CreateJobResult{}, err
	}
	total := new(big.Int).Add(p.Amount, fee)
	if err := o.requireBalance(ctx, signer.Address(), total); err != nil {
		return CreateJobResult{}, err
	}

	p.Metadata.Version = metastore.SchemaVersion
	p.Metadata.Kind = metastore.KindFixedJob
	contentID, err := o.meta.Put(ctx, p.Metadata)
	if err != nil {
		return CreateJobResult{}, err
	}

	calldata, err := escrowabi.PackCreateJob(p.Provider, p.Deadline, p.ServiceType, contentID)
	if err != nil {
		o.unpinLoud(ctx, contentID)
		return CreateJobResult{}, err
	}
	res, receipt, err := o.submit(ctx, signer, ledger.TxIntent{
		To:          o.gateway.Contract(),
		Value:       total,
		Data:        calldata,
		FallbackGas: ledger.PaymentCallGasCeiling,
	}, o.paymentTimeout)
	out := CreateJobResult{TxResult: res, PlatformFee: fee, Total: total, ContentID: contentID}
	if err != nil {
		o.releaseOnFailure(ctx, contentID, res, err)
		return out, err
	}

	out.JobID, _ = escrowabi.EventID(receipt, escrowabi.EventJobCreated)
	o.emit(ctx, notify.Event{
		Type:   notify.EventJobCreated,
		JobID:  common.Hash(out.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
		Amount: ledger.FromBaseUnits(p.Amount),
	})
	return out, nil
}

// CreateOpenJobParams creates a job open for provider proposals. MaxBudget
// is escrowed up front; the fee is charged on that budget.
type CreateOpenJobParams struct {
	UserID   string
	Password string

	MaxBudget   *big.Int
	Deadline    uint64
	ServiceType string
	Metadata    metastore.Payload
}

func (o *Orchestrator) CreateOpenJob(ctx context.Context, p CreateOpenJobParams) (CreateJobResult, error) {
	if p.MaxBudget == nil || p.MaxBudget.Sign() <= 0 {
		return CreateJobResult{}, fmt.Errorf("%w: max budget must be > 0", ErrInvalidInput)
	}
	if strings.TrimSpace(p.ServiceType) == "" {
		return CreateJobResult{}, fmt.Errorf("%w: service type is required", ErrInvalidInput)
	}
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return CreateJobResult{}, err
	}

	fee, err := o.PlatformFee(ctx, p.MaxBudget)
	if err != nil {
		return CreateJobResult{}, err
	}
	total := new(big.Int).Add(p.MaxBudget, fee)
	if err := o.requireBalance(ctx, signer.Address(), total); err != nil {
		return CreateJobResult{}, err
	}

	p.Metadata.Version = metastore.SchemaVersion
	p.Metadata.Kind = metastore.KindOpenJob
	contentID, err := o.meta.Put(ctx, p.Metadata)
	if err != nil {
		return CreateJobResult{}, err
	}

	calldata, err := escrowabi.PackCreateOpenJob(p.MaxBudget, p.Deadline, p.ServiceType, contentID)
	if err != nil {
		o.unpinLoud(ctx, contentID)
		return CreateJobResult{}, err
	}
	res, receipt, err := o.submit(ctx, signer, ledger.TxIntent{
		To:          o.gateway.Contract(),
		Value:       total,
		Data:        calldata,
		FallbackGas: ledger.PaymentCallGasCeiling,
	}, o.paymentTimeout)
	out := CreateJobResult{TxResult: res, PlatformFee: fee, Total: total, ContentID: contentID}
	if err != nil {
		o.releaseOnFailure(ctx, contentID, res, err)
		return out, err
	}

	out.JobID, _ = escrowabi.EventID(receipt, escrowabi.EventJobOpenForProposals)
	o.emit(ctx, notify.Event{
		Type:   notify.EventJobOpenForProposals,
		JobID:  common.Hash(out.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
		Amount: ledger.FromBaseUnits(p.MaxBudget),
	})
	return out, nil
}

// SubmitProposalParams bids on an open job.
type SubmitProposalParams struct {
	UserID   string
	Password string

	JobID         job.ID
	Amount        *big.Int
	EstimatedTime uint64
	Metadata      metastore.Payload
}

type SubmitProposalResult struct {
	TxResult
	ProposalID job.ID
	ContentID  string
}

func (o *Orchestrator) SubmitProposal(ctx context.Context, p SubmitProposalParams) (SubmitProposalResult, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return SubmitProposalResult{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return SubmitProposalResult{}, err
	}
	j, err := o.GetJob(ctx, p.JobID)
	if err != nil {
		return SubmitProposalResult{}, err
	}
	if !j.OpenForProposals {
		return SubmitProposalResult{}, fmt.Errorf("%w: job %s is not open for proposals", ErrWrongState, p.JobID)
	}
	if j.IsClient(signer.Address()) {
		return SubmitProposalResult{}, fmt.Errorf("%w: clients cannot bid on their own job", ErrForbidden)
	}

	p.Metadata.Version = metastore.SchemaVersion
	p.Metadata.Kind = metastore.KindProposal
	contentID, err := o.meta.Put(ctx, p.Metadata)
	if err != nil {
		return SubmitProposalResult{}, err
	}

	calldata, err := escrowabi.PackSubmitProposal(p.JobID, p.Amount, p.EstimatedTime, contentID)
	if err != nil {
		o.unpinLoud(ctx, contentID)
		return SubmitProposalResult{}, err
	}
	res, receipt, err := o.submit(ctx, signer, ledger.TxIntent{
		To:   o.gateway.Contract(),
		Data: calldata,
	}, o.callTimeout)
	out := SubmitProposalResult{TxResult: res, ContentID: contentID}
	if err != nil {
		o.releaseOnFailure(ctx, contentID, res, err)
		return out, err
	}

	out.ProposalID, _ = escrowabi.EventID(receipt, escrowabi.EventProposalSubmitted)
	o.emit(ctx, notify.Event{
		Type:       notify.EventProposalSubmitted,
		JobID:      common.Hash(p.JobID).Hex(),
		ProposalID: common.Hash(out.ProposalID).Hex(),
		Actor:      signer.Address().Hex(),
		TxHash:     res.TxHash.Hex(),
		Amount:     ledger.FromBaseUnits(p.Amount),
	})
	return out, nil
}

// ProposalActionParams addresses one proposal.
type ProposalActionParams struct {
	UserID   string
	Password string

	ProposalID job.ID
}

// AcceptProposalResult carries the additional escrow the client paid to
// cover the accepted bid.
type AcceptProposalResult struct {
	TxResult
	JobID job.ID
	TopUp *big.Int
}

// AcceptProposal assigns the bidding provider to the job. When the bid
// exceeds what the job already escrowed, the difference is measured against
// the job's current on-chain escrow and paid with the acceptance call, so a
// retried acceptance never double-pays.
func (o *Orchestrator) AcceptProposal(ctx context.Context, p ProposalActionParams) (AcceptProposalResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return AcceptProposalResult{}, err
	}
	prop, err := o.GetProposal(ctx, p.ProposalID)
	if err != nil {
		return AcceptProposalResult{}, err
	}
	if prop.Status != job.ProposalPending {
		return AcceptProposalResult{}, fmt.Errorf("%w: proposal is %s", ErrWrongState, prop.Status)
	}
	j, err := o.GetJob(ctx, prop.JobID)
	if err != nil {
		return AcceptProposalResult{}, err
	}
	if !j.IsClient(signer.Address()) {
		return AcceptProposalResult{}, fmt.Errorf("%w: only the client accepts proposals", ErrForbidden)
	}

	topUp := prop.TopUp(j)
	if err := o.requireBalance(ctx, signer.Address(), topUp); err != nil {
		return AcceptProposalResult{}, err
	}

	calldata, err := escrowabi.PackAcceptProposal(p.ProposalID)
	if err != nil {
		return AcceptProposalResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:          o.gateway.Contract(),
		Value:       topUp,
		Data:        calldata,
		FallbackGas: ledger.PaymentCallGasCeiling,
	}, o.paymentTimeout)
	out := AcceptProposalResult{TxResult: res, JobID: prop.JobID, TopUp: topUp}
	if err != nil {
		return out, err
	}

	o.emit(ctx, notify.Event{
		Type:       notify.EventProposalAccepted,
		JobID:      common.Hash(prop.JobID).Hex(),
		ProposalID: common.Hash(p.ProposalID).Hex(),
		Actor:      signer.Address().Hex(),
		TxHash:     res.TxHash.Hex(),
		Amount:     ledger.FromBaseUnits(prop.Amount),
	})
	return out, nil
}

// RejectProposal declines a pending bid. Client-only.
func (o *Orchestrator) RejectProposal(ctx context.Context, p ProposalActionParams) (TxResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	prop, err := o.GetProposal(ctx, p.ProposalID)
	if err != nil {
		return TxResult{}, err
	}
	if prop.Status != job.ProposalPending {
		return TxResult{}, fmt.Errorf("%w: proposal is %s", ErrWrongState, prop.Status)
	}
	j, err := o.GetJob(ctx, prop.JobID)
	if err != nil {
		return TxResult{}, err
	}
	if !j.IsClient(signer.Address()) {
		return TxResult{}, fmt.Errorf("%w: only the client rejects proposals", ErrForbidden)
	}

	calldata, err := escrowabi.PackRejectProposal(p.ProposalID)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:   o.gateway.Contract(),
		Data: calldata,
	}, o.callTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:       notify.EventProposalRejected,
		JobID:      common.Hash(prop.JobID).Hex(),
		ProposalID: common.Hash(p.ProposalID).Hex(),
		Actor:      signer.Address().Hex(),
		TxHash:     res.TxHash.Hex(),
	})
	return res, nil
}

// CancelProposal withdraws the caller's own pending bid.
func (o *Orchestrator) CancelProposal(ctx context.Context, p ProposalActionParams) (TxResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	prop, err := o.GetProposal(ctx, p.ProposalID)
	if err != nil {
		return TxResult{}, err
	}
	if prop.Status != job.ProposalPending {
		return TxResult{}, fmt.Errorf("%w: proposal is %s", ErrWrongState, prop.Status)
	}
	if prop.Provider != signer.Address() {
		return TxResult{}, fmt.Errorf("%w: only the proposing provider cancels a bid", ErrForbidden)
	}

	calldata, err := escrowabi.PackCancelProposal(p.ProposalID)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:   o.gateway.Contract(),
		Data: calldata,
	}, o.callTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:       notify.EventProposalCancelled,
		JobID:      common.Hash(prop.JobID).Hex(),
		ProposalID: common.Hash(p.ProposalID).Hex(),
		Actor:      signer.Address().Hex(),
		TxHash:     res.TxHash.Hex(),
	})
	return res, nil
}

// JobActionParams addresses one job.
type JobActionParams struct {
	UserID   string
	Password string

	JobID job.ID
}

// OpenForProposals converts a directly-created job into one taking proposals,
// for when the assigned provider never accepts and the client wants other
// bids.
func (o *Orchestrator) OpenForProposals(ctx context.Context, p JobActionParams) (TxResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	j, err := o.GetJob(ctx, p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	if !j.IsClient(signer.Address()) {
		return TxResult{}, fmt.Errorf("%w: only the client opens a job for proposals", ErrForbidden)
	}
	if !job.CanTransition(j.Status, job.StatusOpen) {
		return TxResult{}, fmt.Errorf("%w: job is %s", ErrWrongState, j.Status)
	}

	calldata, err := escrowabi.PackOpenJobForProposals(p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:   o.gateway.Contract(),
		Data: calldata,
	}, o.callTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:   notify.EventJobOpenForProposals,
		JobID:  common.Hash(p.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
	})
	return res, nil
}

// AcceptJob is the assigned provider taking on a directly-created job. The
// contract moves an accepted job straight into progress.
func (o *Orchestrator) AcceptJob(ctx context.Context, p JobActionParams) (TxResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	j, err := o.GetJob(ctx, p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	if !j.IsProvider(signer.Address()) {
		return TxResult{}, fmt.Errorf("%w: only the assigned provider accepts a job", ErrForbidden)
	}
	if !job.CanTransition(j.Status, job.StatusAccepted) {
		return TxResult{}, fmt.Errorf("%w: job is %s", ErrWrongState, j.Status)
	}

	calldata, err := escrowabi.PackAcceptJob(p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:   o.gateway.Contract(),
		Data: calldata,
	}, o.callTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:   notify.EventJobAccepted,
		JobID:  common.Hash(p.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
	})
	return res, nil
}

// CompleteJob is the provider declaring the work done.
func (o *Orchestrator) CompleteJob(ctx context.Context, p JobActionParams) (TxResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	j, err := o.GetJob(ctx, p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	if !j.IsProvider(signer.Address()) {
		return TxResult{}, fmt.Errorf("%w: only the provider completes a job", ErrForbidden)
	}
	if !job.CanTransition(j.Status, job.StatusCompleted) {
		return TxResult{}, fmt.Errorf("%w: job is %s", ErrWrongState, j.Status)
	}

	calldata, err := escrowabi.PackCompleteJob(p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:   o.gateway.Contract(),
		Data: calldata,
	}, o.callTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:   notify.EventJobCompleted,
		JobID:  common.Hash(p.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
	})
	return res, nil
}

// ApproveJobParams releases escrow to the provider with a service rating.
type ApproveJobParams struct {
	UserID   string
	Password string

	JobID  job.ID
	Rating uint8
}

func (o *Orchestrator) ApproveJob(ctx context.Context, p ApproveJobParams) (TxResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	j, err := o.GetJob(ctx, p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	if !j.IsClient(signer.Address()) {
		return TxResult{}, fmt.Errorf("%w: only the client approves a job", ErrForbidden)
	}
	if !job.CanTransition(j.Status, job.StatusApproved) {
		return TxResult{}, fmt.Errorf("%w: job is %s", ErrWrongState, j.Status)
	}

	calldata, err := escrowabi.PackApproveJob(p.JobID, p.Rating)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:          o.gateway.Contract(),
		Data:        calldata,
		FallbackGas: ledger.PaymentCallGasCeiling,
	}, o.paymentTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:   notify.EventJobApproved,
		JobID:  common.Hash(p.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
		Amount: ledger.FromBaseUnits(j.Amount),
	})
	return res, nil
}

// RejectCompletionParams sends completed work back to the provider.
type RejectCompletionParams struct {
	UserID   string
	Password string

	JobID  job.ID
	Reason string
}

func (o *Orchestrator) RejectCompletion(ctx context.Context, p RejectCompletionParams) (TxResult, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return TxResult{}, fmt.Errorf("%w: a rejection reason is required", ErrInvalidInput)
	}
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	j, err := o.GetJob(ctx, p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	if !j.IsClient(signer.Address()) {
		return TxResult{}, fmt.Errorf("%w: only the client rejects completion", ErrForbidden)
	}
	if j.Status != job.StatusCompleted {
		return TxResult{}, fmt.Errorf("%w: job is %s", ErrWrongState, j.Status)
	}

	calldata, err := escrowabi.PackRejectCompletion(p.JobID, reason)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:   o.gateway.Contract(),
		Data: calldata,
	}, o.callTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:   notify.EventCompletionRejected,
		JobID:  common.Hash(p.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
		Reason: reason,
	})
	return res, nil
}

// CancelJob returns the escrow to the client. Client-only; the contract
// decides which live states still admit cancellation.
func (o *Orchestrator) CancelJob(ctx context.Context, p JobActionParams) (TxResult, error) {
	signer, err := o.signerFor(ctx, p.UserID, p.Password)
	if err != nil {
		return TxResult{}, err
	}
	j, err := o.GetJob(ctx, p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	if !j.IsClient(signer.Address()) {
		return TxResult{}, fmt.Errorf("%w: only the client cancels a job", ErrForbidden)
	}
	if !job.CanTransition(j.Status, job.StatusCancelled) {
		return TxResult{}, fmt.Errorf("%w: job is %s", ErrWrongState, j.Status)
	}

	calldata, err := escrowabi.PackCancelJob(p.JobID)
	if err != nil {
		return TxResult{}, err
	}
	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:          o.gateway.Contract(),
		Data:        calldata,
		FallbackGas: ledger.PaymentCallGasCeiling,
	}, o.paymentTimeout)
	if err != nil {
		return res, err
	}
	o.emit(ctx, notify.Event{
		Type:   notify.EventJobCancelled,
		JobID:  common.Hash(p.JobID).Hex(),
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
		Amount: ledger.FromBaseUnits(j.Escrowed()),
	})
	return res, nil
}

// WithdrawResult reports the amount the contract paid out.
type WithdrawResult struct {
	TxResult
	Amount *big.Int
}

// Withdraw pulls the caller's accumulated contract balance (released
// payouts and refunds) to their wallet.
func (o *Orchestrator) Withdraw(ctx context.Context, userID, password string) (WithdrawResult, error) {
	signer, err := o.signerFor(ctx, userID, password)
	if err != nil {
		return WithdrawResult{}, err
	}
	calldata, err := escrowabi.PackWithdraw()
	if err != nil {
		return WithdrawResult{}, err
	}
	res, receipt, err := o.submit(ctx, signer, ledger.TxIntent{
		To:          o.gateway.Contract(),
		Data:        calldata,
		FallbackGas: ledger.PaymentCallGasCeiling,
	}, o.paymentTimeout)
	out := WithdrawResult{TxResult: res}
	if err != nil {
		return out, err
	}

	if contractABI, abiErr := escrowabi.Contract(); abiErr == nil {
		if v, ok := o.gateway.DecodeEvent(contractABI, receipt, escrowabi.EventFundsWithdrawn, "amount"); ok {
			out.Amount, _ = v.(*big.Int)
		}
	}
	amount := ""
	if out.Amount != nil {
		amount = ledger.FromBaseUnits(out.Amount)
	}
	o.emit(ctx, notify.Event{
		Type:   notify.EventFundsWithdrawn,
		Actor:  signer.Address().Hex(),
		TxHash: res.TxHash.Hex(),
		Amount: amount,
	})
	return out, nil
}

// Transfer moves funds from the user's wallet to an arbitrary address,
// outside any escrow.
func (o *Orchestrator) Transfer(ctx context.Context, userID, password string, to common.Address, amount *big.Int) (TxResult, error) {
	if (to == common.Address{}) {
		return TxResult{}, fmt.Errorf("%w: recipient address is required", ErrInvalidInput)
	}
	if amount == nil || amount.Sign() <= 0 {
		return TxResult{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	signer, err := o.signerFor(ctx, userID, password)
	if err != nil {
		return TxResult{}, err
	}
	if err := o.requireBalance(ctx, signer.Address(), amount); err != nil {
		return TxResult{}, err
	}

	res, _, err := o.submit(ctx, signer, ledger.TxIntent{
		To:          to,
		Value:       amount,
		FallbackGas: ledger.TransferGasCeiling,
	}, o.callTimeout)
	return res, err
}
