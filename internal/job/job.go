// Package job defines the escrow domain model. The authoritative copy of
// every Job and Proposal lives in the escrow contract; these types are the
// local read-through projection, decoded once at the ABI boundary.
package job

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnknownStatus = errors.New("job: unknown status")

// ID is the opaque fixed-length identifier the ledger assigns at creation.
type ID = common.Hash

// Status mirrors the contract's job status enum. Values are wire format and
// must not be reordered.
type Status uint8

const (
	StatusNone Status = iota
	StatusCreated
	StatusAccepted
	StatusOpen
	StatusInProgress
	StatusCompleted
	StatusApproved
	StatusCancelled
	StatusDisputed
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusCreated:
		return "created"
	case StatusAccepted:
		return "accepted"
	case StatusOpen:
		return "open"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusApproved:
		return "approved"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// forward transitions along the job lifecycle. Side exits (Cancelled,
// Disputed, Refunded) are reachable from any pre-Approved live state and are
// handled in CanTransition.
var forward = map[Status][]Status{
	StatusNone:       {StatusCreated, StatusOpen},
	StatusCreated:    {StatusAccepted, StatusOpen},
	StatusOpen:       {StatusInProgress},
	StatusAccepted:   {StatusInProgress},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {StatusApproved, StatusInProgress}, // rejected completion falls back
	StatusDisputed:   {StatusRefunded, StatusApproved},
}

// CanTransition reports whether from → to is a legal status change. The only
// backward step is Completed → InProgress, the documented compensating action
// for a rejected completion claim.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusCancelled, StatusDisputed:
		return from != StatusNone
	case StatusRefunded:
		return from == StatusDisputed
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the projection of one on-chain escrow job.
//
// Amount and PlatformFee are base units locked at creation and conserved
// until Approved (paid out) or Cancelled/Refunded (returned to the client).
type Job struct {
	ID       ID
	Client   common.Address
	Provider common.Address // zero for open jobs until a proposal is accepted

	Amount      *big.Int
	PlatformFee *big.Int

	CreatedAt   uint64
	AcceptedAt  uint64
	CompletedAt uint64
	Deadline    uint64

	Status      Status
	ServiceType string
	ContentID   string // off-chain metadata reference

	ClientRating   uint8
	ProviderRating uint8

	OpenForProposals bool
	ProposalCount    uint64
}

// Escrowed returns the total locked at creation: amount plus platform fee.
func (j Job) Escrowed() *big.Int {
	total := new(big.Int)
	if j.Amount != nil {
		total.Add(total, j.Amount)
	}
	if j.PlatformFee != nil {
		total.Add(total, j.PlatformFee)
	}
	return total
}

// IsClient reports whether addr holds the client role for this job.
func (j Job) IsClient(addr common.Address) bool { return j.Client == addr }

// IsProvider reports whether addr holds the provider role for this job.
func (j Job) IsProvider(addr common.Address) bool {
	return j.Provider != (common.Address{}) && j.Provider == addr
}

// ProposalStatus mirrors the contract's proposal status enum.
type ProposalStatus uint8

const (
	ProposalNone ProposalStatus = iota
	ProposalPending
	ProposalAccepted
	ProposalRejected
	ProposalCanceled
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalNone:
		return "none"
	case ProposalPending:
		return "pending"
	case ProposalAccepted:
		return "accepted"
	case ProposalRejected:
		return "rejected"
	case ProposalCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("proposal_status(%d)", uint8(s))
	}
}

// Proposal is the projection of one on-chain proposal, child of exactly one
// open job. At most one proposal per job may be Accepted.
type Proposal struct {
	ID       ID
	JobID    ID
	Provider common.Address

	Amount        *big.Int
	EstimatedTime uint64 // seconds
	ContentID     string

	Status ProposalStatus
}

// TopUp computes the additional funds a client must attach when accepting
// this proposal against the job's current escrow. Zero or negative difference
// means no top-up.
func (p Proposal) TopUp(j Job) *big.Int {
	if p.Amount == nil {
		return new(big.Int)
	}
	diff := new(big.Int).Sub(p.Amount, j.Escrowed())
	if diff.Sign() < 0 {
		return new(big.Int)
	}
	return diff
}
