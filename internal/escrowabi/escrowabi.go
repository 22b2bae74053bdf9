// Package escrowabi packs calldata for, and decodes results and events from,
// the on-chain escrow contract. Every positional tuple coming back from the
// node is converted exactly once, here, into a named struct; nothing outside
// this package indexes ABI output by position.
package escrowabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gigmarket/escrow-engine/internal/job"
)

var (
	ErrInvalidInput = errors.New("escrowabi: invalid input")
	ErrDecode       = errors.New("escrowabi: decode failed")
)

// Event names emitted by the contract.
const (
	EventJobCreated          = "JobCreated"
	EventJobOpenForProposals = "JobOpenForProposals"
	EventJobAccepted         = "JobAccepted"
	EventJobCompleted        = "JobCompleted"
	EventCompletionRejected  = "CompletionRejected"
	EventJobApproved         = "JobApproved"
	EventJobCancelled        = "JobCancelled"
	EventProposalSubmitted   = "ProposalSubmitted"
	EventProposalAccepted    = "ProposalAccepted"
	EventProposalRejected    = "ProposalRejected"
	EventProposalCancelled   = "ProposalCancelled"
	EventFundsWithdrawn      = "FundsWithdrawn"
)

const contractABIJSON = `[
{"type":"function","name":"createJob","stateMutability":"payable","inputs":[
	{"name":"provider","type":"address"},
	{"name":"deadline","type":"uint64"},
	{"name":"serviceType","type":"string"},
	{"name":"contentId","type":"string"}],"outputs":[]},
{"type":"function","name":"createOpenJob","stateMutability":"payable","inputs":[
	{"name":"maxBudget","type":"uint256"},
	{"name":"deadline","type":"uint64"},
	{"name":"serviceType","type":"string"},
	{"name":"contentId","type":"string"}],"outputs":[]},
{"type":"function","name":"openJobForProposals","stateMutability":"nonpayable","inputs":[
	{"name":"jobId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"submitProposal","stateMutability":"nonpayable","inputs":[
	{"name":"jobId","type":"bytes32"},
	{"name":"amount","type":"uint256"},
	{"name":"estimatedTime","type":"uint64"},
	{"name":"contentId","type":"string"}],"outputs":[]},
{"type":"function","name":"acceptProposal","stateMutability":"payable","inputs":[
	{"name":"proposalId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"rejectProposal","stateMutability":"nonpayable","inputs":[
	{"name":"proposalId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"cancelProposal","stateMutability":"nonpayable","inputs":[
	{"name":"proposalId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"acceptJob","stateMutability":"nonpayable","inputs":[
	{"name":"jobId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"completeJob","stateMutability":"nonpayable","inputs":[
	{"name":"jobId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"approveJob","stateMutability":"nonpayable","inputs":[
	{"name":"jobId","type":"bytes32"},
	{"name":"rating","type":"uint8"}],"outputs":[]},
{"type":"function","name":"rejectCompletion","stateMutability":"nonpayable","inputs":[
	{"name":"jobId","type":"bytes32"},
	{"name":"reason","type":"string"}],"outputs":[]},
{"type":"function","name":"cancelJob","stateMutability":"nonpayable","inputs":[
	{"name":"jobId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
{"type":"function","name":"getJob","stateMutability":"view","inputs":[
	{"name":"jobId","type":"bytes32"}],"outputs":[
	{"name":"id","type":"bytes32"},
	{"name":"client","type":"address"},
	{"name":"provider","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"platformFee","type":"uint256"},
	{"name":"createdAt","type":"uint64"},
	{"name":"acceptedAt","type":"uint64"},
	{"name":"completedAt","type":"uint64"},
	{"name":"deadline","type":"uint64"},
	{"name":"status","type":"uint8"},
	{"name":"serviceType","type":"string"},
	{"name":"contentId","type":"string"},
	{"name":"clientRating","type":"uint8"},
	{"name":"providerRating","type":"uint8"},
	{"name":"openForProposals","type":"bool"},
	{"name":"proposalCount","type":"uint64"}]},
{"type":"function","name":"getProposal","stateMutability":"view","inputs":[
	{"name":"proposalId","type":"bytes32"}],"outputs":[
	{"name":"id","type":"bytes32"},
	{"name":"jobId","type":"bytes32"},
	{"name":"provider","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"estimatedTime","type":"uint64"},
	{"name":"contentId","type":"string"},
	{"name":"status","type":"uint8"}]},
{"type":"function","name":"getJobProposals","stateMutability":"view","inputs":[
	{"name":"jobId","type":"bytes32"}],"outputs":[
	{"name":"proposalIds","type":"bytes32[]"}]},
{"type":"function","name":"calculatePlatformFee","stateMutability":"view","inputs":[
	{"name":"amount","type":"uint256"}],"outputs":[
	{"name":"fee","type":"uint256"}]},
{"type":"event","name":"JobCreated","inputs":[
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"client","type":"address","indexed":true},
	{"name":"provider","type":"address","indexed":true},
	{"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"JobOpenForProposals","inputs":[
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"client","type":"address","indexed":true},
	{"name":"maxBudget","type":"uint256","indexed":false}]},
{"type":"event","name":"JobAccepted","inputs":[
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"provider","type":"address","indexed":true},
	{"name":"timestamp","type":"uint64","indexed":false}]},
{"type":"event","name":"JobCompleted","inputs":[
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"timestamp","type":"uint64","indexed":false}]},
{"type":"event","name":"CompletionRejected","inputs":[
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"reason","type":"string","indexed":false}]},
{"type":"event","name":"JobApproved","inputs":[
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"payout","type":"uint256","indexed":false},
	{"name":"rating","type":"uint8","indexed":false}]},
{"type":"event","name":"JobCancelled","inputs":[
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"refund","type":"uint256","indexed":false}]},
{"type":"event","name":"ProposalSubmitted","inputs":[
	{"name":"proposalId","type":"bytes32","indexed":true},
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"provider","type":"address","indexed":true},
	{"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"ProposalAccepted","inputs":[
	{"name":"proposalId","type":"bytes32","indexed":true},
	{"name":"jobId","type":"bytes32","indexed":true},
	{"name":"provider","type":"address","indexed":true}]},
{"type":"event","name":"ProposalRejected","inputs":[
	{"name":"proposalId","type":"bytes32","indexed":true},
	{"name":"jobId","type":"bytes32","indexed":true}]},
{"type":"event","name":"ProposalCancelled","inputs":[
	{"name":"proposalId","type":"bytes32","indexed":true},
	{"name":"jobId","type":"bytes32","indexed":true}]},
{"type":"event","name":"FundsWithdrawn","inputs":[
	{"name":"account","type":"address","indexed":true},
	{"name":"amount","type":"uint256","indexed":false}]}
]`

var (
	initOnce    sync.Once
	initErr     error
	contractABI abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		contractABI, err = abi.JSON(strings.NewReader(contractABIJSON))
		if err != nil {
			initErr = fmt.Errorf("escrowabi: parse contract ABI: %w", err)
		}
	})
	return initErr
}

// Contract returns the parsed contract ABI for callers that need generic
// event access.
func Contract() (abi.ABI, error) {
	if err := initABI(); err != nil {
		return abi.ABI{}, err
	}
	return contractABI, nil
}

func pack(name string, args ...any) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(name, args...)
	if err != nil {
		return nil, fmt.Errorf("escrowabi: pack %s: %w", name, err)
	}
	return data, nil
}

func PackCreateJob(provider common.Address, deadline uint64, serviceType, contentID string) ([]byte, error) {
	if (provider == common.Address{}) {
		return nil, fmt.Errorf("%w: zero provider address", ErrInvalidInput)
	}
	return pack("createJob", provider, deadline, serviceType, contentID)
}

func PackCreateOpenJob(maxBudget *big.Int, deadline uint64, serviceType, contentID string) ([]byte, error) {
	if maxBudget == nil || maxBudget.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max budget must be > 0", ErrInvalidInput)
	}
	return pack("createOpenJob", maxBudget, deadline, serviceType, contentID)
}

func PackOpenJobForProposals(jobID job.ID) ([]byte, error) {
	return pack("openJobForProposals", [32]byte(jobID))
}

func PackSubmitProposal(jobID job.ID, amount *big.Int, estimatedTime uint64, contentID string) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: proposal amount must be > 0", ErrInvalidInput)
	}
	return pack("submitProposal", [32]byte(jobID), amount, estimatedTime, contentID)
}

func PackAcceptProposal(proposalID job.ID) ([]byte, error) {
	return pack("acceptProposal", [32]byte(proposalID))
}

func PackRejectProposal(proposalID job.ID) ([]byte, error) {
	return pack("rejectProposal", [32]byte(proposalID))
}

func PackCancelProposal(proposalID job.ID) ([]byte, error) {
	return pack("cancelProposal", [32]byte(proposalID))
}

func PackAcceptJob(jobID job.ID) ([]byte, error) {
	return pack("acceptJob", [32]byte(jobID))
}

func PackCompleteJob(jobID job.ID) ([]byte, error) {
	return pack("completeJob", [32]byte(jobID))
}

func PackApproveJob(jobID job.ID, rating uint8) ([]byte, error) {
	if rating > 5 {
		return nil, fmt.Errorf("%w: rating %d out of range 0-5", ErrInvalidInput, rating)
	}
	return pack("approveJob", [32]byte(jobID), rating)
}

func PackRejectCompletion(jobID job.ID, reason string) ([]byte, error) {
	return pack("rejectCompletion", [32]byte(jobID), reason)
}

func PackCancelJob(jobID job.ID) ([]byte, error) {
	return pack("cancelJob", [32]byte(jobID))
}

func PackWithdraw() ([]byte, error) {
	return pack("withdraw")
}

func PackGetJob(jobID job.ID) ([]byte, error) {
	return pack("getJob", [32]byte(jobID))
}

func PackGetProposal(proposalID job.ID) ([]byte, error) {
	return pack("getProposal", [32]byte(proposalID))
}

func PackGetJobProposals(jobID job.ID) ([]byte, error) {
	return pack("getJobProposals", [32]byte(jobID))
}

func PackCalculatePlatformFee(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidInput)
	}
	return pack("calculatePlatformFee", amount)
}

func unpackIntoMap(method string, data []byte) (map[string]any, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %s", ErrDecode, method)
	}
	out := make(map[string]any)
	if err := m.Outputs.UnpackIntoMap(out, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, method, err)
	}
	return out, nil
}

// DecodeJob decodes a getJob call result.
func DecodeJob(data []byte) (job.Job, error) {
	out, err := unpackIntoMap("getJob", data)
	if err != nil {
		return job.Job{}, err
	}
	d := decoder{fields: out, method: "getJob"}
	j := job.Job{
		ID:               d.hash("id"),
		Client:           d.address("client"),
		Provider:         d.address("provider"),
		Amount:           d.bigInt("amount"),
		PlatformFee:      d.bigInt("platformFee"),
		CreatedAt:        d.uint64("createdAt"),
		AcceptedAt:       d.uint64("acceptedAt"),
		CompletedAt:      d.uint64("completedAt"),
		Deadline:         d.uint64("deadline"),
		Status:           job.Status(d.uint8("status")),
		ServiceType:      d.string("serviceType"),
		ContentID:        d.string("contentId"),
		ClientRating:     d.uint8("clientRating"),
		ProviderRating:   d.uint8("providerRating"),
		OpenForProposals: d.bool("openForProposals"),
		ProposalCount:    d.uint64("proposalCount"),
	}
	if d.err != nil {
		return job.Job{}, d.err
	}
	return j, nil
}

// DecodeProposal decodes a getProposal call result.
func DecodeProposal(data []byte) (job.Proposal, error) {
	out, err := unpackIntoMap("getProposal", data)
	if err != nil {
		return job.Proposal{}, err
	}
	d := decoder{fields: out, method: "getProposal"}
	p := job.Proposal{
		ID:            d.hash("id"),
		JobID:         d.hash("jobId"),
		Provider:      d.address("provider"),
		Amount:        d.bigInt("amount"),
		EstimatedTime: d.uint64("estimatedTime"),
		ContentID:     d.string("contentId"),
		Status:        job.ProposalStatus(d.uint8("status")),
	}
	if d.err != nil {
		return job.Proposal{}, d.err
	}
	return p, nil
}

// DecodeJobProposals decodes a getJobProposals call result.
func DecodeJobProposals(data []byte) ([]job.ID, error) {
	out, err := unpackIntoMap("getJobProposals", data)
	if err != nil {
		return nil, err
	}
	raw, ok := out["proposalIds"].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("%w: getJobProposals: proposalIds has wrong type", ErrDecode)
	}
	ids := make([]job.ID, len(raw))
	for i, b := range raw {
		ids[i] = job.ID(b)
	}
	return ids, nil
}

// DecodePlatformFee decodes a calculatePlatformFee call result.
func DecodePlatformFee(data []byte) (*big.Int, error) {
	out, err := unpackIntoMap("calculatePlatformFee", data)
	if err != nil {
		return nil, err
	}
	fee, ok := out["fee"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: calculatePlatformFee: fee has wrong type", ErrDecode)
	}
	return fee, nil
}

// decoder collects typed reads from one unpacked output map, latching the
// first mismatch instead of forcing a check at every field.
type decoder struct {
	fields map[string]any
	method string
	err    error
}

func (d *decoder) fail(name string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s: field %s missing or mistyped", ErrDecode, d.method, name)
	}
}

func (d *decoder) hash(name string) job.ID {
	if v, ok := d.fields[name].([32]byte); ok {
		return job.ID(v)
	}
	d.fail(name)
	return job.ID{}
}

func (d *decoder) address(name string) common.Address {
	if v, ok := d.fields[name].(common.Address); ok {
		return v
	}
	d.fail(name)
	return common.Address{}
}

func (d *decoder) bigInt(name string) *big.Int {
	if v, ok := d.fields[name].(*big.Int); ok {
		return v
	}
	d.fail(name)
	return nil
}

func (d *decoder) uint64(name string) uint64 {
	if v, ok := d.fields[name].(uint64); ok {
		return v
	}
	d.fail(name)
	return 0
}

func (d *decoder) uint8(name string) uint8 {
	if v, ok := d.fields[name].(uint8); ok {
		return v
	}
	d.fail(name)
	return 0
}

func (d *decoder) string(name string) string {
	if v, ok := d.fields[name].(string); ok {
		return v
	}
	d.fail(name)
	return ""
}

func (d *decoder) bool(name string) bool {
	if v, ok := d.fields[name].(bool); ok {
		return v
	}
	d.fail(name)
	return false
}

// EventID extracts the first indexed bytes32 argument (the job or proposal
// id) of the named event from a receipt. Absence is ok == false, not an
// error: lifecycle flows treat a missing event as "identifier unknown".
func EventID(receipt *types.Receipt, eventName string) (job.ID, bool) {
	if receipt == nil {
		return job.ID{}, false
	}
	if err := initABI(); err != nil {
		return job.ID{}, false
	}
	event, ok := contractABI.Events[eventName]
	if !ok {
		return job.ID{}, false
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) < 2 || lg.Topics[0] != event.ID {
			continue
		}
		return job.ID(lg.Topics[1]), true
	}
	return job.ID{}, false
}

// JobAcceptedEvent is the decoded JobAccepted log.
type JobAcceptedEvent struct {
	JobID     job.ID
	Provider  common.Address
	Timestamp uint64
}

// DecodeJobAccepted extracts the JobAccepted event from a receipt.
func DecodeJobAccepted(receipt *types.Receipt) (JobAcceptedEvent, bool) {
	if receipt == nil || initABI() != nil {
		return JobAcceptedEvent{}, false
	}
	event := contractABI.Events[EventJobAccepted]
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) < 3 || lg.Topics[0] != event.ID {
			continue
		}
		out := make(map[string]any)
		if err := event.Inputs.UnpackIntoMap(out, lg.Data); err != nil {
			continue
		}
		ts, ok := out["timestamp"].(uint64)
		if !ok {
			continue
		}
		return JobAcceptedEvent{
			JobID:     job.ID(lg.Topics[1]),
			Provider:  common.BytesToAddress(lg.Topics[2].Bytes()),
			Timestamp: ts,
		}, true
	}
	return JobAcceptedEvent{}, false
}
