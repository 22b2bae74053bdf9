package escrowabi

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gigmarket/escrow-engine/internal/job"
)

var (
	testJobID      = job.ID(common.HexToHash("0x01aa"))
	testProposalID = job.ID(common.HexToHash("0x02bb"))
	testClient     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testProvider   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestPackCreateJobRoundTrip(t *testing.T) {
	data, err := PackCreateJob(testProvider, 1700000000, "plumbing", "QmMeta")
	if err != nil {
		t.Fatalf("PackCreateJob: %v", err)
	}
	cabi, err := Contract()
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	method, err := cabi.MethodById(data[:4])
	if err != nil {
		t.Fatalf("MethodById: %v", err)
	}
	if method.Name != "createJob" {
		t.Fatalf("selector resolved to %q, want createJob", method.Name)
	}
	args := make(map[string]any)
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		t.Fatalf("unpack inputs: %v", err)
	}
	if got := args["provider"].(common.Address); got != testProvider {
		t.Fatalf("provider = %s, want %s", got, testProvider)
	}
	if got := args["deadline"].(uint64); got != 1700000000 {
		t.Fatalf("deadline = %d", got)
	}
	if got := args["serviceType"].(string); got != "plumbing" {
		t.Fatalf("serviceType = %q", got)
	}
}

func TestPackCreateJobRejectsZeroProvider(t *testing.T) {
	if _, err := PackCreateJob(common.Address{}, 1, "x", "cid"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestPackCreateOpenJobRejectsBadBudget(t *testing.T) {
	for _, budget := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if _, err := PackCreateOpenJob(budget, 1, "x", "cid"); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("budget %v: err = %v, want ErrInvalidInput", budget, err)
		}
	}
}

func TestPackApproveJobRejectsOutOfRangeRating(t *testing.T) {
	if _, err := PackApproveJob(testJobID, 6); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := PackApproveJob(testJobID, 5); err != nil {
		t.Fatalf("rating 5 should pack: %v", err)
	}
	if _, err := PackApproveJob(testJobID, 0); err != nil {
		t.Fatalf("rating 0 should pack: %v", err)
	}
}

func TestDecodeJob(t *testing.T) {
	cabi, err := Contract()
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	data, err := cabi.Methods["getJob"].Outputs.Pack(
		[32]byte(testJobID),
		testClient,
		testProvider,
		big.NewInt(5_000),
		big.NewInt(250),
		uint64(100), uint64(200), uint64(0), uint64(999),
		uint8(job.StatusInProgress),
		"cleaning",
		"QmJobMeta",
		uint8(0), uint8(0),
		true,
		uint64(3),
	)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	j, err := DecodeJob(data)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if j.ID != testJobID {
		t.Fatalf("ID = %s", common.Hash(j.ID))
	}
	if j.Client != testClient || j.Provider != testProvider {
		t.Fatalf("parties = %s / %s", j.Client, j.Provider)
	}
	if j.Amount.Cmp(big.NewInt(5_000)) != 0 || j.PlatformFee.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("amounts = %s / %s", j.Amount, j.PlatformFee)
	}
	if j.Status != job.StatusInProgress {
		t.Fatalf("status = %s", j.Status)
	}
	if !j.OpenForProposals || j.ProposalCount != 3 {
		t.Fatalf("open/count = %v/%d", j.OpenForProposals, j.ProposalCount)
	}
	if got := j.Escrowed(); got.Cmp(big.NewInt(5_250)) != 0 {
		t.Fatalf("Escrowed = %s, want 5250", got)
	}
}

func TestDecodeJobRejectsTruncatedData(t *testing.T) {
	if _, err := DecodeJob([]byte{0x01, 0x02}); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestDecodeProposal(t *testing.T) {
	cabi, err := Contract()
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	data, err := cabi.Methods["getProposal"].Outputs.Pack(
		[32]byte(testProposalID),
		[32]byte(testJobID),
		testProvider,
		big.NewInt(7_500),
		uint64(86400),
		"QmPropMeta",
		uint8(job.ProposalPending),
	)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	p, err := DecodeProposal(data)
	if err != nil {
		t.Fatalf("DecodeProposal: %v", err)
	}
	if p.ID != testProposalID || p.JobID != testJobID {
		t.Fatalf("ids = %s / %s", common.Hash(p.ID), common.Hash(p.JobID))
	}
	if p.Status != job.ProposalPending {
		t.Fatalf("status = %d", p.Status)
	}
	if p.Amount.Cmp(big.NewInt(7_500)) != 0 || p.EstimatedTime != 86400 {
		t.Fatalf("amount/time = %s/%d", p.Amount, p.EstimatedTime)
	}
}

func TestDecodeJobProposals(t *testing.T) {
	cabi, err := Contract()
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	want := [][32]byte{[32]byte(testProposalID), [32]byte(testJobID)}
	data, err := cabi.Methods["getJobProposals"].Outputs.Pack(want)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	ids, err := DecodeJobProposals(data)
	if err != nil {
		t.Fatalf("DecodeJobProposals: %v", err)
	}
	if len(ids) != 2 || ids[0] != testProposalID || ids[1] != testJobID {
		t.Fatalf("ids = %v", ids)
	}
}

func TestDecodePlatformFee(t *testing.T) {
	cabi, err := Contract()
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	data, err := cabi.Methods["calculatePlatformFee"].Outputs.Pack(big.NewInt(125))
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	fee, err := DecodePlatformFee(data)
	if err != nil {
		t.Fatalf("DecodePlatformFee: %v", err)
	}
	if fee.Cmp(big.NewInt(125)) != 0 {
		t.Fatalf("fee = %s", fee)
	}
}

func TestEventID(t *testing.T) {
	cabi, err := Contract()
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	receipt := &types.Receipt{Logs: []*types.Log{
		{Topics: []common.Hash{cabi.Events[EventProposalSubmitted].ID, common.Hash(testProposalID), common.Hash(testJobID)}},
		{Topics: []common.Hash{cabi.Events[EventJobCreated].ID, common.Hash(testJobID)}},
	}}

	id, ok := EventID(receipt, EventJobCreated)
	if !ok || id != testJobID {
		t.Fatalf("EventID(JobCreated) = %v, %v", id, ok)
	}
	id, ok = EventID(receipt, EventProposalSubmitted)
	if !ok || id != testProposalID {
		t.Fatalf("EventID(ProposalSubmitted) = %v, %v", id, ok)
	}
	if _, ok := EventID(receipt, EventJobApproved); ok {
		t.Fatal("EventID found an event the receipt does not carry")
	}
	if _, ok := EventID(nil, EventJobCreated); ok {
		t.Fatal("EventID on nil receipt")
	}
}

func TestDecodeJobAccepted(t *testing.T) {
	cabi, err := Contract()
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	event := cabi.Events[EventJobAccepted]
	data, err := event.Inputs.NonIndexed().Pack(uint64(1_700_000_123))
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	receipt := &types.Receipt{Logs: []*types.Log{{
		Topics: []common.Hash{event.ID, common.Hash(testJobID), common.BytesToHash(testProvider.Bytes())},
		Data:   data,
	}}}
	ev, ok := DecodeJobAccepted(receipt)
	if !ok {
		t.Fatal("DecodeJobAccepted did not find the event")
	}
	if ev.JobID != testJobID || ev.Provider != testProvider || ev.Timestamp != 1_700_000_123 {
		t.Fatalf("event = %+v", ev)
	}
	if _, ok := DecodeJobAccepted(&types.Receipt{}); ok {
		t.Fatal("DecodeJobAccepted on empty receipt")
	}
}
