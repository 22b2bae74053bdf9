package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmarket/escrow-engine/internal/escrow"
	"github.com/gigmarket/escrow-engine/internal/job"
	"github.com/gigmarket/escrow-engine/internal/ledger"
	"github.com/gigmarket/escrow-engine/internal/metastore"
)

type metadataBody struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Requirements []string          `json:"requirements"`
	Location     string            `json:"location"`
	Attachments  []string          `json:"attachments"`
	Extra        map[string]string `json:"extra"`
}

func (m metadataBody) payload() metastore.Payload {
	return metastore.Payload{
		Title:        m.Title,
		Description:  m.Description,
		Requirements: m.Requirements,
		Location:     m.Location,
		Attachments:  m.Attachments,
		Extra:        m.Extra,
	}
}

type createJobBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`

	Provider    string       `json:"provider"`
	Amount      string       `json:"amount"`
	Deadline    uint64       `json:"deadline"`
	ServiceType string       `json:"serviceType"`
	Metadata    metadataBody `json:"metadata"`
}

func (h *handler) handleJobCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[createJobBody](w, r)
	if !ok {
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(body.Provider)) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_provider",
		})
		return
	}
	amount, err := ledger.ToBaseUnits(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_amount",
		})
		return
	}

	res, err := h.escrow.CreateJob(r.Context(), escrow.CreateJobParams{
		UserID:      body.UserID,
		Password:    body.Password,
		Provider:    common.HexToAddress(strings.TrimSpace(body.Provider)),
		Amount:      amount,
		Deadline:    body.Deadline,
		ServiceType: body.ServiceType,
		Metadata:    body.Metadata.payload(),
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version":     "v1",
		"jobId":       res.JobID.Hex(),
		"txHash":      res.TxHash.Hex(),
		"platformFee": ledger.FromBaseUnits(res.PlatformFee),
		"total":       ledger.FromBaseUnits(res.Total),
		"contentId":   res.ContentID,
	})
}

type createOpenJobBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`

	MaxBudget   string       `json:"maxBudget"`
	Deadline    uint64       `json:"deadline"`
	ServiceType string       `json:"serviceType"`
	Metadata    metadataBody `json:"metadata"`
}

func (h *handler) handleOpenJobCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[createOpenJobBody](w, r)
	if !ok {
		return
	}
	budget, err := ledger.ToBaseUnits(body.MaxBudget)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_amount",
		})
		return
	}

	res, err := h.escrow.CreateOpenJob(r.Context(), escrow.CreateOpenJobParams{
		UserID:      body.UserID,
		Password:    body.Password,
		MaxBudget:   budget,
		Deadline:    body.Deadline,
		ServiceType: body.ServiceType,
		Metadata:    body.Metadata.payload(),
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version":     "v1",
		"jobId":       res.JobID.Hex(),
		"txHash":      res.TxHash.Hex(),
		"platformFee": ledger.FromBaseUnits(res.PlatformFee),
		"total":       ledger.FromBaseUnits(res.Total),
		"contentId":   res.ContentID,
	})
}

func (h *handler) handleJobGet(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobId")
	if !ok {
		return
	}
	j, err := h.escrow.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"job":     jobJSON(j),
	})
}

func (h *handler) handleJobMetadata(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobId")
	if !ok {
		return
	}
	payload, err := h.escrow.JobMetadata(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  "v1",
		"metadata": payload,
	})
}

func (h *handler) handleJobProposals(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobId")
	if !ok {
		return
	}
	proposals, err := h.escrow.JobProposals(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, proposalJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   "v1",
		"proposals": out,
	})
}

type authBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

func (h *handler) handleJobOpenForProposals(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.escrow.OpenForProposals)
}

func (h *handler) handleJobAccept(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.escrow.AcceptJob)
}

func (h *handler) handleJobComplete(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.escrow.CompleteJob)
}

func (h *handler) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.escrow.CancelJob)
}

func (h *handler) jobAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, p escrow.JobActionParams) (escrow.TxResult, error),
) {
	jobID, ok := pathID(w, r, "jobId")
	if !ok {
		return
	}
	body, ok := decodeJSONBody[authBody](w, r)
	if !ok {
		return
	}
	res, err := action(r.Context(), escrow.JobActionParams{
		UserID:   body.UserID,
		Password: body.Password,
		JobID:    jobID,
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"txHash":  res.TxHash.Hex(),
	})
}

type approveJobBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Rating   uint8  `json:"rating"`
}

func (h *handler) handleJobApprove(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobId")
	if !ok {
		return
	}
	body, ok := decodeJSONBody[approveJobBody](w, r)
	if !ok {
		return
	}
	res, err := h.escrow.ApproveJob(r.Context(), escrow.ApproveJobParams{
		UserID:   body.UserID,
		Password: body.Password,
		JobID:    jobID,
		Rating:   body.Rating,
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"txHash":  res.TxHash.Hex(),
	})
}

type rejectCompletionBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Reason   string `json:"reason"`
}

func (h *handler) handleJobRejectCompletion(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobId")
	if !ok {
		return
	}
	body, ok := decodeJSONBody[rejectCompletionBody](w, r)
	if !ok {
		return
	}
	res, err := h.escrow.RejectCompletion(r.Context(), escrow.RejectCompletionParams{
		UserID:   body.UserID,
		Password: body.Password,
		JobID:    jobID,
		Reason:   body.Reason,
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"txHash":  res.TxHash.Hex(),
	})
}

type submitProposalBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`

	JobID         string       `json:"jobId"`
	Amount        string       `json:"amount"`
	EstimatedTime uint64       `json:"estimatedTime"`
	Metadata      metadataBody `json:"metadata"`
}

func (h *handler) handleProposalSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[submitProposalBody](w, r)
	if !ok {
		return
	}
	jobID, err := parseHash(body.JobID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_job_id",
		})
		return
	}
	amount, err := ledger.ToBaseUnits(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_amount",
		})
		return
	}

	res, err := h.escrow.SubmitProposal(r.Context(), escrow.SubmitProposalParams{
		UserID:        body.UserID,
		Password:      body.Password,
		JobID:         jobID,
		Amount:        amount,
		EstimatedTime: body.EstimatedTime,
		Metadata:      body.Metadata.payload(),
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version":    "v1",
		"proposalId": res.ProposalID.Hex(),
		"txHash":     res.TxHash.Hex(),
		"contentId":  res.ContentID,
	})
}

func (h *handler) handleProposalGet(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathID(w, r, "proposalId")
	if !ok {
		return
	}
	p, err := h.escrow.GetProposal(r.Context(), proposalID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  "v1",
		"proposal": proposalJSON(p),
	})
}

func (h *handler) handleProposalAccept(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathID(w, r, "proposalId")
	if !ok {
		return
	}
	body, ok := decodeJSONBody[authBody](w, r)
	if !ok {
		return
	}
	res, err := h.escrow.AcceptProposal(r.Context(), escrow.ProposalActionParams{
		UserID:     body.UserID,
		Password:   body.Password,
		ProposalID: proposalID,
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"txHash":  res.TxHash.Hex(),
		"jobId":   res.JobID.Hex(),
		"topUp":   ledger.FromBaseUnits(res.TopUp),
	})
}

func (h *handler) handleProposalReject(w http.ResponseWriter, r *http.Request) {
	h.proposalAction(w, r, h.escrow.RejectProposal)
}

func (h *handler) handleProposalCancel(w http.ResponseWriter, r *http.Request) {
	h.proposalAction(w, r, h.escrow.CancelProposal)
}

func (h *handler) proposalAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, p escrow.ProposalActionParams) (escrow.TxResult, error),
) {
	proposalID, ok := pathID(w, r, "proposalId")
	if !ok {
		return
	}
	body, ok := decodeJSONBody[authBody](w, r)
	if !ok {
		return
	}
	res, err := action(r.Context(), escrow.ProposalActionParams{
		UserID:     body.UserID,
		Password:   body.Password,
		ProposalID: proposalID,
	})
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"txHash":  res.TxHash.Hex(),
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (job.ID, bool) {
	id, err := parseHash(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_id",
		})
		return job.ID{}, false
	}
	return id, true
}

func jobJSON(j job.Job) map[string]any {
	provider := ""
	if j.Provider != (common.Address{}) {
		provider = j.Provider.Hex()
	}
	return map[string]any{
		"id":               j.ID.Hex(),
		"client":           j.Client.Hex(),
		"provider":         provider,
		"amount":           ledger.FromBaseUnits(j.Amount),
		"platformFee":      ledger.FromBaseUnits(j.PlatformFee),
		"escrowed":         ledger.FromBaseUnits(j.Escrowed()),
		"status":           j.Status.String(),
		"serviceType":      j.ServiceType,
		"contentId":        j.ContentID,
		"createdAt":        j.CreatedAt,
		"acceptedAt":       j.AcceptedAt,
		"completedAt":      j.CompletedAt,
		"deadline":         j.Deadline,
		"clientRating":     j.ClientRating,
		"providerRating":   j.ProviderRating,
		"openForProposals": j.OpenForProposals,
		"proposalCount":    j.ProposalCount,
	}
}

func proposalJSON(p job.Proposal) map[string]any {
	return map[string]any{
		"id":            p.ID.Hex(),
		"jobId":         p.JobID.Hex(),
		"provider":      p.Provider.Hex(),
		"amount":        ledger.FromBaseUnits(p.Amount),
		"estimatedTime": p.EstimatedTime,
		"contentId":     p.ContentID,
		"status":        p.Status.String(),
	}
}
