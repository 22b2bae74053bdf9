// Package api exposes the wallet and escrow operations over HTTP. Handlers
// stay thin: parse, call the orchestrator or wallet directory, map errors to
// status codes. Signing keys and recovery phrases never appear in any
// response except the one-time phrase returned by wallet creation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gigmarket/escrow-engine/internal/escrow"
	"github.com/gigmarket/escrow-engine/internal/job"
	"github.com/gigmarket/escrow-engine/internal/ledger"
	"github.com/gigmarket/escrow-engine/internal/metastore"
	"github.com/gigmarket/escrow-engine/internal/wallet"
)

var ErrInvalidConfig = errors.New("api: invalid config")

// WalletService is the wallet surface the handlers call.
// *wallet.Directory satisfies it.
type WalletService interface {
	Create(ctx context.Context, userID, password string, replace bool) (wallet.CreateResult, error)
	ImportFromPhrase(ctx context.Context, userID, password, phrase string, replace bool) (wallet.View, error)
	ImportFromKey(ctx context.Context, userID, password, rawKey string, replace bool) (wallet.View, error)
	Get(ctx context.Context, userID string) (wallet.View, error)
	Delete(ctx context.Context, userID, password string) error
}

// EscrowService is the orchestrator surface the handlers call.
// *escrow.Orchestrator satisfies it.
type EscrowService interface {
	CreateJob(ctx context.Context, p escrow.CreateJobParams) (escrow.CreateJobResult, error)
	CreateOpenJob(ctx context.Context, p escrow.CreateOpenJobParams) (escrow.CreateJobResult, error)
	SubmitProposal(ctx context.Context, p escrow.SubmitProposalParams) (escrow.SubmitProposalResult, error)
	AcceptProposal(ctx context.Context, p escrow.ProposalActionParams) (escrow.AcceptProposalResult, error)
	RejectProposal(ctx context.Context, p escrow.ProposalActionParams) (escrow.TxResult, error)
	CancelProposal(ctx context.Context, p escrow.ProposalActionParams) (escrow.TxResult, error)
	OpenForProposals(ctx context.Context, p escrow.JobActionParams) (escrow.TxResult, error)
	AcceptJob(ctx context.Context, p escrow.JobActionParams) (escrow.TxResult, error)
	CompleteJob(ctx context.Context, p escrow.JobActionParams) (escrow.TxResult, error)
	ApproveJob(ctx context.Context, p escrow.ApproveJobParams) (escrow.TxResult, error)
	RejectCompletion(ctx context.Context, p escrow.RejectCompletionParams) (escrow.TxResult, error)
	CancelJob(ctx context.Context, p escrow.JobActionParams) (escrow.TxResult, error)
	Withdraw(ctx context.Context, userID, password string) (escrow.WithdrawResult, error)
	Transfer(ctx context.Context, userID, password string, to common.Address, amount *big.Int) (escrow.TxResult, error)
	GetJob(ctx context.Context, jobID job.ID) (job.Job, error)
	GetProposal(ctx context.Context, proposalID job.ID) (job.Proposal, error)
	JobProposals(ctx context.Context, jobID job.ID) ([]job.Proposal, error)
	JobMetadata(ctx context.Context, jobID job.ID) (metastore.Payload, error)
	PlatformFee(ctx context.Context, amount *big.Int) (*big.Int, error)
	Balance(ctx context.Context, userID string) (*big.Int, error)
	TransactionHistory(ctx context.Context, userID string, startBlock uint64) ([]ledger.TransactionRecord, error)
}

type Config struct {
	ChainID         *big.Int
	ContractAddress common.Address

	Wallets WalletService
	Escrow  EscrowService

	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	FeeQuoteCacheTTL        time.Duration
	FeeQuoteCacheMaxEntries int

	Now func() time.Time
}

func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing chain id", ErrInvalidConfig)
	}
	if cfg.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing contract address", ErrInvalidConfig)
	}
	if cfg.Wallets == nil || cfg.Escrow == nil {
		return nil, fmt.Errorf("%w: nil services", ErrInvalidConfig)
	}
	if cfg.RateLimitPerIPPerSecond <= 0 {
		cfg.RateLimitPerIPPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if cfg.RateLimitMaxTrackedIPs <= 0 {
		cfg.RateLimitMaxTrackedIPs = 10_000
	}
	if cfg.FeeQuoteCacheTTL <= 0 {
		cfg.FeeQuoteCacheTTL = 30 * time.Second
	}
	if cfg.FeeQuoteCacheMaxEntries <= 0 {
		cfg.FeeQuoteCacheMaxEntries = 10_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handler{
		cfg:     cfg,
		wallets: cfg.Wallets,
		escrow:  cfg.Escrow,
		limiter: newIPRateLimiter(
			cfg.RateLimitPerIPPerSecond,
			float64(cfg.RateLimitBurst),
			cfg.RateLimitMaxTrackedIPs,
		),
		feeCache: newResponseCache(cfg.FeeQuoteCacheTTL, cfg.FeeQuoteCacheMaxEntries),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/config", h.handleConfig)
	mux.HandleFunc("GET /v1/fees", h.handleFeeQuote)

	mux.HandleFunc("POST /v1/wallets", h.handleWalletCreate)
	mux.HandleFunc("POST /v1/wallets/import-phrase", h.handleWalletImportPhrase)
	mux.HandleFunc("POST /v1/wallets/import-key", h.handleWalletImportKey)
	mux.HandleFunc("POST /v1/wallets/delete", h.handleWalletDelete)
	mux.HandleFunc("GET /v1/wallets/{userId}", h.handleWalletGet)
	mux.HandleFunc("GET /v1/wallets/{userId}/balance", h.handleWalletBalance)
	mux.HandleFunc("GET /v1/wallets/{userId}/history", h.handleWalletHistory)
	mux.HandleFunc("POST /v1/transfers", h.handleTransfer)
	mux.HandleFunc("POST /v1/withdrawals", h.handleWithdraw)

	mux.HandleFunc("POST /v1/jobs", h.handleJobCreate)
	mux.HandleFunc("POST /v1/jobs/open", h.handleOpenJobCreate)
	mux.HandleFunc("GET /v1/jobs/{jobId}", h.handleJobGet)
	mux.HandleFunc("GET /v1/jobs/{jobId}/metadata", h.handleJobMetadata)
	mux.HandleFunc("GET /v1/jobs/{jobId}/proposals", h.handleJobProposals)
	mux.HandleFunc("POST /v1/jobs/{jobId}/open-for-proposals", h.handleJobOpenForProposals)
	mux.HandleFunc("POST /v1/jobs/{jobId}/accept", h.handleJobAccept)
	mux.HandleFunc("POST /v1/jobs/{jobId}/complete", h.handleJobComplete)
	mux.HandleFunc("POST /v1/jobs/{jobId}/approve", h.handleJobApprove)
	mux.HandleFunc("POST /v1/jobs/{jobId}/reject-completion", h.handleJobRejectCompletion)
	mux.HandleFunc("POST /v1/jobs/{jobId}/cancel", h.handleJobCancel)

	mux.HandleFunc("POST /v1/proposals", h.handleProposalSubmit)
	mux.HandleFunc("GET /v1/proposals/{proposalId}", h.handleProposalGet)
	mux.HandleFunc("POST /v1/proposals/{proposalId}/accept", h.handleProposalAccept)
	mux.HandleFunc("POST /v1/proposals/{proposalId}/reject", h.handleProposalReject)
	mux.HandleFunc("POST /v1/proposals/{proposalId}/cancel", h.handleProposalCancel)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks must never be throttled.
		if r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}

		now := h.cfg.Now().UTC()
		ip := clientIP(r)
		allowed := h.limiter.Allow(ip, now)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.cfg.RateLimitBurst))
		if !allowed {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"version": "v1",
				"error":   "rate_limited",
			})
			return
		}

		mux.ServeHTTP(w, r)
	}), nil
}

type handler struct {
	cfg Config

	wallets  WalletService
	escrow   EscrowService
	limiter  *ipRateLimiter
	feeCache *responseCache
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":         "v1",
		"chainId":         h.cfg.ChainID.String(),
		"contractAddress": h.cfg.ContractAddress.Hex(),
	})
}

// handleFeeQuote answers "what fee will the contract charge on this amount".
// Quotes are cached briefly: the fee schedule changes rarely and this is the
// hottest read on the service.
func (h *handler) handleFeeQuote(w http.ResponseWriter, r *http.Request) {
	amountStr := strings.TrimSpace(r.URL.Query().Get("amount"))
	amount, err := ledger.ToBaseUnits(amountStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_amount",
		})
		return
	}

	now := h.cfg.Now().UTC()
	cacheKey := amount.String()
	if body, ok := h.feeCache.Get(cacheKey, now); ok {
		writeJSONBytes(w, http.StatusOK, body)
		return
	}

	fee, err := h.escrow.PlatformFee(r.Context(), amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := map[string]any{
		"version": "v1",
		"amount":  ledger.FromBaseUnits(amount),
		"fee":     ledger.FromBaseUnits(fee),
		"total":   ledger.FromBaseUnits(new(big.Int).Add(amount, fee)),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body = append(body, '\n')
	h.feeCache.Set(cacheKey, body, now)
	writeJSONBytes(w, http.StatusOK, body)
}

type walletCreateBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Replace  bool   `json:"replace"`
}

func (h *handler) handleWalletCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[walletCreateBody](w, r)
	if !ok {
		return
	}
	res, err := h.wallets.Create(r.Context(), body.UserID, body.Password, body.Replace)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version": "v1",
		"wallet":  walletJSON(res.View),
		// Returned exactly once; not retrievable through this API again.
		"recoveryPhrase": res.Phrase,
	})
}

type walletImportPhraseBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Phrase   string `json:"recoveryPhrase"`
	Replace  bool   `json:"replace"`
}

func (h *handler) handleWalletImportPhrase(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[walletImportPhraseBody](w, r)
	if !ok {
		return
	}
	view, err := h.wallets.ImportFromPhrase(r.Context(), body.UserID, body.Password, body.Phrase, body.Replace)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version": "v1",
		"wallet":  walletJSON(view),
	})
}

type walletImportKeyBody struct {
	UserID     string `json:"userId"`
	Password   string `json:"password"`
	SigningKey string `json:"signingKey"`
	Replace    bool   `json:"replace"`
}

func (h *handler) handleWalletImportKey(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[walletImportKeyBody](w, r)
	if !ok {
		return
	}
	view, err := h.wallets.ImportFromKey(r.Context(), body.UserID, body.Password, body.SigningKey, body.Replace)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version": "v1",
		"wallet":  walletJSON(view),
	})
}

type walletDeleteBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

func (h *handler) handleWalletDelete(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[walletDeleteBody](w, r)
	if !ok {
		return
	}
	if err := h.wallets.Delete(r.Context(), body.UserID, body.Password); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"deleted": true,
	})
}

func (h *handler) handleWalletGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.wallets.Get(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"wallet":  walletJSON(view),
	})
}

func (h *handler) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.escrow.Balance(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"balance": ledger.FromBaseUnits(balance),
	})
}

func (h *handler) handleWalletHistory(w http.ResponseWriter, r *http.Request) {
	startBlock := uint64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("startBlock")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"version": "v1",
				"error":   "invalid_start_block",
			})
			return
		}
		startBlock = v
	}

	records, err := h.escrow.TransactionHistory(r.Context(), r.PathValue("userId"), startBlock)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		to := ""
		if rec.To != nil {
			to = rec.To.Hex()
		}
		out = append(out, map[string]any{
			"txHash":        rec.Hash.Hex(),
			"from":          rec.From.Hex(),
			"to":            to,
			"amount":        ledger.FromBaseUnits(rec.Value),
			"direction":     string(rec.Direction),
			"block":         strconv.FormatUint(rec.BlockNumber, 10),
			"timestamp":     time.Unix(int64(rec.Timestamp), 0).UTC().Format(time.RFC3339),
			"succeeded":     rec.Succeeded,
			"confirmations": rec.Confirmations,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      "v1",
		"transactions": out,
	})
}

type transferBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
}

func (h *handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[transferBody](w, r)
	if !ok {
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(body.To)) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_recipient",
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

	res, err := h.escrow.Transfer(r.Context(), body.UserID, body.Password,
		common.HexToAddress(strings.TrimSpace(body.To)), amount)
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"txHash":  res.TxHash.Hex(),
	})
}

type withdrawBody struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

func (h *handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeJSONBody[withdrawBody](w, r)
	if !ok {
		return
	}
	res, err := h.escrow.Withdraw(r.Context(), body.UserID, body.Password)
	if err != nil {
		h.writeTxError(w, res.TxHash, err)
		return
	}
	amount := ""
	if res.Amount != nil {
		amount = ledger.FromBaseUnits(res.Amount)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"txHash":  res.TxHash.Hex(),
		"amount":  amount,
	})
}

func walletJSON(v wallet.View) map[string]any {
	return map[string]any{
		"userId":            v.UserID,
		"type":              v.Type,
		"address":           v.Address.Hex(),
		"status":            v.Status,
		"hasRecoveryPhrase": v.HasRecoveryPhrase,
		"createdAt":         v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are a
// plain 500 with no detail leaked.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	var confirmErr *wallet.ConfirmationRequiredError
	switch {
	case errors.As(err, &confirmErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"version":         "v1",
			"error":           "confirmation_required",
			"existingAddress": confirmErr.Address.Hex(),
		})
	case errors.Is(err, wallet.ErrAuthentication):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"version": "v1",
			"error":   "authentication_failed",
		})
	case errors.Is(err, wallet.ErrNoRecoveryPhrase):
		writeJSON(w, http.StatusConflict, map[string]any{
			"version": "v1",
			"error":   "no_recovery_phrase",
		})
	case errors.Is(err, escrow.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"version": "v1",
			"error":   "forbidden",
		})
	case errors.Is(err, escrow.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"version": "v1",
			"error":   "insufficient_funds",
		})
	case errors.Is(err, escrow.ErrWrongState):
		writeJSON(w, http.StatusConflict, map[string]any{
			"version": "v1",
			"error":   "wrong_state",
		})
	case errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, metastore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"version": "v1",
			"error":   "not_found",
		})
	case errors.Is(err, wallet.ErrInvalidInput),
		errors.Is(err, escrow.ErrInvalidInput),
		errors.Is(err, metastore.ErrInvalidPayload),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_input",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
	}
}

// writeTxError extends writeError with the chain-specific outcomes: a
// rejected transaction reports the revert reason, a receipt timeout reports
// the hash with a pending flag because the outcome is unknown, not failed.
func (h *handler) writeTxError(w http.ResponseWriter, txHash common.Hash, err error) {
	var rejection *ledger.RejectionError
	switch {
	case errors.As(err, &rejection):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"version": "v1",
			"error":   "transaction_rejected",
			"txHash":  rejection.TxHash.Hex(),
			"reason":  rejection.Reason,
		})
	case errors.Is(err, ledger.ErrReceiptTimeout):
		writeJSON(w, http.StatusAccepted, map[string]any{
			"version": "v1",
			"status":  "pending",
			"txHash":  txHash.Hex(),
		})
	default:
		h.writeError(w, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONBytes(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func decodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var out T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_json",
		})
		return out, false
	}
	return out, true
}

func parseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if len(s) != 64 {
		return common.Hash{}, errors.New("invalid length")
	}
	b := common.FromHex(s)
	if len(b) != 32 {
		return common.Hash{}, errors.New("invalid hex")
	}
	return common.BytesToHash(b), nil
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(remote); err == nil {
		return addr.Addr().String()
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.String()
	}
	host := remote
	if i := strings.LastIndex(remote, ":"); i > 0 {
		host = remote[:i]
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.String()
	}
	return remote
}

type limiterState struct {
	tokens   float64
	lastAt   time.Time
	lastSeen time.Time
}

type ipRateLimiter struct {
	mu sync.Mutex

	refillPerSecond float64
	burst           float64
	maxTrackedIPs   int
	states          map[string]limiterState
}

func newIPRateLimiter(refillPerSecond float64, burst float64, maxTrackedIPs int) *ipRateLimiter {
	return &ipRateLimiter{
		refillPerSecond: refillPerSecond,
		burst:           burst,
		maxTrackedIPs:   maxTrackedIPs,
		states:          make(map[string]limiterState),
	}
}

func (l *ipRateLimiter) Allow(ip string, now time.Time) bool {
	if l == nil {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[ip]
	if !ok {
		if len(l.states) >= l.maxTrackedIPs {
			l.evictOne()
		}
		l.states[ip] = limiterState{
			tokens:   l.burst - 1,
			lastAt:   now,
			lastSeen: now,
		}
		return true
	}

	elapsed := now.Sub(st.lastAt).Seconds()
	if elapsed > 0 {
		st.tokens += elapsed * l.refillPerSecond
		if st.tokens > l.burst {
			st.tokens = l.burst
		}
	}
	st.lastAt = now
	st.lastSeen = now

	if st.tokens < 1 {
		l.states[ip] = st
		return false
	}
	st.tokens -= 1
	l.states[ip] = st
	return true
}

func (l *ipRateLimiter) evictOne() {
	var oldestIP string
	var oldestAt time.Time
	first := true
	for ip, st := range l.states {
		if first || st.lastSeen.Before(oldestAt) {
			oldestIP = ip
			oldestAt = st.lastSeen
			first = false
		}
	}
	if oldestIP != "" {
		delete(l.states, oldestIP)
	}
}

type cacheEntry struct {
	body      []byte
	expiresAt time.Time
	lastSeen  time.Time
}

type responseCache struct {
	mu sync.Mutex

	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
}

func newResponseCache(ttl time.Duration, maxEntries int) *responseCache {
	return &responseCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

func (c *responseCache) Get(key string, now time.Time) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	e.lastSeen = now
	c.entries[key] = e
	return append([]byte(nil), e.body...), true
}

func (c *responseCache) Set(key string, body []byte, now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpired(now)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOne()
	}

	c.entries[key] = cacheEntry{
		body:      append([]byte(nil), body...),
		expiresAt: now.Add(c.ttl),
		lastSeen:  now,
	}
}

func (c *responseCache) pruneExpired(now time.Time) {
	for k, v := range c.entries {
		if !now.Before(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *responseCache) evictOne() {
	var evictKey string
	var oldest time.Time
	first := true
	for k, v := range c.entries {
		if first || v.lastSeen.Before(oldest) {
			first = false
			oldest = v.lastSeen
			evictKey = k
		}
	}
	if evictKey != "" {
		delete(c.entries, evictKey)
	}
}
