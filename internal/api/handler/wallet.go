package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/craftsphere/wallet-ledger/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletHandler serves the wallet endpoints for the authenticated owner.
type WalletHandler struct {
	repo    *repository.Repository
	ledger  *service.LedgerService
	payouts *service.PayoutService
}

func NewWalletHandler(repo *repository.Repository, ledger *service.LedgerService, payouts *service.PayoutService) *WalletHandler {
	return &WalletHandler{repo: repo, ledger: ledger, payouts: payouts}
}

// Me returns the caller's wallet.
func (h *WalletHandler) Me(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	wallet, err := h.repo.GetWalletByOwner(r.Context(), actorID)
	if err != nil {
		if respondDomainError(w, r, err) {
			return
		}
		zap.L().Error("get wallet failed", zap.Error(err), zap.String("owner_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/read-failed", "Failed to load wallet")
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

// Create provisions a wallet for the caller. One wallet per owner; a second
// attempt conflicts on the owner uniqueness constraint.
func (h *WalletHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		OwnerID        string                `json:"owner_id"`
		Currency       string                `json:"currency"`
		PayoutSettings models.PayoutSettings `json:"payout_settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	ownerID := actorID
	if req.OwnerID != "" {
		parsed, err := uuid.Parse(req.OwnerID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-owner-id", "Invalid owner_id")
			return
		}
		if parsed != actorID && !isAdmin {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
		ownerID = parsed
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	wallet, err := h.repo.CreateWallet(r.Context(), ownerID, req.Currency, req.PayoutSettings)
	if err != nil {
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create wallet failed", zap.Error(err), zap.String("owner_id", ownerID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/create-failed", "Failed to create wallet")
		return
	}
	RespondJSON(w, http.StatusCreated, wallet)
}

// Transactions pages the caller's ledger newest-first with optional
// type/category/date filters.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.walletForActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	params := repository.ListTransactionsParams{
		WalletID: wallet.ID,
		Type:     q.Get("type"),
		Category: q.Get("category"),
		Limit:    int32(limit),
		Offset:   int32(offset),
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		params.From = &from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		params.To = &to
	}
	if params.Category != "" && !domain.ValidCategory(params.Category) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-category", "Unknown transaction category")
		return
	}

	items, total, err := h.repo.ListTransactions(r.Context(), params)
	if err != nil {
		zap.L().Error("list transactions failed", zap.Error(err), zap.String("wallet_id", wallet.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/statement-read-failed", "Failed to load transactions")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": total,
	})
}

// Deposit credits the caller's wallet. The Idempotency-Key header doubles as
// the ledger-level key, so replays return the original transaction.
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.walletForActor(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	metadata := map[string]string{}
	if req.Reference != "" {
		metadata["reference"] = req.Reference
	}
	var key *string
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		key = &k
	}

	tx, err := h.ledger.RecordTransaction(r.Context(), service.RecordTransactionRequest{
		WalletID:       wallet.ID,
		Type:           domain.TxTypeCredit,
		Category:       domain.CategoryDeposit,
		Amount:         req.Amount,
		Metadata:       metadata,
		IdempotencyKey: key,
	})
	if err != nil {
		if respondDomainError(w, r, err) {
			return
		}
		zap.L().Error("deposit failed", zap.Error(err), zap.String("wallet_id", wallet.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/deposit-failed", "Failed to record deposit")
		return
	}
	RespondJSON(w, http.StatusCreated, tx)
}

// Withdraw reserves funds and submits a payout to the external rail.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.walletForActor(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	payout, err := h.payouts.RequestPayout(r.Context(), wallet.ID, req.Amount)
	if err != nil {
		if respondDomainError(w, r, err) {
			return
		}
		zap.L().Error("withdrawal failed", zap.Error(err), zap.String("wallet_id", wallet.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/withdrawal-failed", "Failed to request withdrawal")
		return
	}
	RespondJSON(w, http.StatusAccepted, payout)
}

// Reconcile recomputes the caller's balance from the transaction log.
func (h *WalletHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.walletForActor(w, r)
	if !ok {
		return
	}

	report, err := h.ledger.Reconcile(r.Context(), wallet.ID)
	if err != nil {
		if respondDomainError(w, r, err) {
			return
		}
		zap.L().Error("reconcile failed", zap.Error(err), zap.String("wallet_id", wallet.ID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/reconcile-failed", "Failed to reconcile wallet")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

func (h *WalletHandler) walletForActor(w http.ResponseWriter, r *http.Request) (*models.Wallet, bool) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return nil, false
	}
	wallet, err := h.repo.GetWalletByOwner(r.Context(), actorID)
	if err != nil {
		if respondDomainError(w, r, err) {
			return nil, false
		}
		zap.L().Error("wallet lookup failed", zap.Error(err), zap.String("owner_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/read-failed", "Failed to load wallet")
		return nil, false
	}
	return wallet, true
}
