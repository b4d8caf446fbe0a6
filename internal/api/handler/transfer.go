package handler

import (
	"encoding/json"
	"net/http"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/craftsphere/wallet-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransferHandler serves wallet-to-wallet transfers and the feature
// purchases that ride on the same machinery.
type TransferHandler struct {
	repo             *repository.Repository
	transfers        *service.TransferService
	platformWalletID uuid.UUID
}

func NewTransferHandler(repo *repository.Repository, transfers *service.TransferService, platformWalletID uuid.UUID) *TransferHandler {
	return &TransferHandler{repo: repo, transfers: transfers, platformWalletID: platformWalletID}
}

// Create moves funds from the caller's wallet to another wallet.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		FromWalletID string `json:"from_wallet_id"`
		ToWalletID   string `json:"to_wallet_id"`
		Amount       int64  `json:"amount"`
		Description  string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	toWalletID, err := uuid.Parse(req.ToWalletID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid to_wallet_id")
		return
	}

	var fromWalletID uuid.UUID
	if req.FromWalletID == "" {
		wallet, lookupErr := h.repo.GetWalletByOwner(r.Context(), actorID)
		if lookupErr != nil {
			if respondDomainError(w, r, lookupErr) {
				return
			}
			RespondError(w, r, http.StatusInternalServerError, "wallet/read-failed", "Failed to load wallet")
			return
		}
		fromWalletID = wallet.ID
	} else {
		fromWalletID, err = uuid.Parse(req.FromWalletID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-wallet-id", "Invalid from_wallet_id")
			return
		}
		wallet, lookupErr := h.repo.GetWallet(r.Context(), fromWalletID)
		if lookupErr != nil {
			if respondDomainError(w, r, lookupErr) {
				return
			}
			RespondError(w, r, http.StatusInternalServerError, "wallet/read-failed", "Failed to load wallet")
			return
		}
		if wallet.OwnerID != actorID && !isAdmin {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondError(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
		return
	}

	result, err := h.transfers.Transfer(r.Context(), service.TransferRequest{
		FromWalletID:   fromWalletID,
		ToWalletID:     toWalletID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		if respondDomainError(w, r, err) {
			return
		}
		zap.L().Error("transfer failed", zap.Error(err),
			zap.String("from_wallet_id", fromWalletID.String()),
			zap.String("to_wallet_id", toWalletID.String()))
		RespondError(w, r, http.StatusInternalServerError, "transfer/failed", "Failed to execute transfer")
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	RespondJSON(w, status, result)
}

// Get returns both legs of a transfer by its shared id.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	transferID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transfer-id", "Invalid transfer ID")
		return
	}

	result, err := h.transfers.GetTransfer(r.Context(), transferID)
	if err != nil {
		zap.L().Error("load transfer failed", zap.Error(err), zap.String("transfer_id", transferID.String()))
		RespondError(w, r, http.StatusNotFound, "transfer/not-found", "Transfer not found")
		return
	}

	if !isAdmin {
		wallet, lookupErr := h.repo.GetWallet(r.Context(), result.DebitLeg.WalletID)
		if lookupErr != nil || wallet.OwnerID != actorID {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
			return
		}
	}
	RespondJSON(w, http.StatusOK, result)
}

// PurchaseSpotlight charges the caller for a product spotlight placement.
// The charge is a transfer into the platform wallet so it reconciles like
// any other ledger movement.
func (h *TransferHandler) PurchaseSpotlight(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		ProductID string `json:"product_id"`
		Amount    int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.ProductID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-product-id", "product_id is required")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		RespondError(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
		return
	}

	wallet, err := h.repo.GetWalletByOwner(r.Context(), actorID)
	if err != nil {
		if respondDomainError(w, r, err) {
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "wallet/read-failed", "Failed to load wallet")
		return
	}

	result, err := h.transfers.Transfer(r.Context(), service.TransferRequest{
		FromWalletID:   wallet.ID,
		ToWalletID:     h.platformWalletID,
		Amount:         req.Amount,
		Category:       domain.CategoryFeaturePurchase,
		Description:    "spotlight purchase for product " + req.ProductID,
		IdempotencyKey: key,
	})
	if err != nil {
		if respondDomainError(w, r, err) {
			return
		}
		zap.L().Error("spotlight purchase failed", zap.Error(err),
			zap.String("wallet_id", wallet.ID.String()),
			zap.String("product_id", req.ProductID))
		RespondError(w, r, http.StatusInternalServerError, "purchase/failed", "Failed to purchase spotlight")
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	RespondJSON(w, status, result)
}
