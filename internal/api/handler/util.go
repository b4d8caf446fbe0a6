package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/craftsphere/wallet-ledger/internal/api/middleware"
	"github.com/craftsphere/wallet-ledger/internal/api/problem"
	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		return uuid.Nil, false, errors.New("missing owner in auth context")
	}

	actorID, err := uuid.Parse(ownerID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid owner_id in auth context")
	}

	return actorID, middleware.OwnerRoleFromContext(r.Context()) == "admin", nil
}

// respondDomainError maps ledger sentinels to RFC 7807 responses. Returns
// false when the error is not a recognized domain condition.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) bool {
	var ife *domain.InsufficientFundsError
	switch {
	case errors.As(err, &ife):
		RespondError(w, r, http.StatusUnprocessableEntity, "wallet/insufficient-funds", ife.Error())
	case errors.Is(err, domain.ErrWalletNotFound):
		RespondError(w, r, http.StatusNotFound, "wallet/not-found", "wallet not found")
	case errors.Is(err, domain.ErrWalletInactive):
		RespondError(w, r, http.StatusUnprocessableEntity, "wallet/inactive", "wallet is inactive")
	case errors.Is(err, domain.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "amount must be greater than zero")
	case errors.Is(err, domain.ErrBelowPayoutMinimum):
		RespondError(w, r, http.StatusUnprocessableEntity, "payout/below-minimum", "amount is below the minimum payout threshold")
	case errors.Is(err, domain.ErrPayoutNotPending):
		RespondError(w, r, http.StatusConflict, "payout/not-pending", "withdrawal is not pending")
	case errors.Is(err, domain.ErrTransferSameWallet):
		RespondError(w, r, http.StatusBadRequest, "transfer/same-wallet", "cannot transfer to the same wallet")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		RespondError(w, r, http.StatusConflict, "wallet/concurrent-update", "wallet is busy, retry the request")
	default:
		return false
	}
	return true
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
