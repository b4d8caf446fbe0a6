package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/craftsphere/wallet-ledger/internal/service"
	"go.uber.org/zap"
)

// WebhookHandler receives order and payout events from external systems.
// Payloads are HMAC-signed; verification happens in the service so the raw
// body must be passed through untouched.
type WebhookHandler struct {
	svc *service.WebhookService
}

func NewWebhookHandler(svc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Orders handles order-completed events and splits the revenue.
func (h *WebhookHandler) Orders(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	result, err := h.svc.HandleOrderEvent(r.Context(), payload, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
			return
		}
		if respondDomainError(w, r, err) {
			return
		}
		zap.L().Error("order webhook failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "webhook/order-failed", err.Error())
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	RespondJSON(w, status, result)
}

// Payouts handles payout resolution events from the external rail.
func (h *WebhookHandler) Payouts(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	if err := h.svc.HandlePayoutEvent(r.Context(), payload, r.Header.Get("X-Webhook-Signature")); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		case errors.Is(err, service.ErrWithdrawalNotFound):
			RespondError(w, r, http.StatusNotFound, "payout/not-found", "Withdrawal not found")
		case errors.Is(err, service.ErrUnknownPayoutStatus):
			RespondError(w, r, http.StatusBadRequest, "webhook/unknown-status", err.Error())
		default:
			if respondDomainError(w, r, err) {
				return
			}
			zap.L().Error("payout webhook failed", zap.Error(err))
			RespondError(w, r, http.StatusBadRequest, "webhook/payout-failed", err.Error())
		}
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
