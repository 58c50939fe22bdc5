package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/auth"
	"github.com/sakif/resize-credits/internal/service"
)

// CreditsHandler exposes the ledger to the logged-in user.
//
// ROUTES:
//
//	GET  /api/credits          → {"credits": n}
//	GET  /api/credits/history  → {"history": [...]}, newest first
//	POST /api/credits/charge   → {"ok": true, "newBalance": n}
//
// Reads never fail: an unreadable balance shows as 0 and an unreadable
// history as an empty list. Only the charge can return an error.
type CreditsHandler struct {
	ledger      *service.LedgerService
	entitlement *service.EntitlementService
	debug       bool
	logger      *slog.Logger
}

func NewCreditsHandler(ledger *service.LedgerService, entitlement *service.EntitlementService, debug bool, logger *slog.Logger) *CreditsHandler {
	return &CreditsHandler{
		ledger:      ledger,
		entitlement: entitlement,
		debug:       debug,
		logger:      logger,
	}
}

// HandleBalance returns the current balance.
func (h *CreditsHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"credits": h.ledger.Balance(r.Context(), userID)})
}

// HandleHistory returns the most recent transactions.
//
// QUERY PARAMETERS:
//   - limit: optional, defaults to the ledger's default and is capped at the
//     retention size.
func (h *CreditsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, apperror.ValidationFailed("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": h.ledger.History(r.Context(), userID, limit)})
}

type chargeRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// HandleCharge debits credits for an operation the client is about to run.
//
// The body is optional: {"amount": 1, "reason": "image_processing"} is the
// default. Insufficient funds answer 402 with the current balance.
func (h *CreditsHandler) HandleCharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized())
		return
	}

	req := chargeRequest{Amount: 1, Reason: "image_processing"}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req, 4<<10); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Amount <= 0 {
		writeError(w, apperror.ValidationFailed("amount", "amount must be a positive integer"))
		return
	}
	if req.Reason = strings.TrimSpace(req.Reason); req.Reason == "" {
		req.Reason = "image_processing"
	}

	res, err := h.entitlement.Charge(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		writeErrorDetail(w, err, h.debug)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "newBalance": res.NewBalance})
}
