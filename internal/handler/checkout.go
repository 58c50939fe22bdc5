package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/auth"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/service"
)

// CheckoutHandler lists the plans and opens hosted checkouts for them.
type CheckoutHandler struct {
	catalog  *service.PlanCatalog
	checkout *service.CheckoutService
	debug    bool
	logger   *slog.Logger
}

func NewCheckoutHandler(catalog *service.PlanCatalog, checkout *service.CheckoutService, debug bool, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		catalog:  catalog,
		checkout: checkout,
		debug:    debug,
		logger:   logger,
	}
}

// HandlePlans returns the catalog.
//
// HTTP: GET /api/plans
func (h *CheckoutHandler) HandlePlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": h.catalog.List()})
}

type checkoutRequest struct {
	PlanID model.PlanID `json:"planId"`
}

// HandleCheckout starts a checkout for the logged-in user.
//
// HTTP: POST /api/checkout {"planId": "pro"}
//
// Provider failures show up as 500 without the provider's text outside
// development.
func (h *CheckoutHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized())
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req, 4<<10); err != nil {
		writeError(w, err)
		return
	}
	if req.PlanID == "" {
		writeError(w, apperror.ValidationFailed("planId", "planId is required"))
		return
	}

	session, err := h.checkout.CreateCheckout(r.Context(), userID, req.PlanID)
	if err != nil {
		h.logger.Error("checkout failed",
			slog.String("userID", userID),
			slog.String("plan", string(req.PlanID)),
			slog.String("error", err.Error()),
		)
		writeErrorDetail(w, err, h.debug)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
