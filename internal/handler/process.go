package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/auth"
	"github.com/sakif/resize-credits/internal/executor"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/service"
)

// maxImageBody caps the JSON body of /api/process. Images arrive base64
// encoded, so this is roughly a 15 MB upload.
const maxImageBody = 20 << 20

// ProcessHandler runs the billable image expansion.
type ProcessHandler struct {
	exec        executor.Executor
	entitlement *service.EntitlementService
	cost        int64
	debug       bool
	logger      *slog.Logger
}

// NewProcessHandler creates a ProcessHandler. exec may be nil, in which case
// every request answers 503 and nothing is charged.
func NewProcessHandler(exec executor.Executor, entitlement *service.EntitlementService, cost int64, debug bool, logger *slog.Logger) *ProcessHandler {
	if cost <= 0 {
		cost = 1
	}
	return &ProcessHandler{
		exec:        exec,
		entitlement: entitlement,
		cost:        cost,
		debug:       debug,
		logger:      logger,
	}
}

type processRequest struct {
	ImageData     string `json:"imageData"`
	MimeType      string `json:"mimeType"`
	TargetSizeKey string `json:"targetSizeKey"`
}

type processResponse struct {
	*executor.ExpandResult
	CreditsRemaining int64 `json:"creditsRemaining"`
}

// HandleProcess expands an image to one of the fixed target sizes.
//
// HTTP: POST /api/process
// Auth: Required
//
// BILLING FLOW:
//  0. Precheck the balance so a broke caller is not made to upload an image
//  1. Validate the request (nothing is charged for a bad request)
//  2. Reserve the cost: 402 if the balance is too low
//  3. Run the expansion
//  4. Success → commit the reservation; failure → release it (refund)
//
// The reservation is settled with a context detached from the request so a
// client hanging up mid-expansion still gets the refund.
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized())
		return
	}

	if h.exec == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   CodeUnavailable,
			Message: "Image processing is not available.",
		})
		return
	}

	if err := h.entitlement.Precheck(r.Context(), userID, h.cost); err != nil {
		writeErrorDetail(w, err, h.debug)
		return
	}

	// --- Step 1: Validate ---
	var req processRequest
	if err := decodeJSON(r, &req, maxImageBody); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.ImageData) == "" {
		writeError(w, apperror.ValidationFailed("imageData", "imageData is required"))
		return
	}
	size, ok := executor.LookupTargetSize(req.TargetSizeKey)
	if !ok {
		writeError(w, apperror.ValidationFailed("targetSizeKey", "unsupported target size"))
		return
	}

	// --- Step 2: Reserve ---
	reservation, remaining, err := h.entitlement.Reserve(r.Context(), userID, h.cost, model.ReasonImageProcessing)
	if err != nil {
		writeErrorDetail(w, err, h.debug)
		return
	}

	// --- Step 3: Execute ---
	result, execErr := h.exec.Execute(r.Context(), executor.ExpandRequest{
		ImageData:  req.ImageData,
		MimeType:   req.MimeType,
		TargetSize: size,
	})

	settle := context.WithoutCancel(r.Context())

	// --- Step 4a: Failure → refund ---
	if execErr != nil {
		h.logger.Error("image processing failed",
			slog.String("userID", userID),
			slog.String("reservationID", reservation.ID),
			slog.String("target", size.Key),
			slog.String("error", execErr.Error()),
		)

		balance, err := h.entitlement.Release(settle, reservation.ID)
		if err != nil {
			writeErrorDetail(w, err, h.debug)
			return
		}

		status, resp := http.StatusBadGateway, ErrorResponse{
			Error:          CodeProcessingFailed,
			Message:        "Image processing failed. Your credits were refunded.",
			CurrentBalance: &balance,
		}
		if errors.Is(execErr, executor.ErrBusy) {
			status, resp.Error = http.StatusServiceUnavailable, CodeUnavailable
			resp.Message = "All processing slots are busy. Your credits were refunded."
		}
		if h.debug {
			resp.Detail = execErr.Error()
		}
		writeJSON(w, status, resp)
		return
	}

	// --- Step 4b: Success → commit ---
	if err := h.entitlement.Commit(settle, reservation.ID); err != nil {
		// The credits are already gone and the image exists. Hand it over
		// and leave the reservation for an operator.
		h.logger.Error("committing reservation failed",
			slog.String("reservationID", reservation.ID),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, processResponse{
		ExpandResult:     result,
		CreditsRemaining: remaining,
	})
}
