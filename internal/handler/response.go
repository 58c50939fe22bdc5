package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError so the API has one
// success shape per route and one error shape everywhere:
//
//	{"error": "INSUFFICIENT_CREDITS", "message": "...", "currentBalance": 0}
//
// "error" is a stable machine-readable code, "message" is for humans.
// "detail" carries the underlying error text and is only filled in when the
// server runs in development mode.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/resize-credits/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	CurrentBalance *int64 `json:"currentBalance,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// Error codes returned in ErrorResponse.Error.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeInsufficient     = "INSUFFICIENT_CREDITS"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeInvalidPlan      = "INVALID_PLAN"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
	CodeDebitFailed      = "CREDIT_DEDUCTION_FAILED"
	CodeProcessingFailed = "PROCESSING_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// writeJSON sends data as JSON with the given status. Headers must be set
// before WriteHeader, anything after is ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to its HTTP status and error body.
func writeError(w http.ResponseWriter, err error) {
	writeErrorDetail(w, err, false)
}

// writeErrorDetail is writeError that also exposes err's text as "detail"
// when debug is set.
//
// ERROR MAPPING (first match wins, errors.Is walks the whole chain):
//
//	ErrValidation             400 VALIDATION_ERROR
//	ErrInvalidPlan            400 INVALID_PLAN
//	ErrUnauthorized           401 AUTH_REQUIRED
//	ErrSignatureInvalid       401 INVALID_SIGNATURE
//	ErrInsufficientCredits    402 INSUFFICIENT_CREDITS (+ currentBalance)
//	ErrForbidden              403 FORBIDDEN
//	ErrNotFound               404 NOT_FOUND
//	ErrConflict               409 CONFLICT
//	ErrDebitFailed            503 CREDIT_DEDUCTION_FAILED
//	ErrStoreUnavailable       503 SERVICE_UNAVAILABLE
//	anything else             500 INTERNAL_ERROR
func writeErrorDetail(w http.ResponseWriter, err error, debug bool) {
	status, resp := errorResponse(err)
	if debug {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	var appErr *apperror.AppError
	message := ""
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: CodeValidation, Message: message}

	case errors.Is(err, apperror.ErrInvalidPlan):
		return http.StatusBadRequest, ErrorResponse{Error: CodeInvalidPlan, Message: message}

	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorResponse{Error: CodeAuthRequired, Message: "authentication required"}

	case errors.Is(err, apperror.ErrSignatureInvalid):
		return http.StatusUnauthorized, ErrorResponse{Error: CodeInvalidSignature, Message: "webhook signature invalid"}

	case errors.Is(err, apperror.ErrInsufficientCredits):
		var balance int64
		if appErr != nil {
			balance = appErr.Balance
		}
		return http.StatusPaymentRequired, ErrorResponse{
			Error:          CodeInsufficient,
			Message:        "Insufficient credits. Please subscribe to continue.",
			CurrentBalance: &balance,
		}

	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: CodeForbidden, Message: message}

	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: message}

	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: CodeConflict, Message: message}

	case errors.Is(err, apperror.ErrDebitFailed):
		return http.StatusServiceUnavailable, ErrorResponse{Error: CodeDebitFailed, Message: "Failed to deduct credits. Please try again."}

	case errors.Is(err, apperror.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: CodeUnavailable, Message: "The service is temporarily unavailable."}
	}

	// Never echo unknown errors: they can carry SQL, paths or provider text.
	return http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "An internal error occurred"}
}

// decodeJSON reads at most limit bytes of JSON into v. Unknown fields are
// allowed so older clients keep working.
func decodeJSON(r *http.Request, v any, limit int64) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, limit)).Decode(v); err != nil {
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
	return nil
}
