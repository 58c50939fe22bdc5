package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/resize-credits/internal/apperror"
)

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", apperror.ValidationFailed("amount", "bad"), http.StatusBadRequest, CodeValidation},
		{"invalid plan", apperror.InvalidPlan("gold"), http.StatusBadRequest, CodeInvalidPlan},
		{"unauthorized", apperror.Unauthorized(), http.StatusUnauthorized, CodeAuthRequired},
		{"signature", apperror.SignatureInvalid("nope"), http.StatusUnauthorized, CodeInvalidSignature},
		{"insufficient", apperror.InsufficientCredits(2, 5), http.StatusPaymentRequired, CodeInsufficient},
		{"forbidden", apperror.Forbidden("no"), http.StatusForbidden, CodeForbidden},
		{"not found", apperror.NotFound("user", "x"), http.StatusNotFound, CodeNotFound},
		{"conflict", apperror.Conflict("reservation", "r1"), http.StatusConflict, CodeConflict},
		{"debit failed", apperror.DebitFailed("u"), http.StatusServiceUnavailable, CodeDebitFailed},
		{"store unavailable", apperror.StoreUnavailable("debit"), http.StatusServiceUnavailable, CodeUnavailable},
		{"wrapped", fmt.Errorf("service/ledger: debit: %w", apperror.NotFound("user", "x")), http.StatusNotFound, CodeNotFound},
		{"unknown", errors.New("pq: relation users does not exist"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Error)
			assert.Empty(t, body.Detail)
			assert.NotContains(t, body.Message, "pq:")
		})
	}
}

func TestWriteError_InsufficientCarriesBalance(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, fmt.Errorf("wrapped: %w", apperror.InsufficientCredits(3, 5)))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.NotNil(t, body.CurrentBalance)
	assert.Equal(t, int64(3), *body.CurrentBalance)
}

func TestWriteErrorDetail_DevelopmentOnly(t *testing.T) {
	err := errors.New("stripe: invalid api key")

	rr := httptest.NewRecorder()
	writeErrorDetail(rr, err, true)
	assert.Contains(t, rr.Body.String(), `"detail":"stripe: invalid api key"`)

	rr = httptest.NewRecorder()
	writeErrorDetail(rr, err, false)
	assert.NotContains(t, rr.Body.String(), "detail")
}
