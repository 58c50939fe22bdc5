package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/billing"
)

// maxWebhookBody is far above any subscription or transaction payload.
const maxWebhookBody = 1 << 20

// EventHandler is the part of the reconciler the webhook route needs.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *billing.Event) error
}

// WebhookHandler receives payment provider notifications.
//
// STATUS CODES DRIVE PROVIDER RETRIES:
//
//	200  accepted (processed, duplicate, ignored or unresolvable)
//	400  payload could not be decoded (retrying will not help)
//	401  signature missing or wrong
//	404  not the configured provider
//	500  processing failed, the provider will deliver it again
type WebhookHandler struct {
	provider billing.Provider
	events   EventHandler
	debug    bool
	logger   *slog.Logger
}

func NewWebhookHandler(provider billing.Provider, events EventHandler, debug bool, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		provider: provider,
		events:   events,
		debug:    debug,
		logger:   logger,
	}
}

// HandleWebhook verifies and processes one notification.
//
// HTTP: POST /webhooks/{provider}
//
// The signature is computed over the exact bytes received, so the body is
// read raw and handed to the provider before anything decodes it.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if name := chi.URLParam(r, "provider"); name != h.provider.Name() {
		writeError(w, apperror.NotFound("webhook provider", name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, apperror.ValidationFailed("body", "could not read request body"))
		return
	}
	if len(body) > maxWebhookBody {
		writeError(w, apperror.ValidationFailed("body", "request body too large"))
		return
	}

	ev, err := h.provider.ParseWebhook(r.Header, body)
	if err != nil {
		if errors.Is(err, apperror.ErrSignatureInvalid) {
			h.logger.Warn("webhook rejected: bad signature",
				slog.String("provider", h.provider.Name()),
				slog.String("remoteAddr", r.RemoteAddr),
			)
		} else {
			h.logger.Warn("webhook rejected: bad payload",
				slog.String("provider", h.provider.Name()),
				slog.String("error", err.Error()),
			)
		}
		writeErrorDetail(w, err, h.debug)
		return
	}

	if err := h.events.HandleEvent(r.Context(), ev); err != nil {
		h.logger.Error("webhook processing failed",
			slog.String("provider", ev.Provider),
			slog.String("eventID", ev.ID),
			slog.String("eventType", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		resp := ErrorResponse{Error: CodeProcessingFailed, Message: "event processing failed"}
		if h.debug {
			resp.Detail = err.Error()
		}
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
