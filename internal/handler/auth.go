package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/auth"
	"github.com/sakif/resize-credits/internal/service"
)

const stateCookie = "oauth_state"

// AuthHandler runs the OAuth login flow and the session cookie.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin    → redirect the browser to the provider's consent page
//   - HandleCallback → check state, exchange the code, log in, set the cookie
//   - HandleLogout   → clear the session cookie
//   - HandleMe       → return the logged-in user, balance included
//
// Providers are looked up by the {provider} URL segment ("github", "google").
// A provider without client credentials is simply not in the map and its
// routes answer 404.
type AuthHandler struct {
	providers     map[string]auth.Provider
	auth          *service.AuthService
	ttl           int
	secureCookies bool
	debug         bool
	logger        *slog.Logger
}

// AuthOptions are the cookie settings that come from configuration.
type AuthOptions struct {
	SecureCookies bool
	Debug         bool
}

func NewAuthHandler(providers []auth.Provider, authService *service.AuthService, tokens *auth.TokenService, opts AuthOptions, logger *slog.Logger) *AuthHandler {
	byName := make(map[string]auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &AuthHandler{
		providers:     byName,
		auth:          authService,
		ttl:           int(tokens.TTL().Seconds()),
		secureCookies: opts.SecureCookies,
		debug:         opts.Debug,
		logger:        logger,
	}
}

func (h *AuthHandler) provider(w http.ResponseWriter, r *http.Request) (auth.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, ok := h.providers[name]
	if !ok {
		writeError(w, apperror.NotFound("login provider", name))
	}
	return p, ok
}

// HandleLogin redirects the user to the provider's authorization page.
//
// HTTP: GET /auth/{provider}/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// redirect. The callback only proceeds when both match.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the OAuth login flow.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for the provider profile
//  3. Find or create the user (new users get the signup credits)
//  4. Issue the session JWT in an HttpOnly cookie
//  5. Redirect to the app home page
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}

	// --- Step 1: Validate CSRF state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("auth callback: state mismatch", slog.String("provider", p.Name()))
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("provider", p.Name()),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for the profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	profile, err := p.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: exchange failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		writeErrorDetail(w, err, h.debug)
		return
	}

	// --- Step 3: Find or create the user ---
	result, err := h.auth.LoginOrRegister(r.Context(), profile)
	if err != nil {
		writeErrorDetail(w, err, h.debug)
		return
	}

	// --- Step 4: Session cookie ---
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   h.ttl,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	// --- Step 5: Back to the app ---
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
//
// Sessions are stateless JWTs, so the token stays valid until it expires.
// Without the cookie the browser just stops sending it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the logged-in user's profile.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized())
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		// A valid token for a user that no longer exists is a dead session.
		if errors.Is(err, apperror.ErrNotFound) {
			writeError(w, apperror.Unauthorized())
			return
		}
		writeErrorDetail(w, err, h.debug)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
