// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vitalog/vitalog/internal/auth"
	"github.com/vitalog/vitalog/internal/observability"
	"github.com/vitalog/vitalog/pkg/errutil"
)

// Handlers exposes the credential lifecycle over a minimal JSON surface.
// Page rendering lives elsewhere; these endpoints carry only the state
// transitions the frontend drives.
type Handlers struct {
	auth          *auth.Service
	confirmations *auth.ConfirmationService
	emailChanges  *auth.EmailChangeService
	resets        *auth.PasswordResetService
	authenticator *Authenticator
	logger        *slog.Logger
}

// NewHandlers creates the credential handler set.
func NewHandlers(
	authSvc *auth.Service,
	confirmations *auth.ConfirmationService,
	emailChanges *auth.EmailChangeService,
	resets *auth.PasswordResetService,
	authenticator *Authenticator,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		auth:          authSvc,
		confirmations: confirmations,
		emailChanges:  emailChanges,
		resets:        resets,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Mount registers the credential routes on mux and returns it wrapped in
// the session-resolving middleware.
func (h *Handlers) Mount(mux *http.ServeMux) http.Handler {
	requireAuth := func(fn http.HandlerFunc) http.Handler {
		return h.authenticator.RequireAuthenticated(fn)
	}

	mux.HandleFunc("POST /credentials/register", h.handleRegister)
	mux.HandleFunc("POST /credentials/log_in", h.handleLogIn)
	mux.HandleFunc("DELETE /credentials/log_out", h.handleLogOut)
	mux.HandleFunc("POST /credentials/confirm/{token}", h.handleConfirm)
	mux.HandleFunc("POST /credentials/reset_password", h.handleRequestReset)
	mux.HandleFunc("PUT /credentials/reset_password/{token}", h.handleResetPassword)
	mux.Handle("POST /credentials/settings/resend_confirmation", requireAuth(h.handleResendConfirmation))
	mux.Handle("PUT /credentials/settings/password", requireAuth(h.handleUpdatePassword))
	mux.Handle("POST /credentials/settings/email", requireAuth(h.handleRequestEmailChange))
	mux.Handle("PUT /credentials/settings/confirm_email/{token}", requireAuth(h.handleApplyEmailChange))

	return instrumentRequests(mux, h.authenticator.Authenticate(mux))
}

// instrumentRequests counts every request under its matched route pattern,
// so token-bearing paths collapse into one series per route.
func instrumentRequests(mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		observability.RecordRequest(pattern, strconv.Itoa(sw.status))
	})
}

// statusWriter captures the response status for the request counter.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.auth.Register(r.Context(), auth.RegisterParams{
		Email:    req.Email,
		Password: auth.Password(req.Password),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Confirmation instructions go out best-effort; the account exists
	// either way and resend is the recovery path.
	if err := h.confirmations.RequestConfirmation(r.Context(), account); err != nil {
		errutil.LogError(h.logger, "failed to deliver confirmation instructions", err)
	}

	redirect, err := h.authenticator.LogIn(w, r, account, LoginOptions{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"email":    account.Email,
		"redirect": redirect,
	})
}

type logInRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (h *Handlers) handleLogIn(w http.ResponseWriter, r *http.Request) {
	var req logInRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.auth.Authenticate(r.Context(), req.Email, auth.Password(req.Password))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			observability.RecordLogin("failure")
		}
		h.writeError(w, err)
		return
	}

	redirect, err := h.authenticator.LogIn(w, r, account, LoginOptions{RememberMe: req.RememberMe})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"redirect": redirect})
}

func (h *Handlers) handleLogOut(w http.ResponseWriter, r *http.Request) {
	if err := h.authenticator.LogOut(w, r); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"redirect": DefaultPath})
}

func (h *Handlers) handleConfirm(w http.ResponseWriter, r *http.Request) {
	account, err := h.confirmations.Confirm(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"email": account.Email})
}

func (h *Handlers) handleResendConfirmation(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	if err := h.confirmations.RequestConfirmation(r.Context(), account); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"email": account.Email})
}

type requestResetRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req requestResetRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.resets.RequestReset(r.Context(), req.Email); err != nil {
		h.writeError(w, err)
		return
	}
	// Identical response for known and unknown addresses.
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"detail": "if your email is registered, you will receive instructions shortly",
	})
}

type passwordRequest struct {
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (h *Handlers) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.resets.AccountByResetToken(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	err = h.resets.ResetPassword(r.Context(), account, auth.PasswordParams{
		Password:             auth.Password(req.Password),
		PasswordConfirmation: auth.Password(req.PasswordConfirmation),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"redirect": LoginPath})
}

type updatePasswordRequest struct {
	CurrentPassword      string `json:"current_password"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (h *Handlers) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	account := AccountFromContext(r.Context())
	updated, err := h.auth.UpdatePassword(r.Context(), account, auth.Password(req.CurrentPassword), auth.PasswordParams{
		Password:             auth.Password(req.Password),
		PasswordConfirmation: auth.Password(req.PasswordConfirmation),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Rotating the password revoked every session, this one included.
	// Re-establish the caller's session against the new credential set.
	redirect, err := h.authenticator.LogIn(w, r, updated, LoginOptions{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"redirect": redirect})
}

type requestEmailChangeRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
}

func (h *Handlers) handleRequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req requestEmailChangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	account := AccountFromContext(r.Context())
	err := h.emailChanges.RequestEmailChange(r.Context(), account, req.Email, auth.Password(req.CurrentPassword))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"email": req.Email})
}

func (h *Handlers) handleApplyEmailChange(w http.ResponseWriter, r *http.Request) {
	account := AccountFromContext(r.Context())
	updated, err := h.emailChanges.ApplyEmailChange(r.Context(), account, r.PathValue("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"email": updated.Email})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Validation failures
// carry their field messages; credential and token negatives stay uniform.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var verrs auth.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		fields := make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field] = append(fields[fe.Field], fe.Message)
		}
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": fields})
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
	case errors.Is(err, auth.ErrInvalidToken):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "link is invalid or it has expired"})
	case errors.Is(err, auth.ErrAlreadyConfirmed):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "email is already confirmed"})
	default:
		errutil.LogError(h.logger, "request failed", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
