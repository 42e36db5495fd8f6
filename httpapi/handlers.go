package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	goReset "github.com/MrEthical07/goReset"
	"github.com/MrEthical07/goReset/middleware"
)

const requestAcceptedMessage = "If the account exists, a reset code has been sent."

type handlers struct {
	svc    Service
	opts   Options
	logger *slog.Logger
}

type requestBody struct {
	Email string `json:"email"`
}

type verifyBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type completeBody struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

type confirmBody struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) request(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), body.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "ok", Message: requestAcceptedMessage})
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if !h.decode(w, r, &body) {
		return
	}

	grant, err := h.svc.VerifyResetPIN(r.Context(), body.Email, body.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, grant)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.svc.CompletePasswordReset(r.Context(), body.ResetToken, body.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.svc.ConfirmPasswordReset(r.Context(), body.Email, body.Code, body.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		if err := h.opts.Health(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: goReset.PublicMessage(goReset.ErrResetInvalid)})
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: goReset.PublicMessage(goReset.ErrResetInvalid)})
		return false
	}
	return true
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if wait, ok := goReset.RetryAfter(err); ok {
		w.Header().Set("Retry-After", middleware.RetryAfterSeconds(wait))
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "password reset request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, errorResponse{Error: goReset.PublicMessage(err)})
}

// StatusCode maps an engine error to its public HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, goReset.ErrResetRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, goReset.ErrPasswordPolicy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, goReset.ErrResetUnavailable),
		errors.Is(err, goReset.ErrResetDisabled),
		errors.Is(err, goReset.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
