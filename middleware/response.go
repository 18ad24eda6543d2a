package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/internal/logging"
)

// Response is the JSON envelope of every reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`

	Field         string   `json:"field,omitempty"`
	RequiredScope string   `json:"required_scope,omitempty"`
	GrantedScopes []string `json:"granted_scopes,omitempty"`
}

// WriteJSON writes a success envelope around data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Response{Status: "success", Data: data})
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// StatusOf maps an engine error to its HTTP status.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, guestauth.ErrEngineNotReady) {
		return http.StatusServiceUnavailable
	}
	switch guestauth.KindOf(err) {
	case guestauth.KindAuthentication:
		return http.StatusUnauthorized
	case guestauth.KindAuthorization:
		return http.StatusForbidden
	case guestauth.KindRateLimited:
		return http.StatusTooManyRequests
	case guestauth.KindValidation:
		switch {
		case errors.Is(err, guestauth.ErrNotFound):
			return http.StatusNotFound
		case errors.Is(err, guestauth.ErrEmailTaken),
			errors.Is(err, guestauth.ErrTwoFactorEnabled),
			errors.Is(err, guestauth.ErrTwoFactorNotPending),
			errors.Is(err, guestauth.ErrTwoFactorNotEnabled):
			return http.StatusConflict
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the public form of err. Infrastructure detail is logged
// and never sent to the client.
func WriteError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	status := StatusOf(err)
	e := guestauth.AsError(err)

	resp := Response{Status: "error", Message: e.PublicMessage()}
	switch e.Kind {
	case guestauth.KindValidation:
		resp.Field = e.Field
	case guestauth.KindAuthorization:
		resp.RequiredScope = e.Required
		resp.GrantedScopes = e.Granted
	case guestauth.KindRateLimited:
		if secs := e.RetryAfterSeconds(); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	if status >= http.StatusInternalServerError {
		logging.OrNop(log).Error(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "err", err)
		if errors.Is(err, guestauth.ErrEngineNotReady) {
			resp.Message = "service unavailable"
		}
	}
	writeEnvelope(w, status, resp)
}

// WriteMessage writes an error envelope with a fixed message.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, Response{Status: "error", Message: msg})
}
