package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/middleware"
)

type userResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func userView(u *guestauth.UserRecord) userResponse {
	return userResponse{ID: u.ID, TenantID: u.TenantID, Email: u.Email, CreatedAt: u.CreatedAt}
}

type meResponse struct {
	User   userResponse `json:"user"`
	Via    string       `json:"via"`
	Scopes []string     `json:"scopes,omitempty"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	user, err := s.engine.GetUser(r.Context(), c.UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := meResponse{User: userView(user), Via: "session"}
	if c.Token != nil {
		resp.Via = "api_token"
		resp.Scopes = c.Token.Scopes
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

type twoFactorStatusResponse struct {
	State           string     `json:"state"`
	Method          string     `json:"method,omitempty"`
	BackupCodesLeft int        `json:"backup_codes_left"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

func (s *Server) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.TwoFactorStatus(r.Context(), caller(r).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := twoFactorStatusResponse{State: st.State, Method: string(st.Method), BackupCodesLeft: st.BackupCodesLeft}
	if !st.VerifiedAt.IsZero() {
		resp.VerifiedAt = &st.VerifiedAt
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) setupTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	setup, err := s.engine.SetupTwoFactor(r.Context(), caller(r).UserID(), req.Method)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"method":      string(setup.Method),
		"secret":      setup.Secret,
		"otpauth_uri": setup.URI,
	})
}

func (s *Server) verifyTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	codes, err := s.engine.VerifyTwoFactorSetup(r.Context(), caller(r).UserID(), req.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

func (s *Server) resendSetupCode(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResendTwoFactorCode(r.Context(), caller(r).UserID()); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (s *Server) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.DisableTwoFactor(r.Context(), caller(r).UserID(), req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"disabled": true})
}

// changePassword ends every session, including the caller's.
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.ChangePassword(r.Context(), caller(r).UserID(), req.CurrentPassword, req.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookies(w)
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"changed": true})
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.LogoutAll(r.Context(), caller(r).UserID()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookies(w)
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}
