package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/middleware"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type challengeRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code,omitempty"`
}

type sessionResponse struct {
	UserID          string    `json:"user_id"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	CSRFToken       string    `json:"csrf_token"`
}

type challengeResponse struct {
	TwoFactorRequired bool      `json:"two_factor_required"`
	ChallengeToken    string    `json:"challenge_token"`
	Method            string    `json:"method"`
	ExpiresAt         time.Time `json:"expires_at"`
}

var errMissingRefresh = &guestauth.Error{Kind: guestauth.KindAuthentication, Op: "refresh", Err: guestauth.ErrInvalidToken}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.engine.Register(r.Context(), guestauth.RegisterInput{Email: req.Email, Password: req.Password})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, userView(user))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.RequiresTwoFactor() {
		middleware.WriteJSON(w, http.StatusOK, challengeResponse{
			TwoFactorRequired: true,
			ChallengeToken:    res.Challenge.Token,
			Method:            string(res.Challenge.Method),
			ExpiresAt:         res.Challenge.ExpiresAt,
		})
		return
	}
	s.startSession(w, r, res.UserID, res.Session)
}

func (s *Server) verifyLogin(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	tokens, err := s.engine.VerifyTwoFactorLogin(r.Context(), req.ChallengeToken, req.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.engine.ValidateAccess(r.Context(), tokens.AccessToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.startSession(w, r, id.UserID, tokens)
}

func (s *Server) resendLoginCode(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ResendLoginCode(r.Context(), req.ChallengeToken); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, middleware.RefreshCookie)
	if token == "" {
		s.clearSessionCookies(w)
		s.fail(w, r, errMissingRefresh)
		return
	}

	tokens, err := s.engine.Refresh(r.Context(), token)
	if err != nil {
		s.clearSessionCookies(w)
		s.fail(w, r, err)
		return
	}
	id, err := s.engine.ValidateAccess(r.Context(), tokens.AccessToken)
	if err != nil {
		s.clearSessionCookies(w)
		s.fail(w, r, err)
		return
	}
	s.startSession(w, r, id.UserID, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(r.Context(), cookieValue(r, middleware.RefreshCookie)); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookies(w)
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

func (s *Server) issueCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := s.engine.IssueCSRFToken()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setCSRFCookie(w, token)
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// startSession sets the session and csrf cookies. Tokens never appear in the
// body.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID string, tokens *guestauth.SessionTokens) {
	csrfToken, err := s.engine.IssueCSRFToken()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookies(w, tokens, time.Now())
	s.setCSRFCookie(w, csrfToken)
	middleware.WriteJSON(w, http.StatusOK, sessionResponse{
		UserID:          userID,
		AccessExpiresAt: tokens.AccessExpiresAt,
		CSRFToken:       csrfToken,
	})
}
