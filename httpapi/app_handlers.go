package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/middleware"
)

type appResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type issuedResponse struct {
	tokenResponse
	// Token is shown exactly once.
	Token string `json:"token"`
}

func tokenView(t apitoken.Token) tokenResponse {
	return tokenResponse{
		ID:         t.ID,
		Name:       t.Name,
		Prefix:     t.Prefix,
		Scopes:     t.Scopes,
		ExpiresAt:  t.ExpiresAt,
		LastUsedAt: t.LastUsedAt,
		RevokedAt:  t.RevokedAt,
		CreatedAt:  t.CreatedAt,
	}
}

func (s *Server) listScopes(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string][]string{"scopes": s.engine.Scopes()})
}

func (s *Server) createApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	c := caller(r)
	app, err := s.engine.CreateApp(r.Context(), c.TenantID(), c.UserID(), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, appResponse{ID: app.ID, TenantID: app.TenantID, Name: app.Name, CreatedAt: app.CreatedAt})
}

func (s *Server) deleteApp(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteApp(r.Context(), caller(r).TenantID(), chi.URLParam(r, "appID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.engine.ListAPITokens(r.Context(), caller(r).TenantID(), chi.URLParam(r, "appID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenView(t))
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string   `json:"name"`
		Scopes        []string `json:"scopes"`
		ExpiresInDays int      `json:"expires_in_days"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	issued, err := s.engine.IssueAPIToken(r.Context(), caller(r).TenantID(), chi.URLParam(r, "appID"), req.Name, req.Scopes, req.ExpiresInDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, issuedResponse{tokenResponse: tokenView(issued.Token), Token: issued.Plaintext})
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	err := s.engine.RevokeAPIToken(r.Context(), caller(r).TenantID(), chi.URLParam(r, "appID"), chi.URLParam(r, "tokenID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
