package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/guestauth/apitoken"
	"github.com/MrEthical07/guestauth/internal/dbx"
)

// APITokenStore implements apitoken.Store. Scopes are stored space-joined;
// scope names never contain spaces.
type APITokenStore struct {
	db dbx.DBTX
}

func NewAPITokenStore(db dbx.DBTX) *APITokenStore {
	return &APITokenStore{db: db}
}

func (s *APITokenStore) CreateApp(ctx context.Context, app apitoken.App) error {
	query :=
		`INSERT INTO api_apps (id, tenant_id, owner_user_id, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.ExecContext(ctx, query,
		app.ID, app.TenantID, app.OwnerUserID, app.Name, app.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *APITokenStore) GetApp(ctx context.Context, appID string) (*apitoken.App, error) {
	query :=
		`SELECT id, tenant_id, owner_user_id, name, created_at FROM api_apps
		 WHERE id = $1`

	app := &apitoken.App{}
	err := s.db.QueryRowContext(ctx, query, appID).
		Scan(&app.ID, &app.TenantID, &app.OwnerUserID, &app.Name, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apitoken.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return app, nil
}

// DeleteApp relies on ON DELETE CASCADE for the app's tokens.
func (s *APITokenStore) DeleteApp(ctx context.Context, appID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_apps WHERE id = $1`, appID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if dbx.RowsAffected(res) == 0 {
		return apitoken.ErrNotFound
	}
	return nil
}

func (s *APITokenStore) CreateToken(ctx context.Context, t apitoken.Token) error {
	query :=
		`INSERT INTO api_tokens
		   (id, app_id, name, token_hash, prefix, scopes, expires_at, last_used_at, revoked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8)`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.AppID, t.Name, t.Hash, t.Prefix, joinScopes(t.Scopes), nullTime(t.ExpiresAt), t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *APITokenStore) FindByHash(ctx context.Context, hash string) (*apitoken.Token, *apitoken.App, error) {
	query :=
		`SELECT t.id, t.app_id, t.name, t.token_hash, t.prefix, t.scopes,
		        t.expires_at, t.last_used_at, t.revoked_at, t.created_at,
		        a.id, a.tenant_id, a.owner_user_id, a.name, a.created_at
		 FROM api_tokens t
		 JOIN api_apps a ON a.id = t.app_id
		 WHERE t.token_hash = $1`

	var (
		t                         apitoken.Token
		app                       apitoken.App
		scopes                    string
		expires, lastUsed, revoke sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&t.ID, &t.AppID, &t.Name, &t.Hash, &t.Prefix, &scopes,
		&expires, &lastUsed, &revoke, &t.CreatedAt,
		&app.ID, &app.TenantID, &app.OwnerUserID, &app.Name, &app.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apitoken.ErrNotFound
		}
		return nil, nil, fmt.Errorf("db error: %w", err)
	}
	t.Scopes = splitScopes(scopes)
	t.ExpiresAt = timePtr(expires)
	t.LastUsedAt = timePtr(lastUsed)
	t.RevokedAt = timePtr(revoke)
	return &t, &app, nil
}

func (s *APITokenStore) ListTokens(ctx context.Context, appID string) ([]apitoken.Token, error) {
	if _, err := s.GetApp(ctx, appID); err != nil {
		return nil, err
	}

	query :=
		`SELECT id, app_id, name, token_hash, prefix, scopes,
		        expires_at, last_used_at, revoked_at, created_at
		 FROM api_tokens
		 WHERE app_id = $1
		 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]apitoken.Token, 0)
	for rows.Next() {
		var (
			t                         apitoken.Token
			scopes                    string
			expires, lastUsed, revoke sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.AppID, &t.Name, &t.Hash, &t.Prefix, &scopes,
			&expires, &lastUsed, &revoke, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		t.Scopes = splitScopes(scopes)
		t.ExpiresAt = timePtr(expires)
		t.LastUsedAt = timePtr(lastUsed)
		t.RevokedAt = timePtr(revoke)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// RevokeToken keeps the first revocation stamp.
func (s *APITokenStore) RevokeToken(ctx context.Context, appID, tokenID string, at time.Time) error {
	query :=
		`UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, $3)
		 WHERE app_id = $1 AND id = $2`

	res, err := s.db.ExecContext(ctx, query, appID, tokenID, at.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if dbx.RowsAffected(res) == 0 {
		return apitoken.ErrNotFound
	}
	return nil
}

func (s *APITokenStore) TouchLastUsed(ctx context.Context, tokenID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, tokenID, at.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if dbx.RowsAffected(res) == 0 {
		return apitoken.ErrNotFound
	}
	return nil
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(s string) []string {
	return strings.Fields(s)
}
