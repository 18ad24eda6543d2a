package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/guestauth/apitoken"
)

const (
	selectAppQ   = `(?s)^SELECT\s+id,\s*tenant_id,\s*owner_user_id,\s*name,\s*created_at\s+FROM\s+api_apps\s+WHERE\s+id\s*=\s*\$1\s*$`
	findByHashQ  = `(?s)^SELECT\s+t\.id,.*FROM\s+api_tokens\s+t\s+JOIN\s+api_apps\s+a\s+ON\s+a\.id\s*=\s*t\.app_id\s+WHERE\s+t\.token_hash\s*=\s*\$1\s*$`
	listTokensQ  = `(?s)^SELECT\s+id,\s*app_id,.*FROM\s+api_tokens\s+WHERE\s+app_id\s*=\s*\$1\s+ORDER\s+BY\s+id\s*$`
	insertTokenQ = `(?s)^INSERT\s+INTO\s+api_tokens\s*\(.*\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*NULL,\s*NULL,\s*\$8\)\s*$`
	revokeQ      = `(?s)^UPDATE\s+api_tokens\s+SET\s+revoked_at\s*=\s*COALESCE\(revoked_at,\s*\$3\)\s+WHERE\s+app_id\s*=\s*\$1\s+AND\s+id\s*=\s*\$2\s*$`
)

var tokenColumns = []string{"id", "app_id", "name", "token_hash", "prefix", "scopes",
	"expires_at", "last_used_at", "revoked_at", "created_at"}

func TestCreateToken_JoinsScopes(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	exp := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(insertTokenQ).
		WithArgs("tok-1", "app-1", "ci", "hash", "gbk_abcd", "entries:read entries:write", exp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateToken(context.Background(), apitoken.Token{
		ID: "tok-1", AppID: "app-1", Name: "ci", Hash: "hash", Prefix: "gbk_abcd",
		Scopes: []string{"entries:read", "entries:write"}, ExpiresAt: &exp, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHash_ScansTokenAndApp(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	revoked := created.Add(time.Hour)
	rows := sqlmock.NewRows(append(append([]string{}, tokenColumns...),
		"a_id", "tenant_id", "owner_user_id", "a_name", "a_created_at")).
		AddRow("tok-1", "app-1", "ci", "hash", "gbk_abcd", "entries:read",
			nil, nil, revoked, created,
			"app-1", "t-1", "u-1", "CI", created)
	mock.ExpectQuery(findByHashQ).WithArgs("hash").WillReturnRows(rows)

	tok, app, err := store.FindByHash(context.Background(), "hash")
	require.NoError(t, err)
	require.Equal(t, []string{"entries:read"}, tok.Scopes)
	require.Nil(t, tok.ExpiresAt)
	require.Nil(t, tok.LastUsedAt)
	require.NotNil(t, tok.RevokedAt)
	require.True(t, tok.RevokedAt.Equal(revoked))
	require.Equal(t, "t-1", app.TenantID)
	require.Equal(t, "u-1", app.OwnerUserID)
}

func TestFindByHash_NotFound(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	mock.ExpectQuery(findByHashQ).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, _, err := store.FindByHash(context.Background(), "nope")
	require.ErrorIs(t, err, apitoken.ErrNotFound)
}

func TestListTokens_MissingApp(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	mock.ExpectQuery(selectAppQ).WithArgs("app-x").WillReturnError(sql.ErrNoRows)

	_, err := store.ListTokens(context.Background(), "app-x")
	require.ErrorIs(t, err, apitoken.ErrNotFound)
}

func TestListTokens(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(selectAppQ).WithArgs("app-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "tenant_id", "owner_user_id", "name", "created_at"}).
			AddRow("app-1", "t-1", "u-1", "CI", created))
	mock.ExpectQuery(listTokensQ).WithArgs("app-1").WillReturnRows(
		sqlmock.NewRows(tokenColumns).
			AddRow("tok-1", "app-1", "a", "h1", "gbk_1", "entries:read", nil, nil, nil, created).
			AddRow("tok-2", "app-1", "b", "h2", "gbk_2", "", nil, created, nil, created))

	got, err := store.ListTokens(context.Background(), "app-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "tok-1", got[0].ID)
	require.Empty(t, got[1].Scopes)
	require.NotNil(t, got[1].LastUsedAt)
}

func TestRevokeToken(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	mock.ExpectExec(revokeQ).WithArgs("app-1", "tok-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(revokeQ).WithArgs("app-2", "tok-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.RevokeToken(context.Background(), "app-1", "tok-1", time.Now()))
	require.ErrorIs(t, store.RevokeToken(context.Background(), "app-2", "tok-1", time.Now()), apitoken.ErrNotFound)
}

func TestDeleteApp_NotFound(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+api_apps\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("app-1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, store.DeleteApp(context.Background(), "app-1"), apitoken.ErrNotFound)
}

func TestCreateApp_DBError(t *testing.T) {
	mock, db := newMock(t)
	store := NewAPITokenStore(db)

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+api_apps`).WillReturnError(errors.New("db down"))

	err := store.CreateApp(context.Background(), apitoken.App{ID: "app-1"})
	require.ErrorContains(t, err, "db error: db down")
}
