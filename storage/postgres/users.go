package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/internal/dbx"
)

// UserStore implements guestauth.UserStore.
type UserStore struct {
	db dbx.DBTX
}

func NewUserStore(db dbx.DBTX) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, u guestauth.UserRecord) error {
	query :=
		`INSERT INTO users (id, tenant_id, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.TenantID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return guestauth.ErrEmailTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*guestauth.UserRecord, error) {
	query :=
		`SELECT id, tenant_id, email, password_hash, created_at FROM users
		 WHERE lower(email) = $1`

	return s.scanOne(s.db.QueryRowContext(ctx, query, strings.ToLower(email)))
}

func (s *UserStore) GetUserByID(ctx context.Context, userID string) (*guestauth.UserRecord, error) {
	query :=
		`SELECT id, tenant_id, email, password_hash, created_at FROM users
		 WHERE id = $1`

	return s.scanOne(s.db.QueryRowContext(ctx, query, userID))
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	query := `UPDATE users SET password_hash = $2 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, userID, hash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if dbx.RowsAffected(res) == 0 {
		return guestauth.ErrNotFound
	}
	return nil
}

// DeleteUser removes the user; two-factor rows cascade.
func (s *UserStore) DeleteUser(ctx context.Context, userID string) error {
	query := `DELETE FROM users WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if dbx.RowsAffected(res) == 0 {
		return guestauth.ErrNotFound
	}
	return nil
}

func (s *UserStore) scanOne(row *sql.Row) (*guestauth.UserRecord, error) {
	u := &guestauth.UserRecord{}
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, guestauth.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}
