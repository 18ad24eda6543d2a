package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrEthical07/guestauth/internal/dbx"
	"github.com/MrEthical07/guestauth/twofactor"
)

const (
	statePending = "pending"
	stateEnabled = "enabled"
)

// TwoFactorStore implements twofactor.Store. Backup code hashes live in
// their own table so consuming one is a single-row DELETE.
type TwoFactorStore struct {
	db *sql.DB
}

func NewTwoFactorStore(db *sql.DB) *TwoFactorStore {
	return &TwoFactorStore{db: db}
}

func (s *TwoFactorStore) Get(ctx context.Context, userID string) (twofactor.Record, error) {
	query :=
		`SELECT state, method, secret, created_at, verified_at FROM two_factor
		 WHERE user_id = $1`

	var (
		state, method, secret string
		createdAt             sql.NullTime
		verifiedAt            sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&state, &method, &secret, &createdAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return twofactor.Record{UserID: userID, State: twofactor.None{}}, nil
		}
		return twofactor.Record{}, fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
	}

	switch state {
	case statePending:
		return twofactor.Record{UserID: userID, State: twofactor.Pending{
			Method:    twofactor.Method(method),
			Secret:    secret,
			CreatedAt: createdAt.Time,
		}}, nil
	case stateEnabled:
		hashes, err := s.backupCodes(ctx, userID)
		if err != nil {
			return twofactor.Record{}, err
		}
		return twofactor.Record{UserID: userID, State: twofactor.Enabled{
			Method:           twofactor.Method(method),
			Secret:           secret,
			BackupCodeHashes: hashes,
			VerifiedAt:       verifiedAt.Time,
		}}, nil
	default:
		return twofactor.Record{}, fmt.Errorf("%w: unknown state %q", twofactor.ErrBackendUnavailable, state)
	}
}

func (s *TwoFactorStore) backupCodes(ctx context.Context, userID string) ([]string, error) {
	query :=
		`SELECT code_hash FROM two_factor_backup_codes
		 WHERE user_id = $1
		 ORDER BY code_hash`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
	}
	return hashes, nil
}

// SavePending upserts the pending setup unless the row is enabled.
func (s *TwoFactorStore) SavePending(ctx context.Context, userID string, p twofactor.Pending) error {
	query :=
		`INSERT INTO two_factor (user_id, state, method, secret, created_at, verified_at)
		 VALUES ($1, 'pending', $2, $3, $4, NULL)
		 ON CONFLICT (user_id) DO UPDATE
		 SET state = 'pending', method = EXCLUDED.method, secret = EXCLUDED.secret,
		     created_at = EXCLUDED.created_at, verified_at = NULL
		 WHERE two_factor.state <> 'enabled'`

	res, err := s.db.ExecContext(ctx, query, userID, string(p.Method), p.Secret, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
	}
	if dbx.RowsAffected(res) == 0 {
		return twofactor.ErrAlreadyEnabled
	}
	return nil
}

// Enable flips a pending row to enabled and replaces its backup codes in
// one transaction.
func (s *TwoFactorStore) Enable(ctx context.Context, userID string, e twofactor.Enabled) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		update :=
			`UPDATE two_factor
			 SET state = 'enabled', method = $2, secret = $3, verified_at = $4
			 WHERE user_id = $1 AND state = 'pending'`

		res, err := tx.ExecContext(ctx, update, userID, string(e.Method), e.Secret, e.VerifiedAt.UTC())
		if err != nil {
			return err
		}
		if dbx.RowsAffected(res) == 0 {
			return twofactor.ErrNotPending
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
		for _, h := range e.BackupCodeHashes {
			insert := `INSERT INTO two_factor_backup_codes (user_id, code_hash) VALUES ($1, $2)`
			if _, err := tx.ExecContext(ctx, insert, userID, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, twofactor.ErrNotPending) {
			return err
		}
		return fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
	}
	return nil
}

// ConsumeBackupCode deletes one matching code. Concurrent callers race on
// the row; exactly one sees a deleted row.
func (s *TwoFactorStore) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	query :=
		`DELETE FROM two_factor_backup_codes
		 WHERE user_id = $1 AND code_hash = $2`

	res, err := s.db.ExecContext(ctx, query, userID, hash)
	if err != nil {
		return false, fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
	}
	return dbx.RowsAffected(res) == 1, nil
}

func (s *TwoFactorStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM two_factor WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%w: db error: %v", twofactor.ErrBackendUnavailable, err)
	}
	return nil
}
