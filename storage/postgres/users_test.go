package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/guestauth"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return mock, db
}

const insertUserQ = `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*tenant_id,\s*email,\s*password_hash,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*$`

func TestCreateUser_LowercasesEmail(t *testing.T) {
	mock, db := newMock(t)
	store := NewUserStore(db)

	mock.ExpectExec(insertUserQ).
		WithArgs("u-1", "t-1", "alice@example.com", "hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateUser(context.Background(), guestauth.UserRecord{
		ID: "u-1", TenantID: "t-1", Email: "Alice@Example.com", PasswordHash: "hash", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUser_UniqueViolationMapsToEmailTaken(t *testing.T) {
	mock, db := newMock(t)
	store := NewUserStore(db)

	mock.ExpectExec(insertUserQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := store.CreateUser(context.Background(), guestauth.UserRecord{ID: "u-1", Email: "a@b.c"})
	if !errors.Is(err, guestauth.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestCreateUser_DBError(t *testing.T) {
	mock, db := newMock(t)
	store := NewUserStore(db)

	mock.ExpectExec(insertUserQ).WillReturnError(errors.New("db down"))

	err := store.CreateUser(context.Background(), guestauth.UserRecord{ID: "u-1", Email: "a@b.c"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetUserByEmail_Found(t *testing.T) {
	mock, db := newMock(t)
	store := NewUserStore(db)

	q := `(?s)^SELECT\s+id,\s*tenant_id,\s*email,\s*password_hash,\s*created_at\s+FROM\s+users\s+WHERE\s+lower\(email\)\s*=\s*\$1\s*$`
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "email", "password_hash", "created_at"}).
		AddRow("u-1", "t-1", "alice@example.com", "hash", created)
	mock.ExpectQuery(q).WithArgs("alice@example.com").WillReturnRows(rows)

	got, err := store.GetUserByEmail(context.Background(), "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail error: %v", err)
	}
	if got.ID != "u-1" || got.TenantID != "t-1" || got.PasswordHash != "hash" || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	mock, db := newMock(t)
	store := NewUserStore(db)

	q := `(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectQuery(q).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := store.GetUserByID(context.Background(), "missing")
	if !errors.Is(err, guestauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	mock, db := newMock(t)
	store := NewUserStore(db)

	q := `(?s)^UPDATE\s+users\s+SET\s+password_hash\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs("u-1", "new").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("gone", "new").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdatePasswordHash(context.Background(), "u-1", "new"); err != nil {
		t.Fatalf("UpdatePasswordHash error: %v", err)
	}
	if err := store.UpdatePasswordHash(context.Background(), "gone", "new"); !errors.Is(err, guestauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	mock, db := newMock(t)
	store := NewUserStore(db)

	q := `(?s)^DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteUser(context.Background(), "u-1"); err != nil {
		t.Fatalf("DeleteUser error: %v", err)
	}
	if err := store.DeleteUser(context.Background(), "u-1"); !errors.Is(err, guestauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
