package sqldb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/sakif/imagine/internal/model"
)

// FAILURE PATHS WITH go-sqlmock:
// SQLite rarely fails on demand, so the error branches are driven through a
// mocked driver instead. Passing "postgres" as the driver name makes Rebind
// produce $n placeholders, which lets the same tests check the postgres
// query shape.
func newMockDB(t *testing.T, driver string) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewWithConn(sqlx.NewDb(conn, driver)), mock
}

func TestDebit_PostgresPlaceholders(t *testing.T) {
	db, mock := newMockDB(t, DriverPostgres)

	mock.ExpectExec(`UPDATE profiles\s+SET credits = credits - \$1, updated_at = \$2\s+WHERE id = \$3 AND credits >= \$4`).
		WithArgs(1, sqlmock.AnyArg(), "user-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := db.Debit(context.Background(), "user-1", 1)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if !ok {
		t.Error("Debit() = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebit_StoreError(t *testing.T) {
	db, mock := newMockDB(t, "sqlmock")
	dbErr := errors.New("connection reset")

	mock.ExpectExec(`UPDATE profiles`).WillReturnError(dbErr)

	_, err := db.Debit(context.Background(), "user-1", 1)
	if !errors.Is(err, dbErr) {
		t.Errorf("Debit() error = %v, want wrapped %v", err, dbErr)
	}
}

// TestCompleteGeneration_RollsBack checks that a failed image insert undoes
// the status change: no half-completed generation is ever committed.
func TestCompleteGeneration_RollsBack(t *testing.T) {
	db, mock := newMockDB(t, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE generations SET status`).
		WithArgs(model.GenerationCompleted, sqlmock.AnyArg(), "gen-1", model.GenerationPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO images`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO images`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := db.CompleteGeneration(context.Background(), "gen-1", []model.Image{
		{UserID: "user-1", ImageURL: "https://cdn.example.com/a.webp"},
		{UserID: "user-1", ImageURL: "https://cdn.example.com/b.webp"},
	})
	if err == nil {
		t.Fatal("CompleteGeneration() should fail when an insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetProfile_StoreError(t *testing.T) {
	db, mock := newMockDB(t, "sqlmock")
	dbErr := errors.New("too many connections")

	mock.ExpectQuery(`SELECT id, email, credits`).WillReturnError(dbErr)

	_, err := db.GetProfile(context.Background(), "user-1")
	if !errors.Is(err, dbErr) {
		t.Errorf("GetProfile() error = %v, want wrapped %v", err, dbErr)
	}
}
