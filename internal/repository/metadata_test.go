package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
)

func TestGetMeta(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`SELECT value FROM metadata WHERE key = $1`)).
		WithArgs(MetaSchemaVersion).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("2"))
	mock.ExpectQuery(q(`SELECT value FROM metadata WHERE key = $1`)).
		WithArgs(MetaEncryptionSalt).
		WillReturnError(sql.ErrNoRows)

	v, err := repo.GetMeta(context.Background(), MetaSchemaVersion)
	if err != nil || v != "2" {
		t.Fatalf("GetMeta = %q, %v; want 2", v, err)
	}
	if _, err := repo.GetMeta(context.Background(), MetaEncryptionSalt); !errors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetMeta_UpsertsInKeyOrder(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	upsert := q(`INSERT INTO metadata (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	mock.ExpectBegin()
	mock.ExpectExec(upsert).WithArgs(MetaEncryptionSalt, "c2FsdA==").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsert).WithArgs(MetaKDFParams, "argon2id$v=19$m=65536,t=3,p=4").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsert).WithArgs(MetaSchemaVersion, "2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetMeta(context.Background(), map[string]string{
		MetaSchemaVersion:  "2",
		MetaKDFParams:      "argon2id$v=19$m=65536,t=3,p=4",
		MetaEncryptionSalt: "c2FsdA==",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetMeta_RollsBackOnError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO metadata`)).WillReturnError(errors.New("readonly database"))
	mock.ExpectRollback()

	err := repo.SetMeta(context.Background(), map[string]string{MetaStoreID: "x"})
	if !errors.Is(err, kerrors.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetAllMeta(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`SELECT key, value FROM metadata`)).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("a", "1").AddRow("b", "2"))

	meta, err := repo.GetAllMeta(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meta) != 2 || meta["b"] != "2" {
		t.Errorf("meta = %v", meta)
	}
}
