package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"github.com/atinyakov/tinysecrets/internal/models"
)

var (
	testID = models.Identity{Project: "api", Environment: "prod", Key: "DB_URL"}
	testAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
)

const testAtText = "2024-01-02T03:04:05Z"

func setupMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewSQLRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestGetSecret_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"encrypted_value", "description", "lineage", "created_at", "updated_at", "version"}).
		AddRow("env", "main db", "lin-1", testAtText, testAtText, int64(3))
	mock.ExpectQuery(q(`SELECT encrypted_value, description, lineage, created_at, updated_at, version FROM secrets`)).
		WithArgs("api", "prod", "DB_URL").
		WillReturnRows(rows)

	entry, err := repo.GetSecret(context.Background(), testID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Version != 3 || entry.EncryptedValue != "env" || entry.Lineage != "lin-1" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Description == nil || *entry.Description != "main db" {
		t.Errorf("description = %v; want main db", entry.Description)
	}
	if !entry.CreatedAt.Equal(testAt) {
		t.Errorf("created_at = %v; want %v", entry.CreatedAt, testAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetSecret_NotFound(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`FROM secrets`)).
		WithArgs("api", "prod", "DB_URL").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetSecret(context.Background(), testID)
	if !errors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSecret_StorageError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`FROM secrets`)).
		WithArgs("api", "prod", "DB_URL").
		WillReturnError(errors.New("disk I/O error"))

	_, err := repo.GetSecret(context.Background(), testID)
	if !errors.Is(err, kerrors.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestPutSecret_InsertsVersionOne(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT version FROM secrets`)).
		WithArgs("api", "prod", "DB_URL").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(q(`INSERT INTO secrets`)).
		WithArgs("api", "prod", "DB_URL", "env1", nil, sqlmock.AnyArg(), testAtText).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	v, err := repo.PutSecret(context.Background(), Put{Identity: testID, EncryptedValue: "env1", At: testAt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("version = %d; want 1", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPutSecret_ArchivesAndBumpsVersion(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	desc := "rotated"
	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT version FROM secrets`)).
		WithArgs("api", "prod", "DB_URL").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectExec(q(`INSERT INTO secret_history`)).
		WithArgs("api", "prod", "DB_URL", 2).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(q(`UPDATE secrets SET encrypted_value = $1, description = COALESCE($2, description)`)).
		WithArgs("env3", desc, testAtText, "api", "prod", "DB_URL", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := repo.PutSecret(context.Background(), Put{Identity: testID, EncryptedValue: "env3", Description: &desc, At: testAt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 3 {
		t.Errorf("version = %d; want 3", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPutSecret_ConcurrentChange(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT version FROM secrets`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectExec(q(`INSERT INTO secret_history`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q(`UPDATE secrets`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.PutSecret(context.Background(), Put{Identity: testID, EncryptedValue: "x", At: testAt})
	if !errors.Is(err, kerrors.ErrRowChanged) {
		t.Errorf("expected ErrRowChanged, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPutSecrets_RollsBackOnFailure(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	other := models.Identity{Project: "api", Environment: "prod", Key: "API_KEY"}
	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT version FROM secrets`)).
		WithArgs("api", "prod", "DB_URL").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(q(`INSERT INTO secrets`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(q(`SELECT version FROM secrets`)).
		WithArgs("api", "prod", "API_KEY").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(q(`INSERT INTO secrets`)).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err := repo.PutSecrets(context.Background(), []Put{
		{Identity: testID, EncryptedValue: "a", At: testAt},
		{Identity: other, EncryptedValue: "b", At: testAt},
	})
	if !errors.Is(err, kerrors.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPutSecrets_BeginError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(errors.New("begin fail"))

	_, err := repo.PutSecrets(context.Background(), []Put{{Identity: testID, EncryptedValue: "a"}})
	if err == nil || !regexp.MustCompile(`begin tx`).MatchString(err.Error()) {
		t.Errorf("expected begin tx error, got %v", err)
	}
}

func TestDeleteSecret_Absent(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(`updated_at, $1 FROM secrets WHERE project = $2 AND environment = $3 AND key = $4`)).
		WithArgs(testAtText, "api", "prod", "DB_URL").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	deleted, err := repo.DeleteSecret(context.Background(), testID, testAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Error("expected deleted = false for an absent identity")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteSecret_Present(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(q(`updated_at, $1 FROM secrets WHERE project = $2 AND environment = $3 AND key = $4`)).
		WithArgs(testAtText, "api", "prod", "DB_URL").
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectExec(q(`DELETE FROM secrets WHERE project = $1 AND environment = $2 AND key = $3`)).
		WithArgs("api", "prod", "DB_URL").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := repo.DeleteSecret(context.Background(), testID, testAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Error("expected deleted = true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetHistoryVersion(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`SELECT encrypted_value FROM secret_history`)).
		WithArgs("api", "prod", "DB_URL", 2, "lin-1").
		WillReturnRows(sqlmock.NewRows([]string{"encrypted_value"}).AddRow("old"))
	mock.ExpectQuery(q(`SELECT encrypted_value FROM secret_history`)).
		WithArgs("api", "prod", "DB_URL", 9, "").
		WillReturnError(sql.ErrNoRows)

	env, err := repo.GetHistoryVersion(context.Background(), testID, 2, "lin-1")
	if err != nil || env != "old" {
		t.Fatalf("GetHistoryVersion = %q, %v; want old", env, err)
	}
	if _, err := repo.GetHistoryVersion(context.Background(), testID, 9, ""); !errors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestHistory(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"encrypted_value", "lineage", "version", "created_at", "deleted_at"}).
		AddRow("v2", "lin", int64(2), testAtText, testAtText).
		AddRow("v1", "lin", int64(1), testAtText, nil)
	mock.ExpectQuery(q(`ORDER BY version DESC, id DESC LIMIT $4`)).
		WithArgs("api", "prod", "DB_URL", 10).
		WillReturnRows(rows)

	entries, err := repo.History(context.Background(), testID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].Deleted() || entries[1].Deleted() {
		t.Errorf("deleted flags = %v, %v; want true, false", entries[0].Deleted(), entries[1].Deleted())
	}
	if entries[0].Version != 2 || entries[1].Version != 1 {
		t.Errorf("versions = %d, %d; want 2, 1", entries[0].Version, entries[1].Version)
	}
}

func TestListSecrets_Filters(t *testing.T) {
	cases := []struct {
		name   string
		filter models.Filter
		query  string
		args   []any
	}{
		{"all", models.Filter{}, `WHERE 1=1 ORDER BY project`, nil},
		{"project", models.Filter{Project: "api"}, `WHERE 1=1 AND project = $1 ORDER BY`, []any{"api"}},
		{"both", models.Filter{Project: "api", Environment: "dev"}, `AND project = $1 AND environment = $2 ORDER BY`, []any{"api", "dev"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, cleanup := setupMock(t)
			defer cleanup()

			rows := sqlmock.NewRows([]string{"project", "environment", "key", "encrypted_value", "description", "lineage", "created_at", "updated_at", "version"}).
				AddRow("api", "dev", "A", "e", nil, "l", testAtText, testAtText, int64(1))
			exp := mock.ExpectQuery(q(tc.query))
			if tc.args != nil {
				var args []driver.Value
				for _, a := range tc.args {
					args = append(args, a)
				}
				exp = exp.WithArgs(args...)
			}
			exp.WillReturnRows(rows)

			entries, err := repo.ListSecrets(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(entries) != 1 || entries[0].Description != nil {
				t.Errorf("unexpected entries: %+v", entries)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestListProjects(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(q(`SELECT DISTINCT project FROM secrets ORDER BY project`)).
		WillReturnRows(sqlmock.NewRows([]string{"project"}).AddRow("api").AddRow("web"))

	projects, err := repo.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects) != 2 || projects[0] != "api" || projects[1] != "web" {
		t.Errorf("projects = %v", projects)
	}
}

func TestReplaceEnvelope(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(q(`UPDATE secrets SET encrypted_value = $1 WHERE id = $2 AND encrypted_value = $3`)).
		WithArgs("new", int64(5), "old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`UPDATE secrets SET encrypted_value = $1 WHERE id = $2 AND encrypted_value = $3`)).
		WithArgs("new", int64(6), "old").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.ReplaceEnvelope(context.Background(), 5, "old", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.ReplaceEnvelope(context.Background(), 6, "old", "new"); !errors.Is(err, kerrors.ErrRowChanged) {
		t.Errorf("expected ErrRowChanged, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
