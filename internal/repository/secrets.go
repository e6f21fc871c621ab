// Package repository provides the SQL persistence of the secret store:
// current secrets, their append-only history and store metadata.
//
// Every mutation that touches more than one row runs in a single
// transaction, so current and history state never diverge.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"github.com/atinyakov/tinysecrets/internal/models"
	"github.com/google/uuid"
)

// SQLRepository implements secret persistence against a SQLite or PostgreSQL database.
// Queries use $n placeholders, which both drivers accept when numbered in order of appearance.
type SQLRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewSQLRepository creates a new SQLRepository using the provided *sql.DB.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{DB: db}
}

// Put describes one write of a secret value.
type Put struct {
	models.Identity
	// EncryptedValue is the new envelope.
	EncryptedValue string
	// Description replaces the stored description when non-nil.
	Description *string
	// At is the write timestamp.
	At time.Time
}

// StoredEnvelope is a current row as seen by a full-table scan.
type StoredEnvelope struct {
	RowID int64
	models.Identity
	EncryptedValue string
}

// GetSecret fetches the current entry of id.
// Returns an error wrapping kerrors.ErrNotFound if the identity is absent.
func (r *SQLRepository) GetSecret(ctx context.Context, id models.Identity) (*models.SecretEntry, error) {
	entry := models.SecretEntry{Identity: id}
	var (
		description        sql.NullString
		createdAt, updated string
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT encrypted_value, description, lineage, created_at, updated_at, version FROM secrets
		WHERE project = $1 AND environment = $2 AND key = $3
	`, id.Project, id.Environment, id.Key).Scan(&entry.EncryptedValue, &description, &entry.Lineage, &createdAt, &updated, &entry.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("secret %s: %w", id, kerrors.ErrNotFound)
	}
	if err != nil {
		return nil, kerrors.Storage("GetSecret", err)
	}

	entry.Description = nullableString(description)
	entry.CreatedAt = parseTime(createdAt)
	entry.UpdatedAt = parseTime(updated)
	return &entry, nil
}

// PutSecret writes a new value for p.Identity in one transaction: an absent
// identity is inserted at version 1 with a fresh lineage, a present one is
// archived to history at its current version and overwritten at version+1.
//
// Returns the version now held by the current row.
func (r *SQLRepository) PutSecret(ctx context.Context, p Put) (int, error) {
	versions, err := r.PutSecrets(ctx, []Put{p})
	if err != nil {
		return 0, err
	}
	return versions[0], nil
}

// PutSecrets applies several puts in a single transaction; either every put
// is committed or none is.
func (r *SQLRepository) PutSecrets(ctx context.Context, puts []Put) ([]int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, kerrors.Storage("begin tx", err)
	}
	defer tx.Rollback()

	versions := make([]int, 0, len(puts))
	for _, p := range puts {
		v, err := putTx(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	if err := tx.Commit(); err != nil {
		return nil, kerrors.Storage("commit", err)
	}
	return versions, nil
}

func putTx(ctx context.Context, tx *sql.Tx, p Put) (int, error) {
	at := formatTime(p.At)

	var current int
	err := tx.QueryRowContext(ctx, `
		SELECT version FROM secrets WHERE project = $1 AND environment = $2 AND key = $3
	`, p.Project, p.Environment, p.Key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, kerrors.Storage("check version", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO secrets (project, environment, key, encrypted_value, description, lineage, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)
		`, p.Project, p.Environment, p.Key, p.EncryptedValue, nullString(p.Description), uuid.NewString(), at)
		if err != nil {
			return 0, kerrors.Storage("insert secret", err)
		}
		return 1, nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO secret_history (project, environment, key, encrypted_value, lineage, version, created_at)
		SELECT project, environment, key, encrypted_value, lineage, version, updated_at
		FROM secrets WHERE project = $1 AND environment = $2 AND key = $3 AND version = $4
	`, p.Project, p.Environment, p.Key, current)
	if err != nil {
		return 0, kerrors.Storage("archive secret", err)
	}
	if err := expectOneRow(res, "archive secret"); err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE secrets SET encrypted_value = $1, description = COALESCE($2, description), updated_at = $3, version = version + 1
		WHERE project = $4 AND environment = $5 AND key = $6 AND version = $7
	`, p.EncryptedValue, nullString(p.Description), at, p.Project, p.Environment, p.Key, current)
	if err != nil {
		return 0, kerrors.Storage("update secret", err)
	}
	if err := expectOneRow(res, "update secret"); err != nil {
		return 0, err
	}
	return current + 1, nil
}

// DeleteSecret archives the current row of id with deleted_at = at and
// removes it, in one transaction. Returns false if id was absent, in which
// case nothing is written.
func (r *SQLRepository) DeleteSecret(ctx context.Context, id models.Identity, at time.Time) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, kerrors.Storage("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO secret_history (project, environment, key, encrypted_value, lineage, version, created_at, deleted_at)
		SELECT project, environment, key, encrypted_value, lineage, version, updated_at, $1
		FROM secrets WHERE project = $2 AND environment = $3 AND key = $4
	`, formatTime(at), id.Project, id.Environment, id.Key)
	if err != nil {
		return false, kerrors.Storage("archive secret", err)
	}
	archived, err := res.RowsAffected()
	if err != nil {
		return false, kerrors.Storage("archive secret", err)
	}
	if archived == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		DELETE FROM secrets WHERE project = $1 AND environment = $2 AND key = $3
	`, id.Project, id.Environment, id.Key)
	if err != nil {
		return false, kerrors.Storage("delete secret", err)
	}
	if err := expectOneRow(res, "delete secret"); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, kerrors.Storage("commit", err)
	}
	return true, nil
}

// GetHistoryVersion returns the archived envelope of id at version. When
// lineage is non-empty only that lineage is searched; otherwise the most
// recently archived entry with that version wins.
// Returns an error wrapping kerrors.ErrNotFound if there is no such entry.
func (r *SQLRepository) GetHistoryVersion(ctx context.Context, id models.Identity, version int, lineage string) (string, error) {
	var envelope string
	err := r.DB.QueryRowContext(ctx, `
		SELECT encrypted_value FROM secret_history
		WHERE project = $1 AND environment = $2 AND key = $3 AND version = $4 AND ($5 = '' OR lineage = $5)
		ORDER BY id DESC LIMIT 1
	`, id.Project, id.Environment, id.Key, version, lineage).Scan(&envelope)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("secret %s version %d: %w", id, version, kerrors.ErrNotFound)
	}
	if err != nil {
		return "", kerrors.Storage("GetHistoryVersion", err)
	}
	return envelope, nil
}

// History returns up to limit archived entries of id by descending version.
// Equal versions from different lineages are ordered most recently archived first.
func (r *SQLRepository) History(ctx context.Context, id models.Identity, limit int) ([]models.SecretHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT encrypted_value, lineage, version, created_at, deleted_at FROM secret_history
		WHERE project = $1 AND environment = $2 AND key = $3
		ORDER BY version DESC, id DESC LIMIT $4
	`, id.Project, id.Environment, id.Key, limit)
	if err != nil {
		return nil, kerrors.Storage("History", err)
	}
	defer rows.Close()

	var entries []models.SecretHistoryEntry
	for rows.Next() {
		var (
			h         = models.SecretHistoryEntry{Identity: id}
			createdAt string
			deletedAt sql.NullString
		)
		if err := rows.Scan(&h.EncryptedValue, &h.Lineage, &h.Version, &createdAt, &deletedAt); err != nil {
			return nil, kerrors.Storage("scan", err)
		}
		h.CreatedAt = parseTime(createdAt)
		if deletedAt.Valid {
			t := parseTime(deletedAt.String)
			h.DeletedAt = &t
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.Storage("History", err)
	}
	return entries, nil
}

// ListSecrets returns current entries matching f ordered by project,
// environment and key.
func (r *SQLRepository) ListSecrets(ctx context.Context, f models.Filter) ([]models.SecretEntry, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT project, environment, key, encrypted_value, description, lineage, created_at, updated_at, version FROM secrets WHERE 1=1`)
	if f.Project != "" {
		args = append(args, f.Project)
		fmt.Fprintf(&query, " AND project = $%d", len(args))
	}
	if f.Environment != "" {
		args = append(args, f.Environment)
		fmt.Fprintf(&query, " AND environment = $%d", len(args))
	}
	query.WriteString(" ORDER BY project, environment, key")

	rows, err := r.DB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, kerrors.Storage("ListSecrets", err)
	}
	defer rows.Close()

	var entries []models.SecretEntry
	for rows.Next() {
		var (
			e                  models.SecretEntry
			description        sql.NullString
			createdAt, updated string
		)
		if err := rows.Scan(&e.Project, &e.Environment, &e.Key, &e.EncryptedValue, &description, &e.Lineage, &createdAt, &updated, &e.Version); err != nil {
			return nil, kerrors.Storage("scan", err)
		}
		e.Description = nullableString(description)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updated)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.Storage("ListSecrets", err)
	}
	return entries, nil
}

// ListProjects returns the distinct projects holding current secrets.
func (r *SQLRepository) ListProjects(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "ListProjects", `SELECT DISTINCT project FROM secrets ORDER BY project`)
}

// ListEnvironments returns the distinct environments of project.
func (r *SQLRepository) ListEnvironments(ctx context.Context, project string) ([]string, error) {
	return r.distinct(ctx, "ListEnvironments", `
		SELECT DISTINCT environment FROM secrets WHERE project = $1 ORDER BY environment
	`, project)
}

func (r *SQLRepository) distinct(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.Storage(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, kerrors.Storage("scan", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.Storage(op, err)
	}
	return out, nil
}

// CountSecrets returns the number of current secrets.
func (r *SQLRepository) CountSecrets(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM secrets`).Scan(&n); err != nil {
		return 0, kerrors.Storage("CountSecrets", err)
	}
	return n, nil
}

// ScanEnvelopes returns every current row's envelope in row order.
func (r *SQLRepository) ScanEnvelopes(ctx context.Context) ([]StoredEnvelope, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, project, environment, key, encrypted_value FROM secrets ORDER BY id
	`)
	if err != nil {
		return nil, kerrors.Storage("ScanEnvelopes", err)
	}
	defer rows.Close()

	var out []StoredEnvelope
	for rows.Next() {
		var s StoredEnvelope
		if err := rows.Scan(&s.RowID, &s.Project, &s.Environment, &s.Key, &s.EncryptedValue); err != nil {
			return nil, kerrors.Storage("scan", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.Storage("ScanEnvelopes", err)
	}
	return out, nil
}

// ReplaceEnvelope rewrites one row's envelope in place if it still holds
// old. Version, timestamps and history are untouched. Returns an error
// wrapping kerrors.ErrRowChanged if the row moved on since it was scanned.
func (r *SQLRepository) ReplaceEnvelope(ctx context.Context, rowID int64, old, replacement string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE secrets SET encrypted_value = $1 WHERE id = $2 AND encrypted_value = $3
	`, replacement, rowID, old)
	if err != nil {
		return kerrors.Storage("ReplaceEnvelope", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Storage("ReplaceEnvelope", err)
	}
	if n == 0 {
		return fmt.Errorf("row %d: %w", rowID, kerrors.ErrRowChanged)
	}
	return nil
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Storage(op, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %d rows affected: %w", op, n, kerrors.ErrRowChanged)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 with or without fractional seconds; stores
// written by older builds used plain RFC 3339.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
