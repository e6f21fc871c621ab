package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
)

// Metadata keys.
const (
	MetaSchemaVersion          = "schema_version"
	MetaEncryptionSalt         = "encryption_salt"
	MetaPassphraseVerification = "passphrase_verification"
	MetaKDFParams              = "kdf_params"
	MetaStoreID                = "store_id"
	MetaCreatedAt              = "created_at"
)

// GetMeta returns the metadata value stored under key.
// Returns an error wrapping kerrors.ErrNotFound if the key is absent.
func (r *SQLRepository) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("metadata %q: %w", key, kerrors.ErrNotFound)
	}
	if err != nil {
		return "", kerrors.Storage("GetMeta", err)
	}
	return value, nil
}

// GetAllMeta returns every metadata pair.
func (r *SQLRepository) GetAllMeta(ctx context.Context) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, kerrors.Storage("GetAllMeta", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, kerrors.Storage("scan", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.Storage("GetAllMeta", err)
	}
	return meta, nil
}

// SetMeta upserts every pair of values in one transaction, in key order.
func (r *SQLRepository) SetMeta(ctx context.Context, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.Storage("begin tx", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`, k, values[k])
		if err != nil {
			return kerrors.Storage("set metadata", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return kerrors.Storage("commit", err)
	}
	return nil
}
