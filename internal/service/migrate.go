package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/atinyakov/tinysecrets/internal/crypto"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"github.com/atinyakov/tinysecrets/internal/models"
	"go.uber.org/zap"
)

// MigrationFailure records one row that could not be migrated.
type MigrationFailure struct {
	models.Identity
	Err error
}

func (f MigrationFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Identity, f.Err)
}

// MigrationResult summarizes a MigrateAll run.
type MigrationResult struct {
	// Migrated counts rows rewritten from the legacy format.
	Migrated int
	// AlreadyCurrent counts rows that needed no work.
	AlreadyCurrent int
	// Failed lists rows left untouched because their envelope could not be
	// parsed or decrypted, or changed while being migrated.
	Failed []MigrationFailure
}

// MigrateAll rewrites every current legacy envelope in the current format.
// Each row is swapped on its own, so an interrupted run keeps the rows it
// already migrated and is safe to re-run. Format and decryption failures are
// recorded in the result and the scan continues; a storage failure stops the
// scan and is returned along with the progress so far. History is not touched.
func (s *Store) MigrateAll(ctx context.Context) (MigrationResult, error) {
	var res MigrationResult

	rows, err := s.repo.ScanEnvelopes(ctx)
	if err != nil {
		return res, err
	}

	for _, row := range rows {
		current, err := crypto.IsCurrent(row.EncryptedValue)
		if err != nil {
			res.fail(s.log, row.Identity, err)
			continue
		}
		if current {
			res.AlreadyCurrent++
			continue
		}

		value, err := s.session.Decrypt(row.EncryptedValue)
		if err != nil {
			res.fail(s.log, row.Identity, err)
			continue
		}
		envelope, err := s.session.Encrypt(value)
		if err != nil {
			return res, err
		}

		err = s.repo.ReplaceEnvelope(ctx, row.RowID, row.EncryptedValue, envelope)
		switch {
		case errors.Is(err, kerrors.ErrRowChanged):
			res.fail(s.log, row.Identity, err)
			continue
		case err != nil:
			return res, fmt.Errorf("migrate %s: %w", row.Identity, err)
		}

		res.Migrated++
		s.log.Debug("secret migrated", identityFields(row.Identity)...)
	}

	s.log.Info("migration finished",
		zap.Int("migrated", res.Migrated),
		zap.Int("already_current", res.AlreadyCurrent),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (r *MigrationResult) fail(log *zap.Logger, id models.Identity, err error) {
	r.Failed = append(r.Failed, MigrationFailure{Identity: id, Err: err})
	log.Warn("secret not migrated", append(identityFields(id), zap.Error(err))...)
}
