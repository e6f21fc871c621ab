package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/atinyakov/tinysecrets/internal/crypto"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"github.com/atinyakov/tinysecrets/internal/models"
	"github.com/atinyakov/tinysecrets/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Export packages every secret of project/environment into a bundle. The
// envelopes are copied as stored; nothing is decrypted.
func (s *Store) Export(ctx context.Context, project, environment string) (*models.ExportBundle, error) {
	entries, err := s.repo.ListSecrets(ctx, models.Filter{Project: project, Environment: environment})
	if err != nil {
		return nil, err
	}

	bundle := &models.ExportBundle{
		Version:                models.BundleVersion,
		ID:                     uuid.NewString(),
		SourceStore:            s.id,
		Project:                project,
		Environment:            environment,
		PassphraseVerification: s.verification,
		ExportedAt:             s.now().UTC(),
		Secrets:                make([]models.ExportedSecret, 0, len(entries)),
	}
	for _, e := range entries {
		bundle.Secrets = append(bundle.Secrets, models.ExportedSecret{
			Key:            e.Key,
			EncryptedValue: e.EncryptedValue,
			Description:    e.Description,
			Version:        e.Version,
		})
	}

	s.log.Info("bundle exported",
		zap.String("project", project),
		zap.String("environment", environment),
		zap.Int("count", len(bundle.Secrets)))
	return bundle, nil
}

// Import writes every secret of bundle into its project/environment.
//
// The bundle's verification token is checked against the store passphrase
// first; on mismatch kerrors.ErrPassphraseMismatch is returned and nothing is
// written. Every envelope is then decrypted before any write, and all values
// are re-encrypted and stored in a single transaction, each as the next
// version of its destination identity. Returns the number of secrets imported.
func (s *Store) Import(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	if bundle.Version != models.BundleVersion {
		return 0, fmt.Errorf("%w: %d", kerrors.ErrUnsupportedBundle, bundle.Version)
	}
	if !crypto.Verify(s.session.Passphrase(), bundle.PassphraseVerification) {
		return 0, kerrors.ErrPassphraseMismatch
	}

	at := s.now()
	puts := make([]repository.Put, 0, len(bundle.Secrets))
	for _, secret := range bundle.Secrets {
		id := models.Identity{Project: bundle.Project, Environment: bundle.Environment, Key: secret.Key}

		value, err := s.session.Decrypt(secret.EncryptedValue)
		if err != nil {
			if bundle.SourceStore != "" && bundle.SourceStore != s.id {
				s.log.Warn("bundle envelope from another store",
					append(identityFields(id), zap.String("source_store", bundle.SourceStore))...)
			}
			return 0, fmt.Errorf("decrypt bundled %s: %w", id, err)
		}
		if value == "" {
			return 0, fmt.Errorf("bundled %s: %w", id, kerrors.ErrEmptyValue)
		}

		envelope, err := s.session.Encrypt(value)
		if err != nil {
			return 0, err
		}
		puts = append(puts, repository.Put{
			Identity:       id,
			EncryptedValue: envelope,
			Description:    secret.Description,
			At:             at,
		})
	}

	if len(puts) == 0 {
		return 0, nil
	}
	if _, err := s.repo.PutSecrets(ctx, puts); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	s.log.Info("bundle imported",
		zap.String("project", bundle.Project),
		zap.String("environment", bundle.Environment),
		zap.String("bundle_id", bundle.ID),
		zap.Int("count", len(puts)))
	return len(puts), nil
}

// EncodeBundle writes bundle as indented JSON.
func EncodeBundle(w io.Writer, bundle *models.ExportBundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	return nil
}

// DecodeBundle parses a bundle document. The version field is checked
// before the rest of the document is interpreted.
func DecodeBundle(data []byte) (*models.ExportBundle, error) {
	var header struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: bundle is not valid JSON: %v", kerrors.ErrFormat, err)
	}
	if header.Version == nil {
		return nil, fmt.Errorf("%w: missing version", kerrors.ErrUnsupportedBundle)
	}
	if *header.Version != models.BundleVersion {
		return nil, fmt.Errorf("%w: %d", kerrors.ErrUnsupportedBundle, *header.Version)
	}

	var bundle models.ExportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("%w: decode bundle: %v", kerrors.ErrFormat, err)
	}
	return &bundle, nil
}
