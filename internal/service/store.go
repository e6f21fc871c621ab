// Package service implements the versioned secret store on top of the
// crypto engine and a transactional repository.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/tinysecrets/internal/crypto"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"github.com/atinyakov/tinysecrets/internal/models"
	"github.com/atinyakov/tinysecrets/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metadata schema versions.
const (
	// schemaAgeOnly stores predate per-store salts; every value was age encrypted.
	schemaAgeOnly = "1"
	schemaCurrent = "2"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit.
const DefaultHistoryLimit = 10

// Repository defines the persistence operations needed by the Store.
type Repository interface {
	// GetSecret returns the current entry or an error wrapping ErrNotFound.
	GetSecret(ctx context.Context, id models.Identity) (*models.SecretEntry, error)
	// PutSecret archives any current entry and writes the next version.
	PutSecret(ctx context.Context, p repository.Put) (int, error)
	// PutSecrets applies several puts in one transaction.
	PutSecrets(ctx context.Context, puts []repository.Put) ([]int, error)
	// DeleteSecret archives and removes the current entry; false if absent.
	DeleteSecret(ctx context.Context, id models.Identity, at time.Time) (bool, error)
	// GetHistoryVersion returns an archived envelope, optionally within one lineage.
	GetHistoryVersion(ctx context.Context, id models.Identity, version int, lineage string) (string, error)
	// History returns archived entries, most recent first.
	History(ctx context.Context, id models.Identity, limit int) ([]models.SecretHistoryEntry, error)
	// ListSecrets returns current entries ordered by project, environment, key.
	ListSecrets(ctx context.Context, f models.Filter) ([]models.SecretEntry, error)
	ListProjects(ctx context.Context) ([]string, error)
	ListEnvironments(ctx context.Context, project string) ([]string, error)
	CountSecrets(ctx context.Context) (int, error)
	// ScanEnvelopes returns every current envelope with its row ID.
	ScanEnvelopes(ctx context.Context) ([]repository.StoredEnvelope, error)
	// ReplaceEnvelope swaps one row's envelope if it still holds old.
	ReplaceEnvelope(ctx context.Context, rowID int64, old, replacement string) error
	GetMeta(ctx context.Context, key string) (string, error)
	GetAllMeta(ctx context.Context) (map[string]string, error)
	SetMeta(ctx context.Context, values map[string]string) error
}

// Store is an open secret store. It holds the session key material until Close.
type Store struct {
	repo    Repository
	session *crypto.Session
	log     *zap.Logger
	now     func() time.Time

	id           string
	verification string
}

// Init creates a new store in repo protected by passphrase: a fresh salt,
// the KDF parameters, a verification token and a store ID are written to
// metadata. Returns kerrors.ErrAlreadyInitialized if repo already holds a store.
func Init(ctx context.Context, repo Repository, passphrase []byte, opts ...Option) (*Store, error) {
	o := buildOptions(opts)

	_, err := repo.GetMeta(ctx, repository.MetaSchemaVersion)
	switch {
	case err == nil:
		return nil, kerrors.ErrAlreadyInitialized
	case !errors.Is(err, kerrors.ErrNotFound):
		return nil, err
	}

	if err := o.kdf.Validate(); err != nil {
		return nil, err
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	token, err := crypto.NewVerificationToken(passphrase, o.workFactor)
	if err != nil {
		return nil, fmt.Errorf("create verification token: %w", err)
	}
	key, err := crypto.DeriveKey(passphrase, salt, o.kdf)
	if err != nil {
		return nil, err
	}

	storeID := uuid.NewString()
	err = repo.SetMeta(ctx, map[string]string{
		repository.MetaSchemaVersion:          schemaCurrent,
		repository.MetaEncryptionSalt:         base64.StdEncoding.EncodeToString(salt),
		repository.MetaKDFParams:              o.kdf.String(),
		repository.MetaPassphraseVerification: token,
		repository.MetaStoreID:                storeID,
		repository.MetaCreatedAt:              o.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		key.Destroy()
		return nil, err
	}

	o.log.Info("store initialized", zap.String("store_id", storeID), zap.String("kdf", o.kdf.String()))
	return newStore(repo, crypto.NewSession(key, passphrase), o, storeID, token), nil
}

// Open unlocks the store in repo. The passphrase is checked against the
// verification token before any secret is touched; a wrong passphrase
// returns kerrors.ErrInvalidPassphrase. Stores from the age-only era are
// upgraded to the current metadata schema once the passphrase verifies.
func Open(ctx context.Context, repo Repository, passphrase []byte, opts ...Option) (*Store, error) {
	o := buildOptions(opts)

	meta, err := repo.GetAllMeta(ctx)
	if err != nil {
		return nil, err
	}
	schema, ok := meta[repository.MetaSchemaVersion]
	if !ok {
		return nil, kerrors.ErrNotInitialized
	}

	token := meta[repository.MetaPassphraseVerification]
	if !crypto.Verify(passphrase, token) {
		return nil, kerrors.ErrInvalidPassphrase
	}

	switch schema {
	case schemaAgeOnly:
		if meta, err = upgradeMeta(ctx, repo, meta, o); err != nil {
			return nil, err
		}
	case schemaCurrent:
	default:
		return nil, fmt.Errorf("%w: schema version %q", kerrors.ErrCorruptMetadata, schema)
	}

	salt, err := base64.StdEncoding.DecodeString(meta[repository.MetaEncryptionSalt])
	if err != nil || len(salt) != crypto.SaltSize {
		return nil, fmt.Errorf("%w: encryption salt", kerrors.ErrCorruptMetadata)
	}
	params := crypto.DefaultKDF
	if raw, ok := meta[repository.MetaKDFParams]; ok {
		if params, err = crypto.ParseKDFParams(raw); err != nil {
			return nil, err
		}
	}
	key, err := crypto.DeriveKey(passphrase, salt, params)
	if err != nil {
		return nil, err
	}

	return newStore(repo, crypto.NewSession(key, passphrase), o, meta[repository.MetaStoreID], token), nil
}

// upgradeMeta moves a schema 1 store to schema 2 in one metadata transaction.
func upgradeMeta(ctx context.Context, repo Repository, meta map[string]string, o options) (map[string]string, error) {
	if err := o.kdf.Validate(); err != nil {
		return nil, err
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}

	update := map[string]string{
		repository.MetaSchemaVersion:  schemaCurrent,
		repository.MetaEncryptionSalt: base64.StdEncoding.EncodeToString(salt),
		repository.MetaKDFParams:      o.kdf.String(),
	}
	if meta[repository.MetaStoreID] == "" {
		update[repository.MetaStoreID] = uuid.NewString()
	}
	if err := repo.SetMeta(ctx, update); err != nil {
		return nil, fmt.Errorf("upgrade metadata: %w", err)
	}

	for k, v := range update {
		meta[k] = v
	}
	o.log.Info("store metadata upgraded", zap.String("from", schemaAgeOnly), zap.String("to", schemaCurrent))
	return meta, nil
}

func newStore(repo Repository, s *crypto.Session, o options, id, token string) *Store {
	return &Store{
		repo:         repo,
		session:      s,
		log:          o.log,
		now:          o.now,
		id:           id,
		verification: token,
	}
}

// ID returns the store's unique identifier.
func (s *Store) ID() string {
	return s.id
}

// Close zeroes the key material. The Store must not be used afterwards.
func (s *Store) Close() {
	s.session.Close()
}

// Set encrypts value and writes it as the next version of id, archiving the
// previous version. A nil description keeps the stored one.
// Returns the new version number.
func (s *Store) Set(ctx context.Context, id models.Identity, value string, description *string) (int, error) {
	if value == "" {
		return 0, kerrors.ErrEmptyValue
	}
	envelope, err := s.session.Encrypt(value)
	if err != nil {
		return 0, err
	}

	version, err := s.repo.PutSecret(ctx, repository.Put{
		Identity:       id,
		EncryptedValue: envelope,
		Description:    description,
		At:             s.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("set %s: %w", id, err)
	}

	s.log.Info("secret set", append(identityFields(id), zap.Int("version", version))...)
	return version, nil
}

// Get returns the current plaintext of id. found is false if id is absent.
func (s *Store) Get(ctx context.Context, id models.Identity) (value string, found bool, err error) {
	entry, err := s.repo.GetSecret(ctx, id)
	if errors.Is(err, kerrors.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	value, err = s.decrypt(id, entry.EncryptedValue)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// GetVersion returns the plaintext id held at version. The live entry is
// used when it is at that version; otherwise history is searched, preferring
// the live lineage over older delete/recreate cycles.
func (s *Store) GetVersion(ctx context.Context, id models.Identity, version int) (value string, found bool, err error) {
	var lineage string

	entry, err := s.repo.GetSecret(ctx, id)
	switch {
	case err == nil:
		if entry.Version == version {
			value, err = s.decrypt(id, entry.EncryptedValue)
			if err != nil {
				return "", false, err
			}
			return value, true, nil
		}
		lineage = entry.Lineage
	case !errors.Is(err, kerrors.ErrNotFound):
		return "", false, err
	}

	envelope, err := s.repo.GetHistoryVersion(ctx, id, version, lineage)
	if errors.Is(err, kerrors.ErrNotFound) && lineage != "" {
		envelope, err = s.repo.GetHistoryVersion(ctx, id, version, "")
	}
	if errors.Is(err, kerrors.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	value, err = s.decrypt(id, envelope)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Delete archives id with a deletion timestamp and removes it.
// Returns false, with nothing written, if id was absent.
func (s *Store) Delete(ctx context.Context, id models.Identity) (bool, error) {
	deleted, err := s.repo.DeleteSecret(ctx, id, s.now())
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	if deleted {
		s.log.Info("secret deleted", identityFields(id)...)
	}
	return deleted, nil
}

// List returns current entries matching f without decrypting them.
func (s *Store) List(ctx context.Context, f models.Filter) ([]models.SecretEntry, error) {
	return s.repo.ListSecrets(ctx, f)
}

// ListProjects returns the projects that hold at least one secret.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	return s.repo.ListProjects(ctx)
}

// ListEnvironments returns the environments of project.
func (s *Store) ListEnvironments(ctx context.Context, project string) ([]string, error) {
	return s.repo.ListEnvironments(ctx, project)
}

// Count returns the number of current secrets.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.repo.CountSecrets(ctx)
}

// History returns up to limit archived entries of id, newest first.
// The live entry is not included.
func (s *Store) History(ctx context.Context, id models.Identity, limit int) ([]models.SecretHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.History(ctx, id, limit)
}

// Latest returns the current entry of id. found is false if id is absent.
func (s *Store) Latest(ctx context.Context, id models.Identity) (*models.SecretEntry, bool, error) {
	entry, err := s.repo.GetSecret(ctx, id)
	if errors.Is(err, kerrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// GetAll decrypts every secret of project/environment, ordered by key.
func (s *Store) GetAll(ctx context.Context, project, environment string) ([]models.KeyValue, error) {
	entries, err := s.repo.ListSecrets(ctx, models.Filter{Project: project, Environment: environment})
	if err != nil {
		return nil, err
	}

	out := make([]models.KeyValue, 0, len(entries))
	for _, e := range entries {
		value, err := s.decrypt(e.Identity, e.EncryptedValue)
		if err != nil {
			return nil, err
		}
		out = append(out, models.KeyValue{Key: e.Key, Value: value})
	}
	return out, nil
}

// Reveal decrypts an envelope read from this store, such as a history entry.
func (s *Store) Reveal(envelope string) (string, error) {
	return s.session.Decrypt(envelope)
}

func (s *Store) decrypt(id models.Identity, envelope string) (string, error) {
	value, err := s.session.Decrypt(envelope)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", id, err)
	}
	return value, nil
}

func identityFields(id models.Identity) []zap.Field {
	return []zap.Field{
		zap.String("project", id.Project),
		zap.String("environment", id.Environment),
		zap.String("key", id.Key),
	}
}
