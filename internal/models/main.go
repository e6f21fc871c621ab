// Package models defines the core data structures for secrets, their
// archived history and portable export bundles.
package models

import "time"

// Identity addresses one secret inside a store.
type Identity struct {
	// Project groups related environments.
	Project string `json:"project"`
	// Environment is the deployment stage inside the project ("dev", "prod", ...).
	Environment string `json:"environment"`
	// Key is the secret name, usually an environment variable name.
	Key string `json:"key"`
}

// String renders the identity as project/environment/key.
func (id Identity) String() string {
	return id.Project + "/" + id.Environment + "/" + id.Key
}

// SecretEntry is the current value of an identity.
type SecretEntry struct {
	Identity
	// EncryptedValue is the base64 envelope of the secret value.
	EncryptedValue string `json:"encrypted_value"`
	// Description is optional free text.
	Description *string `json:"description,omitempty"`
	// Lineage identifies one unbroken version sequence; a delete followed by
	// a set starts a new lineage.
	Lineage string `json:"lineage"`
	// CreatedAt is when version 1 of the lineage was written.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the current version was written.
	UpdatedAt time.Time `json:"updated_at"`
	// Version starts at 1 and grows by exactly one on every update.
	Version int `json:"version"`
}

// SecretHistoryEntry is an immutable snapshot of a superseded or deleted entry.
type SecretHistoryEntry struct {
	Identity
	// EncryptedValue is the envelope as it existed at Version.
	EncryptedValue string `json:"encrypted_value"`
	// Lineage is the lineage the snapshot belongs to.
	Lineage string `json:"lineage"`
	// Version is the version number the snapshot held.
	Version int `json:"version"`
	// CreatedAt is when that version was written.
	CreatedAt time.Time `json:"created_at"`
	// DeletedAt is set only on the entry archived by a delete.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the snapshot was produced by a delete.
func (h SecretHistoryEntry) Deleted() bool {
	return h.DeletedAt != nil
}

// Filter narrows list queries; empty fields match everything.
type Filter struct {
	Project     string
	Environment string
}

// KeyValue is a decrypted secret ready to be injected into a process.
type KeyValue struct {
	Key   string
	Value string
}

// BundleVersion is the only export bundle format this build understands.
const BundleVersion = 1

// ExportBundle is a still-encrypted, portable snapshot of one project/environment.
type ExportBundle struct {
	// Version is the bundle format version; checked before anything else on import.
	Version int `json:"version"`
	// ID uniquely identifies this export.
	ID string `json:"bundle_id,omitempty"`
	// SourceStore is the ID of the exporting store.
	SourceStore string `json:"source_store,omitempty"`
	Project     string `json:"project"`
	Environment string `json:"environment"`
	// PassphraseVerification is the exporting store's verification token.
	PassphraseVerification string    `json:"passphrase_verification"`
	ExportedAt             time.Time `json:"exported_at"`
	// Secrets are ordered by key.
	Secrets []ExportedSecret `json:"secrets"`
}

// ExportedSecret is one envelope carried by an ExportBundle.
type ExportedSecret struct {
	Key            string  `json:"key"`
	EncryptedValue string  `json:"encrypted_value"`
	Description    *string `json:"description,omitempty"`
	Version        int     `json:"version"`
}
