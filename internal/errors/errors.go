// Package errors defines the error taxonomy shared by the store, the
// crypto engine and the command line layer.
//
// Every concrete error wraps exactly one of the four families below, so
// callers can branch with errors.Is on the family without knowing the
// specific failure.
package errors

import (
	"errors"
	"fmt"
)

// Families.
var (
	// ErrAuth covers wrong passphrases, bundle/passphrase mismatches and
	// AEAD authentication failures.
	ErrAuth = errors.New("authentication failed")

	// ErrFormat covers unknown envelope tags, malformed base64 and
	// decrypted bytes that are not valid text.
	ErrFormat = errors.New("malformed data")

	// ErrNotFound indicates an identity, version or metadata key is absent.
	ErrNotFound = errors.New("not found")

	// ErrStorage wraps every failure reported by the storage engine.
	ErrStorage = errors.New("storage failure")
)

// Authentication errors.
var (
	// ErrInvalidPassphrase indicates the passphrase did not verify at open.
	ErrInvalidPassphrase = fmt.Errorf("%w: invalid passphrase", ErrAuth)

	// ErrPassphraseMismatch indicates a bundle token did not verify at import.
	ErrPassphraseMismatch = fmt.Errorf("%w: bundle was encrypted with a different passphrase", ErrAuth)

	// ErrDecryptFailed indicates the ciphertext did not authenticate under
	// the supplied key material (wrong key or corrupted ciphertext).
	ErrDecryptFailed = fmt.Errorf("%w: decryption failed", ErrAuth)
)

// Format errors.
var (
	// ErrUnknownEnvelope indicates an envelope version tag nobody understands.
	ErrUnknownEnvelope = fmt.Errorf("%w: unknown envelope version", ErrFormat)

	// ErrMalformedEnvelope indicates an envelope that cannot be parsed.
	ErrMalformedEnvelope = fmt.Errorf("%w: malformed envelope", ErrFormat)

	// ErrCorruptPlaintext indicates a successful decryption of bytes that
	// are not valid UTF-8 text.
	ErrCorruptPlaintext = fmt.Errorf("%w: decrypted value is not valid UTF-8", ErrFormat)

	// ErrUnsupportedBundle indicates an export bundle with an unknown version.
	ErrUnsupportedBundle = fmt.Errorf("%w: unsupported bundle version", ErrFormat)

	// ErrCorruptMetadata indicates store metadata that cannot be decoded.
	ErrCorruptMetadata = fmt.Errorf("%w: store metadata is corrupted", ErrFormat)
)

// Store lifecycle errors.
var (
	// ErrNotInitialized indicates the store has no metadata yet.
	ErrNotInitialized = fmt.Errorf("%w: no store found, run `tinysecrets init` first", ErrNotFound)

	// ErrAlreadyInitialized indicates init was called on an existing store.
	ErrAlreadyInitialized = errors.New("store already initialized")

	// ErrInvalidKDFParams indicates key derivation parameters that cannot run.
	ErrInvalidKDFParams = errors.New("invalid key derivation parameters")

	// ErrEmptyValue indicates an attempt to store an empty secret value.
	ErrEmptyValue = errors.New("secret value cannot be empty")

	// ErrRowChanged indicates a row was modified between scan and rewrite.
	ErrRowChanged = errors.New("row changed concurrently")
)

// Storage wraps err into the storage family, prefixed with op.
// A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
