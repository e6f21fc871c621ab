package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
)

// DefaultLegacyWorkFactor is the scrypt log2(N) used for new legacy
// envelopes. It matches age's own default (about one second per call).
const DefaultLegacyWorkFactor = 18

// EncryptLegacy seals plaintext as a tagged legacy envelope: an age file for
// a scrypt recipient derived from passphrase. workFactor <= 0 selects
// DefaultLegacyWorkFactor.
func EncryptLegacy(plaintext string, passphrase []byte, workFactor int) (string, error) {
	recipient, err := age.NewScryptRecipient(string(passphrase))
	if err != nil {
		return "", fmt.Errorf("create scrypt recipient: %w", err)
	}
	if workFactor <= 0 {
		workFactor = DefaultLegacyWorkFactor
	}
	recipient.SetWorkFactor(workFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("create encryption writer: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write encrypted data: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish encryption: %w", err)
	}
	return LegacyEnvelope{Blob: buf.Bytes()}.Encode(), nil
}

// openLegacy decrypts an age file with the passphrase. The scrypt key is
// derived inside age on every call, which is what makes this path slow.
func openLegacy(env LegacyEnvelope, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase not available", kerrors.ErrDecryptFailed)
	}
	identity, err := age.NewScryptIdentity(string(passphrase))
	if err != nil {
		return nil, fmt.Errorf("create scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(env.Blob), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, kerrors.ErrDecryptFailed
		}
		return nil, fmt.Errorf("%w: %v", kerrors.ErrMalformedEnvelope, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		// The header authenticated, so a payload failure is corrupted ciphertext.
		return nil, fmt.Errorf("%w: %v", kerrors.ErrDecryptFailed, err)
	}
	return plain, nil
}
