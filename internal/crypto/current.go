package crypto

import (
	"crypto/rand"
	"fmt"

	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// currentAAD binds the format tag into the authentication tag.
var currentAAD = []byte{TagCurrent}

// Encrypt seals plaintext under key in the current envelope format and
// returns its stored text form. Every call draws a fresh random nonce.
func Encrypt(plaintext string, key *MasterKey) (string, error) {
	env, err := seal([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return env.Encode(), nil
}

func seal(plaintext []byte, key *MasterKey) (CurrentEnvelope, error) {
	if !key.usable() {
		return CurrentEnvelope{}, fmt.Errorf("encrypt: master key not available")
	}
	aead, err := chacha20poly1305.New(key.key)
	if err != nil {
		return CurrentEnvelope{}, fmt.Errorf("create AEAD: %w", err)
	}

	var env CurrentEnvelope
	if _, err := rand.Read(env.Nonce[:]); err != nil {
		return CurrentEnvelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce[:], plaintext, currentAAD)
	return env, nil
}

func openCurrent(env CurrentEnvelope, key *MasterKey) ([]byte, error) {
	if !key.usable() {
		return nil, fmt.Errorf("%w: master key not available", kerrors.ErrDecryptFailed)
	}
	aead, err := chacha20poly1305.New(key.key)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	plain, err := aead.Open(nil, env.Nonce[:], env.Ciphertext, currentAAD)
	if err != nil {
		return nil, kerrors.ErrDecryptFailed
	}
	return plain, nil
}
