// Package crypto implements the envelope encryption engine: passphrase key
// derivation, the current AEAD envelope format, the legacy age passphrase
// format and the passphrase verification token.
package crypto

import (
	"crypto/rand"
	"fmt"

	kerrors "github.com/atinyakov/tinysecrets/internal/errors"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the MasterKey length in bytes.
	KeySize = 32
	// SaltSize is the per-store salt length in bytes.
	SaltSize = 32

	// maxMemoryKiB bounds argon2 memory to 4 GiB.
	maxMemoryKiB = 4 * 1024 * 1024
)

// KDFParams are the argon2id cost parameters of a store. They are persisted
// in store metadata so raising the defaults never breaks existing stores.
type KDFParams struct {
	// Time is the number of passes over memory.
	Time uint32
	// Memory is the memory cost in KiB.
	Memory uint32
	// Threads is the degree of parallelism.
	Threads uint8
}

// DefaultKDF costs roughly 100ms on commodity hardware.
var DefaultKDF = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

// Validate rejects parameters argon2 cannot run with.
func (p KDFParams) Validate() error {
	switch {
	case p.Time < 1:
		return fmt.Errorf("%w: time must be at least 1", kerrors.ErrInvalidKDFParams)
	case p.Threads < 1:
		return fmt.Errorf("%w: threads must be at least 1", kerrors.ErrInvalidKDFParams)
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("%w: memory must be at least 8 KiB per thread", kerrors.ErrInvalidKDFParams)
	case p.Memory > maxMemoryKiB:
		return fmt.Errorf("%w: memory above %d KiB", kerrors.ErrInvalidKDFParams, maxMemoryKiB)
	}
	return nil
}

// String encodes the parameters as stored in metadata,
// e.g. "argon2id$v=19$m=65536,t=3,p=4".
func (p KDFParams) String() string {
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d", argon2.Version, p.Memory, p.Time, p.Threads)
}

// ParseKDFParams decodes the metadata form produced by KDFParams.String.
func ParseKDFParams(s string) (KDFParams, error) {
	var (
		version int
		p       KDFParams
	)
	if _, err := fmt.Sscanf(s, "argon2id$v=%d$m=%d,t=%d,p=%d", &version, &p.Memory, &p.Time, &p.Threads); err != nil {
		return KDFParams{}, fmt.Errorf("%w: %q: %v", kerrors.ErrInvalidKDFParams, s, err)
	}
	if version != argon2.Version {
		return KDFParams{}, fmt.Errorf("%w: unsupported argon2 version %d", kerrors.ErrInvalidKDFParams, version)
	}
	if err := p.Validate(); err != nil {
		return KDFParams{}, err
	}
	return p, nil
}

// GenerateSalt returns a fresh random store salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// MasterKey is the symmetric key derived from the store passphrase. It lives
// only in memory and is never serialized.
type MasterKey struct {
	key []byte
}

// DeriveKey stretches passphrase and salt into a MasterKey with argon2id.
// It is deterministic for identical inputs and is meant to run once per session.
func DeriveKey(passphrase, salt []byte, p KDFParams) (*MasterKey, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", kerrors.ErrInvalidKDFParams, SaltSize, len(salt))
	}
	return &MasterKey{key: argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, KeySize)}, nil
}

// Destroy zeroes the key. The MasterKey is unusable afterwards.
func (k *MasterKey) Destroy() {
	if k == nil {
		return
	}
	Zero(k.key)
	k.key = nil
}

// Equal reports whether two keys hold the same bytes. Intended for tests.
func (k *MasterKey) Equal(other *MasterKey) bool {
	if k == nil || other == nil || len(k.key) != len(other.key) {
		return false
	}
	var diff byte
	for i := range k.key {
		diff |= k.key[i] ^ other.key[i]
	}
	return diff == 0
}

func (k *MasterKey) usable() bool {
	return k != nil && len(k.key) == KeySize
}
